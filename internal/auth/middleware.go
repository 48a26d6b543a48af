package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	permissionsKey = "permissions"
	roleKey        = "role"
)

// AuthMiddleware validates bearer tokens and enforces authentication
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "invalid authorization header format", nil))
			return
		}

		permissions, claims, err := a.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "invalid or expired token", nil))
			return
		}

		c.Set(permissionsKey, permissions)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		permissions := GetPermissions(c)
		if permissions == nil {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_403", "no permissions found", nil))
			return
		}

		if !slices.Contains(permissions, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_403", "insufficient permissions", gin.H{"required": string(required)}))
			return
		}

		c.Next()
	}
}

// GetPermissions extracts permissions from the gin context
func GetPermissions(c *gin.Context) []Permission {
	if perms, ok := c.Get(permissionsKey); ok {
		if permissions, ok := perms.([]Permission); ok {
			return permissions
		}
	}
	return nil
}

// GetRole returns the role of the authenticated caller.
func GetRole(c *gin.Context) string {
	return c.GetString(roleKey)
}
