package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/auth"
	"github.com/KevinKickass/OpenMinerCore/internal/types"
	"github.com/gin-gonic/gin"
)

type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
	Role   string `json:"role" binding:"omitempty,oneof=operator technician admin"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// POST /api/v1/auth/token
func (s *Server) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	token, expiresAt, err := s.authService.IssueToken(
		c.Request.Context(),
		req.APIKey,
		req.Role,
		c.ClientIP(),
		c.GetHeader("User-Agent"),
	)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRole) {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid role", err.Error()))
			return
		}
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
	})
}
