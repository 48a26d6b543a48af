package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

const (
	RoleOperator   = "operator"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidRole   = errors.New("invalid role")
)

// EventLogger records authentication attempts. storage.PostgresClient implements it.
type EventLogger interface {
	LogAuthEvent(ctx context.Context, eventType, subject, ipAddress, userAgent string, success bool, reason string) error
}

type AuthService struct {
	events     EventLogger
	jwtHandler *JWTHandler
	apiKey     []byte
	logger     *zap.Logger
}

// NewAuthService builds the service. events may be nil when no database is configured.
func NewAuthService(events EventLogger, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthService{
		events:     events,
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		apiKey:     []byte(cfg.GetAPIKey()),
		logger:     logger,
	}
}

// IssueToken exchanges the API key for an access token carrying role.
// An empty role means admin, since the key holder may act as any role.
func (a *AuthService) IssueToken(ctx context.Context, apiKey, role, ipAddress, userAgent string) (string, time.Time, error) {
	if role == "" {
		role = RoleAdmin
	}

	if subtle.ConstantTimeCompare([]byte(apiKey), a.apiKey) != 1 {
		a.logAuthEvent(ctx, "token_issue_failed", role, ipAddress, userAgent, false, "invalid api key")
		return "", time.Time{}, ErrInvalidAPIKey
	}

	if !ValidRole(role) {
		a.logAuthEvent(ctx, "token_issue_failed", role, ipAddress, userAgent, false, "invalid role")
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken("api-key", role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent(ctx, "token_issued", role, ipAddress, userAgent, true, "")
	return token, expiresAt, nil
}

// ValidateToken validates a JWT and returns the permissions of its role
func (a *AuthService) ValidateToken(token string) ([]Permission, *JWTClaims, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return RoleToPermissions(claims.Role), claims, nil
}

func ValidRole(role string) bool {
	switch role {
	case RoleOperator, RoleTechnician, RoleAdmin:
		return true
	}
	return false
}

func RoleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case RoleTechnician:
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType, subject, ip, userAgent string, success bool, reason string) {
	if a.events == nil {
		return
	}
	if err := a.events.LogAuthEvent(ctx, eventType, subject, ip, userAgent, success, reason); err != nil {
		a.logger.Warn("Failed to log auth event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
