// internal/middleware/auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/pkg/jwt"
	"github.com/karhin20/flowback/internal/pkg/response"
)

type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type Blacklist interface {
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}

type AuthMiddleware struct {
	verifier  TokenVerifier
	blacklist Blacklist
	logger    *zap.Logger
}

func NewAuthMiddleware(verifier TokenVerifier, blacklist Blacklist, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		blacklist: blacklist,
		logger:    logger,
	}
}

// Auth is the base authentication middleware that validates JWT tokens
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		if m.blacklist != nil && claims.ID != "" {
			revoked, err := m.blacklist.IsTokenBlacklisted(c.Request.Context(), claims.ID)
			if err != nil {
				m.logger.Error("blacklist lookup failed", zap.Error(err))
				response.Error(c, http.StatusServiceUnavailable, "could not validate session", err)
				return
			}
			if revoked {
				response.Error(c, http.StatusUnauthorized, "session has ended", nil)
				return
			}
		}

		// Set user context
		c.Set(ctxActor, claims.Actor())
		c.Set(ctxJTI, claims.ID)
		c.Set(ctxRoles, claims.Roles)
		if claims.ExpiresAt != nil {
			c.Set(ctxExpiresAt, claims.ExpiresAt.Time)
		}

		c.Next()
	}
}

// RequireRole requires at least one of the given roles. MUST be used after Auth().
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRoles := GetRoles(c)
		for _, userRole := range userRoles {
			for _, requiredRole := range roles {
				if userRole == requiredRole {
					c.Next()
					return
				}
			}
		}

		err := errors.New("user does not have required role")
		response.Error(c, http.StatusForbidden, "insufficient permissions", err, map[string]interface{}{
			"required_roles": roles,
			"user_roles":     userRoles,
		})
	}
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	// Browsers cannot set headers on websocket upgrades.
	return c.Query("token")
}
