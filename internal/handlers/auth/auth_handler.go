// internal/handlers/auth/auth_handler.go
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/middleware"
	"github.com/karhin20/flowback/internal/pkg/response"
)

type Blacklister interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

// SessionCloser drops live connections opened with a token.
type SessionCloser interface {
	ForceLogout(sessionID, reason string)
}

// AuthHandler covers the session endpoints. Tokens are issued by the
// identity provider; this service only verifies and revokes them.
type AuthHandler struct {
	blacklist Blacklister
	sessions  SessionCloser
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuthHandler(blacklist Blacklister, sessions SessionCloser, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		blacklist: blacklist,
		sessions:  sessions,
		logger:    logger,
		now:       time.Now,
	}
}

// GetMe returns the identity carried by the current token
func (h *AuthHandler) GetMe(c *gin.Context) {
	exp, _ := middleware.GetTokenExpiry(c)
	jti, _ := middleware.GetJTI(c)

	response.Success(c, http.StatusOK, "current operator", gin.H{
		"actor":      middleware.GetActor(c),
		"roles":      middleware.GetRoles(c),
		"session_id": jti,
		"expires_at": exp,
	})
}

// Logout revokes the current token until it would have expired
func (h *AuthHandler) Logout(c *gin.Context) {
	jti, ok := middleware.GetJTI(c)
	if !ok || jti == "" {
		response.Error(c, http.StatusBadRequest, "token has no id and cannot be revoked", nil)
		return
	}

	ttl := 24 * time.Hour
	if exp, ok := middleware.GetTokenExpiry(c); ok {
		ttl = exp.Sub(h.now())
	}

	if err := h.blacklist.BlacklistToken(c.Request.Context(), jti, ttl); err != nil {
		h.logger.Error("logout failed",
			zap.String("actor", middleware.GetActor(c)),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, "logout failed", err)
		return
	}
	if h.sessions != nil {
		h.sessions.ForceLogout(jti, "logout")
	}

	h.logger.Info("operator logged out", zap.String("actor", middleware.GetActor(c)))
	response.Success(c, http.StatusOK, "logout successful", nil)
}
