// internal/middleware/helpers.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	ctxActor     = "actor"
	ctxJTI       = "jti"
	ctxRoles     = "roles"
	ctxExpiresAt = "token_expires_at"
	ctxRequestID = "request_id"
)

// GetActor returns the authenticated operator recorded as performed_by.
func GetActor(c *gin.Context) string {
	return c.GetString(ctxActor)
}

// GetJTI gets the token id from context
func GetJTI(c *gin.Context) (string, bool) {
	jti := c.GetString(ctxJTI)
	return jti, jti != ""
}

// GetTokenExpiry returns when the current token expires.
func GetTokenExpiry(c *gin.Context) (time.Time, bool) {
	v, ok := c.Get(ctxExpiresAt)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// GetRoles gets user roles from context
func GetRoles(c *gin.Context) []string {
	roles, exists := c.Get(ctxRoles)
	if !exists {
		return []string{}
	}

	rolesList, ok := roles.([]string)
	if !ok {
		return []string{}
	}

	return rolesList
}

// HasRole checks if user has role
func HasRole(c *gin.Context, role string) bool {
	for _, r := range GetRoles(c) {
		if r == role {
			return true
		}
	}
	return false
}

// GetRequestID returns the id assigned by LoggingMiddleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// IsAuthenticated checks if request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	return GetActor(c) != ""
}
