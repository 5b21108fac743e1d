package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/karhin20/flowback/internal/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	claims *jwt.Claims
}

func (f fakeVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return f.claims, nil
}

type fakeBlacklist struct {
	revoked map[string]bool
	err     error
}

func (f fakeBlacklist) IsTokenBlacklisted(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], f.err
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (f fakeLimiter) CheckAPIRateLimit(context.Context, string, string, int64, time.Duration) (bool, error) {
	return f.allow, f.err
}

func operatorClaims() *jwt.Claims {
	return &jwt.Claims{
		Email:          "ops@example.com",
		Roles:          []string{"operator"},
		SessionPurpose: jwt.PurposeAccess,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        "jti-1",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authRouter(bl Blacklist) *gin.Engine {
	m := NewAuthMiddleware(fakeVerifier{claims: operatorClaims()}, bl, zap.NewNop())
	r := gin.New()
	r.GET("/me", m.Auth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetActor(c))
	})
	r.GET("/admin", m.Auth(), m.RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestAuth(t *testing.T) {
	r := authRouter(fakeBlacklist{})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@example.com", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me?token=good", nil)
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestAuth_Blacklisted(t *testing.T) {
	r := authRouter(fakeBlacklist{revoked: map[string]bool{"jti-1": true}})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")

	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestAuth_BlacklistUnavailable(t *testing.T) {
	r := authRouter(fakeBlacklist{err: errors.New("redis down")})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")

	assert.Equal(t, http.StatusServiceUnavailable, serve(r, req).Code)
}

func TestRequireRole(t *testing.T) {
	r := authRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer good")

	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(LoggingMiddleware(zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := w.Header().Get(HeaderRequestID)
	assert.Len(t, id, 36)
	assert.Equal(t, id, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "0b8e6a3c-6f55-4a36-9d0e-5d5f2c1f6a11")
	w = serve(r, req)
	assert.Equal(t, "0b8e6a3c-6f55-4a36-9d0e-5d5f2c1f6a11", w.Header().Get(HeaderRequestID))
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://ops.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://ops.example")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ops.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	build := func(l Limiter) *gin.Engine {
		r := gin.New()
		r.POST("/upload", RateLimit(l, "upload", 1, time.Minute, zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusAccepted) })
		return r
	}

	assert.Equal(t, http.StatusTooManyRequests, serve(build(fakeLimiter{allow: false}), httptest.NewRequest(http.MethodPost, "/upload", nil)).Code)
	assert.Equal(t, http.StatusAccepted, serve(build(fakeLimiter{allow: true}), httptest.NewRequest(http.MethodPost, "/upload", nil)).Code)
	assert.Equal(t, http.StatusAccepted, serve(build(fakeLimiter{err: errors.New("down")}), httptest.NewRequest(http.MethodPost, "/upload", nil)).Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()), MetricsMiddleware())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
