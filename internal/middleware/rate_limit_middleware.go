// internal/middleware/rate_limit_middleware.go
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	xerrors "github.com/karhin20/flowback/internal/pkg/errors"
	"github.com/karhin20/flowback/internal/pkg/response"
)

type Limiter interface {
	CheckAPIRateLimit(ctx context.Context, actor, endpoint string, maxRequests int64, per time.Duration) (bool, error)
}

// RateLimit caps requests per operator on one endpoint. Must run after Auth().
// A limiter error lets the request through.
func RateLimit(limiter Limiter, endpoint string, maxRequests int64, per time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || maxRequests <= 0 {
			c.Next()
			return
		}
		actor := GetActor(c)
		if actor == "" {
			actor = c.ClientIP()
		}

		ok, err := limiter.CheckAPIRateLimit(c.Request.Context(), actor, endpoint, maxRequests, per)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("endpoint", endpoint), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			response.Error(c, http.StatusTooManyRequests, "too many requests, try again later", xerrors.ErrRateLimited)
			return
		}
		c.Next()
	}
}
