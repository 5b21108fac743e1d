// internal/pkg/session/rate_limiter.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter. A nil client counts in process.
type RateLimiter struct {
	client redis.Cmdable

	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

func NewRateLimiter(client redis.Cmdable) *RateLimiter {
	return &RateLimiter{
		client:  client,
		windows: make(map[string]window),
		now:     time.Now,
	}
}

// CheckAPIRateLimit checks general API rate limiting
func (r *RateLimiter) CheckAPIRateLimit(ctx context.Context, actor, endpoint string, maxRequests int64, per time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:api:%s:%s", actor, endpoint)

	if r.client == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		now := r.now()
		w := r.windows[key]
		if now.After(w.resetAt) {
			w = window{resetAt: now.Add(per)}
		}
		w.count++
		r.windows[key] = w
		return w.count <= maxRequests, nil
	}

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment API rate limit: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		r.client.Expire(ctx, key, per)
	}

	return count <= maxRequests, nil
}
