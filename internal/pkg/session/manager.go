// internal/pkg/session/manager.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager tracks revoked access tokens. Tokens are issued elsewhere, so
// logout is a blacklist entry that lives until the token would expire.
// A nil client keeps the blacklist in process, for single-node local runs.
type Manager struct {
	client redis.Cmdable

	mu    sync.Mutex
	local map[string]time.Time
	now   func() time.Time
}

func NewManager(client redis.Cmdable) *Manager {
	return &Manager{
		client: client,
		local:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// IsTokenBlacklisted checks if a token is blacklisted
func (m *Manager) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	if m.client == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		until, ok := m.local[jti]
		if ok && m.now().After(until) {
			delete(m.local, jti)
			return false, nil
		}
		return ok, nil
	}

	exists, err := m.client.Exists(ctx, m.blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}

// BlacklistToken adds a token to the blacklist
func (m *Manager) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if m.client == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.local[jti] = m.now().Add(ttl)
		return nil
	}
	if err := m.client.Set(ctx, m.blacklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (m *Manager) blacklistKey(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}
