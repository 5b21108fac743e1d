// internal/websocket/errors.go
package websocket

import "errors"

var (
	ErrTokenBlacklisted = errors.New("token has been blacklisted")
	ErrInvalidToken     = errors.New("invalid token")
	ErrHubStopped       = errors.New("websocket hub stopped")
)
