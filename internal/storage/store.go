// Package storage defines the session-token store consumed by the auth
// middleware. Sessions are provisioned by the storefront's auth service;
// this side only validates and expires them.
package storage

import (
	"context"
	"time"
)

// SessionStore maps a session token to a user id.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type SessionStore interface {
	// GetSession returns the user id for the token, or "" when the token is
	// unknown or expired (not an error).
	GetSession(ctx context.Context, token string) (string, error)
	SetSession(ctx context.Context, token, userID string, ttl time.Duration) error
	DeleteSession(ctx context.Context, token string) error
	Close() error
}
