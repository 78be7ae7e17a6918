package session

import (
	"context"
	"time"
)

// Session represents an authenticated browser session. It stores
// identity pointers only; the auth decision already happened when the
// session was created.
type Session struct {
	SessionID string    // unique session identifier
	AccountID string    // resolved canonical account
	Token     string    // opaque directory-issued session token
	CreatedAt time.Time
	ExpiresAt time.Time // absolute expiry time
}

// Store defines how sessions are stored and retrieved. Implementations
// (e.g. Redis) must remain stateless and opaque.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
