package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// NonceStore is what the OAuth handlers need from a state store. The
// link target for a connect-provider flow is written here at flow start
// and read back on the callback; it never travels through the client.
type NonceStore interface {
	Put(ctx context.Context, nonce, providerName, linkAccountID string) error
	Consume(ctx context.Context, nonce, providerName string) (linkAccountID string, ok bool, err error)
}

// Store persists OAuth state nonces between the authorize redirect and
// the callback. A nonce is single-use: Consume removes it, so a
// replayed callback fails validation.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client) *Store {
	return &Store{
		client: client,
		prefix: "oauthstate:",
		ttl:    defaultTTL,
	}
}

// record is what a pending nonce resolves to on the callback.
type record struct {
	Provider      string `json:"provider"`
	LinkAccountID string `json:"link_account_id,omitempty"`
}

func (s *Store) key(nonce string) string {
	return s.prefix + nonce
}

// Put records a pending nonce for the provider flow. linkAccountID is
// the session-verified account an explicit connect flow targets; empty
// for a plain login.
func (s *Store) Put(ctx context.Context, nonce, providerName, linkAccountID string) error {
	if nonce == "" {
		return fmt.Errorf("statestore: nonce is empty")
	}
	data, err := json.Marshal(record{
		Provider:      providerName,
		LinkAccountID: linkAccountID,
	})
	if err != nil {
		return fmt.Errorf("statestore: failed to encode record: %w", err)
	}
	return s.client.Set(ctx, s.key(nonce), data, s.ttl).Err()
}

// Consume validates and removes a nonce, returning the link target it
// was issued with. ok is false when the nonce is unknown, expired, or
// was issued for a different provider.
func (s *Store) Consume(ctx context.Context, nonce, providerName string) (string, bool, error) {
	val, err := s.client.GetDel(ctx, s.key(nonce)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var rec record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return "", false, fmt.Errorf("statestore: malformed record: %w", err)
	}
	if rec.Provider != providerName {
		return "", false, nil
	}
	return rec.LinkAccountID, true, nil
}
