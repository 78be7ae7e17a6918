package provider

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// State is the opaque value round-tripped through the provider's
// authorize endpoint. It carries a random nonce and nothing else;
// everything about the pending flow (issuing provider, link target) is
// recorded server-side keyed by that nonce, so a tampered state cannot
// influence what the callback does.
type State struct {
	Nonce string `json:"nonce"`
}

// NewState creates a state with a fresh 256-bit nonce.
func NewState() (State, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return State{}, fmt.Errorf("provider: failed to generate state nonce: %w", err)
	}
	return State{
		Nonce: base64.RawURLEncoding.EncodeToString(b),
	}, nil
}

// Encode serializes the state for the authorize URL's state parameter.
func (s State) Encode() (string, error) {
	if s.Nonce == "" {
		return "", errors.New("provider: state nonce is empty")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("provider: failed to encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeState parses a state parameter received on the callback.
func DecodeState(raw string) (State, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return State{}, fmt.Errorf("provider: malformed state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("provider: malformed state: %w", err)
	}
	if s.Nonce == "" {
		return State{}, errors.New("provider: state missing nonce")
	}
	return s, nil
}
