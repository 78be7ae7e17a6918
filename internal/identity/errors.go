package identity

import (
	"errors"
	"fmt"
)

// Terminal failures for a single resolution attempt. None are retried
// internally; retries are a caller policy.
var (
	// ErrMissingEmail means the provider did not grant an email claim.
	// Email is the system's join key, so such profiles cannot proceed.
	ErrMissingEmail = errors.New("provider profile missing email")

	// ErrDirectoryUnavailable wraps infrastructure failures of the
	// identity directory collaborator.
	ErrDirectoryUnavailable = errors.New("identity directory unavailable")

	// ErrProviderUnavailable wraps failures of a provider's token or
	// user-info endpoints.
	ErrProviderUnavailable = errors.New("oauth provider unavailable")

	// ErrSessionGeneration means the directory could not mint a session
	// assertion for a resolved account.
	ErrSessionGeneration = errors.New("session generation failed")

	// ErrInvalidConfiguration means a provider is missing its client id,
	// secret, or redirect URL.
	ErrInvalidConfiguration = errors.New("invalid provider configuration")
)

// ConflictError reports that a provider identity is already bound to a
// different account. The mutation it would have caused was not applied.
type ConflictError struct {
	ExistingAccountID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("provider identity already bound to account %s", e.ExistingAccountID)
}

// AsConflict unwraps err into a ConflictError, if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
