package provider

import (
	"context"

	"github.com/pinetree-kr/identity-service/internal/identity"
)

// Gateway defines the contract every external auth provider must
// implement. Implementations return identity facts only and must not
// perform account creation, linking, or session management.
type Gateway interface {
	// Name returns the provider identifier (e.g. "google", "kakao").
	Name() string

	// AuthCodeURL returns the provider's OAuth authorization URL.
	// State and PKCE parameters are provided by the caller.
	AuthCodeURL(state string, codeChallenge string) string

	// ResolveProfile exchanges the authorization code for provider
	// credentials, calls the provider's user-info source, and returns a
	// normalized profile. Fails with identity.ErrMissingEmail when the
	// provider granted no email claim. No auth decisions are made here.
	ResolveProfile(
		ctx context.Context,
		code string,
		codeVerifier string,
	) (*identity.Profile, error)
}
