package directory

import (
	"context"
	"errors"
	"time"
)

// Storage-level rejections the resolution core reacts to. Both map onto
// uniqueness constraints the directory must enforce so that two
// concurrent creations for the same identity cannot both succeed.
var (
	// ErrEmailTaken means a non-deleted account already holds this
	// primary email. Callers fall back to the email-match path.
	ErrEmailTaken = errors.New("directory: email already taken")

	// ErrIdentityTaken means (provider, provider user id) is already
	// bound to another account.
	ErrIdentityTaken = errors.New("directory: provider identity already taken")

	// ErrInvalidCredentials means email credential verification failed.
	// It deliberately hides whether the account exists.
	ErrInvalidCredentials = errors.New("directory: invalid credentials")
)

// Metadata is the typed extension record attached to every account.
// It replaces an open key/value bag so the linking invariants are
// checkable in code rather than by convention.
type Metadata struct {
	// SignupProvider is the provider used to create the account.
	// Set exactly once at creation, immutable afterward.
	SignupProvider string

	// LinkedProviders is the set of providers currently attached,
	// insertion order irrelevant.
	LinkedProviders []string

	// ProviderKeys maps provider name to that provider's opaque user id,
	// used for identity lookups independent of email.
	ProviderKeys map[string]string

	// LastLogin is stamped on every successful resolution.
	LastLogin time.Time

	// Extras holds genuinely free-form leftovers (avatar URL, nickname).
	Extras map[string]string
}

// HasProvider reports whether provider is in the linked set.
func (m Metadata) HasProvider(provider string) bool {
	for _, p := range m.LinkedProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// Account is the canonical user record all provider logins converge to.
type Account struct {
	ID       string
	Email    string
	Metadata Metadata
}

// Patch describes a metadata mutation. All fields merge into the stored
// record; absent fields leave their counterparts untouched.
//
// AddProviders and ProviderKeys travel together: every provider being
// added must carry its key. A backend that stores identities
// relationally derives the linked set from the keys alone, so an
// AddProviders entry without a matching ProviderKeys entry is not
// guaranteed to stick.
type Patch struct {
	AddProviders    []string
	RemoveProviders []string
	ProviderKeys    map[string]string
	LastLogin       *time.Time
	Extras          map[string]string
}

// Directory is the external user-store collaborator the resolution core
// depends on but does not implement. Lookups must exclude soft-deleted
// accounts, returning (nil, nil) when nothing matches. All operations
// are synchronous; callers bound them with the context deadline.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, accountID string) (*Account, error)
	FindByProviderID(ctx context.Context, provider, providerUserID string) (*Account, error)

	// CreateUser allocates a new account. The directory must reject a
	// concurrent duplicate with ErrEmailTaken rather than silently
	// overwriting, so the caller can fall back to an email match.
	CreateUser(ctx context.Context, email, credential string, md Metadata) (string, error)

	// UpdateMetadata merges patch into the account's metadata.
	// Linked providers use set-union semantics; applying the same patch
	// twice must not change the stored representation.
	UpdateMetadata(ctx context.Context, accountID string, patch Patch) error

	SetPassword(ctx context.Context, accountID, credential string) error

	// VerifyEmailCredential authenticates an email/password pair and
	// returns the owning account id.
	VerifyEmailCredential(ctx context.Context, email, credential string) (string, error)

	// GenerateSessionAssertion mints a one-time sign-in link for the
	// account. The opaque session token rides in the link's query.
	GenerateSessionAssertion(ctx context.Context, accountID, email, redirectTarget string) (string, error)

	// ProviderIdentities returns the directory's own view of which
	// providers are attached, for drift reconciliation.
	ProviderIdentities(ctx context.Context, accountID string) ([]string, error)
}
