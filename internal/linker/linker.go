package linker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/identity"
)

// Linker applies resolved outcomes to the identity directory. It keeps
// no state of its own between calls; all durable state lives in the
// directory.
type Linker struct {
	dir directory.Directory
	now func() time.Time
}

func New(dir directory.Directory) *Linker {
	return &Linker{dir: dir, now: time.Now}
}

// LinkProvider attaches a provider identity to an existing account.
// Linked providers are a set, not a log: calling this twice with
// identical arguments changes nothing but the last-login stamp.
// Profile extras merge into the account's metadata without clobbering
// unrelated keys. Fails closed with a ConflictError when the identity
// is already bound to a different account.
func (l *Linker) LinkProvider(
	ctx context.Context,
	accountID string,
	provider, providerUserID string,
	extras map[string]string,
) error {

	owner, err := l.dir.FindByProviderID(ctx, provider, providerUserID)
	if err != nil {
		return fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	if owner != nil && owner.ID != accountID {
		return &identity.ConflictError{ExistingAccountID: owner.ID}
	}

	now := l.now().UTC()
	patch := directory.Patch{
		AddProviders: []string{provider},
		ProviderKeys: map[string]string{provider: providerUserID},
		LastLogin:    &now,
		Extras:       extras,
	}

	if err := l.dir.UpdateMetadata(ctx, accountID, patch); err != nil {
		if errors.Is(err, directory.ErrIdentityTaken) {
			// Lost a race with a concurrent link of the same identity.
			if other, lookupErr := l.dir.FindByProviderID(ctx, provider, providerUserID); lookupErr == nil && other != nil {
				return &identity.ConflictError{ExistingAccountID: other.ID}
			}
			return &identity.ConflictError{}
		}
		return fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	return nil
}

// UnlinkProvider removes a provider identity from an account. The
// signup provider cannot be detached; the account would lose its
// origin. Removing a provider that is not linked is a no-op.
func (l *Linker) UnlinkProvider(ctx context.Context, accountID, provider string) error {
	acct, err := l.dir.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	if acct == nil {
		return fmt.Errorf("linker: account %s not found", accountID)
	}
	if acct.Metadata.SignupProvider == provider {
		return fmt.Errorf("linker: cannot unlink signup provider %q", provider)
	}

	patch := directory.Patch{RemoveProviders: []string{provider}}
	if err := l.dir.UpdateMetadata(ctx, accountID, patch); err != nil {
		return fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	return nil
}

// CreateAccount synthesizes a new canonical account from a first-ever
// login. The signup provider is set here, exactly once. OAuth-created
// accounts get a freshly generated opaque credential since
// password-based re-authentication does not apply to them.
func (l *Linker) CreateAccount(ctx context.Context, profile *identity.Profile) (string, error) {
	credential, err := newOpaqueCredential()
	if err != nil {
		return "", err
	}

	md := directory.Metadata{
		SignupProvider:  profile.Provider,
		LinkedProviders: []string{profile.Provider},
		ProviderKeys:    map[string]string{profile.Provider: profile.ProviderUserID},
		LastLogin:       l.now().UTC(),
		Extras:          profile.Extras(),
	}

	accountID, err := l.dir.CreateUser(ctx, profile.Email, credential, md)
	if err != nil {
		if errors.Is(err, directory.ErrEmailTaken) {
			// Surface as-is so the caller can fall back to the
			// email-match path.
			return "", err
		}
		return "", fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	return accountID, nil
}

// newOpaqueCredential generates a 256-bit random credential.
func newOpaqueCredential() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("linker: failed to generate credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
