package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/identity"
)

// DecisionKind enumerates what should happen to a profile.
type DecisionKind string

const (
	// DecideCreate means no account matches; a new one must be created.
	DecideCreate DecisionKind = "create"
	// DecideLink means the profile attaches to an existing account found
	// by email or provider-id match.
	DecideLink DecisionKind = "link"
	// DecideSessionLink means the profile attaches to the account the
	// user is already signed in as.
	DecideSessionLink DecisionKind = "session_link"
)

// Decision is the resolver's verdict. It carries no side effects; the
// account linker applies it.
type Decision struct {
	Kind DecisionKind

	// AccountID is the target account for Link and SessionLink.
	AccountID string

	// Email is the target account's primary email, authoritative over
	// the profile's email after a merge. Empty for Create.
	Email string
}

// Resolver decides whether a provider profile attaches to an existing
// account, creates a new one, or is rejected as a conflict. It performs
// read-only directory lookups and never mutates.
type Resolver struct {
	dir directory.Directory
}

func New(dir directory.Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Decide resolves profile against the directory. activeAccountID, when
// non-empty, is the account of an already signed-in user explicitly
// connecting a new provider; it takes precedence over every lookup.
//
// Resolution order is deliberate: session-scoped link, then email
// match, then provider-id match, then create. The email match is what
// transparently merges a social login into an account originally
// created by email/password; the provider-id match covers a provider
// whose email has changed since the identity was first seen.
func (r *Resolver) Decide(
	ctx context.Context,
	profile *identity.Profile,
	activeAccountID string,
) (Decision, error) {

	if profile == nil {
		return Decision{}, errors.New("resolver: profile is nil")
	}
	if profile.Email == "" {
		return Decision{}, identity.ErrMissingEmail
	}

	// The identity's current owner, if any. Needed both for rule 3 and
	// for the conflict check guarding rules 1 and 2.
	owner, err := r.dir.FindByProviderID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return Decision{}, wrapDirectory(err)
	}

	// 1. Session-scoped link.
	if activeAccountID != "" {
		if owner != nil && owner.ID != activeAccountID {
			return Decision{}, &identity.ConflictError{ExistingAccountID: owner.ID}
		}
		target, err := r.dir.FindByID(ctx, activeAccountID)
		if err != nil {
			return Decision{}, wrapDirectory(err)
		}
		if target == nil {
			return Decision{}, fmt.Errorf("resolver: active account %s not found", activeAccountID)
		}
		return Decision{Kind: DecideSessionLink, AccountID: target.ID, Email: target.Email}, nil
	}

	// 2. Email match.
	byEmail, err := r.dir.FindByEmail(ctx, profile.Email)
	if err != nil {
		return Decision{}, wrapDirectory(err)
	}
	if byEmail != nil {
		if owner != nil && owner.ID != byEmail.ID {
			return Decision{}, &identity.ConflictError{ExistingAccountID: owner.ID}
		}
		return Decision{Kind: DecideLink, AccountID: byEmail.ID, Email: byEmail.Email}, nil
	}

	// 3. Provider-id match. The owner trivially passes the conflict
	// check against itself.
	if owner != nil {
		return Decision{Kind: DecideLink, AccountID: owner.ID, Email: owner.Email}, nil
	}

	// 4. No match anywhere.
	return Decision{Kind: DecideCreate}, nil
}

// HasConflict reports whether an account other than candidateAccountID
// already owns the (provider, providerUserID) identity. Provider
// agnostic; the linker calls it again at mutation time so the check
// cannot be bypassed.
func (r *Resolver) HasConflict(
	ctx context.Context,
	provider, providerUserID, candidateAccountID string,
) (string, bool, error) {

	owner, err := r.dir.FindByProviderID(ctx, provider, providerUserID)
	if err != nil {
		return "", false, wrapDirectory(err)
	}
	if owner != nil && owner.ID != candidateAccountID {
		return owner.ID, true, nil
	}
	return "", false, nil
}

func wrapDirectory(err error) error {
	return fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
}
