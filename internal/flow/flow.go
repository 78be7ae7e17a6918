package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/identity"
	"github.com/pinetree-kr/identity-service/internal/linker"
	"github.com/pinetree-kr/identity-service/internal/logger"
	"github.com/pinetree-kr/identity-service/internal/resolver"
	"github.com/pinetree-kr/identity-service/internal/session"
)

// Flow drives one resolution end-to-end: decide, mutate, issue. Each
// login or connect request runs one Flow call inside its own
// request-scoped unit of work; the flow keeps no state between calls.
type Flow struct {
	resolver *resolver.Resolver
	linker   *linker.Linker
	issuer   *session.Issuer
	dir      directory.Directory
}

func New(
	res *resolver.Resolver,
	lnk *linker.Linker,
	issuer *session.Issuer,
	dir directory.Directory,
) *Flow {
	return &Flow{
		resolver: res,
		linker:   lnk,
		issuer:   issuer,
		dir:      dir,
	}
}

// Result is what one resolution hands back to the HTTP layer.
type Result struct {
	Outcome identity.Outcome

	// Token is the opaque directory-issued session token. Empty when the
	// outcome is Conflict or Rejected.
	Token string
}

// Login resolves a provider profile into a canonical account and a
// session token. Conflict and missing-email are caller-actionable and
// come back as outcomes, not errors; infrastructure failures surface as
// errors with no partial state committed.
func (f *Flow) Login(
	ctx context.Context,
	profile *identity.Profile,
	activeAccountID string,
) (*Result, error) {

	decision, err := f.resolver.Decide(ctx, profile, activeAccountID)
	if err != nil {
		return f.mapDecideError(err)
	}

	var (
		accountID string
		email     string
		outcome   identity.OutcomeKind
	)

	switch decision.Kind {
	case resolver.DecideCreate:
		accountID, email, outcome, err = f.create(ctx, profile)
	case resolver.DecideLink:
		accountID, email, outcome = decision.AccountID, decision.Email, identity.OutcomeLinkedToExisting
		err = f.linker.LinkProvider(ctx, decision.AccountID, profile.Provider, profile.ProviderUserID, profile.Extras())
	case resolver.DecideSessionLink:
		accountID, email, outcome = decision.AccountID, decision.Email, identity.OutcomeSessionLinkedToActive
		err = f.linker.LinkProvider(ctx, decision.AccountID, profile.Provider, profile.ProviderUserID, profile.Extras())
	default:
		return nil, fmt.Errorf("flow: unknown decision kind %q", decision.Kind)
	}

	if err != nil {
		if ce, ok := identity.AsConflict(err); ok {
			return conflictResult(ce), nil
		}
		return nil, err
	}

	token, err := f.issuer.Issue(ctx, accountID, email)
	if err != nil {
		return nil, err
	}

	logger.Info("identity resolved", map[string]any{
		"provider": profile.Provider,
		"outcome":  string(outcome),
	})

	return &Result{
		Outcome: identity.Outcome{Kind: outcome, AccountID: accountID},
		Token:   token,
	}, nil
}

// create handles the no-match path. A lost creation race surfaces as
// ErrEmailTaken from the directory; the prescribed fallback is a single
// pass through the email-match path, not a retry loop.
func (f *Flow) create(ctx context.Context, profile *identity.Profile) (string, string, identity.OutcomeKind, error) {
	accountID, err := f.linker.CreateAccount(ctx, profile)
	if err == nil {
		return accountID, profile.Email, identity.OutcomeCreated, nil
	}
	if !errors.Is(err, directory.ErrEmailTaken) {
		return "", "", "", err
	}

	acct, lookupErr := f.dir.FindByEmail(ctx, profile.Email)
	if lookupErr != nil {
		return "", "", "", fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, lookupErr)
	}
	if acct == nil {
		// The winner of the race is gone already; nothing sane to do.
		return "", "", "", err
	}

	if linkErr := f.linker.LinkProvider(ctx, acct.ID, profile.Provider, profile.ProviderUserID, profile.Extras()); linkErr != nil {
		return "", "", "", linkErr
	}
	return acct.ID, acct.Email, identity.OutcomeLinkedToExisting, nil
}

func (f *Flow) mapDecideError(err error) (*Result, error) {
	if ce, ok := identity.AsConflict(err); ok {
		return conflictResult(ce), nil
	}
	if errors.Is(err, identity.ErrMissingEmail) {
		return &Result{
			Outcome: identity.Outcome{
				Kind:   identity.OutcomeRejected,
				Reason: "provider did not grant an email claim",
			},
		}, nil
	}
	return nil, err
}

func conflictResult(ce *identity.ConflictError) *Result {
	return &Result{
		Outcome: identity.Outcome{
			Kind:              identity.OutcomeConflict,
			ExistingAccountID: ce.ExistingAccountID,
		},
	}
}
