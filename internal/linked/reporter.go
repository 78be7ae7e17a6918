package linked

import (
	"context"
	"fmt"
	"sort"

	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/identity"
)

// Reporter computes the set of providers displayed to the end user as
// "connected". Read-only; never mutates the directory.
type Reporter struct {
	dir directory.Directory
}

func New(dir directory.Directory) *Reporter {
	return &Reporter{dir: dir}
}

// List returns the connected providers for accountID, sorted for stable
// output.
//
// The stored linked set and the directory's own identity view can
// drift; the union covers both. The signup provider is excluded — it is
// the account's origin, not a user-initiated link. When the account
// originated from a social provider, the implicit email identity is
// excluded too.
func (r *Reporter) List(ctx context.Context, accountID string) ([]string, error) {
	acct, err := r.dir.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("linked: account %s not found", accountID)
	}

	fromDirectory, err := r.dir.ProviderIdentities(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}

	set := make(map[string]struct{})
	for _, p := range acct.Metadata.LinkedProviders {
		set[p] = struct{}{}
	}
	for _, p := range fromDirectory {
		set[p] = struct{}{}
	}

	delete(set, acct.Metadata.SignupProvider)
	if acct.Metadata.SignupProvider != identity.ProviderEmail {
		delete(set, identity.ProviderEmail)
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
