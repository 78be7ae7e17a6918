package session

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/identity"
)

// Issuer turns a resolved canonical account into an opaque session
// token by asking the identity directory for a session assertion and
// extracting the token from the assertion's redirect target.
type Issuer struct {
	dir directory.Directory

	// redirectTarget is where the assertion link points; the token rides
	// in its query string.
	redirectTarget string
}

func NewIssuer(dir directory.Directory, redirectTarget string) *Issuer {
	return &Issuer{dir: dir, redirectTarget: redirectTarget}
}

// Issue requests a session assertion for the account. email must be
// the email currently on record for the account, which after a merge
// may differ from what the provider reported — the account's primary
// email is authoritative. Failures are surfaced, never retried.
func (i *Issuer) Issue(ctx context.Context, accountID, email string) (string, error) {
	assertion, err := i.dir.GenerateSessionAssertion(ctx, accountID, email, i.redirectTarget)
	if err != nil {
		return "", fmt.Errorf("%w: %w", identity.ErrSessionGeneration, err)
	}

	token, err := tokenFromAssertion(assertion)
	if err != nil {
		return "", fmt.Errorf("%w: %w", identity.ErrSessionGeneration, err)
	}
	return token, nil
}

// tokenFromAssertion pulls the opaque token out of the assertion URL's
// query parameters.
func tokenFromAssertion(assertion string) (string, error) {
	u, err := url.Parse(assertion)
	if err != nil {
		return "", fmt.Errorf("session: malformed assertion url: %w", err)
	}

	q := u.Query()
	for _, key := range []string{"token", "access_token"} {
		if v := q.Get(key); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("session: assertion url carries no token: %s", u.Redacted())
}
