package linked

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/directory/dirtest"
	"github.com/pinetree-kr/identity-service/internal/identity"
)

// A Kakao-created account never shows kakao as a linked provider, even
// though its provider key is recorded.
func TestListExcludesSignupProvider(t *testing.T) {
	fake := dirtest.New()
	fake.Seed(directory.Account{
		ID:    "U1",
		Email: "a@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderKakao,
			LinkedProviders: []string{identity.ProviderKakao, identity.ProviderGoogle},
			ProviderKeys: map[string]string{
				identity.ProviderKakao:  "k-1",
				identity.ProviderGoogle: "g-1",
			},
		},
	})

	providers, err := New(fake).List(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{identity.ProviderGoogle}, providers)
}

// A social-origin account never shows the implicit email identity.
func TestListExcludesImplicitEmailForSocialSignup(t *testing.T) {
	fake := dirtest.New()
	fake.Seed(directory.Account{
		ID:    "U1",
		Email: "a@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderGoogle,
			LinkedProviders: []string{identity.ProviderGoogle, identity.ProviderEmail, identity.ProviderKakao},
			ProviderKeys: map[string]string{
				identity.ProviderGoogle: "g-1",
				identity.ProviderEmail:  "a@x.com",
				identity.ProviderKakao:  "k-1",
			},
		},
	})

	providers, err := New(fake).List(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{identity.ProviderKakao}, providers)
}

// An email-origin account does show later-linked social providers, and
// the email exclusion does not apply to its own signup provider slot.
func TestListEmailSignup(t *testing.T) {
	fake := dirtest.New()
	fake.Seed(directory.Account{
		ID:    "U1",
		Email: "a@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderEmail,
			LinkedProviders: []string{identity.ProviderEmail, identity.ProviderKakao},
			ProviderKeys: map[string]string{
				identity.ProviderEmail: "a@x.com",
				identity.ProviderKakao: "k-1",
			},
		},
	})

	providers, err := New(fake).List(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{identity.ProviderKakao}, providers)
}

// The directory's own identity view is unioned in, covering drift
// between the stored set and the directory.
func TestListUnionsDirectoryView(t *testing.T) {
	fake := dirtest.New()
	fake.Seed(directory.Account{
		ID:    "U1",
		Email: "a@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderEmail,
			LinkedProviders: []string{identity.ProviderEmail},
			ProviderKeys:    map[string]string{identity.ProviderEmail: "a@x.com"},
		},
	})
	fake.Drift["U1"] = []string{identity.ProviderGoogle}

	providers, err := New(fake).List(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{identity.ProviderGoogle}, providers)
}

func TestListUnknownAccount(t *testing.T) {
	_, err := New(dirtest.New()).List(context.Background(), "nope")
	require.Error(t, err)
}
