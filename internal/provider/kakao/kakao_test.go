package kakao

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinetree-kr/identity-service/internal/identity"
)

func TestNewRequiresClientID(t *testing.T) {
	_, err := New("", "secret", "https://app/cb")
	require.ErrorIs(t, err, identity.ErrInvalidConfiguration)

	_, err = New("client", "secret", "")
	require.ErrorIs(t, err, identity.ErrInvalidConfiguration)
}

func TestAuthCodeURL(t *testing.T) {
	g, err := New("client-id", "secret", "https://app/cb")
	require.NoError(t, err)

	raw := g.AuthCodeURL("mystate", "mychallenge")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "kauth.kakao.com", u.Host)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "mystate", q.Get("state"))
	assert.Equal(t, "mychallenge", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Contains(t, q.Get("scope"), "account_email")
}

func TestFetchUserInfoParsesNestedAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 4242,
			"kakao_account": {
				"email": "a@x.com",
				"is_email_verified": true,
				"profile": {
					"nickname": "nick",
					"profile_image_url": "https://img/1.png"
				}
			}
		}`))
	}))
	defer srv.Close()

	g, err := New("client-id", "secret", "https://app/cb")
	require.NoError(t, err)
	g.userInfoURL = srv.URL
	g.httpClient = srv.Client()

	info, err := g.fetchUserInfo(context.Background(), "at-1")
	require.NoError(t, err)

	profile, err := profileFrom(info)
	require.NoError(t, err)
	assert.Equal(t, identity.ProviderKakao, profile.Provider)
	assert.Equal(t, "4242", profile.ProviderUserID)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.True(t, profile.EmailVerified)
	assert.Equal(t, "nick", profile.DisplayName)
	assert.Equal(t, "https://img/1.png", profile.AvatarURL)
}

// A user can decline the email scope; the profile then cannot proceed.
func TestProfileFromMissingEmail(t *testing.T) {
	info := &userInfo{ID: 4242}

	_, err := profileFrom(info)
	require.ErrorIs(t, err, identity.ErrMissingEmail)
}

func TestFetchUserInfoErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g, err := New("client-id", "secret", "https://app/cb")
	require.NoError(t, err)
	g.userInfoURL = srv.URL
	g.httpClient = srv.Client()

	_, err = g.fetchUserInfo(context.Background(), "bad-token")
	require.ErrorIs(t, err, identity.ErrProviderUnavailable)
}
