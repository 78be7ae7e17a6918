package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinetree-kr/identity-service/internal/credentials"
	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/directory/dirtest"
	"github.com/pinetree-kr/identity-service/internal/flow"
	"github.com/pinetree-kr/identity-service/internal/identity"
	"github.com/pinetree-kr/identity-service/internal/linked"
	"github.com/pinetree-kr/identity-service/internal/linker"
	"github.com/pinetree-kr/identity-service/internal/middleware"
	"github.com/pinetree-kr/identity-service/internal/provider"
	"github.com/pinetree-kr/identity-service/internal/resolver"
	"github.com/pinetree-kr/identity-service/internal/session"
)

// memNonces is an in-memory statestore.NonceStore mirroring the redis
// store's semantics: single use, provider bound, link target held
// server-side.
type memNonces struct {
	mu      sync.Mutex
	pending map[string]pendingFlow
}

type pendingFlow struct {
	provider      string
	linkAccountID string
}

func newMemNonces() *memNonces {
	return &memNonces{pending: make(map[string]pendingFlow)}
}

func (m *memNonces) Put(_ context.Context, nonce, providerName, linkAccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[nonce] = pendingFlow{provider: providerName, linkAccountID: linkAccountID}
	return nil
}

func (m *memNonces) Consume(_ context.Context, nonce, providerName string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[nonce]
	if !ok {
		return "", false, nil
	}
	delete(m.pending, nonce)
	if p.provider != providerName {
		return "", false, nil
	}
	return p.linkAccountID, true, nil
}

// memSessions is an in-memory session.Store.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]session.Session)}
}

func (m *memSessions) Create(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s
	return nil
}

func (m *memSessions) Get(_ context.Context, sessionID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSessions) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// stubGateway returns a canned profile for any code.
type stubGateway struct {
	name    string
	profile *identity.Profile
	err     error
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) AuthCodeURL(state, codeChallenge string) string {
	return "https://provider.example.com/authorize?state=" + url.QueryEscape(state) +
		"&code_challenge=" + url.QueryEscape(codeChallenge)
}

func (g *stubGateway) ResolveProfile(_ context.Context, code, codeVerifier string) (*identity.Profile, error) {
	return g.profile, g.err
}

func newTestRouter(t *testing.T, gw provider.Gateway) (*gin.Engine, *memNonces, *memSessions, *dirtest.Fake) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := dirtest.New()
	nonces := newMemNonces()
	sessions := newMemSessions()

	res := resolver.New(fake)
	lnk := linker.New(fake)
	issuer := session.NewIssuer(fake, "https://app/auth/complete")
	loginFlow := flow.New(res, lnk, issuer, fake)

	h := NewHandler(
		provider.NewRegistry(gw),
		nonces,
		loginFlow,
		credentials.NewService(fake),
		linked.New(fake),
		lnk,
		sessions,
	)

	r := gin.New()
	h.RegisterRoutes(r, middleware.NewAuthMiddleware(sessions))
	return r, nonces, sessions, fake
}

func kakaoGateway(providerUserID, email string) *stubGateway {
	return &stubGateway{
		name: "kakao",
		profile: &identity.Profile{
			Provider:       identity.ProviderKakao,
			ProviderUserID: providerUserID,
			Email:          email,
			EmailVerified:  true,
		},
	}
}

// startFlow hits the login endpoint and returns the redirect recorder,
// whose cookies carry the PKCE verifier for the callback.
func startFlow(t *testing.T, r *gin.Engine, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)
	return w
}

func callbackWith(t *testing.T, r *gin.Engine, start *httptest.ResponseRecorder, state string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet,
		"/oauth/callback/kakao?code=c&state="+url.QueryEscape(state), nil)
	for _, c := range start.Result().Cookies() {
		req.AddCookie(c)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func stateParam(t *testing.T, start *httptest.ResponseRecorder) string {
	t.Helper()
	loc, err := url.Parse(start.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("state")
}

func TestOAuthLoginRedirects(t *testing.T) {
	r, nonces, _, _ := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	start := startFlow(t, r, "/oauth/login/kakao")
	loc, err := url.Parse(start.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code_challenge"))

	state, err := provider.DecodeState(loc.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, pendingFlow{provider: "kakao"}, nonces.pending[state.Nonce])
}

func TestOAuthLoginUnknownProvider(t *testing.T) {
	r, _, _, _ := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/login/naver", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	r, _, _, _ := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	state, err := provider.NewState()
	require.NoError(t, err)
	encoded, err := state.Encode()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/oauth/callback/kakao?code=c&state="+url.QueryEscape(encoded), nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOAuthCallbackStateIsSingleUse(t *testing.T) {
	r, _, _, _ := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	start := startFlow(t, r, "/oauth/login/kakao")
	encoded := stateParam(t, start)

	first := callbackWith(t, r, start, encoded)
	assert.Equal(t, http.StatusOK, first.Code)

	replay := callbackWith(t, r, start, encoded)
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
}

func TestOAuthCallbackRequiresVerifierCookie(t *testing.T) {
	r, _, _, _ := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	start := startFlow(t, r, "/oauth/login/kakao")
	encoded := stateParam(t, start)

	req := httptest.NewRequest(http.MethodGet,
		"/oauth/callback/kakao?code=c&state="+url.QueryEscape(encoded), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOAuthCallbackEstablishesSession(t *testing.T) {
	r, _, sessions, fake := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	start := startFlow(t, r, "/oauth/login/kakao")
	w := callbackWith(t, r, start, stateParam(t, start))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(identity.OutcomeCreated))

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)

	sess, err := sessions.Get(context.Background(), sessionCookie.Value)
	require.NoError(t, err)
	require.NotNil(t, sess)

	acct, err := fake.FindByID(context.Background(), sess.AccountID)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "a@x.com", acct.Email)
}

func TestOAuthCallbackRejectsProfileWithoutEmail(t *testing.T) {
	r, _, _, _ := newTestRouter(t, kakaoGateway("k-1", ""))

	start := startFlow(t, r, "/oauth/login/kakao")
	w := callbackWith(t, r, start, stateParam(t, start))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// The connect flow threads the signed-in account from the session to
// the callback through the server-side nonce record.
func TestOAuthConnectLinksActiveAccount(t *testing.T) {
	r, _, sessions, fake := newTestRouter(t, kakaoGateway("k-7", "other@x.com"))

	fake.Seed(directory.Account{
		ID:    "U1",
		Email: "me@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderEmail,
			LinkedProviders: []string{identity.ProviderEmail},
			ProviderKeys:    map[string]string{identity.ProviderEmail: "me@x.com"},
		},
	})
	require.NoError(t, sessions.Create(context.Background(), session.Session{
		SessionID: "sid-1",
		AccountID: "U1",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	sessionCookie := &http.Cookie{Name: session.CookieName, Value: "sid-1"}

	start := startFlow(t, r, "/oauth/connect/kakao", sessionCookie)
	w := callbackWith(t, r, start, stateParam(t, start))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(identity.OutcomeSessionLinkedToActive))

	acct := fake.Snapshot("U1")
	assert.Contains(t, acct.Metadata.LinkedProviders, identity.ProviderKakao)
	assert.Equal(t, "k-7", acct.Metadata.ProviderKeys[identity.ProviderKakao])
}

// A state blob re-encoded with a link_account_id field must not steer
// the callback: the link target lives server-side, so an anonymous
// login start can never attach an identity to someone else's account.
func TestOAuthCallbackIgnoresForgedLinkTarget(t *testing.T) {
	r, _, _, fake := newTestRouter(t, kakaoGateway("k-attacker", "attacker@x.com"))

	fake.Seed(directory.Account{
		ID:    "victim-1",
		Email: "victim@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderGoogle,
			LinkedProviders: []string{identity.ProviderGoogle},
			ProviderKeys:    map[string]string{identity.ProviderGoogle: "g-victim"},
		},
	})
	before := fake.Snapshot("victim-1")

	// Anonymous flow start mints a valid nonce.
	start := startFlow(t, r, "/oauth/login/kakao")
	state, err := provider.DecodeState(stateParam(t, start))
	require.NoError(t, err)

	forged := base64.RawURLEncoding.EncodeToString([]byte(
		fmt.Sprintf(`{"nonce":%q,"link_account_id":"victim-1"}`, state.Nonce)))

	w := callbackWith(t, r, start, forged)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(identity.OutcomeCreated))

	assert.Equal(t, before, fake.Snapshot("victim-1"))
	assert.Empty(t, before.Metadata.ProviderKeys[identity.ProviderKakao])
}

func TestLoginMapsConflictOutcome(t *testing.T) {
	r, _, _, fake := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	// a@x.com's email identity is already bound to another account, so
	// the resolution after a successful password check is a conflict.
	fake.Seed(directory.Account{
		ID:    "U1",
		Email: "a@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderEmail,
			LinkedProviders: []string{identity.ProviderEmail},
		},
	})
	fake.Seed(directory.Account{
		ID:    "U2",
		Email: "b@x.com",
		Metadata: directory.Metadata{
			SignupProvider:  identity.ProviderEmail,
			LinkedProviders: []string{identity.ProviderEmail},
			ProviderKeys:    map[string]string{identity.ProviderEmail: "a@x.com"},
		},
	})
	require.NoError(t, fake.SetPassword(context.Background(), "U1", "correct-horse"))

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"a@x.com","password":"correct-horse"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "U2")
}

func TestLogoutIsIdempotent(t *testing.T) {
	r, _, sessions, _ := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	// No cookie at all still succeeds.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// With a live session, logout deletes it.
	require.NoError(t, sessions.Create(context.Background(), session.Session{
		SessionID: "sid-1",
		AccountID: "U1",
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "sid-1"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	sess, err := sessions.Get(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestLinkedProvidersRequiresAuth(t *testing.T) {
	r, _, _, _ := newTestRouter(t, kakaoGateway("k-1", "a@x.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/linked-providers", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
