package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pinetree-kr/identity-service/internal/credentials"
	"github.com/pinetree-kr/identity-service/internal/flow"
	"github.com/pinetree-kr/identity-service/internal/identity"
	"github.com/pinetree-kr/identity-service/internal/linked"
	"github.com/pinetree-kr/identity-service/internal/linker"
	"github.com/pinetree-kr/identity-service/internal/logger"
	"github.com/pinetree-kr/identity-service/internal/middleware"
	"github.com/pinetree-kr/identity-service/internal/provider"
	"github.com/pinetree-kr/identity-service/internal/session"
	"github.com/pinetree-kr/identity-service/internal/statestore"
)

const sessionTTL = 24 * time.Hour

type Handler struct {
	providers         *provider.Registry
	states            statestore.NonceStore
	flow              *flow.Flow
	credentialService *credentials.Service
	reporter          *linked.Reporter
	linker            *linker.Linker
	sessionStore      session.Store
}

func NewHandler(
	registry *provider.Registry,
	states statestore.NonceStore,
	loginFlow *flow.Flow,
	credentialService *credentials.Service,
	reporter *linked.Reporter,
	lnk *linker.Linker,
	sessionStore session.Store,
) *Handler {
	return &Handler{
		providers:         registry,
		states:            states,
		flow:              loginFlow,
		credentialService: credentialService,
		reporter:          reporter,
		linker:            lnk,
		sessionStore:      sessionStore,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, auth *middleware.AuthMiddleware) {
	r.GET("/oauth/login/:provider", h.oauthLogin)
	r.GET("/oauth/callback/:provider", h.oauthCallback)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)

	authed := r.Group("/")
	authed.Use(middleware.GinRequireAuth(auth))
	authed.GET("/oauth/connect/:provider", h.oauthConnect)
	authed.GET("/api/linked-providers", h.ListLinkedProviders)
	authed.DELETE("/api/linked-providers/:provider", h.UnlinkProvider)
}

func (h *Handler) oauthLogin(c *gin.Context) {
	h.startOAuth(c, "")
}

// oauthConnect starts an explicit connect-provider flow for a signed-in
// user. The target account rides in the state blob so the callback can
// thread it through the resolver as the session-scoped link target.
func (h *Handler) oauthConnect(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.startOAuth(c, accountID)
}

// startOAuth begins a provider flow. linkAccountID, when non-empty, is
// the session-verified account of an explicit connect flow; it is
// stored server-side against the nonce, never in the state blob the
// client round-trips.
func (h *Handler) startOAuth(c *gin.Context, linkAccountID string) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	state, err := provider.NewState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start oauth flow"})
		return
	}

	if err := h.states.Put(c.Request.Context(), state.Nonce, providerName, linkAccountID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start oauth flow"})
		return
	}

	encoded, err := state.Encode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start oauth flow"})
		return
	}

	codeChallenge, err := issuePKCE(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start oauth flow"})
		return
	}

	c.Redirect(http.StatusFound, p.AuthCodeURL(encoded, codeChallenge))
}

func (h *Handler) oauthCallback(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown oauth provider",
		})
		return
	}

	linkAccountID, ok := h.validateState(c, providerName)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid state"})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oauth callback returned error", map[string]any{
			"provider": providerName,
			"error":    errParam,
			"desc":     c.Query("error_description"),
		})
		c.Redirect(http.StatusFound, "/login")
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("oauth callback missing code and error", nil)
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	codeVerifier := pkceVerifier(c)
	if codeVerifier == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing pkce verifier"})
		return
	}

	profile, err := p.ResolveProfile(c.Request.Context(), code, codeVerifier)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrMissingEmail):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "the provider did not share an email address",
			})
		case errors.Is(err, identity.ErrProviderUnavailable):
			logger.Error("provider unavailable", map[string]any{
				"provider": providerName,
				"error":    err.Error(),
			})
			c.JSON(http.StatusBadGateway, gin.H{"error": "provider unavailable"})
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		}
		return
	}

	result, err := h.flow.Login(c.Request.Context(), profile, linkAccountID)
	if err != nil {
		logger.Error("identity resolution failed", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve account"})
		return
	}

	switch result.Outcome.Kind {
	case identity.OutcomeConflict:
		c.JSON(http.StatusConflict, gin.H{
			"error":               "provider identity already linked to another account",
			"existing_account_id": result.Outcome.ExistingAccountID,
		})
		return
	case identity.OutcomeRejected:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Outcome.Reason})
		return
	}

	if err := h.establishSession(c, result); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "authenticated",
		"outcome": string(result.Outcome.Kind),
	})
}

// establishSession persists a browser session for a resolved account
// and sets the session cookie.
func (h *Handler) establishSession(c *gin.Context, result *flow.Result) error {
	sessionID, err := session.GenerateID()
	if err != nil {
		return err
	}

	now := time.Now()
	expiresAt := now.Add(sessionTTL)

	sess := session.Session{
		SessionID: sessionID,
		AccountID: result.Outcome.AccountID,
		Token:     result.Token,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := h.sessionStore.Create(c.Request.Context(), sess); err != nil {
		return err
	}

	session.SetCookie(c.Writer, sessionID, expiresAt, session.CookieOptions{
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	logger.Info("session established", map[string]any{
		"outcome": string(result.Outcome.Kind),
	})
	return nil
}

// validateState decodes the state parameter and consumes its nonce.
// A nonce is single-use and bound to the provider that issued it. The
// returned link target comes from the server-side record made at flow
// start; nothing client-supplied is trusted beyond the nonce lookup.
func (h *Handler) validateState(c *gin.Context, providerName string) (string, bool) {
	raw := c.Query("state")
	if raw == "" {
		return "", false
	}

	state, err := provider.DecodeState(raw)
	if err != nil {
		return "", false
	}

	linkAccountID, ok, err := h.states.Consume(c.Request.Context(), state.Nonce, providerName)
	if err != nil || !ok {
		return "", false
	}
	return linkAccountID, true
}

func (h *Handler) Logout(c *gin.Context) {
	// 1. Read session cookie (same pattern as auth middleware)
	cookie, err := c.Request.Cookie(session.CookieName)
	if err == nil && cookie.Value != "" {
		// 2. Delete session from store (best-effort)
		_ = h.sessionStore.Delete(c.Request.Context(), cookie.Value)
	}

	// 3. Clear cookie (must pass options)
	session.ClearCookie(c.Writer, session.CookieOptions{
		Path:     "/",
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// 4. Idempotent response
	c.Status(http.StatusNoContent)
}
