package admindir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pinetree-kr/identity-service/internal/directory"
)

const defaultTimeout = 10 * time.Second

// Client talks to a hosted identity directory through its admin API.
// The API is a bearer-authenticated JSON surface; this client maps its
// responses onto the directory contract and stays out of wire-format
// details beyond that.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

func New(baseURL, adminToken string) (*Client, error) {
	if baseURL == "" || adminToken == "" {
		return nil, fmt.Errorf("admindir: base url and admin token are required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// user mirrors the admin API's user representation.
type user struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Metadata struct {
		SignupProvider  string            `json:"signup_provider"`
		LinkedProviders []string          `json:"linked_providers"`
		ProviderKeys    map[string]string `json:"provider_keys"`
		LastLogin       *time.Time        `json:"last_login"`
		Extras          map[string]string `json:"extras"`
	} `json:"metadata"`
}

func (u *user) account() *directory.Account {
	acct := &directory.Account{
		ID:    u.ID,
		Email: u.Email,
		Metadata: directory.Metadata{
			SignupProvider:  u.Metadata.SignupProvider,
			LinkedProviders: u.Metadata.LinkedProviders,
			ProviderKeys:    u.Metadata.ProviderKeys,
			Extras:          u.Metadata.Extras,
		},
	}
	if acct.Metadata.ProviderKeys == nil {
		acct.Metadata.ProviderKeys = map[string]string{}
	}
	if acct.Metadata.Extras == nil {
		acct.Metadata.Extras = map[string]string{}
	}
	if u.Metadata.LastLogin != nil {
		acct.Metadata.LastLogin = *u.Metadata.LastLogin
	}
	return acct
}

func (c *Client) FindByEmail(ctx context.Context, email string) (*directory.Account, error) {
	return c.lookup(ctx, "/admin/users?email="+url.QueryEscape(email))
}

func (c *Client) FindByID(ctx context.Context, accountID string) (*directory.Account, error) {
	return c.lookup(ctx, "/admin/users/"+url.PathEscape(accountID))
}

func (c *Client) FindByProviderID(ctx context.Context, provider, providerUserID string) (*directory.Account, error) {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("provider_user_id", providerUserID)
	return c.lookup(ctx, "/admin/users/by-identity?"+q.Encode())
}

func (c *Client) lookup(ctx context.Context, path string) (*directory.Account, error) {
	var u user
	status, err := c.do(ctx, http.MethodGet, path, nil, &u)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, unexpectedStatus(path, status)
	}
	return u.account(), nil
}

func (c *Client) CreateUser(ctx context.Context, email, credential string, md directory.Metadata) (string, error) {
	body := map[string]any{
		"email":    email,
		"password": credential,
		"metadata": metadataPayload(md),
	}

	var created struct {
		ID string `json:"id"`
	}
	status, err := c.do(ctx, http.MethodPost, "/admin/users", body, &created)
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		if created.ID == "" {
			return "", fmt.Errorf("admindir: create user returned no id")
		}
		return created.ID, nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return "", directory.ErrEmailTaken
	default:
		return "", unexpectedStatus("/admin/users", status)
	}
}

func (c *Client) UpdateMetadata(ctx context.Context, accountID string, patch directory.Patch) error {
	body := map[string]any{
		"add_providers":    patch.AddProviders,
		"remove_providers": patch.RemoveProviders,
		"provider_keys":    patch.ProviderKeys,
		"extras":           patch.Extras,
	}
	if patch.LastLogin != nil {
		body["last_login"] = patch.LastLogin.UTC().Format(time.RFC3339)
	}

	path := "/admin/users/" + url.PathEscape(accountID) + "/metadata"
	status, err := c.do(ctx, http.MethodPatch, path, body, nil)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return directory.ErrIdentityTaken
	default:
		return unexpectedStatus(path, status)
	}
}

func (c *Client) SetPassword(ctx context.Context, accountID, credential string) error {
	path := "/admin/users/" + url.PathEscape(accountID) + "/password"
	status, err := c.do(ctx, http.MethodPut, path, map[string]any{"password": credential}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return unexpectedStatus(path, status)
	}
	return nil
}

func (c *Client) VerifyEmailCredential(ctx context.Context, email, credential string) (string, error) {
	body := map[string]any{
		"grant_type": "password",
		"email":      email,
		"password":   credential,
	}

	var resp struct {
		UserID string `json:"user_id"`
	}
	status, err := c.do(ctx, http.MethodPost, "/token", body, &resp)
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusOK:
		return resp.UserID, nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return "", directory.ErrInvalidCredentials
	default:
		return "", unexpectedStatus("/token", status)
	}
}

func (c *Client) GenerateSessionAssertion(ctx context.Context, accountID, email, redirectTarget string) (string, error) {
	body := map[string]any{
		"user_id":     accountID,
		"email":       email,
		"redirect_to": redirectTarget,
	}

	var resp struct {
		ActionLink string `json:"action_link"`
	}
	status, err := c.do(ctx, http.MethodPost, "/admin/generate-link", body, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", unexpectedStatus("/admin/generate-link", status)
	}
	if resp.ActionLink == "" {
		return "", fmt.Errorf("admindir: generate-link returned no action link")
	}
	return resp.ActionLink, nil
}

func (c *Client) ProviderIdentities(ctx context.Context, accountID string) ([]string, error) {
	path := "/admin/users/" + url.PathEscape(accountID) + "/identities"

	var resp struct {
		Identities []struct {
			Provider string `json:"provider"`
		} `json:"identities"`
	}
	status, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, unexpectedStatus(path, status)
	}

	providers := make([]string, 0, len(resp.Identities))
	for _, id := range resp.Identities {
		providers = append(providers, id.Provider)
	}
	return providers, nil
}

// do executes one admin API call. Transport failures and decode errors
// come back as errors; HTTP status handling is the caller's job so each
// operation can map statuses onto its own semantics.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.adminToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("admindir: request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("admindir: malformed response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func metadataPayload(md directory.Metadata) map[string]any {
	payload := map[string]any{
		"signup_provider":  md.SignupProvider,
		"linked_providers": md.LinkedProviders,
		"provider_keys":    md.ProviderKeys,
		"extras":           md.Extras,
	}
	if !md.LastLogin.IsZero() {
		payload["last_login"] = md.LastLogin.UTC().Format(time.RFC3339)
	}
	return payload
}

func unexpectedStatus(path string, status int) error {
	return fmt.Errorf("admindir: %s returned unexpected status %d", path, status)
}
