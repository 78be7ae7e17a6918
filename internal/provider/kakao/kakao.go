package kakao

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pinetree-kr/identity-service/internal/identity"
	"github.com/pinetree-kr/identity-service/internal/logger"

	"golang.org/x/oauth2"
)

const providerName = identity.ProviderKakao

const defaultUserInfoURL = "https://kapi.kakao.com/v2/user/me"

// Kakao is plain OAuth2, not discovery-based OIDC, so the endpoints are
// pinned here instead of resolved at startup.
var endpoint = oauth2.Endpoint{
	AuthURL:  "https://kauth.kakao.com/oauth/authorize",
	TokenURL: "https://kauth.kakao.com/oauth/token",
}

// Gateway implements OAuth authentication against Kakao. It returns
// identity facts only; no account or session decisions are made here.
type Gateway struct {
	oauthConfig *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func New(
	clientID string,
	clientSecret string,
	redirectURL string,
) (*Gateway, error) {

	if clientID == "" || redirectURL == "" {
		return nil, fmt.Errorf("%w: kakao oauth missing required fields", identity.ErrInvalidConfiguration)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes: []string{
			"account_email",
			"profile_nickname",
			"profile_image",
		},
	}

	return &Gateway{
		oauthConfig: oauthCfg,
		userInfoURL: defaultUserInfoURL,
		httpClient:  http.DefaultClient,
	}, nil
}

// Name returns the provider identifier used by the registry.
func (g *Gateway) Name() string {
	return providerName
}

// AuthCodeURL builds the OAuth authorization URL with PKCE parameters.
func (g *Gateway) AuthCodeURL(state string, codeChallenge string) string {
	return g.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// userInfo mirrors the shape of Kakao's /v2/user/me response. The email
// claim is nested under kakao_account; a user can decline the email
// scope, in which case it is simply absent.
type userInfo struct {
	ID      int64 `json:"id"`
	Account struct {
		Email           string `json:"email"`
		IsEmailVerified bool   `json:"is_email_verified"`
		Profile         struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

func (g *Gateway) ResolveProfile(
	ctx context.Context,
	code string,
	codeVerifier string,
) (*identity.Profile, error) {

	token, err := g.oauthConfig.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: kakao token exchange failed: %w", identity.ErrProviderUnavailable, err)
	}

	info, err := g.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return profileFrom(info)
}

func profileFrom(info *userInfo) (*identity.Profile, error) {
	if info.ID == 0 {
		return nil, fmt.Errorf("kakao userinfo missing id")
	}
	if info.Account.Email == "" {
		return nil, identity.ErrMissingEmail
	}

	logger.Info("kakao profile resolved", map[string]any{
		"email_verified": info.Account.IsEmailVerified,
	})

	return &identity.Profile{
		Provider:       providerName,
		ProviderUserID: strconv.FormatInt(info.ID, 10),
		Email:          info.Account.Email,
		EmailVerified:  info.Account.IsEmailVerified,
		DisplayName:    info.Account.Profile.Nickname,
		AvatarURL:      info.Account.Profile.ProfileImageURL,
	}, nil
}

func (g *Gateway) fetchUserInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("kakao userinfo request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: kakao userinfo call failed: %w", identity.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: kakao userinfo returned status %d", identity.ErrProviderUnavailable, resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("kakao userinfo parse failed: %w", err)
	}
	return &info, nil
}
