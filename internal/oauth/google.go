// Package oauth runs the Google authorization-code flow and hands the
// resulting identity to the auth service.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"tournament-api/internal/auth"
)

const GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

var ErrEmailNotVerified = errors.New("provider email is not verified")

// Provider is one external identity provider.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (auth.FederatedProfile, error)
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: GoogleUserInfoEndpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades the callback code for a token and loads the profile. Only
// profiles whose email Google has verified are accepted.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (auth.FederatedProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return auth.FederatedProfile{}, fmt.Errorf("exchange google code: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Get(p.userInfoURL)
	if err != nil {
		return auth.FederatedProfile{}, fmt.Errorf("google user info request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return auth.FederatedProfile{}, fmt.Errorf("read google user info: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return auth.FederatedProfile{}, fmt.Errorf("google user info status %d", resp.StatusCode)
	}

	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return auth.FederatedProfile{}, fmt.Errorf("decode google user info: %w", err)
	}
	if !info.EmailVerified {
		return auth.FederatedProfile{}, ErrEmailNotVerified
	}

	return auth.FederatedProfile{
		Provider:  auth.ProviderGoogle,
		Subject:   info.Sub,
		Email:     strings.TrimSpace(info.Email),
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
		AvatarURL: info.Picture,
	}, nil
}
