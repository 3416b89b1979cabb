package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"

	"tournament-api/internal/auth"
	"tournament-api/internal/observability"
)

const (
	stateCookie     = "oauth_state"
	stateCookiePath = "/api/v1/auth/oauth2"
	stateMaxAge     = 600
)

// LoginCompleter turns a provider profile into a one-time authorization code.
type LoginCompleter interface {
	CompleteFederatedLogin(ctx context.Context, profile auth.FederatedProfile, client auth.ClientInfo) (string, error)
}

type Handler struct {
	provider     Provider
	service      LoginCompleter
	ips          *auth.IPResolver
	logger       *observability.Logger
	frontendURL  string
	secureCookie bool
}

func NewHandler(provider Provider, service LoginCompleter, ips *auth.IPResolver, logger *observability.Logger, frontendURL string, secureCookie bool) *Handler {
	return &Handler{
		provider:     provider,
		service:      service,
		ips:          ips,
		logger:       logger,
		frontendURL:  frontendURL,
		secureCookie: secureCookie,
	}
}

// Start redirects the browser to Google with a fresh state bound to a cookie.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		h.logger.Error("oauth_state_failed", map[string]any{"error": err.Error()})
		h.redirectError(w, r, "could not start sign in")
		return
	}

	h.setStateCookie(w, state, stateMaxAge)
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback validates state, completes the login and sends the browser to the
// frontend with a short-lived code it exchanges for tokens.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cookie, err := r.Cookie(stateCookie)
	h.setStateCookie(w, "", -1)

	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Warn("oauth_provider_error", map[string]any{"error": providerErr})
		h.redirectError(w, r, "sign in was cancelled")
		return
	}
	state := query.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		h.logger.Warn("oauth_state_mismatch", map[string]any{"ip": h.ips.ClientIP(r)})
		h.redirectError(w, r, "invalid sign in state")
		return
	}

	profile, err := h.provider.Exchange(r.Context(), query.Get("code"))
	if err != nil {
		h.logger.Warn("oauth_exchange_failed", map[string]any{"error": err.Error()})
		message := "could not sign in with google"
		if errors.Is(err, ErrEmailNotVerified) {
			message = "your google email address is not verified"
		}
		h.redirectError(w, r, message)
		return
	}

	code, err := h.service.CompleteFederatedLogin(r.Context(), profile, h.ips.ClientInfoFrom(r))
	if err != nil {
		h.logger.Error("oauth_login_failed", map[string]any{"error": err.Error(), "email": profile.Email})
		h.redirectError(w, r, "could not sign in with google")
		return
	}

	http.Redirect(w, r, h.frontendURL+"/auth/callback?code="+url.QueryEscape(code), http.StatusFound)
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, h.frontendURL+"/auth/error?message="+url.QueryEscape(message), http.StatusFound)
}

func (h *Handler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    value,
		Path:     stateCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func newState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
