package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-api/internal/auth"
	"tournament-api/internal/observability"
)

type stubProvider struct {
	profile auth.FederatedProfile
	err     error
}

func (p stubProvider) AuthCodeURL(state string) string {
	return "https://provider.test/auth?state=" + state
}

func (p stubProvider) Exchange(context.Context, string) (auth.FederatedProfile, error) {
	return p.profile, p.err
}

type stubCompleter struct {
	got  auth.FederatedProfile
	code string
	err  error
}

func (c *stubCompleter) CompleteFederatedLogin(_ context.Context, profile auth.FederatedProfile, _ auth.ClientInfo) (string, error) {
	c.got = profile
	return c.code, c.err
}

func newTestHandler(provider Provider, completer LoginCompleter) *Handler {
	return NewHandler(provider, completer, auth.NewIPResolver(nil), observability.Nop(), "https://app.example.com", false)
}

func callbackRequest(state, cookieState string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/oauth2/google/callback?code=c&state="+url.QueryEscape(state), nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: cookieState})
	}
	return req
}

func TestStartSetsStateCookie(t *testing.T) {
	h := newTestHandler(stubProvider{}, &stubCompleter{})

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/oauth2/google", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, stateCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, "https://provider.test/auth?state="+cookies[0].Value, rec.Header().Get("Location"))
}

func TestCallbackRedirectsWithCode(t *testing.T) {
	completer := &stubCompleter{code: "abc123"}
	h := newTestHandler(stubProvider{profile: auth.FederatedProfile{Provider: auth.ProviderGoogle, Subject: "s", Email: "g@x.com"}}, completer)

	rec := httptest.NewRecorder()
	h.Callback(rec, callbackRequest("st", "st"))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.example.com/auth/callback?code=abc123", rec.Header().Get("Location"))
	assert.Equal(t, "g@x.com", completer.got.Email)
}

func TestCallbackFailures(t *testing.T) {
	tests := []struct {
		name      string
		provider  Provider
		completer *stubCompleter
		req       *http.Request
		message   string
	}{
		{name: "state mismatch", provider: stubProvider{}, completer: &stubCompleter{}, req: callbackRequest("a", "b"), message: "invalid sign in state"},
		{name: "missing cookie", provider: stubProvider{}, completer: &stubCompleter{}, req: callbackRequest("a", ""), message: "invalid sign in state"},
		{name: "unverified email", provider: stubProvider{err: ErrEmailNotVerified}, completer: &stubCompleter{}, req: callbackRequest("a", "a"), message: "your google email address is not verified"},
		{name: "service error", provider: stubProvider{}, completer: &stubCompleter{err: errors.New("boom")}, req: callbackRequest("a", "a"), message: "could not sign in with google"},
		{
			name:      "provider denied",
			provider:  stubProvider{},
			completer: &stubCompleter{},
			req:       httptest.NewRequest(http.MethodGet, "/api/v1/auth/oauth2/google/callback?error=access_denied", nil),
			message:   "sign in was cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestHandler(tt.provider, tt.completer).Callback(rec, tt.req)

			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "https://app.example.com/auth/error?message="+url.QueryEscape(tt.message), rec.Header().Get("Location"))
		})
	}
}
