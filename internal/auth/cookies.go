package auth

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	accessCookiePath  = "/"
	refreshCookiePath = "/api/v1/auth"
)

type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite string
}

// CookieWriter sets and clears the HTTP-only token cookies.
type CookieWriter struct {
	cfg      CookieConfig
	sameSite http.SameSite
}

func NewCookieWriter(cfg CookieConfig) *CookieWriter {
	return &CookieWriter{cfg: cfg, sameSite: parseSameSite(cfg.SameSite)}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(value) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c *CookieWriter) SetTokens(w http.ResponseWriter, tokens Tokens, accessTTL, refreshTTL time.Duration) {
	c.set(w, AccessTokenCookie, tokens.AccessToken, accessCookiePath, int(accessTTL.Seconds()))
	c.set(w, RefreshTokenCookie, tokens.RefreshToken, refreshCookiePath, int(refreshTTL.Seconds()))
}

func (c *CookieWriter) Clear(w http.ResponseWriter) {
	c.set(w, AccessTokenCookie, "", accessCookiePath, -1)
	c.set(w, RefreshTokenCookie, "", refreshCookiePath, -1)
}

func (c *CookieWriter) set(w http.ResponseWriter, name, value, path string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.sameSite,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
