package auth

import (
	"context"
	"net/http"
	"strings"
)

type principalKey struct{}

// Principal is the caller identity proven by an access token.
type Principal struct {
	AccountID string
	Email     string
	Role      Role
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AccessTokenFrom reads the access token; the cookie wins over the header.
func AccessTokenFrom(r *http.Request) string {
	if token := cookieValue(r, AccessTokenCookie); token != "" {
		return token
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate rejects requests without a valid access token.
func Authenticate(codec *TokenCodec, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := AccessTokenFrom(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization token")
			return
		}

		claims, err := codec.VerifyKind(token, TokenAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		ctx := WithPrincipal(r.Context(), Principal{AccountID: claims.AccountID, Email: claims.Email, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole must run after Authenticate.
func RequireRole(role Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization token")
			return
		}
		if principal.Role != role {
			writeKnownError(w, ErrForbidden, SystemClock())
			return
		}
		next.ServeHTTP(w, r)
	})
}
