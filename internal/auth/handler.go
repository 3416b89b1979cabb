package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tournament-api/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	cookies *CookieWriter
	ips     *IPResolver
	logger  *observability.Logger
	clock   Clock
}

func NewHandler(service *Service, cookies *CookieWriter, ips *IPResolver, logger *observability.Logger) *Handler {
	return &Handler{service: service, cookies: cookies, ips: ips, logger: logger, clock: service.clock}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type exchangeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body, false) {
		return
	}

	account, err := h.service.Register(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, err, "register")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "account created, check your inbox to verify your email address",
		"user":    account,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !decodeJSON(w, r, &body, false) {
		return
	}
	body.Email = normalizeEmail(body.Email)
	if err := validateInput(body); err != nil {
		h.writeServiceError(w, err, "login")
		return
	}

	result, err := h.service.Login(r.Context(), body.Email, body.Password, h.ips.ClientInfoFrom(r))
	if err != nil {
		h.writeServiceError(w, err, "login")
		return
	}
	h.writeAuthResult(w, result)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	token := refreshTokenFrom(r, body.RefreshToken)
	result, err := h.service.Refresh(r.Context(), token, h.ips.ClientInfoFrom(r))
	if err != nil {
		h.writeServiceError(w, err, "refresh")
		return
	}
	h.writeAuthResult(w, result)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	if err := h.service.Logout(r.Context(), refreshTokenFrom(r, body.RefreshToken), h.ips.ClientInfoFrom(r)); err != nil {
		h.writeServiceError(w, err, "logout")
		return
	}

	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization token")
		return
	}

	count, err := h.service.LogoutAll(r.Context(), principal.AccountID, h.ips.ClientInfoFrom(r))
	if err != nil {
		h.writeServiceError(w, err, "logout_all")
		return
	}

	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"revoked_sessions": count})
}

// AdminLogoutAll revokes every session of the account named in the path.
func (h *Handler) AdminLogoutAll(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.PathValue("id"))
	if _, err := h.service.Account(r.Context(), accountID); err != nil {
		h.writeServiceError(w, err, "admin_logout_all")
		return
	}

	count, err := h.service.LogoutAll(r.Context(), accountID, h.ips.ClientInfoFrom(r))
	if err != nil {
		h.writeServiceError(w, err, "admin_logout_all")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked_sessions": count})
}

func (h *Handler) ExchangeOAuthCode(w http.ResponseWriter, r *http.Request) {
	var body exchangeRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.ExchangeOAuthCode(r.Context(), body.Code)
	if err != nil {
		h.writeServiceError(w, err, "oauth_exchange")
		return
	}
	h.writeAuthResult(w, result)
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.service.VerifyEmail(r.Context(), r.URL.Query().Get("token"), h.ips.ClientInfoFrom(r)); err != nil {
		h.writeServiceError(w, err, "verify_email")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var body EmailInput
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if err := validateInput(body); err != nil {
		h.writeServiceError(w, err, "resend_verification")
		return
	}

	if err := h.service.ResendVerification(r.Context(), body.Email); err != nil {
		h.writeServiceError(w, err, "resend_verification")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "if the account exists and is not verified, an email has been sent"})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body EmailInput
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if err := validateInput(body); err != nil {
		h.writeServiceError(w, err, "forgot_password")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email, h.ips.ClientInfoFrom(r)); err != nil {
		h.writeServiceError(w, err, "forgot_password")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "if the account exists, a reset link has been sent"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body ResetPasswordInput
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), body, h.ips.ClientInfoFrom(r)); err != nil {
		h.writeServiceError(w, err, "reset_password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated, please sign in again"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization token")
		return
	}

	account, err := h.service.Account(r.Context(), principal.AccountID)
	if err != nil {
		h.writeServiceError(w, err, "me")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization token")
		return
	}

	var body ChangePasswordInput
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), principal.AccountID, body, h.ips.ClientInfoFrom(r)); err != nil {
		h.writeServiceError(w, err, "change_password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) writeAuthResult(w http.ResponseWriter, result AuthResult) {
	codec := h.service.Codec()
	h.cookies.SetTokens(w, result.Tokens, codec.AccessTTL(), codec.RefreshTTL())
	writeJSON(w, http.StatusOK, result)
}

// refreshTokenFrom prefers the cookie over the request body.
func refreshTokenFrom(r *http.Request, bodyToken string) string {
	if token := cookieValue(r, RefreshTokenCookie); token != "" {
		return token
	}
	return strings.TrimSpace(bodyToken)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, operation string) {
	if writeKnownError(w, err, h.clock()) {
		return
	}
	h.logger.Error("request_failed", map[string]any{"operation": operation, "error": err.Error()})
	observability.CaptureError(err, operation)
	writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
}

// writeKnownError answers the expected error kinds and reports whether err
// was one of them. Handlers and middlewares share it so a kind always maps to
// the same status and body.
func writeKnownError(w http.ResponseWriter, err error, now time.Time) bool {
	var locked AccountLockedError
	var failure AuthFailure
	var validation ValidationError
	var limited RateLimitedError

	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(locked.Until.Sub(now))))
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":        "account_locked",
			"message":      "account temporarily locked after too many failed attempts",
			"locked_until": locked.Until.UTC().Format(time.RFC3339),
		})
	case errors.As(err, &failure):
		writeError(w, http.StatusUnauthorized, "authentication_failed", failure.Message)
	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "authentication_failed", "invalid credentials")
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Message)
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "an account already exists with this email")
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
	case errors.As(err, &limited):
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limited.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limited.Remaining))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
	default:
		return false
	}
	return true
}

// decodeJSON writes a 400 and returns false on malformed bodies. With
// allowEmpty an absent body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
