package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"tournament-api/internal/auth"
	"tournament-api/internal/observability"
)

// Cleaner removes stale sessions, codes and one-time tokens.
type Cleaner interface {
	CleanupStaleAuthData(ctx context.Context, batchSize int) (auth.CleanupResult, error)
}

type CleanupHandler struct {
	cleaner    Cleaner
	logger     *observability.Logger
	cronSecret string
	batchSize  int
}

func NewCleanupHandler(cleaner Cleaner, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		cleaner:    cleaner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.cleaner.CleanupStaleAuthData(r.Context(), h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", resultFields(result))

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func resultFields(result auth.CleanupResult) map[string]any {
	return map[string]any{
		"deleted_expired_sessions":      result.DeletedExpiredSessions,
		"deleted_revoked_sessions":      result.DeletedRevokedSessions,
		"deleted_authorization_codes":   result.DeletedAuthorizationCodes,
		"deleted_verification_tokens":   result.DeletedVerificationTokens,
		"deleted_password_reset_tokens": result.DeletedPasswordResetTokens,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
