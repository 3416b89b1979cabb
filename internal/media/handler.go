package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tournament-api/internal/auth"
	"tournament-api/internal/observability"
)

const (
	maxUploadSizeBytes = 5 << 20
)

type AvatarUploader interface {
	UploadAvatar(ctx context.Context, accountID, imageSource string) (string, error)
}

// AvatarStore persists the uploaded avatar URL on the account.
type AvatarStore interface {
	UpdateAvatar(ctx context.Context, accountID, avatarURL string) (auth.AccountSummary, error)
}

type AvatarHandler struct {
	uploader AvatarUploader
	accounts AvatarStore
	logger   *observability.Logger
}

func NewAvatarHandler(uploader AvatarUploader, accounts AvatarStore, logger *observability.Logger) *AvatarHandler {
	return &AvatarHandler{uploader: uploader, accounts: accounts, logger: logger}
}

func (h *AvatarHandler) Upload(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization token")
		return
	}
	if h.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "avatar_upload_disabled", "avatar uploads are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSizeBytes+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "file is empty")
		return
	}
	if len(data) > maxUploadSizeBytes {
		writeError(w, http.StatusBadRequest, "invalid_request", "file is too large")
		return
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "file must be an image")
		return
	}

	imageSource := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	secureURL, err := h.uploader.UploadAvatar(r.Context(), principal.AccountID, imageSource)
	if err != nil {
		h.logger.Error("avatar_upload_failed", map[string]any{"error": err.Error(), "account_id": principal.AccountID})
		writeError(w, http.StatusBadGateway, "upload_failed", "failed to upload image")
		return
	}

	account, err := h.accounts.UpdateAvatar(r.Context(), principal.AccountID, secureURL)
	if err != nil {
		h.logger.Error("avatar_update_failed", map[string]any{"error": err.Error(), "account_id": principal.AccountID})
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
