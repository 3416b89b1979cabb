package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-api/internal/config"
	"tournament-api/internal/observability"
)

func memoryConfig() config.Config {
	return config.Config{
		Env:         "test",
		FrontendURL: "https://app.example.com",
		CronSecret:  "cron-secret",
		Token: config.TokenConfig{
			Secret:     strings.Repeat("k", 64),
			Issuer:     "tournament-api",
			Audience:   "tournament-app",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		Lockout:     config.LockoutConfig{MaxAttempts: 5, LockDuration: 15 * time.Minute},
		RateLimit:   config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, AuthRequestsPerMinute: 5},
		Session:     config.SessionConfig{RevokedRetention: 30 * 24 * time.Hour},
		Cookie:      config.CookieConfig{SameSite: "Lax"},
		Database:    config.DatabaseConfig{Driver: config.StorageMemory},
		Maintenance: config.MaintenanceConfig{SweepInterval: time.Hour, BatchSize: 100},
		Admin:       config.AdminConfig{Email: "root@example.com", Password: "Abcdef1!23456"},
		Mail:        config.MailConfig{Workers: 1, QueueSize: 10},
	}
}

func buildTestRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	require.NoError(t, cfg.Validate())
	runtime, err := BuildWithConfig(context.Background(), cfg, observability.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close() })
	return runtime
}

func serve(runtime *Runtime, method, target, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	runtime.Handler.ServeHTTP(rec, req)
	return rec
}

func TestRuntimeAdminFlow(t *testing.T) {
	runtime := buildTestRuntime(t, memoryConfig())

	assert.Equal(t, http.StatusOK, serve(runtime, http.MethodGet, "/health", "", "").Code)

	rec := serve(runtime, http.MethodPost, "/api/v1/auth/login", `{"email":"root@example.com","password":"Abcdef1!23456"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	var login struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.Equal(t, "ADMIN", login.User.Role)

	rec = serve(runtime, http.MethodGet, "/api/v1/users/me", "", login.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(runtime, http.MethodPost, "/api/v1/admin/users/"+login.User.ID+"/logout-all", "", login.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(runtime, http.MethodPost, "/internal/maintenance/cleanup", "", "cron-secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRuntimeRateLimitsAuthRoutes(t *testing.T) {
	runtime := buildTestRuntime(t, memoryConfig())

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = serve(runtime, http.MethodPost, "/api/v1/auth/login", `{"email":"nobody@example.com","password":"x"}`, "")
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	// the health check is never limited
	assert.Equal(t, http.StatusOK, serve(runtime, http.MethodGet, "/health", "", "").Code)
}

func TestRuntimeWithoutGoogleHasNoOAuthRoutes(t *testing.T) {
	runtime := buildTestRuntime(t, memoryConfig())
	assert.Equal(t, http.StatusNotFound, serve(runtime, http.MethodGet, "/api/v1/auth/oauth2/google", "", "").Code)
}
