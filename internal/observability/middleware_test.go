package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverMiddlewareReturnsGenericError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info")

	handler := RecoverMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Contains(t, buf.String(), "panic_recovered")
}

func TestRequestLoggingMiddlewareRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info")

	handler := RequestLoggingMiddleware(logger, func(*http.Request) string { return "203.0.113.7" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"ip":"203.0.113.7"`)
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}
