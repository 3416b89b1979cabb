package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "direct", remote: "198.51.100.1:4000", want: "198.51.100.1"},
		{name: "untrusted peer cannot spoof", remote: "198.51.100.1:4000", headers: map[string]string{"X-Forwarded-For": "1.1.1.1"}, want: "198.51.100.1"},
		{name: "trusted proxy forwarded", remote: "127.0.0.1:4000", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, want: "203.0.113.9"},
		{name: "trusted proxy real ip", remote: "127.0.0.1:4000", headers: map[string]string{"X-Real-IP": "203.0.113.10"}, want: "203.0.113.10"},
		{name: "trusted proxy unknown header", remote: "127.0.0.1:4000", headers: map[string]string{"X-Forwarded-For": "unknown"}, want: "127.0.0.1"},
		{name: "ipv6 proxy", remote: "[::1]:4000", headers: map[string]string{"X-Forwarded-For": "2001:db8::1"}, want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}
			assert.Equal(t, tt.want, ClientIP(req, []string{"127.0.0.1", "::1"}))
		})
	}
}
