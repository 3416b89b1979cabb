package auth

import (
	"net"
	"net/http"
	"strings"
)

// IPResolver finds the caller address. Forwarding headers are believed only
// when the direct peer is a trusted proxy.
type IPResolver struct {
	trusted map[string]struct{}
}

func NewIPResolver(trustedProxies []string) *IPResolver {
	trusted := make(map[string]struct{}, len(trustedProxies))
	for _, proxy := range trustedProxies {
		if proxy = strings.TrimSpace(proxy); proxy != "" {
			trusted[proxy] = struct{}{}
		}
	}
	return &IPResolver{trusted: trusted}
}

func (r *IPResolver) ClientIP(req *http.Request) string {
	remote := remoteHost(req.RemoteAddr)
	if _, ok := r.trusted[remote]; !ok {
		return remote
	}

	if forwarded := usableHeader(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := usableHeader(req.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return remote
}

// ClientIP is IPResolver.ClientIP for one-off use.
func ClientIP(req *http.Request, trustedProxies []string) string {
	return NewIPResolver(trustedProxies).ClientIP(req)
}

// ClientInfoFrom collects what the transport knows about the caller.
func (r *IPResolver) ClientInfoFrom(req *http.Request) ClientInfo {
	return ClientInfo{IP: r.ClientIP(req), UserAgent: req.UserAgent()}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func usableHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "unknown") {
		return ""
	}
	return value
}
