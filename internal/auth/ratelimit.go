package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	DefaultRequestsPerMinute     = 60
	DefaultAuthRequestsPerMinute = 10

	rateWindow      = time.Minute
	bucketIdleTTL   = time.Hour
	maxBucketKeys   = 100_000
	routeClassAuth  = "auth"
	routeClassAPI   = "api"
	healthCheckPath = "/health"
)

var authRoutePrefixes = []string{
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/auth/refresh",
	"/api/v1/users/forgot-password",
	"/api/v1/users/reset-password",
}

type RateLimitConfig struct {
	Enabled               bool
	RequestsPerMinute     int
	AuthRequestsPerMinute int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Permitted  bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a per-key token bucket with interval refill: every full
// minute since the last refill restores the bucket to its limit.
type RateLimiter struct {
	cfg     RateLimitConfig
	clock   Clock
	buckets *ttlcache.Cache[string, *bucket]
}

func NewRateLimiter(cfg RateLimitConfig, clock Clock) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.AuthRequestsPerMinute <= 0 {
		cfg.AuthRequestsPerMinute = DefaultAuthRequestsPerMinute
	}
	if clock == nil {
		clock = SystemClock
	}

	buckets := ttlcache.New[string, *bucket](
		ttlcache.WithTTL[string, *bucket](bucketIdleTTL),
		ttlcache.WithCapacity[string, *bucket](maxBucketKeys),
	)
	go buckets.Start()

	return &RateLimiter{cfg: cfg, clock: clock, buckets: buckets}
}

// Close stops the expiry janitor.
func (l *RateLimiter) Close() {
	l.buckets.Stop()
}

// Allow consumes one token from the bucket for key.
func (l *RateLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = l.cfg.RequestsPerMinute
	}
	now := l.clock()

	item, _ := l.buckets.GetOrSet(key, &bucket{tokens: limit, lastRefill: now})
	b := item.Value()

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill); elapsed >= rateWindow {
		windows := elapsed / rateWindow
		b.tokens = limit
		b.lastRefill = b.lastRefill.Add(windows * rateWindow)
	}
	if b.tokens > limit {
		b.tokens = limit
	}

	if b.tokens > 0 {
		b.tokens--
		return Decision{Permitted: true, Limit: limit, Remaining: b.tokens}
	}

	retry := b.lastRefill.Add(rateWindow).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Permitted: false, Limit: limit, Remaining: 0, RetryAfter: retry}
}

// Classify maps a request path to its bucket class and per-minute limit.
func (l *RateLimiter) Classify(path string) (string, int) {
	for _, prefix := range authRoutePrefixes {
		if strings.HasPrefix(path, prefix) {
			return routeClassAuth, l.cfg.AuthRequestsPerMinute
		}
	}
	return routeClassAPI, l.cfg.RequestsPerMinute
}

// Middleware applies the limiter keyed by client address and route class.
func (l *RateLimiter) Middleware(ipOf func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.cfg.Enabled || r.URL.Path == healthCheckPath {
			next.ServeHTTP(w, r)
			return
		}

		class, limit := l.Classify(r.URL.Path)
		decision := l.Allow(ipOf(r)+":"+class, limit)

		if !decision.Permitted {
			writeKnownError(w, RateLimitedError{Limit: decision.Limit, Remaining: 0, RetryAfter: decision.RetryAfter}, l.clock())
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
