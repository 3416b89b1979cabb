package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tournament-api/internal/mail"
	"tournament-api/internal/observability"
)

var testSecret = "unit-test-signing-key-" + strings.Repeat("x", 64)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastArgon2Params() Argon2Params {
	return Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestCodec(t *testing.T, clock *fakeClock) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec(TokenConfig{Secret: testSecret}, clock.Now)
	require.NoError(t, err)
	return codec
}

type sentMail struct {
	To   string
	Kind mail.Kind
	Vars map[string]string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to string, kind mail.Kind, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Kind: kind, Vars: vars})
	return nil
}

func (m *recordingMailer) last(kind mail.Kind) (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i], true
		}
	}
	return sentMail{}, false
}

type serviceFixture struct {
	clock   *fakeClock
	store   *MemoryStore
	codec   *TokenCodec
	hasher  *PasswordHasher
	mailer  *recordingMailer
	service *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	clock := newFakeClock()
	store := NewMemoryStore()
	codec := newTestCodec(t, clock)
	hasher, err := NewPasswordHasher(fastArgon2Params())
	require.NoError(t, err)
	mailer := &recordingMailer{}
	guard := NewLockGuard(LockoutConfig{}, clock.Now)

	service := NewService(store, codec, hasher, guard, mailer, observability.Nop(), ServiceConfig{
		FrontendURL: "https://app.example.com",
		Clock:       clock.Now,
	})

	return &serviceFixture{clock: clock, store: store, codec: codec, hasher: hasher, mailer: mailer, service: service}
}

// tokenFromLink pulls the token query value out of an emailed link.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	_, token, ok := strings.Cut(link, "token=")
	require.True(t, ok, "link %q has no token", link)
	return token
}

const testPassword = "Abcdef1!23456"

// registerVerified registers an account and completes email verification.
func (f *serviceFixture) registerVerified(t *testing.T, email string) AccountSummary {
	t.Helper()
	ctx := context.Background()

	account, err := f.service.Register(ctx, RegisterInput{Email: email, Password: testPassword, FirstName: "Ada"})
	require.NoError(t, err)

	sent, ok := f.mailer.last(mail.KindVerification)
	require.True(t, ok)
	require.NoError(t, f.service.VerifyEmail(ctx, tokenFromLink(t, sent.Vars["link"]), ClientInfo{}))
	return account
}
