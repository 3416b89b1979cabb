package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sessions := NewSessionStore(NewMemoryStore(), clock.Now)

	id, err := sessions.Create(ctx, "acc-1", HashToken("refresh"), ClientInfo{IP: "1.2.3.4", UserAgent: "test"}, time.Hour)
	require.NoError(t, err)

	session, found, err := sessions.FindValidByHash(ctx, HashToken("refresh"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, session.ID)
	assert.Equal(t, "1.2.3.4", session.IP)

	revoked, err := sessions.Revoke(ctx, id)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = sessions.Revoke(ctx, id)
	require.NoError(t, err)
	assert.False(t, revoked)

	_, found, err = sessions.FindValidByHash(ctx, HashToken("refresh"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStoreExpiredIsInvalidBeforeSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sessions := NewSessionStore(NewMemoryStore(), clock.Now)

	_, err := sessions.Create(ctx, "acc-1", "hash", ClientInfo{}, time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, found, err := sessions.FindValidByHash(ctx, "hash")
	require.NoError(t, err)
	assert.False(t, found)

	clock.Advance(time.Second)
	count, err := sessions.SweepExpired(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSessionStoreRevokeAllAndRetention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sessions := NewSessionStore(NewMemoryStore(), clock.Now)

	for i := 0; i < 3; i++ {
		_, err := sessions.Create(ctx, "acc-1", HashToken(string(rune('a'+i))), ClientInfo{}, 90*24*time.Hour)
		require.NoError(t, err)
	}
	_, err := sessions.Create(ctx, "acc-2", HashToken("other"), ClientInfo{}, 90*24*time.Hour)
	require.NoError(t, err)

	count, err := sessions.RevokeAll(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = sessions.RevokeAll(ctx, "acc-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	clock.Advance(29 * 24 * time.Hour)
	count, err = sessions.SweepOldRevoked(ctx, DefaultRevokedRetention, 100)
	require.NoError(t, err)
	assert.Zero(t, count)

	clock.Advance(2 * 24 * time.Hour)
	count, err = sessions.SweepOldRevoked(ctx, DefaultRevokedRetention, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	_, found, err := sessions.FindValidByHash(ctx, HashToken("other"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCodeStoreSingleUse(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	codes := NewCodeStore(NewMemoryStore(), clock.Now)

	code, err := codes.Issue(ctx, "acc-1", Tokens{AccessToken: "at", RefreshToken: "rt"})
	require.NoError(t, err)
	assert.Len(t, code, 32)

	got, err := codes.Exchange(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)

	_, err = codes.Exchange(ctx, code)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestCodeStoreConcurrentExchangeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	codes := NewCodeStore(NewMemoryStore(), newFakeClock().Now)

	code, err := codes.Issue(ctx, "acc-1", Tokens{AccessToken: "at", RefreshToken: "rt"})
	require.NoError(t, err)

	var mu sync.Mutex
	var successes, failures int
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := codes.Exchange(ctx, code)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, ErrAuthenticationFailed) {
				failures++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)
}

func TestServiceConcurrentRefreshHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.registerVerified(t, "a@x.com")

	login, err := f.service.Login(ctx, "a@x.com", testPassword, testClient)
	require.NoError(t, err)

	const callers = 16
	var successes atomic.Int32
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Refresh(ctx, login.RefreshToken, testClient); err != nil {
				errs <- err
				return
			}
			successes.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), successes.Load())
	assert.Len(t, errs, callers-1)
	for err := range errs {
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	}
}

func TestSessionStoreUserAgentStaysValidUTF8(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sessions := NewSessionStore(store, newFakeClock().Now)

	// 511 ASCII bytes then a 3-byte rune straddling the 512 byte limit.
	straddling := strings.Repeat("a", 511) + "€tail"
	id, err := sessions.Create(ctx, "acc-1", HashToken("r1"), ClientInfo{UserAgent: straddling}, time.Hour)
	require.NoError(t, err)
	session, found, err := sessions.FindValidByHash(ctx, HashToken("r1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, session.ID)
	assert.True(t, utf8.ValidString(session.UserAgent))
	assert.Equal(t, strings.Repeat("a", 511), session.UserAgent)

	_, err = sessions.Create(ctx, "acc-1", HashToken("r2"), ClientInfo{UserAgent: "curl\xff\xfe/8.0"}, time.Hour)
	require.NoError(t, err)
	session, found, err = sessions.FindValidByHash(ctx, HashToken("r2"))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, utf8.ValidString(session.UserAgent))
	assert.Equal(t, "curl\uFFFD/8.0", session.UserAgent)
}

func TestTruncateKeepsShortValues(t *testing.T) {
	assert.Equal(t, "go-test", truncate("go-test", 512))
	assert.Equal(t, "", truncate("€", 2))
	assert.Equal(t, "ab", truncate("ab€", 4))
	assert.LessOrEqual(t, len(truncate(strings.Repeat("日本", 300), 512)), 512)
}

func TestCodeStoreExpiresAfterThirtySeconds(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	codes := NewCodeStore(store, clock.Now)

	code, err := codes.Issue(ctx, "acc-1", Tokens{})
	require.NoError(t, err)

	clock.Advance(AuthorizationCodeTTL)
	_, err = codes.Exchange(ctx, code)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	count, err := codes.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	clock.Advance(time.Second)
	count, err = codes.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
