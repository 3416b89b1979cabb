package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, store *MemoryStore, id, email string) Account {
	t.Helper()
	account := Account{ID: id, Email: email, Role: RoleUser, Provider: ProviderEmail}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func TestMemoryStoreAccounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedAccount(t, store, "acc-1", "Ada@Example.com")

	got, err := store.GetAccountByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.ID)
	assert.Equal(t, "ada@example.com", got.Email)

	err = store.CreateAccount(ctx, Account{ID: "acc-2", Email: "ADA@example.com"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = store.GetAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	now := newFakeClock().Now()
	require.NoError(t, store.LinkProvider(ctx, "acc-1", ProviderGoogle, "sub-1", "https://img/a.png", now))
	got, err = store.GetAccountByProvider(ctx, ProviderGoogle, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.png", got.AvatarURL)

	assert.ErrorIs(t, store.SetEmailVerified(ctx, "missing", now), ErrNotFound)
}

func TestMemoryStoreConcurrentFailuresNeverUnderCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedAccount(t, store, "acc-1", "a@x.com")
	now := newFakeClock().Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RecordFailedLogin(ctx, "acc-1", 5, time.Minute, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	account, err := store.GetAccountByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 50, account.FailedLoginAttempts)
	require.NotNil(t, account.LockedUntil)
}

func TestMemoryStoreRevokeSessionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := newFakeClock().Now()
	require.NoError(t, store.InsertSession(ctx, Session{ID: "s1", AccountID: "acc-1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour)}))

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			revoked, err := store.RevokeSession(ctx, "s1", now)
			assert.NoError(t, err)
			if revoked {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	_, err := store.FindValidSessionByHash(ctx, "h1", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreOneTimeTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := newFakeClock().Now()

	require.NoError(t, store.ReplaceVerificationToken(ctx, OneTimeToken{Token: "v1", AccountID: "acc-1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.ReplaceVerificationToken(ctx, OneTimeToken{Token: "v2", AccountID: "acc-1", ExpiresAt: now.Add(time.Hour)}))
	_, err := store.ConsumeVerificationToken(ctx, "v1", now)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.ConsumeVerificationToken(ctx, "v2", now)
	require.NoError(t, err)
	_, err = store.ConsumeVerificationToken(ctx, "v2", now)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.ReplacePasswordResetToken(ctx, OneTimeToken{Token: "r1", AccountID: "acc-1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.ReplacePasswordResetToken(ctx, OneTimeToken{Token: "r2", AccountID: "acc-1", ExpiresAt: now.Add(time.Hour)}))
	_, err = store.ConsumePasswordResetToken(ctx, "r1", now)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.ConsumePasswordResetToken(ctx, "r2", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.ConsumePasswordResetToken(ctx, "r2", now)
	require.NoError(t, err)

	deleted, err := store.DeleteStalePasswordResetTokens(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestMemoryStoreSweepsRespectLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := newFakeClock().Now()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.InsertSession(ctx, Session{ID: id, TokenHash: id, ExpiresAt: now.Add(-time.Minute)}))
	}
	require.NoError(t, store.InsertSession(ctx, Session{ID: "live", TokenHash: "live", ExpiresAt: now.Add(time.Hour)}))

	deleted, err := store.DeleteExpiredSessions(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = store.DeleteExpiredSessions(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.FindValidSessionByHash(ctx, "live", now)
	assert.NoError(t, err)
}
