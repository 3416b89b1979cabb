package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockGuardThresholdIsExact(t *testing.T) {
	for _, k := range []int{1, 3, 5} {
		clock := newFakeClock()
		guard := NewLockGuard(LockoutConfig{MaxAttempts: k, LockDuration: 15 * time.Minute}, clock.Now)
		account := Account{}

		for i := 1; i < k; i++ {
			guard.RecordFailure(&account)
			assert.False(t, guard.IsLocked(account), "k=%d locked after %d failures", k, i)
		}

		guard.RecordFailure(&account)
		require.True(t, guard.IsLocked(account))
		assert.Equal(t, clock.Now().Add(15*time.Minute), *account.LockedUntil)
		assert.Equal(t, k, account.FailedLoginAttempts)
	}
}

func TestLockGuardSuccessResetsCounter(t *testing.T) {
	clock := newFakeClock()
	guard := NewLockGuard(LockoutConfig{}, clock.Now)
	account := Account{}

	for i := 0; i < DefaultMaxAttempts-1; i++ {
		guard.RecordFailure(&account)
	}
	guard.RecordSuccess(&account)

	assert.Zero(t, account.FailedLoginAttempts)
	assert.Nil(t, account.LastFailedLogin)
	assert.Nil(t, account.LockedUntil)

	guard.RecordFailure(&account)
	assert.False(t, guard.IsLocked(account))
}

func TestLockExpires(t *testing.T) {
	clock := newFakeClock()
	guard := NewLockGuard(LockoutConfig{MaxAttempts: 1, LockDuration: time.Minute}, clock.Now)
	account := Account{}

	guard.RecordFailure(&account)
	assert.True(t, guard.IsLocked(account))

	clock.Advance(time.Minute)
	assert.False(t, guard.IsLocked(account))
}

func TestNewLockGuardDefaults(t *testing.T) {
	guard := NewLockGuard(LockoutConfig{}, nil)
	assert.Equal(t, DefaultMaxAttempts, guard.MaxAttempts())
	assert.Equal(t, DefaultLockDuration, guard.LockDuration())
}
