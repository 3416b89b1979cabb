package auth

import "time"

const (
	DefaultMaxAttempts  = 5
	DefaultLockDuration = 15 * time.Minute
)

type LockoutConfig struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// LockGuard holds the failed-login transitions. The same transition is
// applied by stores as a single atomic update; this type is the reference.
type LockGuard struct {
	maxAttempts  int
	lockDuration time.Duration
	clock        Clock
}

func NewLockGuard(cfg LockoutConfig, clock Clock) *LockGuard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = DefaultLockDuration
	}
	if clock == nil {
		clock = SystemClock
	}
	return &LockGuard{maxAttempts: cfg.MaxAttempts, lockDuration: cfg.LockDuration, clock: clock}
}

func (g *LockGuard) MaxAttempts() int {
	return g.maxAttempts
}

func (g *LockGuard) LockDuration() time.Duration {
	return g.lockDuration
}

func (g *LockGuard) RecordFailure(account *Account) {
	RecordFailure(account, g.maxAttempts, g.lockDuration, g.clock())
}

func (g *LockGuard) RecordSuccess(account *Account) {
	RecordSuccess(account)
}

func (g *LockGuard) IsLocked(account Account) bool {
	return IsLocked(account, g.clock())
}

// RecordFailure increments the counter and locks once it reaches maxAttempts.
func RecordFailure(account *Account, maxAttempts int, lockDuration time.Duration, now time.Time) {
	account.FailedLoginAttempts++
	stamp := now
	account.LastFailedLogin = &stamp
	if account.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		account.LockedUntil = &until
	}
}

func RecordSuccess(account *Account) {
	account.FailedLoginAttempts = 0
	account.LastFailedLogin = nil
	account.LockedUntil = nil
}

func IsLocked(account Account, now time.Time) bool {
	return account.LockedUntil != nil && now.Before(*account.LockedUntil)
}
