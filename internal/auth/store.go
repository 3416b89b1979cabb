package auth

import (
	"context"
	"time"
)

// Store is the persistence contract of the auth core. Lookups that find
// nothing return ErrNotFound. Rows refer to accounts by id only.
type Store interface {
	AccountRepository
	SessionRepository
	CodeRepository
	OneTimeTokenRepository
	AuditRepository
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccountByID(ctx context.Context, id string) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByProvider(ctx context.Context, provider Provider, subject string) (Account, error)
	LinkProvider(ctx context.Context, id string, provider Provider, subject, avatarURL string, now time.Time) error
	// RecordFailedLogin must be a single atomic increment; it returns the row after the update.
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockDuration time.Duration, now time.Time) (Account, error)
	ResetFailedLogins(ctx context.Context, id string, now time.Time) error
	SetEmailVerified(ctx context.Context, id string, now time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	UpdateAvatar(ctx context.Context, id, avatarURL string, now time.Time) error
	PromoteToAdmin(ctx context.Context, id, passwordHash string, now time.Time) error
}

type SessionRepository interface {
	InsertSession(ctx context.Context, session Session) error
	FindValidSessionByHash(ctx context.Context, tokenHash string, now time.Time) (Session, error)
	// RevokeSession reports whether this call moved the session to revoked.
	RevokeSession(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeAccountSessions(ctx context.Context, accountID string, now time.Time) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time, limit int) (int64, error)
	DeleteRevokedSessionsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type CodeRepository interface {
	InsertAuthorizationCode(ctx context.Context, code AuthorizationCode) error
	// ConsumeAuthorizationCode checks validity and marks used in one step.
	ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (AuthorizationCode, error)
	DeleteStaleAuthorizationCodes(ctx context.Context, now time.Time, limit int) (int64, error)
}

type OneTimeTokenRepository interface {
	ReplaceVerificationToken(ctx context.Context, token OneTimeToken) error
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (OneTimeToken, error)
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time, limit int) (int64, error)
	ReplacePasswordResetToken(ctx context.Context, token OneTimeToken) error
	ConsumePasswordResetToken(ctx context.Context, token string, now time.Time) (OneTimeToken, error)
	DeleteStalePasswordResetTokens(ctx context.Context, now time.Time, limit int) (int64, error)
}

type AuditRepository interface {
	InsertAudit(ctx context.Context, entry AuditEntry) error
}
