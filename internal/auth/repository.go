package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Repository is the PostgreSQL Store. Every state transition that must not
// race is a single statement.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const accountColumns = `
	id, email, COALESCE(password_hash, ''), first_name, last_name, avatar_url,
	role, provider, COALESCE(provider_subject, ''), email_verified,
	failed_login_attempts, last_failed_login, locked_until, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var account Account
	var lastFailed, lockedUntil sql.NullTime
	err := row.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &account.FirstName, &account.LastName, &account.AvatarURL,
		&account.Role, &account.Provider, &account.ProviderSubject, &account.EmailVerified,
		&account.FailedLoginAttempts, &lastFailed, &lockedUntil, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	account.LastFailedLogin = nullTimePtr(lastFailed)
	account.LockedUntil = nullTimePtr(lockedUntil)
	return account, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (r *Repository) CreateAccount(ctx context.Context, account Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, password_hash, first_name, last_name, avatar_url,
			role, provider, provider_subject, email_verified, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, account.ID, strings.ToLower(account.Email), nullString(account.PasswordHash), account.FirstName, account.LastName,
		account.AvatarURL, account.Role, account.Provider, nullString(account.ProviderSubject), account.EmailVerified,
		account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *Repository) GetAccountByID(ctx context.Context, id string) (Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("query account by id: %w", err)
	}
	return account, err
}

func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(email)))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("query account by email: %w", err)
	}
	return account, err
}

func (r *Repository) GetAccountByProvider(ctx context.Context, provider Provider, subject string) (Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE provider = $1 AND provider_subject = $2
	`, provider, subject))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("query account by provider: %w", err)
	}
	return account, err
}

func (r *Repository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) LinkProvider(ctx context.Context, id string, provider Provider, subject, avatarURL string, now time.Time) error {
	return r.exec(ctx, "link provider", `
		UPDATE accounts
		SET provider = $2,
			provider_subject = $3,
			avatar_url = CASE WHEN avatar_url = '' THEN $4 ELSE avatar_url END,
			updated_at = $5
		WHERE id = $1
	`, id, provider, subject, avatarURL, now.UTC())
}

// RecordFailedLogin increments and locks in one statement so two concurrent
// failures can never both read the same counter.
func (r *Repository) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockDuration time.Duration, now time.Time) (Account, error) {
	lockUntil := now.UTC().Add(lockDuration)
	account, err := scanAccount(r.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET failed_login_attempts = failed_login_attempts + 1,
			last_failed_login = $3,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN $4
				ELSE locked_until
			END,
			updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns,
		id, maxAttempts, now.UTC(), lockUntil))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("record failed login: %w", err)
	}
	return account, err
}

func (r *Repository) ResetFailedLogins(ctx context.Context, id string, now time.Time) error {
	return r.exec(ctx, "reset failed logins", `
		UPDATE accounts
		SET failed_login_attempts = 0, last_failed_login = NULL, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, id, now.UTC())
}

func (r *Repository) SetEmailVerified(ctx context.Context, id string, now time.Time) error {
	return r.exec(ctx, "set email verified", `
		UPDATE accounts SET email_verified = TRUE, updated_at = $2 WHERE id = $1
	`, id, now.UTC())
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return r.exec(ctx, "update password hash", `
		UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id, nullString(hash), now.UTC())
}

func (r *Repository) UpdateAvatar(ctx context.Context, id, avatarURL string, now time.Time) error {
	return r.exec(ctx, "update avatar", `
		UPDATE accounts SET avatar_url = $2, updated_at = $3 WHERE id = $1
	`, id, avatarURL, now.UTC())
}

func (r *Repository) PromoteToAdmin(ctx context.Context, id, passwordHash string, now time.Time) error {
	return r.exec(ctx, "promote admin", `
		UPDATE accounts
		SET role = $2, email_verified = TRUE, password_hash = $3, updated_at = $4
		WHERE id = $1
	`, id, RoleAdmin, passwordHash, now.UTC())
}

func (r *Repository) InsertSession(ctx context.Context, session Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, token_hash, ip, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, session.ID, session.AccountID, session.TokenHash, session.IP, session.UserAgent,
		session.ExpiresAt.UTC(), session.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) FindValidSessionByHash(ctx context.Context, tokenHash string, now time.Time) (Session, error) {
	var session Session
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, token_hash, ip, user_agent, expires_at, created_at
		FROM sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
	`, tokenHash, now.UTC()).Scan(&session.ID, &session.AccountID, &session.TokenHash, &session.IP,
		&session.UserAgent, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("query session by hash: %w", err)
	}
	return session, nil
}

func (r *Repository) RevokeSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, id, now.UTC())
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke session rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *Repository) RevokeAccountSessions(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke account sessions: %w", err)
	}
	return rowsAffected(res, "revoke account sessions")
}

func rowsAffected(res sql.Result, op string) (int64, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return affected, nil
}

// deleteBatch removes at most batchSize rows of table matching where, oldest first.
func (r *Repository) deleteBatch(ctx context.Context, table, key, where string, batchSize int, args ...any) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	limitArg := fmt.Sprintf("$%d", len(args)+1)
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT `+key+`
			FROM `+table+`
			WHERE `+where+`
			ORDER BY created_at ASC
			LIMIT `+limitArg+`
		)
		DELETE FROM `+table+` t
		USING stale
		WHERE t.`+key+` = stale.`+key,
		append(args, batchSize)...)
	if err != nil {
		return 0, fmt.Errorf("delete stale %s: %w", table, err)
	}
	return rowsAffected(res, "delete stale "+table)
}

func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time, limit int) (int64, error) {
	return r.deleteBatch(ctx, "sessions", "id", "expires_at < $1", limit, now.UTC())
}

func (r *Repository) DeleteRevokedSessionsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return r.deleteBatch(ctx, "sessions", "id", "revoked_at IS NOT NULL AND revoked_at < $1", limit, cutoff.UTC())
}

func (r *Repository) InsertAuthorizationCode(ctx context.Context, code AuthorizationCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO authorization_codes (id, code, account_id, access_token, refresh_token, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
	`, code.ID, code.Code, code.AccountID, code.AccessToken, code.RefreshToken, code.ExpiresAt.UTC(), code.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode marks the code used only if it is still unused
// and unexpired; of two concurrent callers exactly one gets the row.
func (r *Repository) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (AuthorizationCode, error) {
	var out AuthorizationCode
	err := r.db.QueryRowContext(ctx, `
		UPDATE authorization_codes
		SET used = TRUE
		WHERE code = $1 AND used = FALSE AND expires_at > $2
		RETURNING id, code, account_id, access_token, refresh_token, expires_at, used, created_at
	`, code, now.UTC()).Scan(&out.ID, &out.Code, &out.AccountID, &out.AccessToken, &out.RefreshToken,
		&out.ExpiresAt, &out.Used, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthorizationCode{}, ErrNotFound
		}
		return AuthorizationCode{}, fmt.Errorf("consume authorization code: %w", err)
	}
	return out, nil
}

func (r *Repository) DeleteStaleAuthorizationCodes(ctx context.Context, now time.Time, limit int) (int64, error) {
	return r.deleteBatch(ctx, "authorization_codes", "id", "used = TRUE OR expires_at < $1", limit, now.UTC())
}

func (r *Repository) ReplaceVerificationToken(ctx context.Context, token OneTimeToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin verification token tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM verification_tokens WHERE account_id = $1`, token.AccountID); err != nil {
		return fmt.Errorf("delete previous verification tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO verification_tokens (token, account_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, token.Token, token.AccountID, token.ExpiresAt.UTC(), token.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert verification token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit verification token tx: %w", err)
	}
	return nil
}

func (r *Repository) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (OneTimeToken, error) {
	var out OneTimeToken
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM verification_tokens
		WHERE token = $1 AND expires_at > $2
		RETURNING token, account_id, expires_at, created_at
	`, token, now.UTC()).Scan(&out.Token, &out.AccountID, &out.ExpiresAt, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OneTimeToken{}, ErrNotFound
		}
		return OneTimeToken{}, fmt.Errorf("consume verification token: %w", err)
	}
	out.Used = true
	return out, nil
}

func (r *Repository) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time, limit int) (int64, error) {
	return r.deleteBatch(ctx, "verification_tokens", "token", "expires_at < $1", limit, now.UTC())
}

func (r *Repository) ReplacePasswordResetToken(ctx context.Context, token OneTimeToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset token tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE password_reset_tokens SET used = TRUE WHERE account_id = $1 AND used = FALSE
	`, token.AccountID); err != nil {
		return fmt.Errorf("invalidate previous reset tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (token, account_id, expires_at, used, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
	`, token.Token, token.AccountID, token.ExpiresAt.UTC(), token.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset token tx: %w", err)
	}
	return nil
}

func (r *Repository) ConsumePasswordResetToken(ctx context.Context, token string, now time.Time) (OneTimeToken, error) {
	var out OneTimeToken
	err := r.db.QueryRowContext(ctx, `
		UPDATE password_reset_tokens
		SET used = TRUE
		WHERE token = $1 AND used = FALSE AND expires_at > $2
		RETURNING token, account_id, expires_at, used, created_at
	`, token, now.UTC()).Scan(&out.Token, &out.AccountID, &out.ExpiresAt, &out.Used, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OneTimeToken{}, ErrNotFound
		}
		return OneTimeToken{}, fmt.Errorf("consume reset token: %w", err)
	}
	return out, nil
}

func (r *Repository) DeleteStalePasswordResetTokens(ctx context.Context, now time.Time, limit int) (int64, error) {
	return r.deleteBatch(ctx, "password_reset_tokens", "token", "used = TRUE OR expires_at < $1", limit, now.UTC())
}

func (r *Repository) InsertAudit(ctx context.Context, entry AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	if entry.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, account_id, action, metadata, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, nullString(entry.AccountID), entry.Action, string(metadata), entry.IP, entry.UserAgent, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
