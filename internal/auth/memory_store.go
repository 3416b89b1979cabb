package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in maps behind one mutex. Every method is a
// single critical section, which gives the same atomicity as the SQL store.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[string]Account
	sessions      map[string]Session
	codes         map[string]AuthorizationCode
	verifications map[string]OneTimeToken
	resets        map[string]OneTimeToken
	audit         []AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]Account),
		sessions:      make(map[string]Session),
		codes:         make(map[string]AuthorizationCode),
		verifications: make(map[string]OneTimeToken),
		resets:        make(map[string]OneTimeToken),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	for _, existing := range s.accounts {
		if existing.Email == email {
			return ErrConflict
		}
	}
	account.Email = email
	s.accounts[account.ID] = account
	return nil
}

func (s *MemoryStore) GetAccountByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, account := range s.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *MemoryStore) GetAccountByProvider(_ context.Context, provider Provider, subject string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, account := range s.accounts {
		if account.Provider == provider && account.ProviderSubject == subject && subject != "" {
			return account, nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *MemoryStore) update(id string, now time.Time, apply func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	apply(&account)
	account.UpdatedAt = now
	s.accounts[id] = account
	return nil
}

func (s *MemoryStore) LinkProvider(_ context.Context, id string, provider Provider, subject, avatarURL string, now time.Time) error {
	return s.update(id, now, func(a *Account) {
		a.Provider = provider
		a.ProviderSubject = subject
		if a.AvatarURL == "" {
			a.AvatarURL = avatarURL
		}
	})
}

func (s *MemoryStore) RecordFailedLogin(_ context.Context, id string, maxAttempts int, lockDuration time.Duration, now time.Time) (Account, error) {
	var out Account
	err := s.update(id, now, func(a *Account) {
		RecordFailure(a, maxAttempts, lockDuration, now)
		out = *a
	})
	out.UpdatedAt = now
	return out, err
}

func (s *MemoryStore) ResetFailedLogins(_ context.Context, id string, now time.Time) error {
	return s.update(id, now, RecordSuccess)
}

func (s *MemoryStore) SetEmailVerified(_ context.Context, id string, now time.Time) error {
	return s.update(id, now, func(a *Account) { a.EmailVerified = true })
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id, hash string, now time.Time) error {
	return s.update(id, now, func(a *Account) { a.PasswordHash = hash })
}

func (s *MemoryStore) UpdateAvatar(_ context.Context, id, avatarURL string, now time.Time) error {
	return s.update(id, now, func(a *Account) { a.AvatarURL = avatarURL })
}

func (s *MemoryStore) PromoteToAdmin(_ context.Context, id, passwordHash string, now time.Time) error {
	return s.update(id, now, func(a *Account) {
		a.Role = RoleAdmin
		a.EmailVerified = true
		a.PasswordHash = passwordHash
	})
}

func (s *MemoryStore) InsertSession(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) FindValidSessionByHash(_ context.Context, tokenHash string, now time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.TokenHash == tokenHash && session.Valid(now) {
			return session, nil
		}
	}
	return Session{}, ErrNotFound
}

func (s *MemoryStore) RevokeSession(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.RevokedAt != nil {
		return false, nil
	}
	stamp := now
	session.RevokedAt = &stamp
	s.sessions[id] = session
	return true, nil
}

func (s *MemoryStore) RevokeAccountSessions(_ context.Context, accountID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, session := range s.sessions {
		if session.AccountID != accountID || session.RevokedAt != nil {
			continue
		}
		stamp := now
		session.RevokedAt = &stamp
		s.sessions[id] = session
		count++
	}
	return count, nil
}

func (s *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteWhere(s.sessions, limit, func(session Session) bool {
		return session.ExpiresAt.Before(now)
	}), nil
}

func (s *MemoryStore) DeleteRevokedSessionsBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteWhere(s.sessions, limit, func(session Session) bool {
		return session.RevokedAt != nil && session.RevokedAt.Before(cutoff)
	}), nil
}

func (s *MemoryStore) InsertAuthorizationCode(_ context.Context, code AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return ErrConflict
	}
	s.codes[code.Code] = code
	return nil
}

func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string, now time.Time) (AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.codes[code]
	if !ok || !stored.Valid(now) {
		return AuthorizationCode{}, ErrNotFound
	}
	stored.Used = true
	s.codes[code] = stored
	return stored, nil
}

func (s *MemoryStore) DeleteStaleAuthorizationCodes(_ context.Context, now time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteWhere(s.codes, limit, func(code AuthorizationCode) bool {
		return code.Used || code.ExpiresAt.Before(now)
	}), nil
}

func (s *MemoryStore) ReplaceVerificationToken(_ context.Context, token OneTimeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.verifications {
		if existing.AccountID == token.AccountID {
			delete(s.verifications, key)
		}
	}
	s.verifications[token.Token] = token
	return nil
}

func (s *MemoryStore) ConsumeVerificationToken(_ context.Context, token string, now time.Time) (OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.verifications[token]
	if !ok || !now.Before(stored.ExpiresAt) {
		return OneTimeToken{}, ErrNotFound
	}
	for key, existing := range s.verifications {
		if existing.AccountID == stored.AccountID {
			delete(s.verifications, key)
		}
	}
	return stored, nil
}

func (s *MemoryStore) DeleteExpiredVerificationTokens(_ context.Context, now time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteWhere(s.verifications, limit, func(token OneTimeToken) bool {
		return token.ExpiresAt.Before(now)
	}), nil
}

func (s *MemoryStore) ReplacePasswordResetToken(_ context.Context, token OneTimeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.resets {
		if existing.AccountID == token.AccountID && !existing.Used {
			existing.Used = true
			s.resets[key] = existing
		}
	}
	s.resets[token.Token] = token
	return nil
}

func (s *MemoryStore) ConsumePasswordResetToken(_ context.Context, token string, now time.Time) (OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.resets[token]
	if !ok || stored.Used || !now.Before(stored.ExpiresAt) {
		return OneTimeToken{}, ErrNotFound
	}
	stored.Used = true
	s.resets[token] = stored
	return stored, nil
}

func (s *MemoryStore) DeleteStalePasswordResetTokens(_ context.Context, now time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteWhere(s.resets, limit, func(token OneTimeToken) bool {
		return token.Used || token.ExpiresAt.Before(now)
	}), nil
}

func (s *MemoryStore) InsertAudit(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of the audit trail, oldest first.
func (s *MemoryStore) AuditEntries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func deleteWhere[V any](rows map[string]V, limit int, match func(V) bool) int64 {
	var deleted int64
	for key, row := range rows {
		if limit > 0 && deleted >= int64(limit) {
			break
		}
		if match(row) {
			delete(rows, key)
			deleted++
		}
	}
	return deleted
}
