package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const DefaultRevokedRetention = 30 * 24 * time.Hour

// SessionStore owns the refresh-session lifecycle on top of the store.
type SessionStore struct {
	repo  SessionRepository
	clock Clock
}

func NewSessionStore(repo SessionRepository, clock Clock) *SessionStore {
	if clock == nil {
		clock = SystemClock
	}
	return &SessionStore{repo: repo, clock: clock}
}

// Create stores a session expiring ttl from now and returns its id.
func (s *SessionStore) Create(ctx context.Context, accountID, tokenHash string, client ClientInfo, ttl time.Duration) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	now := s.clock()
	session := Session{
		ID:        id.String(),
		AccountID: accountID,
		TokenHash: tokenHash,
		IP:        client.IP,
		UserAgent: truncate(client.UserAgent, 512),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.repo.InsertSession(ctx, session); err != nil {
		return "", err
	}
	return session.ID, nil
}

// FindValidByHash returns only unrevoked, unexpired sessions.
func (s *SessionStore) FindValidByHash(ctx context.Context, tokenHash string) (Session, bool, error) {
	session, err := s.repo.FindValidSessionByHash(ctx, tokenHash, s.clock())
	if errors.Is(err, ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return session, true, nil
}

// Revoke reports whether this call performed the revocation.
func (s *SessionStore) Revoke(ctx context.Context, sessionID string) (bool, error) {
	return s.repo.RevokeSession(ctx, sessionID, s.clock())
}

func (s *SessionStore) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	return s.repo.RevokeAccountSessions(ctx, accountID, s.clock())
}

func (s *SessionStore) SweepExpired(ctx context.Context, batchSize int) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, s.clock(), batchSize)
}

func (s *SessionStore) SweepOldRevoked(ctx context.Context, olderThan time.Duration, batchSize int) (int64, error) {
	if olderThan <= 0 {
		olderThan = DefaultRevokedRetention
	}
	return s.repo.DeleteRevokedSessionsBefore(ctx, s.clock().Add(-olderThan), batchSize)
}

// truncate returns valid UTF-8 of at most max bytes, cut on a rune boundary.
func truncate(value string, max int) string {
	value = strings.ToValidUTF8(value, "\uFFFD")
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
