package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const AuthorizationCodeTTL = 30 * time.Second

// CodeStore hands a token pair across the federated-login redirect without
// putting the tokens themselves in a URL.
type CodeStore struct {
	repo  CodeRepository
	clock Clock
}

func NewCodeStore(repo CodeRepository, clock Clock) *CodeStore {
	if clock == nil {
		clock = SystemClock
	}
	return &CodeStore{repo: repo, clock: clock}
}

func (s *CodeStore) Issue(ctx context.Context, accountID string, tokens Tokens) (string, error) {
	code, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate authorization code id: %w", err)
	}

	now := s.clock()
	err = s.repo.InsertAuthorizationCode(ctx, AuthorizationCode{
		ID:           id.String(),
		Code:         code,
		AccountID:    accountID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    now.Add(AuthorizationCodeTTL),
		CreatedAt:    now,
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Exchange consumes the code. Unknown, used and expired codes all fail the same way.
func (s *CodeStore) Exchange(ctx context.Context, code string) (AuthorizationCode, error) {
	if code == "" {
		return AuthorizationCode{}, authFailed("empty authorization code")
	}
	stored, err := s.repo.ConsumeAuthorizationCode(ctx, code, s.clock())
	if errors.Is(err, ErrNotFound) {
		return AuthorizationCode{}, AuthFailure{Reason: "authorization code invalid", Message: "invalid or expired authorization code"}
	}
	if err != nil {
		return AuthorizationCode{}, err
	}
	return stored, nil
}

func (s *CodeStore) SweepExpired(ctx context.Context, batchSize int) (int64, error) {
	return s.repo.DeleteStaleAuthorizationCodes(ctx, s.clock(), batchSize)
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
