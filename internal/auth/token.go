package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minSecretBytes = 64

var placeholderSecrets = []string{
	"change_me",
	"changeme",
	"change-me",
	"your-secret",
	"your_secret",
	"secret",
	"replace_me",
	"example",
}

type TokenConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is what a verified token asserts.
type Claims struct {
	AccountID string
	Email     string
	Role      Role
	Kind      TokenKind
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID string    `json:"uid"`
	Role   Role      `json:"role,omitempty"`
	Type   TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS512 tokens. It holds no mutable state.
type TokenCodec struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock
	parser     *jwt.Parser
}

func NewTokenCodec(cfg TokenConfig, clock Clock) (*TokenCodec, error) {
	if err := validateSecret(cfg.Secret); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "tournament-api"
	}
	if cfg.Audience == "" {
		cfg.Audience = "tournament-app"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}

	return &TokenCodec{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(func() time.Time { return clock() }),
		),
	}, nil
}

func validateSecret(secret string) error {
	lowered := strings.ToLower(strings.TrimSpace(secret))
	for _, placeholder := range placeholderSecrets {
		if strings.HasPrefix(lowered, placeholder) {
			return errors.New("JWT_SECRET is a placeholder value; generate one with: openssl rand -base64 64")
		}
	}
	if len(secret) < minSecretBytes {
		return fmt.Errorf("JWT_SECRET too short (%d bits); at least %d bits are required", len(secret)*8, minSecretBytes*8)
	}
	return nil
}

func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

func (c *TokenCodec) RefreshTTL() time.Duration {
	return c.refreshTTL
}

func (c *TokenCodec) TTL(kind TokenKind) time.Duration {
	if kind == TokenRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a token. Refresh tokens never carry the role: it is reloaded
// from the account whenever the refresh token is used.
func (c *TokenCodec) Issue(subject, accountID string, role Role, kind TokenKind, ttl time.Duration) (string, error) {
	if accountID == "" {
		return "", errors.New("issue token: empty account id")
	}
	if kind != TokenAccess && kind != TokenRefresh {
		return "", fmt.Errorf("issue token: unknown kind %q", kind)
	}
	if ttl <= 0 {
		ttl = c.TTL(kind)
	}

	now := c.clock()
	claims := tokenClaims{
		UserID: accountID,
		Type:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if kind == TokenAccess {
		claims.Role = role
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verify never says why a token was rejected.
func (c *TokenCodec) Verify(tokenString string) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims tokenClaims
	token, err := c.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.UserID == "" || (claims.Type != TokenAccess && claims.Type != TokenRefresh) {
		return Claims{}, ErrInvalidToken
	}
	// jwt treats exp == now as still valid; an elapsed ttl must not.
	if !c.clock().Before(claims.ExpiresAt.Time) {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		AccountID: claims.UserID,
		Email:     claims.Subject,
		Role:      claims.Role,
		Kind:      claims.Type,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// VerifyKind verifies a token and requires the given discriminator.
func (c *TokenCodec) VerifyKind(tokenString string, kind TokenKind) (Claims, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != kind {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// HashToken is only used to store refresh tokens, never to check signatures.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
