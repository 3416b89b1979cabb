package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2Params are encoded into every hash, so they can be raised later
// without invalidating stored hashes.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type PasswordHasher struct {
	params    Argon2Params
	dummyHash string
}

func NewPasswordHasher(params Argon2Params) (*PasswordHasher, error) {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 || params.SaltLength == 0 || params.KeyLength == 0 {
		return nil, errors.New("argon2 params must be fully configured")
	}

	h := &PasswordHasher{params: params}
	dummy, err := h.Hash("dummy-password-for-timing-equalisation")
	if err != nil {
		return nil, fmt.Errorf("precompute dummy hash: %w", err)
	}
	h.dummyHash = dummy
	return h, nil
}

// Hash returns $argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<key>.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Malformed hashes never match.
func (h *PasswordHasher) Verify(password, encoded string) bool {
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}

	params, salt, key, err := decodeArgon2(encoded)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, candidate) == 1
}

// VerifyDummy spends the same effort as a real Verify. Used when no account
// matches so the response time does not reveal that fact.
func (h *PasswordHasher) VerifyDummy(password string) {
	_ = h.Verify(password, h.dummyHash)
}

// NeedsRehash is true for legacy bcrypt hashes and argon2 hashes built with
// weaker parameters than the current ones.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	params, _, key, err := decodeArgon2(encoded)
	if err != nil {
		return true
	}
	return params.Memory < h.params.Memory ||
		params.Iterations < h.params.Iterations ||
		params.Parallelism < h.params.Parallelism ||
		uint32(len(key)) < h.params.KeyLength
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

func decodeArgon2(encoded string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return Argon2Params{}, nil, nil, errors.New("invalid hash format: not enough parts")
	}
	if parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, errors.New("invalid hash format: not argon2id")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, errors.New("invalid hash format: unsupported version")
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("invalid hash format: malformed params: %w", err)
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return Argon2Params{}, nil, nil, errors.New("invalid hash format: zero params")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("invalid hash format: salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Argon2Params{}, nil, nil, errors.New("invalid hash format: key")
	}
	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))

	return params, salt, key, nil
}
