package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherHashAndVerify(t *testing.T) {
	hasher, err := NewPasswordHasher(fastArgon2Params())
	require.NoError(t, err)

	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	assert.True(t, hasher.Verify(testPassword, hash))
	assert.False(t, hasher.Verify("wrong-password", hash))
	assert.False(t, hasher.Verify(testPassword, "not-a-hash"))
	assert.False(t, hasher.Verify(testPassword, ""))
}

func TestPasswordHasherSaltsEveryHash(t *testing.T) {
	hasher, err := NewPasswordHasher(fastArgon2Params())
	require.NoError(t, err)

	first, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	second, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestPasswordHasherVerifiesLegacyBcrypt(t *testing.T) {
	hasher, err := NewPasswordHasher(fastArgon2Params())
	require.NoError(t, err)

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, hasher.Verify(testPassword, string(legacy)))
	assert.True(t, hasher.NeedsRehash(string(legacy)))
}

func TestNeedsRehashOnWeakerParams(t *testing.T) {
	weak, err := NewPasswordHasher(fastArgon2Params())
	require.NoError(t, err)
	stronger := fastArgon2Params()
	stronger.Iterations = 2
	strong, err := NewPasswordHasher(stronger)
	require.NoError(t, err)

	hash, err := weak.Hash(testPassword)
	require.NoError(t, err)

	assert.False(t, weak.NeedsRehash(hash))
	assert.True(t, strong.NeedsRehash(hash))
	assert.True(t, strong.Verify(testPassword, hash))
}

func TestNewPasswordHasherRejectsZeroParams(t *testing.T) {
	_, err := NewPasswordHasher(Argon2Params{})
	assert.Error(t, err)
}
