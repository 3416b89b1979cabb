package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInputMessagesUseJSONNames(t *testing.T) {
	err := validateInput(RegisterInput{Email: "a@x.com", Password: "weakpassword"})
	require.ErrorIs(t, err, ErrValidation)

	var validation ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Message, "'password'")

	err = validateInput(LoginInput{Password: "x"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "field 'email' is required", validation.Message)

	assert.NoError(t, validateInput(RegisterInput{Email: "a@x.com", Password: testPassword}))
}

func TestStrongPassword(t *testing.T) {
	assert.True(t, strongPassword("Abcdef1!23456"))
	assert.False(t, strongPassword("abcdef1!23456"))
	assert.False(t, strongPassword("ABCDEF1!23456"))
	assert.False(t, strongPassword("Abcdefg!hijkl"))
	assert.False(t, strongPassword("Abcdef123456x"))
}
