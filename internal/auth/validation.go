package auth

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	return v
}

// strongPassword requires an upper, a lower, a digit and a symbol.
func strongPassword(password string) bool {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=12,max=128,strongpassword"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type ResetPasswordInput struct {
	Token       string `json:"token" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required,min=12,max=128,strongpassword"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,min=12,max=128,strongpassword"`
}

type EmailInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// validateInput turns the first violation into a ValidationError.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return fmt.Errorf("validate input: %w", err)
	}

	first := validationErrors[0]
	field, param := first.Field(), first.Param()
	switch first.Tag() {
	case "required":
		return ValidationError{Message: fmt.Sprintf("field '%s' is required", field)}
	case "email":
		return ValidationError{Message: fmt.Sprintf("field '%s' must be a valid email address", field)}
	case "min":
		return ValidationError{Message: fmt.Sprintf("field '%s' must be at least %s characters long", field, param)}
	case "max":
		return ValidationError{Message: fmt.Sprintf("field '%s' must be at most %s characters long", field, param)}
	case "strongpassword":
		return ValidationError{Message: fmt.Sprintf("field '%s' must contain an uppercase letter, a lowercase letter, a digit and a symbol", field)}
	default:
		return ValidationError{Message: fmt.Sprintf("field '%s' validation failed on tag '%s'", field, first.Tag())}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
