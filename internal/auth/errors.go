package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrConflict             = errors.New("account already exists")
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrInvalidToken         = errors.New("invalid token")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
)

// ValidationError carries a user-facing message and matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AuthFailure keeps the internal reason next to the merged outward error.
// Callers see ErrAuthenticationFailed; logs see Reason.
type AuthFailure struct {
	Reason  string
	Message string
}

func (e AuthFailure) Error() string {
	return "authentication failed: " + e.Reason
}

func (e AuthFailure) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

func authFailed(reason string) error {
	return AuthFailure{Reason: reason, Message: "invalid email or password"}
}

type AccountLockedError struct {
	Until time.Time
}

func (e AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

type RateLimitedError struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded", e.Limit)
}
