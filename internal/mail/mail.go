// Package mail delivers the account emails the auth core asks for.
//
// The core only names a template kind and its variables; rendering and
// transport live here so they can be swapped without touching use cases.
package mail

import (
	"context"
	"fmt"
	"strings"

	"tournament-api/internal/observability"
)

type Kind string

const (
	KindVerification    Kind = "verification"
	KindPasswordReset   Kind = "password-reset"
	KindPasswordChanged Kind = "password-changed"
	KindWelcome         Kind = "welcome"
)

// Sender delivers one templated email.
type Sender interface {
	Send(ctx context.Context, to string, kind Kind, vars map[string]string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to string, kind Kind, vars map[string]string) error

func (f SenderFunc) Send(ctx context.Context, to string, kind Kind, vars map[string]string) error {
	return f(ctx, to, kind, vars)
}

// LogSender writes the email to the log instead of sending it. Link
// variables are logged so local development can follow them.
type LogSender struct {
	logger *observability.Logger
}

func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to string, kind Kind, vars map[string]string) error {
	fields := map[string]any{"to": to, "kind": string(kind)}
	for key, value := range vars {
		fields["var_"+key] = value
	}
	s.logger.Info("mail_logged", fields)
	return nil
}

var subjects = map[Kind]string{
	KindVerification:    "Verify your email address",
	KindPasswordReset:   "Reset your password",
	KindPasswordChanged: "Your password was changed",
	KindWelcome:         "Welcome to the tournament platform",
}

// Subject returns the subject line for a kind.
func Subject(kind Kind) string {
	if subject, ok := subjects[kind]; ok {
		return subject
	}
	return "Tournament platform notification"
}

// Render builds a plain-text body for a kind.
func Render(kind Kind, vars map[string]string) (string, error) {
	name := vars["name"]
	if name == "" {
		name = "there"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	switch kind {
	case KindVerification:
		fmt.Fprintf(&b, "Confirm your email address by opening this link within 24 hours:\n%s\n", vars["link"])
	case KindPasswordReset:
		fmt.Fprintf(&b, "Reset your password by opening this link within 60 minutes:\n%s\n\nIf you did not ask for this, ignore this email.\n", vars["link"])
	case KindPasswordChanged:
		b.WriteString("Your password was just changed and every active session was signed out.\nIf this was not you, reset your password immediately.\n")
	case KindWelcome:
		b.WriteString("Your email is verified. You can now sign in and join tournaments.\n")
	default:
		return "", fmt.Errorf("unknown mail kind %q", kind)
	}
	return b.String(), nil
}
