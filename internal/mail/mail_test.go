package mail

import (
	"bytes"
	"context"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-api/internal/observability"
)

func TestRenderIncludesLink(t *testing.T) {
	body, err := Render(KindVerification, map[string]string{"name": "Ada", "link": "https://app/verify?token=abc"})
	require.NoError(t, err)
	assert.Contains(t, body, "Hi Ada")
	assert.Contains(t, body, "https://app/verify?token=abc")

	_, err = Render(Kind("unknown"), nil)
	assert.Error(t, err)
}

func TestLogSenderWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	sender := NewLogSender(observability.NewLoggerWithWriter(&buf, "info"))

	require.NoError(t, sender.Send(context.Background(), "a@example.com", KindWelcome, map[string]string{"name": "Ada"}))
	assert.Contains(t, buf.String(), `"mail_logged"`)
	assert.Contains(t, buf.String(), `"var_name":"Ada"`)
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@example.com"})

	var gotAddr string
	var gotMsg []byte
	sender.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Equal(t, "noreply@example.com", from)
		assert.Equal(t, []string{"a@example.com"}, to)
		return nil
	}

	require.NoError(t, sender.Send(context.Background(), "a@example.com", KindPasswordReset, map[string]string{"link": "https://x"}))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.True(t, strings.Contains(string(gotMsg), "Subject: Reset your password\r\n"))
}

func TestAsyncSenderDeliversAndDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	next := SenderFunc(func(_ context.Context, to string, _ Kind, _ map[string]string) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, to)
		return nil
	})

	sender := NewAsyncSender(next, observability.Nop(), 2, 10)
	for _, to := range []string{"a@x", "b@x", "c@x"} {
		require.NoError(t, sender.Send(context.Background(), to, KindWelcome, nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sender.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a@x", "b@x", "c@x"}, delivered)

	assert.ErrorIs(t, sender.Send(context.Background(), "d@x", KindWelcome, nil), ErrClosed)
}

func TestAsyncSenderRejectsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	next := SenderFunc(func(context.Context, string, Kind, map[string]string) error {
		<-release
		return nil
	})

	sender := NewAsyncSender(next, observability.Nop(), 1, 1)

	// one job may be picked up by the worker, one fills the queue
	var rejected bool
	for i := 0; i < 3; i++ {
		if err := sender.Send(context.Background(), "a@x", KindWelcome, nil); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			rejected = true
		}
	}
	assert.True(t, rejected)

	close(release)
	require.NoError(t, sender.Close(context.Background()))
}
