package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		ServerName:       "tournament-api",
	})
}

// CaptureError reports an unexpected failure with the operation that produced it.
func CaptureError(err error, operation string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", operation)
		sentry.CaptureException(err)
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
