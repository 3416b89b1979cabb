package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Logger struct {
	base zerolog.Logger
}

func NewLogger() *Logger {
	return NewLoggerWithWriter(os.Stdout, os.Getenv("LOG_LEVEL"))
}

func NewLoggerWithWriter(w io.Writer, level string) *Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	return &Logger{base: zerolog.New(w).Level(parsed).With().Timestamp().Logger()}
}

// Nop discards everything; handy in tests.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.base.Debug().Fields(fields).Msg(message)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.base.Info().Fields(fields).Msg(message)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.base.Warn().Fields(fields).Msg(message)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.base.Error().Fields(fields).Msg(message)
}

func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{base: l.base.With().Fields(fields).Logger()}
}
