package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// SentryConfig adds Sentry reporting to Config.
type SentryConfig struct {
	Config
	// DSN enables Sentry. Empty keeps the logger local.
	DSN         string `mapstructure:"sentry_dsn"`
	Environment string `mapstructure:"environment"`
	// MinLevel is the lowest level forwarded to Sentry as a log entry.
	// Error records always become Sentry issues.
	MinLevel slog.Level
}

// NewWithSentry builds the Config logger and, when a DSN is set, mirrors
// records at MinLevel and above to Sentry. A failed Sentry init is logged
// and the local logger is returned.
func NewWithSentry(cfg SentryConfig, extractors ...ContextExtractor) *slog.Logger {
	local := newHandler(cfg.Config)
	if cfg.DSN == "" {
		return slog.New(NewContextHandler(local, extractors...))
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		EnableLogs:  true,
	})
	if err != nil {
		slog.New(local).Error("sentry init failed, logging locally", slog.Any("error", err))
		return slog.New(NewContextHandler(local, extractors...))
	}

	remote := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   levelsFrom(cfg.MinLevel),
	}.NewSentryHandler(context.Background())

	return slog.New(NewContextHandler(fanout{local, remote}, extractors...))
}

// levelsFrom lists the standard levels at or above floor.
func levelsFrom(floor slog.Level) []slog.Level {
	var out []slog.Level
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if l >= floor {
			out = append(out, l)
		}
	}
	return out
}

// Flush waits up to timeout for buffered Sentry events to be sent.
// It reports false when the timeout was reached first.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}
