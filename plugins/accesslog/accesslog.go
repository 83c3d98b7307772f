// Package accesslog writes one structured log line per completed request.
package accesslog

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/arbor"
)

// Config configures the access log plugin.
type Config struct {
	Logger *slog.Logger
	// Skip returns true for requests that should not be logged.
	Skip func(c *arbor.Context) bool
	// Now returns the current time. Used by tests.
	Now func() time.Time
}

// Option configures Config.
type Option func(*Config)

// WithLogger sets the logger. Defaults to the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithSkip sets a filter for requests that should not be logged.
func WithSkip(fn func(c *arbor.Context) bool) Option {
	return func(cfg *Config) {
		cfg.Skip = fn
	}
}

// WithSkipPaths skips requests to the given paths.
func WithSkipPaths(paths ...string) Option {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return WithSkip(func(c *arbor.Context) bool {
		_, ok := set[c.Path()]
		return ok
	})
}

// Plugin returns an opaque plugin logging every request that completes in
// the scope it is registered in.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &Config{Now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}

	return arbor.NewPlugin("accesslog", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		log := cfg.Logger
		if log == nil {
			log = s.App().Logger()
		}

		write := func(c *arbor.Context, res *arbor.Response) error {
			if cfg.Skip != nil && cfg.Skip(c) {
				return nil
			}
			status := res.Status
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []slog.Attr{
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Int("status", status),
				slog.Int("bytes", len(res.Body)),
				slog.Duration("duration", cfg.Now().Sub(c.Started())),
			}
			if r := c.Route(); r != nil {
				attrs = append(attrs, slog.String("route", r.Path()))
			}
			if addr := arbor.RemoteAddr(c); addr != nil {
				attrs = append(attrs, slog.String("remote", addr.String()))
			}
			log.LogAttrs(c, level(status), "request completed", attrs...)
			return nil
		}

		s.OnSent(write)
		s.OnErrorSent(write)
		return nil
	}).Opaque()
}

func level(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
