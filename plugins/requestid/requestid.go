// Package requestid assigns a unique ID to every request.
//
// The ID is taken from the first incoming header that carries one, or
// generated as a UUIDv7. It is stored as a request local, echoed in the
// response header and attached to rendered HTTP errors.
//
//	app := arbor.New(
//	    arbor.WithLogger("api", requestid.LogExtractor()),
//	    arbor.WithPlugin(requestid.Plugin()),
//	)
package requestid

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/arbor"
)

// localKey stores the request ID in the request locals.
type localKey struct{}

// DefaultHeaders are the headers checked, in order, for an existing request ID.
var DefaultHeaders = []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID"}

// Config configures the request ID plugin.
type Config struct {
	Generator      func() string // ID generator function
	ResponseHeader string        // Response header name
	Headers        []string      // Headers to check for an existing ID (in order)
}

// Option configures Config.
type Option func(*Config)

// WithHeaders sets the headers to check for existing request IDs.
func WithHeaders(headers ...string) Option {
	return func(cfg *Config) {
		cfg.Headers = headers
	}
}

// WithGenerator sets a custom ID generator function.
func WithGenerator(gen func() string) Option {
	return func(cfg *Config) {
		cfg.Generator = gen
	}
}

// WithResponseHeader sets the response header name.
func WithResponseHeader(header string) Option {
	return func(cfg *Config) {
		cfg.ResponseHeader = header
	}
}

// NewUUID returns a time-ordered UUIDv7 string.
func NewUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Plugin returns an opaque plugin, so its hooks apply to the scope it is
// registered in and every scope created after it.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &Config{
		Headers:        DefaultHeaders,
		Generator:      NewUUID,
		ResponseHeader: "X-Request-ID",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sources := make([]arbor.ExtractorSource, 0, len(cfg.Headers))
	for _, h := range cfg.Headers {
		sources = append(sources, arbor.FromHeader(h))
	}
	ext := arbor.NewExtractor(sources...)

	assign := func(c *arbor.Context) string {
		if v, ok := c.Local(localKey{}); ok {
			if id, ok := v.(string); ok {
				return id
			}
		}
		id, ok := ext.Extract(c)
		if !ok {
			id = cfg.Generator()
		}
		c.Set(localKey{}, id)
		return id
	}

	return arbor.NewPlugin("requestid", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		s.OnRequest(func(c *arbor.Context) (*arbor.Response, error) {
			c.SetHeader(cfg.ResponseHeader, assign(c))
			return nil, nil
		})

		// Unmatched routes skip request hooks, so the error branch assigns too.
		s.OnError(func(c *arbor.Context, err error) (*arbor.Response, error) {
			id := assign(c)
			var he *arbor.HTTPError
			if !errors.As(err, &he) || he.RequestID != "" {
				return nil, nil
			}
			tagged := *he
			tagged.RequestID = id
			return nil, &tagged
		})

		s.OnSend(func(c *arbor.Context, res *arbor.Response) (*arbor.Response, error) {
			if res.Header.Get(cfg.ResponseHeader) == "" {
				res.Header.Set(cfg.ResponseHeader, assign(c))
			}
			return nil, nil
		})
		return nil
	}).Opaque()
}

// Get returns the request ID of c, or an empty string.
func Get(c *arbor.Context) string {
	if c == nil {
		return ""
	}
	v, _ := c.Local(localKey{})
	id, _ := v.(string)
	return id
}

// FromContext returns the request ID of the ambient request, or an empty string.
func FromContext(ctx context.Context) string {
	return Get(arbor.CurrentOrNil(ctx))
}

// LogExtractor returns a ContextExtractor for use with arbor.WithLogger.
// It adds "request_id" to every log entry written within a request.
func LogExtractor() arbor.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := FromContext(ctx); id != "" {
			return slog.String("request_id", id), true
		}
		return slog.Attr{}, false
	}
}
