// Package cors handles Cross-Origin Resource Sharing.
//
// Preflight requests are answered with 204 before the handler runs, both for
// paths with an explicit OPTIONS route and for paths that only register other
// methods. CORS headers are added to every response, error responses included.
package cors

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/arbor"
)

// DefaultMaxAge is the default preflight cache duration.
const DefaultMaxAge = 12 * time.Hour

// DefaultConfig provides sensible defaults for CORS.
var DefaultConfig = Config{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
	MaxAge:       DefaultMaxAge,
}

// Config configures the CORS plugin.
type Config struct {
	// AllowOrigins is a static list of allowed origins.
	// Use "*" to allow all origins (not recommended with credentials).
	AllowOrigins []string

	// AllowOriginFunc is a dynamic origin validator.
	// When set, it completely overrides AllowOrigins.
	AllowOriginFunc func(origin string) bool

	// AllowMethods specifies the allowed HTTP methods.
	AllowMethods []string

	// AllowHeaders specifies the allowed request headers.
	AllowHeaders []string

	// ExposeHeaders specifies headers exposed to the client.
	ExposeHeaders []string

	// AllowCredentials indicates whether credentials are allowed.
	// When true, Access-Control-Allow-Origin echoes the actual origin.
	AllowCredentials bool

	// MaxAge specifies how long preflight responses can be cached.
	MaxAge time.Duration
}

// Option configures Config.
type Option func(*Config)

// WithAllowOrigins sets the allowed origins.
func WithAllowOrigins(origins ...string) Option {
	return func(cfg *Config) {
		cfg.AllowOrigins = origins
	}
}

// WithAllowOriginFunc sets a dynamic origin validator.
func WithAllowOriginFunc(fn func(origin string) bool) Option {
	return func(cfg *Config) {
		cfg.AllowOriginFunc = fn
	}
}

// WithAllowMethods sets the allowed HTTP methods.
func WithAllowMethods(methods ...string) Option {
	return func(cfg *Config) {
		cfg.AllowMethods = methods
	}
}

// WithAllowHeaders sets the allowed request headers.
func WithAllowHeaders(headers ...string) Option {
	return func(cfg *Config) {
		cfg.AllowHeaders = headers
	}
}

// WithExposeHeaders sets the headers exposed to the client.
func WithExposeHeaders(headers ...string) Option {
	return func(cfg *Config) {
		cfg.ExposeHeaders = headers
	}
}

// WithAllowCredentials enables credentials support.
func WithAllowCredentials() Option {
	return func(cfg *Config) {
		cfg.AllowCredentials = true
	}
}

// WithMaxAge sets the preflight cache duration.
func WithMaxAge(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.MaxAge = d
	}
}

type policy struct {
	cfg           *Config
	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
	wildcard      bool
}

// Plugin returns an opaque plugin that applies CORS to the scope it is
// registered in.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &Config{
		AllowOrigins: DefaultConfig.AllowOrigins,
		AllowMethods: DefaultConfig.AllowMethods,
		AllowHeaders: DefaultConfig.AllowHeaders,
		MaxAge:       DefaultConfig.MaxAge,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	p := &policy{
		cfg:           cfg,
		allowMethods:  strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:  strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders: strings.Join(cfg.ExposeHeaders, ", "),
		maxAge:        strconv.Itoa(int(cfg.MaxAge.Seconds())),
		wildcard:      slices.Contains(cfg.AllowOrigins, "*"),
	}

	return arbor.NewPlugin("cors", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		s.OnRequest(func(c *arbor.Context) (*arbor.Response, error) {
			return p.preflight(c), nil
		})
		s.OnError(func(c *arbor.Context, err error) (*arbor.Response, error) {
			if errors.Is(err, arbor.ErrMethodNotAllowed) {
				return p.preflight(c), nil
			}
			return nil, nil
		})
		s.OnSend(func(c *arbor.Context, res *arbor.Response) (*arbor.Response, error) {
			p.apply(c, res.Header)
			return nil, nil
		})
		return nil
	}).Opaque()
}

// preflight answers an allowed OPTIONS request carrying
// Access-Control-Request-Method. Other requests yield nil.
func (p *policy) preflight(c *arbor.Context) *arbor.Response {
	if c.Method() != http.MethodOptions || c.Header("Access-Control-Request-Method") == "" {
		return nil
	}
	if !p.allowed(c.Header("Origin")) {
		return nil
	}
	res := arbor.NoContent(http.StatusNoContent)
	res.Header.Add("Vary", "Access-Control-Request-Method")
	res.Header.Add("Vary", "Access-Control-Request-Headers")
	res.Header.Set("Access-Control-Allow-Methods", p.allowMethods)
	res.Header.Set("Access-Control-Allow-Headers", p.allowHeaders)
	if p.cfg.MaxAge > 0 {
		res.Header.Set("Access-Control-Max-Age", p.maxAge)
	}
	return res
}

// apply adds the origin headers for an allowed cross-origin request.
func (p *policy) apply(c *arbor.Context, h http.Header) {
	origin := c.Header("Origin")
	if origin == "" || !p.allowed(origin) {
		return
	}
	h.Add("Vary", "Origin")
	if p.cfg.AllowCredentials || !p.wildcard {
		h.Set("Access-Control-Allow-Origin", origin)
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	if p.cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
}

func (p *policy) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if p.cfg.AllowOriginFunc != nil {
		return p.cfg.AllowOriginFunc(origin)
	}
	if p.wildcard {
		return true
	}
	return slices.Contains(p.cfg.AllowOrigins, origin)
}
