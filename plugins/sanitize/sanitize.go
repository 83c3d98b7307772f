// Package sanitize strips unsafe HTML from handler payloads with a
// bluemonday policy before they are serialized.
//
// The transform hook rewrites strings, string slices and string values of
// maps, recursively. Structured payloads opt in by implementing Sanitizable.
// Register the plugin inside the plugin whose routes return user content to
// keep the rewrite local to those routes.
package sanitize

import (
	"context"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dmitrymomot/arbor"
)

// Sanitizable is implemented by payloads that clean their own fields.
type Sanitizable interface {
	Sanitize(p *bluemonday.Policy)
}

// PolicyKey holds the *bluemonday.Policy of the scope.
var PolicyKey = arbor.NewKey[*bluemonday.Policy]("sanitize.policy")

// Option configures the plugin.
type Option func(*config)

type config struct {
	policy *bluemonday.Policy
}

// WithPolicy sets the policy. Defaults to bluemonday.StrictPolicy.
func WithPolicy(p *bluemonday.Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithUGCPolicy keeps the formatting tags safe for user generated content.
func WithUGCPolicy() Option {
	return WithPolicy(bluemonday.UGCPolicy())
}

// Plugin returns an opaque plugin sanitizing payloads of the routes in the
// scope it is registered in.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.policy == nil {
		cfg.policy = bluemonday.StrictPolicy()
	}

	return arbor.NewPlugin("sanitize", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		arbor.Provide(s.Container(), PolicyKey, cfg.policy)
		s.OnTransform(func(_ *arbor.Context, v any) (any, error) {
			return Value(cfg.policy, v), nil
		})
		return nil
	}).Opaque()
}

// Value returns v with HTML stripped according to p.
// Unsupported types are returned unchanged.
func Value(p *bluemonday.Policy, v any) any {
	switch t := v.(type) {
	case string:
		return p.Sanitize(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = p.Sanitize(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Value(p, e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Value(p, e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = p.Sanitize(e)
		}
		return out
	case Sanitizable:
		t.Sanitize(p)
		return t
	}
	return v
}

// String sanitizes s with the policy visible from the request's scope.
// Without the plugin s is returned unchanged.
func String(c *arbor.Context, s string) string {
	p, err := arbor.Resolve(c, PolicyKey)
	if err != nil {
		return s
	}
	return p.Sanitize(s)
}
