// Package tracing starts an OpenTelemetry server span for every matched
// request. The span context is extracted from incoming headers with the
// configured propagator and ends once the response was written.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/arbor"
)

// ScopeName is the instrumentation scope name of the tracer.
const ScopeName = "github.com/dmitrymomot/arbor/plugins/tracing"

type spanKey struct{}

type spanState struct {
	ctx  context.Context
	span trace.Span
}

// Config configures the tracing plugin.
type Config struct {
	Provider   trace.TracerProvider
	Propagator propagation.TextMapPropagator
}

// Option configures Config.
type Option func(*Config)

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *Config) {
		cfg.Provider = tp
	}
}

// WithPropagator sets the propagator. Defaults to the global propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(cfg *Config) {
		cfg.Propagator = p
	}
}

// Plugin returns an opaque tracing plugin.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	return arbor.NewPlugin("tracing", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		tp := cfg.Provider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		prop := cfg.Propagator
		if prop == nil {
			prop = otel.GetTextMapPropagator()
		}
		tracer := tp.Tracer(ScopeName)

		s.OnRequest(func(c *arbor.Context) (*arbor.Response, error) {
			parent := prop.Extract(c, propagation.HeaderCarrier(c.Request().Header))
			name := c.Method()
			if r := c.Route(); r != nil {
				name += " " + r.Path()
			}
			ctx, span := tracer.Start(parent, name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", c.Method()),
					attribute.String("url.path", c.Path()),
					attribute.String("http.route", routePath(c)),
				),
			)
			c.Set(spanKey{}, &spanState{ctx: ctx, span: span})
			return nil, nil
		})

		s.OnError(func(c *arbor.Context, err error) (*arbor.Response, error) {
			if st := state(c); st != nil {
				st.span.RecordError(err)
			}
			return nil, nil
		})

		end := func(c *arbor.Context, res *arbor.Response) error {
			st := state(c)
			if st == nil {
				return nil
			}
			status := res.Status
			if status == 0 {
				status = http.StatusOK
			}
			st.span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				st.span.SetStatus(codes.Error, http.StatusText(status))
			}
			st.span.End()
			return nil
		}
		s.OnSent(end)
		s.OnErrorSent(end)
		return nil
	}).Opaque()
}

func routePath(c *arbor.Context) string {
	if r := c.Route(); r != nil {
		return r.Path()
	}
	return ""
}

func state(c *arbor.Context) *spanState {
	v, ok := c.Local(spanKey{})
	if !ok {
		return nil
	}
	st, _ := v.(*spanState)
	return st
}

// SpanContext returns a context carrying the request span. Use it as the
// parent of child spans. Outside a traced request it returns c.
func SpanContext(c *arbor.Context) context.Context {
	if st := state(c); st != nil {
		return st.ctx
	}
	return c
}

// Span returns the request span, or a no-op span.
func Span(c *arbor.Context) trace.Span {
	if st := state(c); st != nil {
		return st.span
	}
	return trace.SpanFromContext(c)
}
