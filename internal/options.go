package internal

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/arbor/pkg/logger"
)

// Option configures the application.
type Option func(*App)

// WithLogger creates a logger with a component name and optional extractors.
// The component name is added to every log entry for easy filtering.
// Extractors pull values from context (e.g., request_id, route).
//
// Example:
//
//	arbor.New(
//	    arbor.WithLogger("api", arbor.RouteExtractor()),
//	)
func WithLogger(component string, extractors ...logger.ContextExtractor) Option {
	return func(a *App) {
		a.logger = logger.New(extractors...).With("component", component)
	}
}

// WithCustomLogger sets a fully custom logger.
func WithCustomLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRouter replaces the default chi-backed router.
func WithRouter(r Router) Option {
	return func(a *App) {
		if r != nil {
			a.router = r
		}
	}
}

// WithTransport replaces the default HTTP transport used by Listen and Run.
func WithTransport(t Transport) Option {
	return func(a *App) {
		a.transport = t
	}
}

// WithOrderPolicy sets the dispatch direction of every hook collection.
func WithOrderPolicy(p OrderPolicy) Option {
	return func(a *App) {
		if p != nil {
			a.policy = p.clone()
		}
	}
}

// WithTransformOrder sets the dispatch direction of transform hooks only.
func WithTransformOrder(d Direction) Option {
	return func(a *App) {
		a.policy = a.policy.clone()
		a.policy[HookTransform] = d
	}
}

// WithRequestTimeout sets the default handler deadline.
// Routes override it with the Timeout descriptor. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *App) {
		a.timeout = d
	}
}

// WithSerializer replaces the root serializer. Child scopes inherit it.
func WithSerializer(s Serializer) Option {
	return func(a *App) {
		if s != nil {
			a.encode = s
		}
	}
}

// WithPlugin queues a plugin on the root scope.
func WithPlugin(p Plugin, opts ...PluginOption) Option {
	return func(a *App) {
		a.setup = append(a.setup, func(s *Scope) {
			s.Register(p, opts...)
		})
	}
}

// WithPlugins queues several plugins on the root scope with default options.
func WithPlugins(plugins ...Plugin) Option {
	return func(a *App) {
		for _, p := range plugins {
			a.setup = append(a.setup, func(s *Scope) {
				s.Register(p)
			})
		}
	}
}

// WithErrorHandler adds a root error hook.
//
// Example:
//
//	arbor.WithErrorHandler(func(c *arbor.Context, err error) (*arbor.Response, error) {
//	    if errors.Is(err, sql.ErrNoRows) {
//	        return nil, arbor.ErrNotFound("not found")
//	    }
//	    return nil, nil
//	})
func WithErrorHandler(h ErrorHook) Option {
	return func(a *App) {
		a.setup = append(a.setup, func(s *Scope) {
			s.OnError(h)
		})
	}
}

// WithNotFoundHandler answers unmatched paths with h.
//
// Example:
//
//	arbor.WithNotFoundHandler(func(c *arbor.Context) (any, error) {
//	    return c.String(http.StatusNotFound, "Page not found")
//	})
func WithNotFoundHandler(h HandlerFunc) Option {
	return withRoutingHandler(ErrRouteNotFound, h)
}

// WithMethodNotAllowedHandler answers known paths requested with an
// unregistered method with h.
func WithMethodNotAllowedHandler(h HandlerFunc) Option {
	return withRoutingHandler(ErrMethodNotAllowed, h)
}

func withRoutingHandler(target error, h HandlerFunc) Option {
	return func(a *App) {
		a.setup = append(a.setup, func(s *Scope) {
			s.OnError(func(c *Context, err error) (*Response, error) {
				if !errors.Is(err, target) || c.Route() != nil {
					return nil, nil
				}
				v, herr := call(func() (any, error) { return h(c) })
				if herr != nil {
					return nil, herr
				}
				return a.serialize(c, v)
			})
		})
	}
}
