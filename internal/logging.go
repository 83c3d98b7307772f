package internal

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/arbor/pkg/logger"
)

// RouteExtractor logs the method and matched route pattern of the ambient request.
func RouteExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		c := CurrentOrNil(ctx)
		if c == nil {
			return slog.Attr{}, false
		}
		attrs := []any{slog.String("method", c.Method())}
		if c.route != nil {
			attrs = append(attrs, slog.String("route", c.route.path))
		} else {
			attrs = append(attrs, slog.String("path", c.Path()))
		}
		return slog.Group("http", attrs...), true
	}
}

// LocalExtractor logs the request-private value stored under key.
func LocalExtractor(key any, name string) logger.ContextExtractor {
	src := FromLocal(key)
	return func(ctx context.Context) (slog.Attr, bool) {
		c := CurrentOrNil(ctx)
		if c == nil {
			return slog.Attr{}, false
		}
		v, ok := src(c)
		if !ok {
			return slog.Attr{}, false
		}
		return slog.String(name, v), true
	}
}
