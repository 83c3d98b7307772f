package logger

import (
	"context"
	"log/slog"
)

// FromValue returns an extractor that logs ctx.Value(key) under name when it
// is a non-empty string.
func FromValue(key any, name string) ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		v, ok := ctx.Value(key).(string)
		if !ok || v == "" {
			return slog.Attr{}, false
		}
		return slog.String(name, v), true
	}
}

// Static returns an extractor that always adds attr.
func Static(attr slog.Attr) ContextExtractor {
	return func(context.Context) (slog.Attr, bool) {
		return attr, true
	}
}
