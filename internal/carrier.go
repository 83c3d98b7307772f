package internal

import "context"

// carrierKey is the context key under which the active request Context is stored.
type carrierKey struct{}

// WithRequest returns a copy of parent in which c is the ambient request Context.
func WithRequest(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, carrierKey{}, c)
}

// Run makes c ambient for the dynamic extent of fn. Any context derived from
// the one passed to fn, including those handed to other goroutines, observes c.
// Nested calls shadow outer ones; the outer Context is visible again once fn returns.
func Run(parent context.Context, c *Context, fn func(ctx context.Context) error) error {
	return fn(WithRequest(parent, c))
}

// Current returns the ambient request Context or ErrOutsideRequest.
func Current(ctx context.Context) (*Context, error) {
	if c := CurrentOrNil(ctx); c != nil {
		return c, nil
	}
	return nil, ErrOutsideRequest
}

// CurrentOrNil returns the ambient request Context, or nil outside a request.
func CurrentOrNil(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(carrierKey{}).(*Context)
	return c
}
