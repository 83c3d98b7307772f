package internal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

// ServeHTTP runs the pipeline and writes the Response to w.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, res, failed := a.serve(r)
	if err := res.WriteTo(w); err != nil {
		c.LogWarn("response write failed", slog.Any("error", err))
	}
	a.finish(c, res, failed)
}

// Handle runs the pipeline for r and returns the committed Response.
// It boots the application on first use.
func (a *App) Handle(r *http.Request) *Response {
	c, res, failed := a.serve(r)
	a.finish(c, res, failed)
	return res
}

// serve produces the Response for r. The bool reports whether the error
// branch produced it.
func (a *App) serve(r *http.Request) (*Context, *Response, bool) {
	if err := a.awaitReady(r.Context()); err != nil {
		c := newContext(r, a, a.Scope, nil, nil)
		c.LogError("application not ready", slog.Any("error", err))
		return c, internalError(), true
	}

	route, params, ok := a.router.Find(r.Method, r.URL.Path)
	if !ok {
		c := newContext(r, a, a.Scope, nil, nil)
		return c, a.fail(c, a.routingError(r)), true
	}

	c := newContext(r, a, route.scope, route, params)
	res, err := a.run(c)
	if err != nil {
		return c, a.fail(c, err), true
	}
	return c, res, false
}

// routingError distinguishes an unknown path from a known path with another method.
func (a *App) routingError(r *http.Request) error {
	lister, ok := a.router.(MethodLister)
	if !ok {
		return ErrRouteNotFound
	}
	allowed := lister.Allowed(r.URL.Path)
	if len(allowed) == 0 {
		return ErrRouteNotFound
	}
	return &HTTPError{
		Code:    http.StatusMethodNotAllowed,
		Message: ErrMethodNotAllowed.Message,
		Err:     ErrMethodNotAllowed,
		Header:  http.Header{"Allow": {strings.Join(allowed, ", ")}},
	}
}

// run is the normal branch: request hooks, handler, transform, serialize, send.
func (a *App) run(c *Context) (*Response, error) {
	hooks := c.scope.hooks

	res, err := guard(func() (*Response, error) { return hooks.runRequest(c) })
	if err != nil {
		return nil, err
	}
	if res == nil {
		v, short, err := a.dispatch(c)
		if err != nil {
			return nil, err
		}
		if short != nil {
			res = short
		} else {
			v, err = call(func() (any, error) { return hooks.runTransform(c, v) })
			if err != nil {
				return nil, err
			}
			if res, err = a.serialize(c, v); err != nil {
				return nil, err
			}
		}
	}
	return a.send(c, res)
}

// dispatch calls the route handler, bounded by the route or application timeout.
// A non-nil Response means a timeout hook answered.
func (a *App) dispatch(c *Context) (any, *Response, error) {
	h := c.route.handler
	d := c.route.timeout
	if d == 0 {
		d = a.timeout
	}
	if d <= 0 {
		v, err := call(func() (any, error) { return h(c) })
		return v, nil, err
	}

	timeout := &TimeoutError{Duration: d}
	timer := time.AfterFunc(d, func() { c.cancel(timeout) })
	defer timer.Stop()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(func() (any, error) { return h(c) })
		done <- result{v: v, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-c.Done():
		// The handler may have finished at the same instant.
		select {
		case r = <-done:
		default:
			cause := context.Cause(c)
			if !errors.Is(cause, ErrRequestTimeout) {
				return nil, nil, cause
			}
			return a.timedOut(c, timeout)
		}
	}
	if r.err != nil && errors.Is(context.Cause(c), ErrRequestTimeout) {
		return a.timedOut(c, timeout)
	}
	return r.v, nil, r.err
}

// timedOut lets the timeout hooks answer, or reports the timeout error.
func (a *App) timedOut(c *Context, timeout *TimeoutError) (any, *Response, error) {
	c.LogWarn("request timed out", slog.Duration("timeout", timeout.Duration))
	res, err := guard(func() (*Response, error) { return c.scope.hooks.runTimeout(c) })
	if err != nil {
		return nil, nil, err
	}
	if res != nil {
		return nil, res, nil
	}
	return nil, nil, timeout
}

func (a *App) serialize(c *Context, v any) (*Response, error) {
	enc := c.scope.settings.serializer()
	if enc == nil {
		enc = DefaultSerializer
	}
	res, err := guard(func() (*Response, error) { return enc(c, v) })
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = emptyResponse(c)
	}
	return res, nil
}

// send merges the response state and runs the send hooks.
func (a *App) send(c *Context, res *Response) (*Response, error) {
	c.applyState(res)
	out, err := guard(func() (*Response, error) { return c.scope.hooks.runSend(c, res) })
	if err != nil {
		return nil, err
	}
	c.applyState(out)
	return out, nil
}

// fail is the error branch. It always yields a Response: a send hook failure
// here is logged and answered with the generic 500.
func (a *App) fail(c *Context, err error) *Response {
	res := a.resolve(c, err)
	out, serr := a.send(c, res)
	if serr != nil {
		a.logError(c, "send hook failed in error branch", serr)
		return internalError()
	}
	return out
}

// resolve turns err into a Response. Redirects skip the error hooks.
// Unresolved errors render themselves when they can; everything else is
// logged and answered with the generic 500.
func (a *App) resolve(c *Context, err error) *Response {
	var re *RedirectError
	if errors.As(err, &re) {
		res, _ := re.Render(c)
		return res
	}

	res, last := c.scope.hooks.runError(c, err)
	if res != nil {
		return res
	}

	var r Renderer
	if errors.As(last, &r) {
		res, rerr := guard(func() (*Response, error) { return r.Render(c) })
		if rerr == nil && res != nil {
			if res.Status >= http.StatusInternalServerError {
				a.logError(c, "request failed", last)
			}
			return res
		}
		last = errors.Join(last, rerr)
	}

	a.logError(c, "unhandled error", last)
	return internalError()
}

// finish notifies the sent or errorSent hooks and releases the request context.
func (a *App) finish(c *Context, res *Response, failed bool) {
	name := HookSent
	if failed {
		name = HookErrorSent
	}
	if err := c.scope.hooks.runSent(c, name, res); err != nil {
		a.logError(c, "sent hook failed", err)
	}
	c.cancel(nil)
}

func (a *App) logError(c *Context, msg string, err error) {
	attrs := []any{slog.Any("error", err)}
	var pe *PanicError
	if errors.As(err, &pe) {
		attrs = append(attrs, slog.String("stack", string(pe.Stack)))
	}
	if c.route != nil {
		attrs = append(attrs, slog.String("route", c.route.path))
	}
	c.LogError(msg, attrs...)
}

func internalError() *Response {
	res, err := ErrInternal(http.StatusText(http.StatusInternalServerError)).Render(nil)
	if err != nil {
		return Text(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
	return res
}

func newPanicError(r any) *PanicError {
	return &PanicError{Value: r, Stack: debug.Stack()}
}

func guard(fn func() (*Response, error)) (res *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, newPanicError(r)
		}
	}()
	return fn()
}

func call(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, newPanicError(r)
		}
	}()
	return fn()
}
