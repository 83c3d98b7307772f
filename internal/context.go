package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrymomot/arbor/pkg/logger"
)

// LoggerKey holds the application logger in the root container.
var LoggerKey = NewKey[*slog.Logger]("logger")

// Context is the per-request record: the immutable request view, the scope it
// was routed to, mutable response state and request-private locals.
// It implements context.Context; cancellation follows the client connection
// and the route timeout, and Current(c) returns c itself.
type Context struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	request *http.Request
	app     *App
	scope   *Scope
	route   *Route
	params  Params
	start   time.Time
	state   *ResponseState
	locals  map[any]any
	mu      sync.Mutex
}

// newContext creates the request Context and makes it ambient on its own context.
func newContext(r *http.Request, app *App, scope *Scope, route *Route, params Params) *Context {
	c := &Context{
		request: r,
		app:     app,
		scope:   scope,
		route:   route,
		params:  params,
		start:   time.Now(),
		state:   newResponseState(),
		locals:  make(map[any]any),
	}
	c.ctx, c.cancel = context.WithCancelCause(WithRequest(r.Context(), c))
	return c
}

// NewTestContext builds a Context bound to the application's root scope
// without running the pipeline. Useful for unit-testing hooks.
func NewTestContext(app *App, r *http.Request) *Context {
	return newContext(r, app, app.Scope, nil, nil)
}

func (c *Context) Deadline() (time.Time, bool) {
	return c.ctx.Deadline()
}

func (c *Context) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Context) Err() error {
	return c.ctx.Err()
}

func (c *Context) Value(key any) any {
	return c.ctx.Value(key)
}

// Aborted reports whether the client went away or the route deadline passed.
func (c *Context) Aborted() bool {
	return c.ctx.Err() != nil
}

// Request returns the underlying *http.Request. Treat it as read-only.
func (c *Context) Request() *http.Request {
	return c.request
}

// Method returns the request method.
func (c *Context) Method() string {
	return c.request.Method
}

// Path returns the request URL path.
func (c *Context) Path() string {
	return c.request.URL.Path
}

// Header returns the request header value by name.
func (c *Context) Header(name string) string {
	return c.request.Header.Get(name)
}

// Query returns the query parameter value by name.
func (c *Context) Query(name string) string {
	return c.request.URL.Query().Get(name)
}

// Param returns the URL parameter value by name.
// Returns empty string if the parameter doesn't exist.
func (c *Context) Param(name string) string {
	return c.params[name]
}

// Params returns a copy of all URL parameters.
func (c *Context) Params() Params {
	out := make(Params, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// Body returns the request body reader.
func (c *Context) Body() io.ReadCloser {
	return c.request.Body
}

// BindJSON decodes the JSON request body into v.
func (c *Context) BindJSON(v any) error {
	if c.request.Body == nil {
		return ErrBadRequest("empty request body")
	}
	if err := json.NewDecoder(c.request.Body).Decode(v); err != nil {
		return ErrBadRequest("invalid JSON body", WithError(err))
	}
	return nil
}

// Route returns the matched route, or nil when routing failed.
func (c *Context) Route() *Route {
	return c.route
}

// Scope returns the scope the request was routed to (the root scope when unmatched).
func (c *Context) Scope() *Scope {
	return c.scope
}

// App returns the application serving the request.
func (c *Context) App() *App {
	return c.app
}

// Container returns the resolved scope's container.
func (c *Context) Container() *Container {
	return c.scope.container
}

// Started returns the time the request entered the pipeline.
func (c *Context) Started() time.Time {
	return c.start
}

// Logger returns the logger from the scope container, or a no-op logger.
func (c *Context) Logger() *slog.Logger {
	if l, ok := Lookup(c.scope.container, LoggerKey); ok && l != nil {
		return l
	}
	return logger.NewDiscard()
}

// LogInfo logs an info message with optional attributes.
func (c *Context) LogInfo(msg string, attrs ...any) {
	c.Logger().InfoContext(c, msg, attrs...)
}

// LogWarn logs a warning message with optional attributes.
func (c *Context) LogWarn(msg string, attrs ...any) {
	c.Logger().WarnContext(c, msg, attrs...)
}

// LogError logs an error message with optional attributes.
func (c *Context) LogError(msg string, attrs ...any) {
	c.Logger().ErrorContext(c, msg, attrs...)
}

// Set stores a request-private value.
func (c *Context) Set(key, value any) {
	c.mu.Lock()
	c.locals[key] = value
	c.mu.Unlock()
}

// Get retrieves a request-private value. Returns nil if the key is not found.
func (c *Context) Get(key any) any {
	v, _ := c.Local(key)
	return v
}

// Local retrieves a request-private value and reports whether it was set.
func (c *Context) Local(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.locals[key]
	return v, ok
}

// Status sets the response status code.
func (c *Context) Status(code int) {
	c.mu.Lock()
	c.state.Status = code
	c.mu.Unlock()
}

// SetStatusText sets a custom status text.
func (c *Context) SetStatusText(text string) {
	c.mu.Lock()
	c.state.StatusText = text
	c.mu.Unlock()
}

// StatusCode returns the status set so far, or 0.
func (c *Context) StatusCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// SetHeader sets a response header.
func (c *Context) SetHeader(name, value string) {
	c.mu.Lock()
	c.state.Header.Set(name, value)
	c.mu.Unlock()
}

// AddHeader appends a response header value.
func (c *Context) AddHeader(name, value string) {
	c.mu.Lock()
	c.state.Header.Add(name, value)
	c.mu.Unlock()
}

// DelHeader removes a response header.
func (c *Context) DelHeader(name string) {
	c.mu.Lock()
	c.state.Header.Del(name)
	c.mu.Unlock()
}

// ResponseHeader returns a copy of the response headers set so far.
func (c *Context) ResponseHeader() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Header.Clone()
}

// ResponseState returns a snapshot of the mutable response state.
func (c *Context) ResponseState() ResponseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ResponseState{
		Status:     c.state.Status,
		StatusText: c.state.StatusText,
		Header:     c.state.Header.Clone(),
	}
}

func (c *Context) applyState(res *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.apply(res)
}

// JSON returns a JSON response with the given status code.
func (c *Context) JSON(code int, v any) (*Response, error) {
	return JSON(code, v)
}

// String returns a plain text response with the given status code.
func (c *Context) String(code int, s string) (*Response, error) {
	return Text(code, s), nil
}

// NoContent returns a response with no body.
func (c *Context) NoContent(code int) (*Response, error) {
	return NoContent(code), nil
}

// Redirect returns a redirect error; return it from a handler or hook.
func (c *Context) Redirect(code int, url string) error {
	return Redirect(code, url)
}

// Error creates an HTTPError without producing a response.
func (c *Context) Error(code int, message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(code, message, opts)
}
