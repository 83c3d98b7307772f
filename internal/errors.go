package internal

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrMissingEntry     = errors.New("arbor: missing required container entry")
	ErrOutsideRequest   = errors.New("arbor: outside request scope")
	ErrScopeFrozen      = errors.New("arbor: scope is frozen after boot")
	ErrDuplicateRoute   = errors.New("arbor: duplicate route")
	ErrInvalidRoute     = errors.New("arbor: invalid route")
	ErrHookType         = errors.New("arbor: callback type does not match hook")
	ErrUnknownHook      = errors.New("arbor: unknown hook name")
	ErrAlreadyClosed    = errors.New("arbor: application already closed")
	ErrRouteNotFound    = ErrNotFound("Not Found")
	ErrMethodNotAllowed = NewHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed")
	ErrRequestTimeout   = ErrServiceUnavailable("Request Timeout")
)

// Renderer is implemented by errors that know how to produce their own response.
// Unresolved renderable errors are rendered instead of the generic 500 response.
type Renderer interface {
	error
	Render(c *Context) (*Response, error)
}

// HTTPError represents an HTTP error with all data needed for rendering.
// It implements the error interface and Renderer.
type HTTPError struct {
	// Err is the underlying error (for logging, not exposed to users).
	Err error

	// Message is the user-facing error message.
	Message string

	// Title is an optional title for the error (defaults derived from Code).
	Title string

	// Detail is an optional extended description.
	Detail string

	// ErrorCode is an application-specific error code (for i18n, client handling).
	ErrorCode string

	// RequestID is the request tracking ID.
	RequestID string

	// Code is the HTTP status code (e.g., 404, 500).
	Code int

	// Header holds extra response headers (e.g., Allow for 405).
	Header http.Header
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func (e *HTTPError) StatusCode() int {
	return e.Code
}

func (e *HTTPError) StatusText() string {
	return http.StatusText(e.Code)
}

// Render produces a JSON error body: {"error": {...}}.
func (e *HTTPError) Render(c *Context) (*Response, error) {
	title := e.Title
	if title == "" {
		title = e.StatusText()
	}
	body := map[string]any{
		"code":    e.Code,
		"title":   title,
		"message": e.Message,
	}
	if e.Detail != "" {
		body["detail"] = e.Detail
	}
	if e.ErrorCode != "" {
		body["error_code"] = e.ErrorCode
	}
	if e.RequestID != "" {
		body["request_id"] = e.RequestID
	}
	res, err := JSON(e.Code, map[string]any{"error": body})
	if err != nil {
		return nil, err
	}
	for k, vv := range e.Header {
		for _, v := range vv {
			res.Header.Add(k, v)
		}
	}
	return res, nil
}

// HTTPErrorOption configures an HTTPError.
type HTTPErrorOption func(*HTTPError)

// NewHTTPError creates a new HTTPError with the given status code and message.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

func WithTitle(title string) HTTPErrorOption {
	return func(e *HTTPError) {
		e.Title = title
	}
}

func WithDetail(detail string) HTTPErrorOption {
	return func(e *HTTPError) {
		e.Detail = detail
	}
}

func WithErrorCode(code string) HTTPErrorOption {
	return func(e *HTTPError) {
		e.ErrorCode = code
	}
}

func WithRequestID(id string) HTTPErrorOption {
	return func(e *HTTPError) {
		e.RequestID = id
	}
}

func WithError(err error) HTTPErrorOption {
	return func(e *HTTPError) {
		e.Err = err
	}
}

func newHTTPError(code int, message string, opts []HTTPErrorOption) *HTTPError {
	e := NewHTTPError(code, message)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Convenience constructors for common HTTP errors.

func ErrBadRequest(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusBadRequest, message, opts)
}

func ErrUnauthorized(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusUnauthorized, message, opts)
}

func ErrForbidden(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusForbidden, message, opts)
}

func ErrNotFound(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusNotFound, message, opts)
}

func ErrConflict(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusConflict, message, opts)
}

func ErrUnprocessable(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusUnprocessableEntity, message, opts)
}

func ErrInternal(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusInternalServerError, message, opts)
}

func ErrServiceUnavailable(message string, opts ...HTTPErrorOption) *HTTPError {
	return newHTTPError(http.StatusServiceUnavailable, message, opts)
}

// RedirectError asks the pipeline to answer with a redirect.
// Redirects are not failures: they skip the error hooks entirely.
type RedirectError struct {
	URL  string
	Code int
}

// Redirect returns a RedirectError. Codes outside 3xx fall back to 302.
func Redirect(code int, url string) *RedirectError {
	if code < 300 || code > 399 {
		code = http.StatusFound
	}
	return &RedirectError{Code: code, URL: url}
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect %d to %s", e.Code, e.URL)
}

func (e *RedirectError) Render(c *Context) (*Response, error) {
	res := NewResponse(e.Code, nil)
	res.Header.Set("Location", e.URL)
	return res, nil
}

// PanicError wraps a value recovered from a panicking handler or hook.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TimeoutError reports that a route exceeded its deadline.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Duration)
}

func (e *TimeoutError) Unwrap() error {
	return ErrRequestTimeout
}

func (e *TimeoutError) Render(c *Context) (*Response, error) {
	return ErrRequestTimeout.Render(c)
}

// Helper functions for error inspection.

func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}

// AsHTTPError extracts the HTTPError from an error chain if present.
// Returns nil if the error is not an HTTPError.
func AsHTTPError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return nil
}

// IsRedirect reports whether err is (or wraps) a RedirectError.
func IsRedirect(err error) bool {
	var re *RedirectError
	return errors.As(err, &re)
}
