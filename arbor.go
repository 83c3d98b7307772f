package arbor

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dmitrymomot/arbor/internal"
	"github.com/dmitrymomot/arbor/pkg/logger"
)

// Type aliases - public API
type (
	// App is the root of the scope tree and runs the request pipeline.
	App = internal.App

	// Scope is a node of the encapsulation tree.
	Scope = internal.Scope

	// Context is the per-request record. It implements context.Context.
	Context = internal.Context

	// Response is the materialized outcome of a request.
	Response = internal.Response

	// ResponseState is the mutable status and headers of a pending response.
	ResponseState = internal.ResponseState

	// HandlerFunc handles a matched request and returns a payload.
	HandlerFunc = internal.HandlerFunc

	// Params holds path parameters.
	Params = internal.Params

	// Route is a registered route.
	Route = internal.Route

	// RouteConfig is what route descriptors configure.
	RouteConfig = internal.RouteConfig

	// Descriptor configures a route at registration time.
	Descriptor = internal.Descriptor

	// Router maps method and path to a route.
	Router = internal.Router

	// ChiRouter is the default chi-backed Router.
	ChiRouter = internal.ChiRouter

	// Transport binds the application to a network address.
	Transport = internal.Transport

	// HTTPTransport is the default net/http Transport.
	HTTPTransport = internal.HTTPTransport

	// Serializer turns a handler payload into a Response.
	Serializer = internal.Serializer

	// Container is a per-scope key/value store.
	Container = internal.Container

	// Cloner is implemented by container values that must be copied into child scopes.
	Cloner = internal.Cloner

	// Hooks is a scope's hook store.
	Hooks = internal.Hooks

	// HookName identifies a hook collection.
	HookName = internal.HookName

	// Direction is a hook dispatch order.
	Direction = internal.Direction

	// OrderPolicy maps hook names to directions.
	OrderPolicy = internal.OrderPolicy

	// Plugin is a named registration unit.
	Plugin = internal.Plugin

	// PluginFunc installs a plugin into its scope.
	PluginFunc = internal.PluginFunc

	// PluginOptions are passed to a plugin.
	PluginOptions = internal.PluginOptions

	// PluginOption configures PluginOptions.
	PluginOption = internal.PluginOption

	// Option configures the application.
	Option = internal.Option

	// RunOption configures App.Run.
	RunOption = internal.RunOption

	// ContextExtractor extracts a slog attribute from context.
	ContextExtractor = logger.ContextExtractor

	// Extractor reads a value from the first matching request source.
	Extractor = internal.Extractor

	// ExtractorSource reads a value from the request.
	ExtractorSource = internal.ExtractorSource
)

// Hook signatures.
type (
	RequestHook   = internal.RequestHook
	TransformHook = internal.TransformHook
	SendHook      = internal.SendHook
	ErrorHook     = internal.ErrorHook
	SentHook      = internal.SentHook
	TimeoutHook   = internal.TimeoutHook
	ServerHook    = internal.ServerHook
	ListenHook    = internal.ListenHook
	RegisterHook  = internal.RegisterHook
)

// Error types.
type (
	HTTPError       = internal.HTTPError
	HTTPErrorOption = internal.HTTPErrorOption
	RedirectError   = internal.RedirectError
	PanicError      = internal.PanicError
	TimeoutError    = internal.TimeoutError
	Renderer        = internal.Renderer
)

// Key is a typed container key.
type Key[T any] = internal.Key[T]

// Hook names.
const (
	HookClose     = internal.HookClose
	HookListen    = internal.HookListen
	HookReady     = internal.HookReady
	HookRegister  = internal.HookRegister
	HookRequest   = internal.HookRequest
	HookTransform = internal.HookTransform
	HookSend      = internal.HookSend
	HookError     = internal.HookError
	HookSent      = internal.HookSent
	HookErrorSent = internal.HookErrorSent
	HookTimeout   = internal.HookTimeout
)

// Hook directions.
const (
	Forward = internal.Forward
	Reverse = internal.Reverse
)

// Sentinel errors.
var (
	ErrMissingEntry     = internal.ErrMissingEntry
	ErrOutsideRequest   = internal.ErrOutsideRequest
	ErrScopeFrozen      = internal.ErrScopeFrozen
	ErrDuplicateRoute   = internal.ErrDuplicateRoute
	ErrInvalidRoute     = internal.ErrInvalidRoute
	ErrHookType         = internal.ErrHookType
	ErrUnknownHook      = internal.ErrUnknownHook
	ErrAlreadyClosed    = internal.ErrAlreadyClosed
	ErrRouteNotFound    = internal.ErrRouteNotFound
	ErrMethodNotAllowed = internal.ErrMethodNotAllowed
	ErrRequestTimeout   = internal.ErrRequestTimeout
)

// LoggerKey holds the application logger in the root container.
var LoggerKey = internal.LoggerKey

// Constructors

// New creates a new application with the given options.
func New(opts ...Option) *App {
	return internal.New(opts...)
}

// NewPlugin creates a synchronous plugin.
func NewPlugin(name string, fn PluginFunc) Plugin {
	return internal.NewPlugin(name, fn)
}

// HookPlugin returns an opaque plugin that adds callback to the name hooks of
// the scope registering it.
func HookPlugin(name HookName, callback any) Plugin {
	return internal.HookPlugin(name, callback)
}

// DefineHooks returns an opaque plugin registering hooks in one batch.
func DefineHooks(hooks map[HookName][]any) Plugin {
	return internal.DefineHooks(hooks)
}

// NewAsyncPlugin creates a plugin that loads concurrently with its async siblings.
func NewAsyncPlugin(name string, fn PluginFunc) Plugin {
	return internal.NewAsyncPlugin(name, fn)
}

// NewKey creates a typed container key.
func NewKey[T any](name string) *Key[T] {
	return internal.NewKey[T](name)
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return internal.NewContainer()
}

// NewHooks creates an empty hook store.
func NewHooks(policy OrderPolicy) *Hooks {
	return internal.NewHooks(policy)
}

// NewChiRouter creates the default router.
func NewChiRouter() *ChiRouter {
	return internal.NewChiRouter()
}

// NewHTTPTransport creates the default transport.
func NewHTTPTransport(log *slog.Logger) *HTTPTransport {
	return internal.NewHTTPTransport(log)
}

// DefaultOrderPolicy returns the standard hook ordering.
func DefaultOrderPolicy() OrderPolicy {
	return internal.DefaultOrderPolicy()
}

// NewTestContext builds a Context on the root scope without running the pipeline.
var NewTestContext = internal.NewTestContext

// Container helpers

// Lookup returns the typed value stored under key.
func Lookup[T any](c *Container, key *Key[T]) (T, bool) {
	return internal.Lookup(c, key)
}

// Require returns the typed value or an error wrapping ErrMissingEntry.
func Require[T any](c *Container, key *Key[T]) (T, error) {
	return internal.Require(c, key)
}

// Provide stores a typed value.
func Provide[T any](c *Container, key *Key[T], value T) {
	internal.Provide(c, key, value)
}

// Resolve returns the typed container entry of the request's scope.
func Resolve[T any](c *Context, key *Key[T]) (T, error) {
	return internal.Resolve(c, key)
}

// Carrier

// Current returns the ambient request Context or ErrOutsideRequest.
func Current(ctx context.Context) (*Context, error) {
	return internal.Current(ctx)
}

// CurrentOrNil returns the ambient request Context or nil.
func CurrentOrNil(ctx context.Context) *Context {
	return internal.CurrentOrNil(ctx)
}

// WithRequest returns a copy of parent carrying c.
func WithRequest(parent context.Context, c *Context) context.Context {
	return internal.WithRequest(parent, c)
}

// RunWith makes c ambient for the dynamic extent of fn.
func RunWith(parent context.Context, c *Context, fn func(ctx context.Context) error) error {
	return internal.Run(parent, c, fn)
}

// RemoteAddr returns the client address of the request, or nil.
func RemoteAddr(c *Context) net.Addr {
	return internal.RemoteAddr(c)
}

// Request helpers

// Param retrieves a typed URL parameter.
func Param[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Context, name string) T {
	return internal.Param[T](c, name)
}

// Query retrieves a typed query parameter.
func Query[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Context, name string) T {
	return internal.Query[T](c, name)
}

// QueryDefault retrieves a typed query parameter with a default value.
func QueryDefault[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Context, name string, defaultValue T) T {
	return internal.QueryDefault(c, name, defaultValue)
}

// LocalValue returns a request-private value as T.
func LocalValue[T any](c *Context, key any) T {
	return internal.LocalValue[T](c, key)
}

// RouteMeta returns typed route metadata.
func RouteMeta[T any](r *Route, key *Key[T]) (T, bool) {
	return internal.RouteMeta(r, key)
}

// PluginValue returns a typed plugin option.
func PluginValue[T any](o PluginOptions, key string, def T) T {
	return internal.PluginValue(o, key, def)
}

// Responses

// NewResponse creates a Response.
func NewResponse(status int, body []byte) *Response {
	return internal.NewResponse(status, body)
}

// JSON encodes v into a Response.
func JSON(status int, v any) (*Response, error) {
	return internal.JSON(status, v)
}

// Text returns a plain text Response.
func Text(status int, s string) *Response {
	return internal.Text(status, s)
}

// NoContent returns a Response without a body.
func NoContent(status int) *Response {
	return internal.NoContent(status)
}

// DefaultSerializer is the built-in payload serializer.
func DefaultSerializer(c *Context, v any) (*Response, error) {
	return internal.DefaultSerializer(c, v)
}

// YAMLSerializer answers clients that accept YAML and delegates the rest to next.
func YAMLSerializer(next Serializer) Serializer {
	return internal.YAMLSerializer(next)
}

// Route descriptors

// Meta attaches metadata to a route.
func Meta(key, value any) Descriptor {
	return internal.Meta(key, value)
}

// Timeout sets a per-route deadline.
func Timeout(d time.Duration) Descriptor {
	return internal.Timeout(d)
}

// Name names a route.
func Name(name string) Descriptor {
	return internal.Name(name)
}

// Plugin options

// WithPrefix mounts a plugin's routes under prefix.
func WithPrefix(prefix string, exclude ...string) PluginOption {
	return internal.WithPrefix(prefix, exclude...)
}

// WithValue passes a plugin-specific option.
func WithValue(key string, value any) PluginOption {
	return internal.WithValue(key, value)
}

// Application options

// WithLogger creates a JSON logger tagged with component.
func WithLogger(component string, extractors ...ContextExtractor) Option {
	return internal.WithLogger(component, extractors...)
}

// WithCustomLogger sets a fully custom logger.
func WithCustomLogger(l *slog.Logger) Option {
	return internal.WithCustomLogger(l)
}

// WithRouter replaces the default router.
func WithRouter(r Router) Option {
	return internal.WithRouter(r)
}

// WithTransport replaces the default transport.
func WithTransport(t Transport) Option {
	return internal.WithTransport(t)
}

// WithOrderPolicy sets every hook direction.
func WithOrderPolicy(p OrderPolicy) Option {
	return internal.WithOrderPolicy(p)
}

// WithTransformOrder sets the transform hook direction.
func WithTransformOrder(d Direction) Option {
	return internal.WithTransformOrder(d)
}

// WithRequestTimeout sets the default handler deadline.
func WithRequestTimeout(d time.Duration) Option {
	return internal.WithRequestTimeout(d)
}

// WithSerializer replaces the root serializer.
func WithSerializer(s Serializer) Option {
	return internal.WithSerializer(s)
}

// WithPlugin queues a plugin on the root scope.
func WithPlugin(p Plugin, opts ...PluginOption) Option {
	return internal.WithPlugin(p, opts...)
}

// WithPlugins queues plugins on the root scope.
func WithPlugins(plugins ...Plugin) Option {
	return internal.WithPlugins(plugins...)
}

// WithErrorHandler adds a root error hook.
func WithErrorHandler(h ErrorHook) Option {
	return internal.WithErrorHandler(h)
}

// WithNotFoundHandler answers unmatched paths with h.
func WithNotFoundHandler(h HandlerFunc) Option {
	return internal.WithNotFoundHandler(h)
}

// WithMethodNotAllowedHandler answers unregistered methods with h.
func WithMethodNotAllowedHandler(h HandlerFunc) Option {
	return internal.WithMethodNotAllowedHandler(h)
}

// Run options

// ShutdownTimeout sets the graceful shutdown timeout.
func ShutdownTimeout(d time.Duration) RunOption {
	return internal.ShutdownTimeout(d)
}

// ShutdownHook registers a cleanup function run after Close.
func ShutdownHook(fn func(context.Context) error) RunOption {
	return internal.ShutdownHook(fn)
}

// WithContext sets the base context for signal handling.
func WithContext(ctx context.Context) RunOption {
	return internal.WithContext(ctx)
}

// BootTimeout bounds plugin loading, ready hooks and binding the listener.
func BootTimeout(d time.Duration) RunOption {
	return internal.BootTimeout(d)
}

// Signals replaces the signals that stop Run.
func Signals(sig ...os.Signal) RunOption {
	return internal.Signals(sig...)
}

// Errors

// NewHTTPError creates an HTTPError.
func NewHTTPError(code int, message string) *HTTPError {
	return internal.NewHTTPError(code, message)
}

// Redirect returns a redirect error.
func Redirect(code int, url string) *RedirectError {
	return internal.Redirect(code, url)
}

func ErrBadRequest(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrBadRequest(message, opts...)
}

func ErrUnauthorized(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrUnauthorized(message, opts...)
}

func ErrForbidden(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrForbidden(message, opts...)
}

func ErrNotFound(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrNotFound(message, opts...)
}

func ErrConflict(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrConflict(message, opts...)
}

func ErrUnprocessable(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrUnprocessable(message, opts...)
}

func ErrInternal(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrInternal(message, opts...)
}

func ErrServiceUnavailable(message string, opts ...HTTPErrorOption) *HTTPError {
	return internal.ErrServiceUnavailable(message, opts...)
}

func WithTitle(title string) HTTPErrorOption {
	return internal.WithTitle(title)
}

func WithDetail(detail string) HTTPErrorOption {
	return internal.WithDetail(detail)
}

func WithErrorCode(code string) HTTPErrorOption {
	return internal.WithErrorCode(code)
}

func WithRequestID(id string) HTTPErrorOption {
	return internal.WithRequestID(id)
}

func WithError(err error) HTTPErrorOption {
	return internal.WithError(err)
}

// IsHTTPError reports whether err wraps an HTTPError.
func IsHTTPError(err error) bool {
	return internal.IsHTTPError(err)
}

// AsHTTPError extracts the HTTPError from err, or nil.
func AsHTTPError(err error) *HTTPError {
	return internal.AsHTTPError(err)
}

// IsRedirect reports whether err wraps a RedirectError.
func IsRedirect(err error) bool {
	return internal.IsRedirect(err)
}

// Extractors

// NewExtractor creates an Extractor trying sources in order.
func NewExtractor(sources ...ExtractorSource) Extractor {
	return internal.NewExtractor(sources...)
}

func FromHeader(name string) ExtractorSource {
	return internal.FromHeader(name)
}

func FromQuery(name string) ExtractorSource {
	return internal.FromQuery(name)
}

func FromParam(name string) ExtractorSource {
	return internal.FromParam(name)
}

func FromCookie(name string) ExtractorSource {
	return internal.FromCookie(name)
}

func FromLocal(key any) ExtractorSource {
	return internal.FromLocal(key)
}

func FromBearerToken() ExtractorSource {
	return internal.FromBearerToken()
}

// Logging

// RouteExtractor logs the method and route of the ambient request.
func RouteExtractor() ContextExtractor {
	return internal.RouteExtractor()
}

// LocalExtractor logs a request-private value under name.
func LocalExtractor(key any, name string) ContextExtractor {
	return internal.LocalExtractor(key, name)
}

// WrapHTTP adapts a standard http.Handler to a HandlerFunc.
func WrapHTTP(h http.Handler) HandlerFunc {
	return internal.WrapHTTP(h)
}
