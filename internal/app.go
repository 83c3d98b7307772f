package internal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/arbor/pkg/logger"
)

// Default server timeouts (hardcoded, opinionated).
const (
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultMaxHeaderBytes    = 1 << 20 // 1MB
	defaultShutdownTimeout   = 30 * time.Second
)

// App is the root of the scope tree. It boots the registration queue,
// owns the router and transport, and runs the request pipeline.
// Route, hook and plugin registration methods come from the embedded root Scope.
type App struct {
	*Scope

	router    Router
	transport Transport
	logger    *slog.Logger
	policy    OrderPolicy
	encode    Serializer
	addr      net.Addr
	readyErr  error
	closeErr  error
	id        string
	setup     []func(*Scope)
	timeout   time.Duration
	mu        sync.Mutex
	bootMu    sync.Mutex
	booted    atomic.Bool
	phase     atomic.Int32
	closed    bool
	listening bool
}

// New creates an application with the given options.
//
// Example:
//
//	app := arbor.New(
//	    arbor.WithLogger("api"),
//	    arbor.WithRequestTimeout(10*time.Second),
//	)
//	app.Register(users.Plugin(), arbor.WithPrefix("/users"))
func New(opts ...Option) *App {
	a := &App{
		router: NewChiRouter(),
		logger: logger.NewDiscard(),
		policy: DefaultOrderPolicy(),
		encode: DefaultSerializer,
		id:     uuid.Must(uuid.NewV7()).String(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.Scope = newRootScope(a, a.policy, a.encode)
	Provide(a.container, LoggerKey, a.logger)
	for _, fn := range a.setup {
		fn(a.Scope)
	}
	return a
}

// ID returns the application instance identifier.
func (a *App) ID() string {
	return a.id
}

// Root returns the root scope.
func (a *App) Root() *Scope {
	return a.Scope
}

// Router returns the route table.
func (a *App) Router() Router {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Addr returns the bound address, or nil before Listen.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func (a *App) frozen() bool {
	return a.booted.Load()
}

// Boot phases. Routes are installed once the phase reaches phaseRouted.
const (
	phaseIdle int32 = iota
	phaseRouted
	phaseReady
)

// Ready drains the registration queue, installs routes and runs the ready
// hooks. It runs once; later calls return the first result. The application
// lock is not held while plugins and ready hooks run, so they may call back
// into the App.
func (a *App) Ready(ctx context.Context) error {
	if a.phase.Load() == phaseReady {
		return a.readyErr
	}

	a.bootMu.Lock()
	defer a.bootMu.Unlock()
	if a.phase.Load() == phaseReady {
		return a.readyErr
	}

	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrAlreadyClosed
	}

	err := a.boot(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "application boot failed", slog.Any("error", err))
	}
	a.readyErr = err
	a.phase.Store(phaseReady)
	return err
}

// awaitReady boots on first use. Requests issued by ready hooks proceed
// once the routes are installed.
func (a *App) awaitReady(ctx context.Context) error {
	switch a.phase.Load() {
	case phaseReady:
		return a.readyErr
	case phaseRouted:
		return nil
	}
	return a.Ready(context.WithoutCancel(ctx))
}

// Close stops the transport and runs the close hooks in reverse registration
// order. It runs once; later calls return the first result.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return a.closeErr
	}
	a.closed = true
	a.booted.Store(true)
	a.container.Seal()

	var errs []error
	if a.listening && a.transport != nil {
		if err := a.transport.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.listening = false
	}
	if err := a.hooks.runClose(ctx); err != nil {
		a.logger.ErrorContext(ctx, "close hook failed", slog.Any("error", err))
		errs = append(errs, err)
	}
	a.node.reset()
	a.closeErr = errors.Join(errs...)
	return a.closeErr
}

// Listen boots the application, binds the transport to addr and runs the
// listen hooks with the bound address.
func (a *App) Listen(ctx context.Context, addr string) (net.Addr, error) {
	if err := a.Ready(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	if a.transport == nil {
		a.transport = NewHTTPTransport(a.logger)
	}
	bound, err := a.transport.Listen(ctx, addr, a)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.addr = bound
	a.listening = true
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "server listening", slog.String("address", bound.String()))
	if err := a.hooks.runListen(ctx, bound); err != nil {
		return bound, err
	}
	return bound, nil
}
