package internal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// Transport binds a handler to a network address.
type Transport interface {
	// Listen starts serving h on addr and returns the bound address.
	Listen(ctx context.Context, addr string, h http.Handler) (net.Addr, error)

	// Shutdown stops accepting connections and waits for in-flight requests.
	Shutdown(ctx context.Context) error
}

// HTTPTransport serves over net/http with opinionated timeouts.
type HTTPTransport struct {
	server *http.Server
	logger *slog.Logger
	errCh  chan error
	mu     sync.Mutex
}

// NewHTTPTransport creates an HTTP transport. A nil logger disables logging.
func NewHTTPTransport(log *slog.Logger) *HTTPTransport {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &HTTPTransport{
		logger: log,
		errCh:  make(chan error, 1),
	}
}

// Listen binds addr and serves h in the background.
// Use ":0" to bind a random free port.
func (t *HTTPTransport) Listen(ctx context.Context, addr string, h http.Handler) (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.server != nil {
		return nil, errors.New("arbor: transport already listening")
	}
	if addr == "" {
		addr = ":8080"
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	t.server = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}

	srv := t.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("server stopped", slog.Any("error", err))
			t.errCh <- err
		}
		close(t.errCh)
	}()
	return ln.Addr(), nil
}

// Errors delivers a fatal serve error, and is closed when serving stops.
func (t *HTTPTransport) Errors() <-chan error {
	return t.errCh
}

// Shutdown gracefully stops the server.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// RemoteAddr returns the client address of the request, or nil when it
// cannot be parsed.
func RemoteAddr(c *Context) net.Addr {
	addr, err := net.ResolveTCPAddr("tcp", c.Request().RemoteAddr)
	if err != nil {
		return nil
	}
	return addr
}
