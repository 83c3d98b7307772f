package internal

import (
	"context"
	"os"
	"syscall"
	"time"
)

// RunOption configures App.Run.
type RunOption func(*runConfig)

type runConfig struct {
	baseCtx         context.Context
	signals         []os.Signal
	shutdownHooks   []func(context.Context) error
	shutdownTimeout time.Duration
	bootTimeout     time.Duration
}

func buildRunConfig(opts ...RunOption) *runConfig {
	cfg := &runConfig{
		baseCtx:         context.Background(),
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// ShutdownTimeout bounds the transport shutdown, the close hooks and the
// shutdown hooks together. Defaults to 30 seconds.
func ShutdownTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// BootTimeout bounds plugin loading, the ready hooks and binding the
// listener. Zero waits indefinitely.
func BootTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.bootTimeout = d
		}
	}
}

// ShutdownHook runs fn after the application closed, in registration order.
//
//	app.Run(":8080", arbor.ShutdownHook(flushTelemetry))
func ShutdownHook(fn func(context.Context) error) RunOption {
	return func(c *runConfig) {
		if fn != nil {
			c.shutdownHooks = append(c.shutdownHooks, fn)
		}
	}
}

// WithContext sets the base context. Run returns once it is cancelled.
func WithContext(ctx context.Context) RunOption {
	return func(c *runConfig) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// Signals replaces the signals that stop Run (SIGINT and SIGTERM by default).
// Passing none disables signal handling.
func Signals(sig ...os.Signal) RunOption {
	return func(c *runConfig) {
		c.signals = sig
	}
}
