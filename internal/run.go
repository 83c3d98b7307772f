package internal

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
)

// Run boots the application, listens on addr and blocks until SIGINT,
// SIGTERM, cancellation of the base context or a fatal serve error.
// On the way out it closes the application and runs the shutdown hooks.
//
// Example:
//
//	app := arbor.New(arbor.WithLogger("api"))
//	app.Register(api.Plugin())
//	if err := app.Run(":8080"); err != nil {
//	    log.Fatal(err)
//	}
func (a *App) Run(addr string, opts ...RunOption) error {
	cfg := buildRunConfig(opts...)

	ctx, cancel := context.WithCancel(cfg.baseCtx)
	defer cancel()
	if len(cfg.signals) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, cfg.signals...)
		defer stop()
	}

	bootCtx := ctx
	if cfg.bootTimeout > 0 {
		var bootCancel context.CancelFunc
		bootCtx, bootCancel = context.WithTimeout(ctx, cfg.bootTimeout)
		defer bootCancel()
	}

	if _, err := a.Listen(bootCtx, addr); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer shutdownCancel()
		return errors.Join(err, a.Close(shutdownCtx))
	}

	var serveErr <-chan error
	if t, ok := a.transport.(interface{ Errors() <-chan error }); ok {
		serveErr = t.Errors()
	}

	var errs []error
	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer shutdownCancel()

	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	for _, hook := range cfg.shutdownHooks {
		if err := hook(shutdownCtx); err != nil {
			errs = append(errs, err)
			a.logger.Error("shutdown hook failed", slog.Any("error", err))
		}
	}

	if len(errs) > 0 {
		a.logger.Error("shutdown completed with errors")
		return errors.Join(errs...)
	}

	a.logger.Info("shutdown completed")
	return nil
}
