package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

func (a *App) boot(ctx context.Context) error {
	err := a.load(ctx, a.Scope)
	a.booted.Store(true)
	a.container.Seal()
	if err != nil {
		return err
	}
	if err := a.flush(a.node); err != nil {
		return err
	}
	a.phase.Store(phaseRouted)
	return a.hooks.runReady(ctx)
}

// load drains the plugin queue of s. Sync entries finish before the next
// entry starts; consecutive async entries share an errgroup. The queue is
// re-read after every wait because a finished plugin may have queued more.
func (a *App) load(ctx context.Context, s *Scope) error {
	i := 0
	for {
		g, gctx := errgroup.WithContext(ctx)
		for ; ; i++ {
			e := s.node.next(i)
			if e == nil {
				break
			}
			if e.plugin.async {
				g.Go(func() error {
					return a.install(gctx, s, e)
				})
				continue
			}
			if err := a.install(gctx, s, e); err != nil {
				_ = g.Wait()
				return err
			}
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if s.node.next(i) == nil {
			return nil
		}
	}
}

// install runs one plugin against its scope, then drains what it queued.
func (a *App) install(ctx context.Context, parent *Scope, e *entry) (err error) {
	name := e.plugin.name

	var s *Scope
	if e.plugin.opaque {
		s = parent.view(e)
	} else {
		s = parent.child(e)
		if err := parent.hooks.runRegister(s); err != nil {
			return fmt.Errorf("plugin %q: register hook: %w", name, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %q: %w", name, newPanicError(r))
		}
	}()

	if err := e.plugin.fn(ctx, s, e.opts); err != nil {
		return fmt.Errorf("plugin %q: %w", name, err)
	}
	if err := a.load(ctx, s); err != nil {
		return fmt.Errorf("plugin %q: %w", name, err)
	}

	a.logger.DebugContext(ctx, "plugin loaded",
		slog.String("plugin", name),
		slog.Bool("async", e.plugin.async),
		slog.Bool("opaque", e.plugin.opaque),
		slog.String("prefix", s.FullPrefix()),
	)
	return nil
}

// flush hands the buffered routes to the router, depth first in submission order.
func (a *App) flush(n *node) error {
	items, errs := n.snapshot()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, it := range items {
		if it.child != nil {
			if err := a.flush(it.child); err != nil {
				return err
			}
			continue
		}
		r := it.route
		r.path = r.scope.resolve(r.localPath)
		for _, m := range r.methods {
			if err := a.router.On(m, r.path, r); err != nil {
				return err
			}
		}
	}
	return nil
}
