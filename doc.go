// Package arbor is a plugin-driven HTTP server core built around an
// encapsulation tree of scopes.
//
// Every plugin gets its own child scope with a derived container, a copied
// set of lifecycle hooks and an optional route prefix. What a plugin
// registers is invisible to its siblings and its parent unless the plugin
// is marked opaque.
//
// # Quick Start
//
//	app := arbor.New(arbor.WithLogger("api"))
//
//	app.Register(arbor.NewPlugin("users", func(ctx context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
//	    s.OnRequest(authenticate)
//	    s.GET("/{id}", func(c *arbor.Context) (any, error) {
//	        return repo.User(c, c.Param("id"))
//	    })
//	    return nil
//	}), arbor.WithPrefix("/users"))
//
//	if err := app.Run(":8080"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Request Lifecycle
//
// A request flows through routing, request hooks, the handler, transform
// hooks, serialization and send hooks. Errors at any stage divert into the
// error hooks, which may resolve the error with a Response, decline it, or
// replace it with another error. Sent or errorSent hooks observe the final
// Response after it was written.
//
// Handlers return a payload instead of writing to a ResponseWriter:
//
//	func show(c *arbor.Context) (any, error) {
//	    user, err := repo.User(c, c.Param("id"))
//	    if err != nil {
//	        return nil, arbor.ErrNotFound("user not found", arbor.WithError(err))
//	    }
//	    return user, nil
//	}
//
// # Ambient Request Context
//
// *Context implements context.Context and carries itself, so any code that
// receives a context derived from it can recover the active request with
// [Current].
//
// # Boot and Shutdown
//
// Ready drains the plugin queue, installs the routes and runs ready hooks.
// Close runs close hooks in reverse order. Both run once. Run wires them to
// SIGINT and SIGTERM.
package arbor
