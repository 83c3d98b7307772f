// Package internal provides the core types and implementation for arbor.
//
// This package is internal and should not be used directly. Import
// "github.com/dmitrymomot/arbor" instead, which re-exports the public API.
//
// # Core Types
//
//   - App: root of the scope tree, boots plugins and runs the pipeline
//   - Scope: encapsulation node owning a Container, Hooks and a route prefix
//   - Container: per-scope key/value store, derived into child scopes
//   - Hooks: per-scope hook store with a configurable OrderPolicy
//   - Context: per-request record, implements context.Context
//   - Router: method and path lookup, chi-backed by default
//   - Transport: binds the App to a network address
//
// # Scope Derivation
//
// A child scope starts with a derived copy of its parent's container and
// lifecycle hooks. Entries and hooks added to the child afterwards are not
// visible to the parent or siblings. Server hooks (ready, close, listen,
// register) are application-wide and shared by every scope.
//
// # Boot
//
// Plugins are queued by Register and installed by Ready. Synchronous plugins
// finish before the next queued entry starts. Asynchronous siblings run
// concurrently. Routes are buffered per plugin and handed to the Router in
// submission order once the whole tree is loaded, which freezes the tree.
//
// # Pipeline
//
//	Routing -> request hooks -> handler -> transform hooks -> serializer -> send hooks -> write -> sent hooks
//
// Any error diverts into the error hooks of the resolved scope, then the
// send hooks and finally the errorSent hooks. Panics in handlers and hooks
// are recovered into *PanicError.
package internal
