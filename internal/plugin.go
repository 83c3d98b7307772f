package internal

import (
	"context"
	"slices"
)

// PluginFunc installs routes, hooks and container entries into s.
// For async plugins ctx is cancelled as soon as a sibling fails.
type PluginFunc func(ctx context.Context, s *Scope, opts PluginOptions) error

// Plugin is a named registration unit.
// Sync plugins complete before the next queued entry starts; async plugins
// run concurrently with their async siblings. Opaque plugins register into
// the scope that registered them instead of a new child scope.
type Plugin struct {
	fn     PluginFunc
	name   string
	async  bool
	opaque bool
}

// NewPlugin creates a synchronous plugin.
func NewPlugin(name string, fn PluginFunc) Plugin {
	return Plugin{name: name, fn: fn}
}

// NewAsyncPlugin creates a plugin that may load concurrently with its siblings.
func NewAsyncPlugin(name string, fn PluginFunc) Plugin {
	return Plugin{name: name, fn: fn, async: true}
}

// Opaque returns a copy of p that shares its parent's container and hooks.
func (p Plugin) Opaque() Plugin {
	p.opaque = true
	return p
}

// HookPlugin returns an opaque plugin that adds callback to the name hooks of
// the scope registering it.
func HookPlugin(name HookName, callback any) Plugin {
	return NewPlugin("hook:"+string(name), func(_ context.Context, s *Scope, _ PluginOptions) error {
		return s.AddHook(name, callback)
	}).Opaque()
}

// DefineHooks returns an opaque plugin that adds every callback in hooks.
// Callbacks under one name keep their slice order.
func DefineHooks(hooks map[HookName][]any) Plugin {
	names := make([]HookName, 0, len(hooks))
	for name := range hooks {
		names = append(names, name)
	}
	slices.Sort(names)

	return NewPlugin("hooks", func(_ context.Context, s *Scope, _ PluginOptions) error {
		for _, name := range names {
			for _, cb := range hooks[name] {
				if err := s.AddHook(name, cb); err != nil {
					return err
				}
			}
		}
		return nil
	}).Opaque()
}

// Name returns the plugin name.
func (p Plugin) Name() string {
	return p.name
}

// IsAsync reports whether the plugin loads concurrently with its siblings.
func (p Plugin) IsAsync() bool {
	return p.async
}

// IsOpaque reports whether the plugin skips scope encapsulation.
func (p Plugin) IsOpaque() bool {
	return p.opaque
}

// PluginOptions are passed to the plugin function.
// Prefix and Exclude configure the child scope and are ignored for opaque plugins.
type PluginOptions struct {
	Values  map[string]any
	Prefix  string
	Exclude []string
}

// Value returns a plugin-specific option.
func (o PluginOptions) Value(key string) (any, bool) {
	v, ok := o.Values[key]
	return v, ok
}

// PluginOption configures PluginOptions.
type PluginOption func(*PluginOptions)

// WithPrefix mounts the plugin's routes under prefix, except for routes whose
// local path matches one of the exclude patterns.
func WithPrefix(prefix string, exclude ...string) PluginOption {
	return func(o *PluginOptions) {
		o.Prefix = prefix
		o.Exclude = append(o.Exclude, exclude...)
	}
}

// WithValue passes a plugin-specific option.
func WithValue(key string, value any) PluginOption {
	return func(o *PluginOptions) {
		if o.Values == nil {
			o.Values = make(map[string]any)
		}
		o.Values[key] = value
	}
}

// PluginValue returns a typed plugin option, or def when absent or mistyped.
func PluginValue[T any](o PluginOptions, key string, def T) T {
	v, ok := o.Values[key]
	if !ok {
		return def
	}
	t, ok := v.(T)
	if !ok {
		return def
	}
	return t
}
