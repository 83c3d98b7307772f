package internal

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Key is a typed, collision-free container key.
// Identity is the pointer, so two keys created with the same name are distinct.
type Key[T any] struct {
	name string
}

// NewKey creates a new container key. The name is used only in error messages.
func NewKey[T any](name string) *Key[T] {
	return &Key[T]{name: name}
}

// String returns the key's name.
func (k *Key[T]) String() string {
	return k.name
}

// Cloner is implemented by values that must be copied, not aliased,
// when a child container is derived.
type Cloner interface {
	Clone() any
}

// Container is a per-scope key/value store.
// It is written during boot and read-only once sealed.
type Container struct {
	values map[any]any
	sealed *atomic.Bool
	mu     sync.RWMutex
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{values: make(map[any]any), sealed: new(atomic.Bool)}
}

// Get returns the value stored under key.
// The bool is false when the key is absent; a stored nil is reported as present.
func (c *Container) Get(key any) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key. It panics with ErrScopeFrozen once the
// container is sealed.
func (c *Container) Set(key, value any) {
	if c.sealed.Load() {
		panic(fmt.Errorf("%w: set %v", ErrScopeFrozen, key))
	}
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Has reports whether key is present.
func (c *Container) Has(key any) bool {
	_, ok := c.Get(key)
	return ok
}

// Seal makes c and every container derived from it read-only.
func (c *Container) Seal() {
	c.sealed.Store(true)
}

// Sealed reports whether c rejects writes.
func (c *Container) Sealed() bool {
	return c.sealed.Load()
}

// Len returns the number of entries.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Derive creates a child container seeded with this container's entries.
// Cloner values are cloned, slices are shallow-copied, everything else is shared.
// The child shares c's seal.
func (c *Container) Derive() *Container {
	c.mu.RLock()
	defer c.mu.RUnlock()

	child := &Container{values: make(map[any]any, len(c.values)), sealed: c.sealed}
	for k, v := range c.values {
		child.values[k] = deriveValue(v)
	}
	return child
}

func deriveValue(v any) any {
	if v == nil {
		return nil
	}
	if cl, ok := v.(Cloner); ok {
		return cl.Clone()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && !rv.IsNil() {
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	}
	return v
}

// Lookup returns the typed value stored under key.
func Lookup[T any](c *Container, key *Key[T]) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	if v == nil {
		var zero T
		return zero, true
	}
	t, ok := v.(T)
	return t, ok
}

// Require returns the typed value stored under key or an error wrapping
// ErrMissingEntry naming the key.
func Require[T any](c *Container, key *Key[T]) (T, error) {
	v, ok := Lookup(c, key)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrMissingEntry, key)
	}
	return v, nil
}

// Provide stores a typed value under key.
func Provide[T any](c *Container, key *Key[T], value T) {
	c.Set(key, value)
}
