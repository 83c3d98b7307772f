package internal

import (
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
)

// Scope is a node of the encapsulation tree. Each scope owns a container,
// a hook store and a route prefix; children inherit copies of all three.
type Scope struct {
	app       *App
	parent    *Scope
	container *Container
	hooks     *Hooks
	node      *node
	settings  *settings
	name      string
}

// settings are a scope's prefix and serializer. Opaque views share them with
// their owner.
type settings struct {
	encode   atomic.Pointer[Serializer]
	prefix   string
	excludes []string
	mu       sync.RWMutex
}

func newSettings(prefix string, excludes []string, enc Serializer) *settings {
	st := &settings{prefix: prefix, excludes: excludes}
	st.setSerializer(enc)
	return st
}

func (st *settings) mount() (string, []string) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.prefix, st.excludes
}

func (st *settings) serializer() Serializer {
	if enc := st.encode.Load(); enc != nil {
		return *enc
	}
	return nil
}

func (st *settings) setSerializer(enc Serializer) {
	st.encode.Store(&enc)
}

// node buffers what a plugin registered, in submission order, until boot.
type node struct {
	items []nodeItem
	queue []*entry
	errs  []error
	mu    sync.Mutex
}

// nodeItem is either a route or a nested plugin's node.
type nodeItem struct {
	route *Route
	child *node
}

// entry is a queued plugin registration.
type entry struct {
	plugin Plugin
	opts   PluginOptions
	node   *node
}

func (n *node) addRoute(r *Route) {
	n.mu.Lock()
	n.items = append(n.items, nodeItem{route: r})
	n.mu.Unlock()
}

func (n *node) enqueue(e *entry) {
	n.mu.Lock()
	n.items = append(n.items, nodeItem{child: e.node})
	n.queue = append(n.queue, e)
	n.mu.Unlock()
}

func (n *node) fail(err error) {
	n.mu.Lock()
	n.errs = append(n.errs, err)
	n.mu.Unlock()
}

// next returns the queue entry at index i, or nil when the queue is drained.
func (n *node) next(i int) *entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i < len(n.queue) {
		return n.queue[i]
	}
	return nil
}

func (n *node) snapshot() ([]nodeItem, []error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]nodeItem(nil), n.items...), append([]error(nil), n.errs...)
}

func (n *node) reset() {
	n.mu.Lock()
	n.queue = nil
	n.mu.Unlock()
}

func newRootScope(app *App, policy OrderPolicy, serializer Serializer) *Scope {
	return &Scope{
		app:       app,
		name:      "root",
		container: NewContainer(),
		hooks:     NewHooks(policy),
		node:      &node{},
		settings:  newSettings("", nil, serializer),
	}
}

// child derives an encapsulated scope for a non-opaque plugin.
func (s *Scope) child(e *entry) *Scope {
	return &Scope{
		app:       s.app,
		parent:    s,
		name:      e.plugin.name,
		container: s.container.Derive(),
		hooks:     s.hooks.Derive(),
		node:      e.node,
		settings:  newSettings(e.opts.Prefix, e.opts.Exclude, s.settings.serializer()),
	}
}

// view returns s seen through an opaque plugin: same container, hooks and
// settings, but registrations land in the plugin's own node.
func (s *Scope) view(e *entry) *Scope {
	v := *s
	v.node = e.node
	v.name = e.plugin.name
	return &v
}

// Name returns the name of the plugin that created the scope.
func (s *Scope) Name() string {
	return s.name
}

// Parent returns the parent scope, or nil for the root.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// App returns the owning application.
func (s *Scope) App() *App {
	return s.app
}

// Container returns the scope's container.
func (s *Scope) Container() *Container {
	return s.container
}

// Hooks returns the scope's hook store.
func (s *Scope) Hooks() *Hooks {
	return s.hooks
}

// Set stores a container entry visible to this scope and its future children.
func (s *Scope) Set(key, value any) error {
	if s.app.frozen() {
		return ErrScopeFrozen
	}
	s.container.Set(key, value)
	return nil
}

// Get returns a container entry.
func (s *Scope) Get(key any) (any, bool) {
	return s.container.Get(key)
}

// SetSerializer replaces the serializer used for routes of this scope and its future children.
func (s *Scope) SetSerializer(fn Serializer) error {
	if s.app.frozen() {
		return ErrScopeFrozen
	}
	s.settings.setSerializer(fn)
	return nil
}

// Prefix mounts every route of this scope under prefix, except those whose
// local path matches an exclude pattern (exact or path.Match glob).
func (s *Scope) Prefix(prefix string, exclude ...string) error {
	if s.app.frozen() {
		return ErrScopeFrozen
	}
	s.settings.mu.Lock()
	s.settings.prefix = prefix
	s.settings.excludes = append([]string(nil), exclude...)
	s.settings.mu.Unlock()
	return nil
}

// FullPrefix returns the prefix applied to a route at the given local path,
// accumulated over every ancestor scope.
func (s *Scope) FullPrefix() string {
	return strings.TrimSuffix(s.resolve("/"), "/")
}

// resolve returns the full path for a local route path.
func (s *Scope) resolve(local string) string {
	full := local
	for sc := s; sc != nil; sc = sc.parent {
		prefix, excludes := sc.settings.mount()
		if prefix == "" || excluded(excludes, local) {
			continue
		}
		full = joinPath(prefix, full)
	}
	return full
}

func excluded(patterns []string, local string) bool {
	for _, p := range patterns {
		if p == local {
			return true
		}
		if ok, err := path.Match(p, local); err == nil && ok {
			return true
		}
		if base, ok := strings.CutSuffix(p, "/*"); ok && strings.HasPrefix(local, base+"/") {
			return true
		}
	}
	return false
}

func joinPath(prefix, p string) string {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return p
	}
	if p == "/" {
		return prefix
	}
	return prefix + p
}

// AddHook registers callback under the named hook.
func (s *Scope) AddHook(name HookName, callback any) error {
	if s.app.frozen() {
		return ErrScopeFrozen
	}
	return s.hooks.Add(name, callback)
}

// must records a registration failure on the scope's node so Ready reports it.
// Registrations after boot are programming errors and panic.
func (s *Scope) must(err error) {
	if err == nil {
		return
	}
	if s.app.frozen() {
		panic(err)
	}
	s.node.fail(err)
}

// OnRequest adds a request hook.
func (s *Scope) OnRequest(fn RequestHook) { s.must(s.AddHook(HookRequest, fn)) }

// OnTransform adds a transform hook.
func (s *Scope) OnTransform(fn TransformHook) { s.must(s.AddHook(HookTransform, fn)) }

// OnSend adds a send hook.
func (s *Scope) OnSend(fn SendHook) { s.must(s.AddHook(HookSend, fn)) }

// OnError adds an error hook.
func (s *Scope) OnError(fn ErrorHook) { s.must(s.AddHook(HookError, fn)) }

// OnSent adds a hook notified after a successful response is committed.
func (s *Scope) OnSent(fn SentHook) { s.must(s.AddHook(HookSent, fn)) }

// OnErrorSent adds a hook notified after an error response is committed.
func (s *Scope) OnErrorSent(fn SentHook) { s.must(s.AddHook(HookErrorSent, fn)) }

// OnTimeout adds a hook run when a route exceeds its deadline.
func (s *Scope) OnTimeout(fn TimeoutHook) { s.must(s.AddHook(HookTimeout, fn)) }

// OnReady adds an application-wide ready hook.
func (s *Scope) OnReady(fn ServerHook) { s.must(s.AddHook(HookReady, fn)) }

// OnClose adds an application-wide close hook.
func (s *Scope) OnClose(fn ServerHook) { s.must(s.AddHook(HookClose, fn)) }

// OnListen adds an application-wide listen hook.
func (s *Scope) OnListen(fn ListenHook) { s.must(s.AddHook(HookListen, fn)) }

// OnRegister adds an application-wide hook run for every new child scope.
func (s *Scope) OnRegister(fn RegisterHook) { s.must(s.AddHook(HookRegister, fn)) }

// Register queues a plugin. It runs when the application boots.
func (s *Scope) Register(p Plugin, opts ...PluginOption) {
	if p.fn == nil {
		s.must(fmt.Errorf("arbor: plugin %q has no function", p.name))
		return
	}
	if s.app.frozen() {
		panic(ErrScopeFrozen)
	}
	e := &entry{plugin: p, node: &node{}}
	for _, opt := range opts {
		opt(&e.opts)
	}
	s.node.enqueue(e)
}

// Handle declares a route for the given methods.
func (s *Scope) Handle(methods []string, path string, h HandlerFunc, desc ...Descriptor) error {
	if s.app.frozen() {
		return ErrScopeFrozen
	}
	r, err := newRoute(s, methods, path, h, desc)
	if err != nil {
		return fmt.Errorf("%w: %v %s", err, methods, path)
	}
	s.node.addRoute(r)
	return nil
}

// GET registers a handler for GET requests.
func (s *Scope) GET(path string, h HandlerFunc, desc ...Descriptor) {
	s.must(s.Handle([]string{http.MethodGet}, path, h, desc...))
}

// POST registers a handler for POST requests.
func (s *Scope) POST(path string, h HandlerFunc, desc ...Descriptor) {
	s.must(s.Handle([]string{http.MethodPost}, path, h, desc...))
}

// PUT registers a handler for PUT requests.
func (s *Scope) PUT(path string, h HandlerFunc, desc ...Descriptor) {
	s.must(s.Handle([]string{http.MethodPut}, path, h, desc...))
}

// PATCH registers a handler for PATCH requests.
func (s *Scope) PATCH(path string, h HandlerFunc, desc ...Descriptor) {
	s.must(s.Handle([]string{http.MethodPatch}, path, h, desc...))
}

// DELETE registers a handler for DELETE requests.
func (s *Scope) DELETE(path string, h HandlerFunc, desc ...Descriptor) {
	s.must(s.Handle([]string{http.MethodDelete}, path, h, desc...))
}

// HEAD registers a handler for HEAD requests.
func (s *Scope) HEAD(path string, h HandlerFunc, desc ...Descriptor) {
	s.must(s.Handle([]string{http.MethodHead}, path, h, desc...))
}

// OPTIONS registers a handler for OPTIONS requests.
func (s *Scope) OPTIONS(path string, h HandlerFunc, desc ...Descriptor) {
	s.must(s.Handle([]string{http.MethodOptions}, path, h, desc...))
}
