package internal

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// HandlerFunc handles a matched request and returns a payload for serialization.
// Returning a *Response bypasses the serializer.
type HandlerFunc func(c *Context) (any, error)

// Params holds the path parameters extracted by the router.
type Params map[string]string

// RouteConfig is the mutable route description that descriptors apply to.
type RouteConfig struct {
	Metadata map[any]any
	Name     string
	Timeout  time.Duration
}

// Descriptor configures a route at registration time.
type Descriptor func(*RouteConfig)

// Meta attaches an opaque metadata entry to the route.
func Meta(key, value any) Descriptor {
	return func(rc *RouteConfig) {
		rc.Metadata[key] = value
	}
}

// Timeout sets a per-route deadline, overriding the application default.
// A negative value disables the deadline for this route.
func Timeout(d time.Duration) Descriptor {
	return func(rc *RouteConfig) {
		rc.Timeout = d
	}
}

// Name assigns a human readable name to the route.
func Name(name string) Descriptor {
	return func(rc *RouteConfig) {
		rc.Name = name
	}
}

// Route is a registered route bound to the scope that declared it.
// Its full path is resolved when the application boots.
type Route struct {
	handler   HandlerFunc
	scope     *Scope
	metadata  map[any]any
	methods   []string
	localPath string
	path      string
	name      string
	timeout   time.Duration
}

func newRoute(s *Scope, methods []string, path string, h HandlerFunc, desc []Descriptor) (*Route, error) {
	if h == nil {
		return nil, ErrInvalidRoute
	}
	if len(methods) == 0 {
		return nil, ErrInvalidRoute
	}
	if path == "" || path[0] != '/' {
		return nil, ErrInvalidRoute
	}
	rc := &RouteConfig{Metadata: make(map[any]any)}
	for _, d := range desc {
		d(rc)
	}
	ms := make([]string, 0, len(methods))
	for _, m := range methods {
		ms = append(ms, strings.ToUpper(m))
	}
	return &Route{
		handler:   h,
		scope:     s,
		metadata:  rc.Metadata,
		methods:   ms,
		localPath: path,
		name:      rc.Name,
		timeout:   rc.Timeout,
	}, nil
}

// Methods returns the HTTP methods the route answers.
func (r *Route) Methods() []string {
	return slices.Clone(r.methods)
}

// Path returns the full path, including every applicable scope prefix.
// Empty until the application has booted.
func (r *Route) Path() string {
	return r.path
}

// LocalPath returns the path as declared, without scope prefixes.
func (r *Route) LocalPath() string {
	return r.localPath
}

// Name returns the route name set with the Name descriptor.
func (r *Route) Name() string {
	return r.name
}

// Timeout returns the per-route deadline, zero when unset.
func (r *Route) Timeout() time.Duration {
	return r.timeout
}

// Scope returns the scope the route was declared in.
func (r *Route) Scope() *Scope {
	return r.scope
}

// Meta returns the metadata entry stored under key.
func (r *Route) Meta(key any) (any, bool) {
	v, ok := r.metadata[key]
	return v, ok
}

// Metadata returns a copy of the route metadata.
func (r *Route) Metadata() map[any]any {
	return maps.Clone(r.metadata)
}

// RouteMeta returns a typed metadata entry. Nil routes report false.
func RouteMeta[T any](r *Route, key *Key[T]) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	v, ok := r.metadata[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
