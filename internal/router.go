package internal

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Router maps method and path to a registered route.
type Router interface {
	// On registers route for method at the full path.
	On(method, path string, route *Route) error

	// Find returns the route matching method and path with its extracted params.
	Find(method, path string) (*Route, Params, bool)
}

// MethodLister is implemented by routers that can list the methods
// registered for a path. It is used to answer 405 instead of 404.
type MethodLister interface {
	Allowed(path string) []string
}

var standardMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodConnect,
	http.MethodOptions, http.MethodTrace,
}

// ChiRouter is a Router backed by chi's radix tree.
type ChiRouter struct {
	mux    *chi.Mux
	routes map[string]*Route
	mu     sync.RWMutex
}

// NewChiRouter creates an empty chi-backed router.
func NewChiRouter() *ChiRouter {
	return &ChiRouter{
		mux:    chi.NewMux(),
		routes: make(map[string]*Route),
	}
}

func routeKey(method, pattern string) string {
	return method + " " + pattern
}

// On registers route. chi panics on malformed patterns; those panics are
// reported as ErrInvalidRoute.
func (r *ChiRouter) On(method, path string, route *Route) (err error) {
	method = strings.ToUpper(method)
	key := routeKey(method, path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, key)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrInvalidRoute, key, rec)
		}
	}()
	r.mux.Method(method, path, http.NotFoundHandler())
	r.routes[key] = route
	return nil
}

// Find matches method and path against the registered patterns.
func (r *ChiRouter) Find(method, path string) (*Route, Params, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rctx := chi.NewRouteContext()
	pattern := r.mux.Find(rctx, strings.ToUpper(method), path)
	if pattern == "" {
		return nil, nil, false
	}
	route, ok := r.routes[routeKey(strings.ToUpper(method), pattern)]
	if !ok {
		return nil, nil, false
	}
	params := make(Params, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if i < len(rctx.URLParams.Values) {
			params[k] = rctx.URLParams.Values[i]
		}
	}
	return route, params, true
}

// Allowed returns the standard methods that have a route matching path.
func (r *ChiRouter) Allowed(path string) []string {
	var out []string
	for _, m := range standardMethods {
		if _, _, ok := r.Find(m, path); ok {
			out = append(out, m)
		}
	}
	return out
}

// Routes returns every registered method and pattern pair.
func (r *ChiRouter) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for k := range r.routes {
		out = append(out, k)
	}
	return out
}
