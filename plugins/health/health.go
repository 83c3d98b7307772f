// Package health serves liveness and readiness probes.
//
// Other plugins contribute readiness checks through AddCheck once the health
// plugin is registered in an enclosing scope:
//
//	app.Register(health.Plugin())
//	app.Register(postgres.Plugin(cfg)) // adds the "postgres" check
package health

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/arbor"
)

const (
	defaultTimeout = 5 * time.Second

	// StatusHealthy indicates all checks passed.
	StatusHealthy = "healthy"
	// StatusUnhealthy indicates one or more checks failed.
	StatusUnhealthy = "unhealthy"
	// StatusDraining indicates the application is shutting down.
	StatusDraining = "draining"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// Report is the readiness result.
type Report struct {
	Checks map[string]Check `json:"checks,omitempty"`
	Status string           `json:"status"`
}

// Check is the result of a single check.
type Check struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RegistryKey holds the *Registry in the container of the scope the plugin
// was registered in.
var RegistryKey = arbor.NewKey[*Registry]("health.registry")

// Registry holds named readiness checks.
type Registry struct {
	checks   map[string]CheckFunc
	log      *slog.Logger
	timeout  time.Duration
	limit    int
	mu       sync.RWMutex
	draining atomic.Bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(timeout time.Duration, log *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{checks: make(map[string]CheckFunc), timeout: timeout, log: log}
}

// Add registers a check. A check with the same name is replaced.
func (r *Registry) Add(name string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = fn
}

// Names returns the sorted check names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.checks))
}

// Drain makes every later Run report StatusDraining.
func (r *Registry) Drain() {
	r.draining.Store(true)
}

// Run executes all checks in parallel under the registry timeout.
func (r *Registry) Run(ctx context.Context) *Report {
	if r.draining.Load() {
		return &Report{Status: StatusDraining}
	}

	r.mu.RLock()
	checks := maps.Clone(r.checks)
	r.mu.RUnlock()
	if len(checks) == 0 {
		return &Report{Status: StatusHealthy}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]Check, len(checks))
		status  = StatusHealthy
		g       errgroup.Group
	)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for name, check := range checks {
		g.Go(func() error {
			result := Check{Status: StatusHealthy}
			if err := check(ctx); err != nil {
				result = Check{Status: StatusUnhealthy, Error: err.Error()}
				r.log.WarnContext(ctx, "health check failed",
					slog.String("check", name),
					slog.String("error", err.Error()),
				)
			}
			mu.Lock()
			results[name] = result
			if result.Status != StatusHealthy {
				status = StatusUnhealthy
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return &Report{Status: status, Checks: results}
}

// AddCheck registers a readiness check with the health plugin visible from s.
// It reports false when no health plugin is registered.
func AddCheck(s *arbor.Scope, name string, fn CheckFunc) bool {
	reg, ok := arbor.Lookup(s.Container(), RegistryKey)
	if !ok || reg == nil {
		return false
	}
	reg.Add(name, fn)
	return true
}

// Config configures the health plugin.
type Config struct {
	Checks        map[string]CheckFunc
	LivenessPath  string
	ReadinessPath string
	Timeout       time.Duration
	// Concurrency caps parallel checks. Zero means unlimited.
	Concurrency int
}

// Option configures Config.
type Option func(*Config)

// WithPaths sets the probe routes.
func WithPaths(liveness, readiness string) Option {
	return func(cfg *Config) {
		cfg.LivenessPath = liveness
		cfg.ReadinessPath = readiness
	}
}

// WithTimeout sets the timeout for a readiness run.
func WithTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.Timeout = d
	}
}

// WithCheck adds a readiness check.
func WithCheck(name string, fn CheckFunc) Option {
	return func(cfg *Config) {
		if cfg.Checks == nil {
			cfg.Checks = make(map[string]CheckFunc)
		}
		cfg.Checks[name] = fn
	}
}

// WithConcurrency caps how many checks run at once.
func WithConcurrency(n int) Option {
	return func(cfg *Config) {
		cfg.Concurrency = n
	}
}

// Plugin returns an opaque plugin serving the probes and providing the
// Registry to the scope it is registered in. Readiness turns to draining
// once the application starts closing.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &Config{
		LivenessPath:  "/health/live",
		ReadinessPath: "/health/ready",
		Timeout:       defaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return arbor.NewPlugin("health", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		reg := NewRegistry(cfg.Timeout, s.App().Logger())
		reg.limit = cfg.Concurrency
		for name, fn := range cfg.Checks {
			reg.Add(name, fn)
		}
		arbor.Provide(s.Container(), RegistryKey, reg)

		s.OnClose(func(context.Context) error {
			reg.Drain()
			return nil
		})

		s.GET(cfg.LivenessPath, func(c *arbor.Context) (any, error) {
			return reply(c, http.StatusOK, &Report{Status: StatusHealthy})
		}, arbor.Name("health.live"))

		s.GET(cfg.ReadinessPath, func(c *arbor.Context) (any, error) {
			report := reg.Run(c)
			status := http.StatusOK
			if report.Status != StatusHealthy {
				status = http.StatusServiceUnavailable
			}
			return reply(c, status, report)
		}, arbor.Name("health.ready"))
		return nil
	}).Opaque()
}

func reply(c *arbor.Context, status int, report *Report) (*arbor.Response, error) {
	if wantsJSON(c) {
		return arbor.JSON(status, report)
	}
	if status == http.StatusOK {
		return arbor.Text(status, "OK"), nil
	}
	return arbor.Text(status, "Service Unavailable"), nil
}

// wantsJSON checks the format query parameter first, then the Accept header.
func wantsJSON(c *arbor.Context) bool {
	if c.Query("format") == "json" {
		return true
	}
	return strings.Contains(c.Header("Accept"), "application/json")
}
