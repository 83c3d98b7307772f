// Package metrics records Prometheus request metrics and exposes them on a
// scrape route.
//
//	reg := prometheus.NewRegistry()
//	app := arbor.New(arbor.WithPlugin(metrics.Plugin(metrics.WithRegistry(reg))))
//
// Requests are labelled by the matched route pattern, never the raw path,
// to keep label cardinality bounded. Unmatched requests use the route label
// "unmatched".
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/arbor"
)

// DefaultPath is the default scrape route.
const DefaultPath = "/metrics"

// inFlightKey marks requests counted by the in-flight gauge.
type inFlightKey struct{}

// Config configures the metrics plugin.
type Config struct {
	Registry  *prometheus.Registry
	Namespace string
	Path      string
	Buckets   []float64
	// RuntimeCollectors registers the Go and process collectors.
	RuntimeCollectors bool
}

// Option configures Config.
type Option func(*Config)

// WithRegistry sets the registry. Defaults to a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(cfg *Config) {
		cfg.Registry = reg
	}
}

// WithNamespace prefixes every metric name.
func WithNamespace(ns string) Option {
	return func(cfg *Config) {
		cfg.Namespace = ns
	}
}

// WithPath sets the scrape route. An empty path disables the route.
func WithPath(path string) Option {
	return func(cfg *Config) {
		cfg.Path = path
	}
}

// WithBuckets sets the latency histogram buckets in seconds.
func WithBuckets(buckets ...float64) Option {
	return func(cfg *Config) {
		cfg.Buckets = buckets
	}
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(cfg *Config) {
		cfg.RuntimeCollectors = true
	}
}

// Collector holds the request metrics.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewCollector creates the request metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer, namespace string, buckets []float64) (*Collector, error) {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests being served.",
		}),
	}
	for _, col := range []prometheus.Collector{c.requests, c.duration, c.inFlight} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (m *Collector) start(c *arbor.Context) (*arbor.Response, error) {
	m.inFlight.Inc()
	c.Set(inFlightKey{}, true)
	return nil, nil
}

func (m *Collector) observe(c *arbor.Context, res *arbor.Response) error {
	if _, ok := c.Local(inFlightKey{}); ok {
		m.inFlight.Dec()
	}
	route := "unmatched"
	if r := c.Route(); r != nil {
		route = r.Path()
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	m.requests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(c.Method(), route).Observe(time.Since(c.Started()).Seconds())
	return nil
}

// Plugin returns an opaque plugin that instruments the scope it is registered
// in and serves the registry on the configured path.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &Config{Path: DefaultPath}
	for _, opt := range opts {
		opt(cfg)
	}

	return arbor.NewPlugin("metrics", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		reg := cfg.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		if cfg.RuntimeCollectors {
			if err := reg.Register(collectors.NewGoCollector()); err != nil {
				return err
			}
			if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
				return err
			}
		}

		m, err := NewCollector(reg, cfg.Namespace, cfg.Buckets)
		if err != nil {
			return err
		}
		arbor.Provide(s.Container(), CollectorKey, m)

		s.OnRequest(m.start)
		s.OnSent(m.observe)
		s.OnErrorSent(m.observe)

		if cfg.Path != "" {
			s.GET(cfg.Path, arbor.WrapHTTP(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})), arbor.Name("metrics"))
		}
		return nil
	}).Opaque()
}

// CollectorKey holds the *Collector in the container of the scope the plugin
// was registered in.
var CollectorKey = arbor.NewKey[*Collector]("metrics.collector")
