package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dmitrymomot/arbor"
	"github.com/dmitrymomot/arbor/pkg/logger"
	"github.com/dmitrymomot/arbor/plugins/accesslog"
	"github.com/dmitrymomot/arbor/plugins/cache"
	"github.com/dmitrymomot/arbor/plugins/cors"
	"github.com/dmitrymomot/arbor/plugins/health"
	"github.com/dmitrymomot/arbor/plugins/jobs"
	"github.com/dmitrymomot/arbor/plugins/locale"
	"github.com/dmitrymomot/arbor/plugins/metrics"
	"github.com/dmitrymomot/arbor/plugins/postgres"
	"github.com/dmitrymomot/arbor/plugins/redis"
	"github.com/dmitrymomot/arbor/plugins/requestid"
	"github.com/dmitrymomot/arbor/plugins/sanitize"
	"github.com/dmitrymomot/arbor/plugins/schedule"
	"github.com/dmitrymomot/arbor/plugins/tracing"
)

// newLogger builds the application logger. Sentry is enabled when a DSN is set.
func newLogger(cfg Config, out io.Writer) *slog.Logger {
	return logger.NewWithSentry(logger.SentryConfig{
		Config: logger.Config{
			Output: out,
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
		},
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		MinLevel:    slog.LevelWarn,
	}, requestid.LogExtractor(), arbor.RouteExtractor()).With("component", "arbor")
}

// newServer assembles the application from cfg. Cross-cutting plugins are
// registered first so every later scope inherits their hooks.
func newServer(cfg Config, log *slog.Logger) *arbor.App {
	app := arbor.New(
		arbor.WithCustomLogger(log),
		arbor.WithRequestTimeout(cfg.RequestTimeout),
		arbor.WithSerializer(arbor.YAMLSerializer(arbor.DefaultSerializer)),
	)

	if cfg.SentryDSN != "" {
		app.OnClose(func(context.Context) error {
			logger.Flush(2 * time.Second)
			return nil
		})
	}

	app.Register(requestid.Plugin())
	app.Register(accesslog.Plugin(accesslog.WithSkipPaths("/health/live", "/health/ready", cfg.MetricsPath)))
	app.Register(cors.Plugin(cors.WithAllowOrigins(cfg.CORSOrigins...)))
	app.Register(locale.Plugin(
		locale.WithSupported(cfg.Locales...),
		locale.WithMessages("de", map[string]string{"Hello %s": "Hallo %s"}),
	))
	if cfg.MetricsPath != "" {
		app.Register(metrics.Plugin(
			metrics.WithRegistry(prometheus.NewRegistry()),
			metrics.WithNamespace("arbor"),
			metrics.WithPath(cfg.MetricsPath),
			metrics.WithRuntimeCollectors(),
		))
	}
	if cfg.Tracing {
		tp := sdktrace.NewTracerProvider()
		app.OnClose(tp.Shutdown)
		app.Register(tracing.Plugin(
			tracing.WithTracerProvider(tp),
			tracing.WithPropagator(propagation.TraceContext{}),
		))
	}
	app.Register(health.Plugin())
	app.Register(schedule.Plugin())

	if cfg.RedisURL != "" {
		app.Register(redis.Plugin(cfg.RedisURL, redis.WithCacheStore("arbor")))
	}
	app.Register(cache.Plugin(cache.WithDefaultRouteTTL(cfg.CacheTTL)))
	if cfg.Postgres.ConnectionString != "" {
		app.Register(postgres.Plugin(cfg.Postgres))
		app.Register(jobs.Plugin(jobs.WithMigrate()))
	}

	app.Register(apiPlugin(), arbor.WithPrefix("/api"))
	return app
}

type echoRequest struct {
	Message string `json:"message"`
}

// apiPlugin serves the built-in informational routes.
func apiPlugin() arbor.Plugin {
	return arbor.NewPlugin("api", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		started := time.Now()

		s.GET("/info", func(c *arbor.Context) (any, error) {
			return map[string]any{
				"id":      c.App().ID(),
				"version": version,
				"uptime":  time.Since(started).Round(time.Second).String(),
			}, nil
		}, cache.Enable(time.Second), arbor.Name("api.info"))

		s.GET("/hello/{name}", func(c *arbor.Context) (any, error) {
			return locale.Sprintf(c, "Hello %s", c.Param("name")), nil
		}, arbor.Name("api.hello"))

		s.Register(arbor.NewPlugin("echo", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
			s.Register(sanitize.Plugin())

			// Echoes are audited in the background when a job queue is configured.
			audit := true
			if err := jobs.Handle(s, "echo.audit", func(ctx context.Context, req echoRequest) error {
				s.App().Logger().InfoContext(ctx, "echo audited", slog.Int("length", len(req.Message)))
				return nil
			}); errors.Is(err, jobs.ErrNoManager) {
				audit = false
			} else if err != nil {
				return err
			}

			s.POST("/echo", func(c *arbor.Context) (any, error) {
				var req echoRequest
				if err := c.BindJSON(&req); err != nil {
					return nil, err
				}
				if req.Message == "" {
					return nil, arbor.ErrUnprocessable("message is required")
				}
				if audit {
					if err := jobs.Enqueue(c, "echo.audit", req); err != nil {
						c.LogWarn("enqueue audit job", slog.Any("error", err))
					}
				}
				c.Status(http.StatusCreated)
				return map[string]any{"message": req.Message, "request_id": requestid.Get(c)}, nil
			}, arbor.Timeout(5*time.Second))
			return nil
		}))

		return schedule.Add(s, "uptime", "@every 1m", func(ctx context.Context) error {
			s.App().Logger().DebugContext(ctx, "heartbeat", slog.Duration("uptime", time.Since(started)))
			return nil
		})
	})
}
