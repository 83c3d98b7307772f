// Command arbor runs a reference server assembled from the bundled plugins.
package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/arbor"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "arbor",
		Short:         "arbor is a plugin-driven HTTP server",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Serve on :8080 with JSON logs
  arbor serve

  # Enable the database pool and the Redis response cache
  ARBOR_POSTGRES_URL=postgres://localhost/app ARBOR_REDIS_URL=redis://localhost:6379/0 arbor serve

  # Print the resolved route table
  arbor routes --config arbor.yaml
`,
	}
	cmd.SetOut(out)
	registerFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCommand(), newRoutesCommand(), newConfigCommand(), newVersionCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			app := newServer(cfg, newLogger(cfg, cmd.OutOrStdout()))
			return app.Run(cfg.Listen,
				arbor.WithContext(cmd.Context()),
				arbor.ShutdownTimeout(cfg.ShutdownTimeout),
			)
		},
	}
}

func newRoutesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Boot the application and print its routes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			app := newServer(cfg, newLogger(cfg, io.Discard))
			ctx := cmd.Context()
			if err := app.Ready(ctx); err != nil {
				return err
			}
			defer app.Close(ctx)

			lister, ok := app.Router().(interface{ Routes() []string })
			if !ok {
				return fmt.Errorf("router %T cannot list routes", app.Router())
			}
			routes := lister.Routes()
			slices.SortFunc(routes, func(a, b string) int {
				return strings.Compare(routePath(a), routePath(b))
			})
			for _, r := range routes {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// routePath returns the pattern of a "METHOD /pattern" entry, then the method.
func routePath(entry string) string {
	method, path, _ := strings.Cut(entry, " ")
	return path + " " + method
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(redact(cfg)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// redact returns cfg as a map with secrets masked.
func redact(cfg Config) map[string]any {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	return map[string]any{
		"listen":           cfg.Listen,
		"log_level":        cfg.LogLevel,
		"log_format":       cfg.LogFormat,
		"sentry_dsn":       mask(cfg.SentryDSN),
		"environment":      cfg.Environment,
		"redis_url":        mask(cfg.RedisURL),
		"postgres":         map[string]any{"url": mask(cfg.Postgres.ConnectionString)},
		"metrics_path":     cfg.MetricsPath,
		"cors_origins":     cfg.CORSOrigins,
		"request_timeout":  cfg.RequestTimeout.String(),
		"shutdown_timeout": cfg.ShutdownTimeout.String(),
		"cache_ttl":        cfg.CacheTTL.String(),
		"tracing":          cfg.Tracing,
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the arbor version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "arbor %s\n", version)
			return err
		},
	}
}
