package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dmitrymomot/arbor/plugins/postgres"
)

// Config is the server configuration. Values come from flags, ARBOR_*
// environment variables and an optional YAML file, in that precedence.
type Config struct {
	Postgres        postgres.Config `mapstructure:"postgres"`
	Listen          string          `mapstructure:"listen"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	SentryDSN       string          `mapstructure:"sentry_dsn"`
	Environment     string          `mapstructure:"environment"`
	RedisURL        string          `mapstructure:"redis_url"`
	MetricsPath     string          `mapstructure:"metrics_path"`
	CORSOrigins     []string        `mapstructure:"cors_origins"`
	Locales         []string        `mapstructure:"locales"`
	RequestTimeout  time.Duration   `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	CacheTTL        time.Duration   `mapstructure:"cache_ttl"`
	Tracing         bool            `mapstructure:"tracing"`
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.String("listen", ":8080", "address to listen on")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "json", "log format: json or text")
	flags.String("sentry-dsn", "", "Sentry DSN; empty disables Sentry")
	flags.String("environment", "production", "deployment environment reported to Sentry")
	flags.String("redis-url", "", "Redis URL; enables the Redis-backed response cache")
	flags.String("postgres-url", "", "PostgreSQL URL; enables the database pool")
	flags.String("metrics-path", "/metrics", "Prometheus scrape path; empty disables it")
	flags.StringSlice("cors-origins", []string{"*"}, "allowed CORS origins")
	flags.StringSlice("locales", []string{"en", "de"}, "supported response languages; the first is the default")
	flags.Duration("request-timeout", 30*time.Second, "default handler deadline")
	flags.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
	flags.Duration("cache-ttl", 0, "cache every GET route for this long; zero caches opted-in routes only")
	flags.Bool("tracing", false, "start an OpenTelemetry span per request")
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"listen":           "listen",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"sentry-dsn":       "sentry_dsn",
	"environment":      "environment",
	"redis-url":        "redis_url",
	"postgres-url":     "postgres.url",
	"metrics-path":     "metrics_path",
	"cors-origins":     "cors_origins",
	"locales":          "locales",
	"request-timeout":  "request_timeout",
	"shutdown-timeout": "shutdown_timeout",
	"cache-ttl":        "cache_ttl",
	"tracing":          "tracing",
}

// loadConfig resolves the configuration for flags into a fresh viper instance.
func loadConfig(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return Config{}, fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
	} else if path := os.Getenv("ARBOR_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Listen == "" {
		return Config{}, errors.New("listen address is required")
	}
	return cfg, nil
}
