package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("arbor", pflag.ContinueOnError)
	registerFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig(newFlags(t))
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Listen)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "/metrics", cfg.MetricsPath)
		assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
		assert.Equal(t, []string{"en", "de"}, cfg.Locales)
		assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
		assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
		assert.Zero(t, cfg.CacheTTL)
		assert.False(t, cfg.Tracing)
		assert.Empty(t, cfg.Postgres.ConnectionString)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "arbor.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
log_level: debug
cors_origins:
  - https://example.com
  - https://app.example.com
cache_ttl: 2m
tracing: true
postgres:
  url: postgres://localhost/app
  migrations_dir: sql
`), 0o600))

		cfg, err := loadConfig(newFlags(t, "--config", path))
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Listen)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, []string{"https://example.com", "https://app.example.com"}, cfg.CORSOrigins)
		assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
		assert.True(t, cfg.Tracing)
		assert.Equal(t, "postgres://localhost/app", cfg.Postgres.ConnectionString)
		assert.Equal(t, "sql", cfg.Postgres.MigrationsDir)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "arbor.yaml")
		require.NoError(t, os.WriteFile(path, []byte("listen: \":9090\"\n"), 0o600))
		t.Setenv("ARBOR_LISTEN", ":7070")
		t.Setenv("ARBOR_POSTGRES_URL", "postgres://db/app")

		cfg, err := loadConfig(newFlags(t, "--config", path))
		require.NoError(t, err)

		assert.Equal(t, ":7070", cfg.Listen)
		assert.Equal(t, "postgres://db/app", cfg.Postgres.ConnectionString)
	})

	t.Run("flag overrides env", func(t *testing.T) {
		t.Setenv("ARBOR_LISTEN", ":7070")

		cfg, err := loadConfig(newFlags(t, "--listen", ":6060", "--redis-url", "redis://localhost:6379/1"))
		require.NoError(t, err)

		assert.Equal(t, ":6060", cfg.Listen)
		assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	})

	t.Run("empty listen", func(t *testing.T) {
		_, err := loadConfig(newFlags(t, "--listen", ""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listen address is required")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(newFlags(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})
}
