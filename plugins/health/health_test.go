package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/arbor"
	"github.com/dmitrymomot/arbor/plugins/health"
)

func probe(app *arbor.App, path string, jsonAccept bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if jsonAccept {
		req.Header.Set("Accept", "application/json")
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestPlugin(t *testing.T) {
	t.Parallel()

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()

		app := arbor.New(arbor.WithPlugin(health.Plugin()))
		rec := probe(app, "/health/live", false)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("readiness without checks", func(t *testing.T) {
		t.Parallel()

		app := arbor.New(arbor.WithPlugin(health.Plugin()))
		rec := probe(app, "/health/ready", true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("failing check", func(t *testing.T) {
		t.Parallel()

		app := arbor.New(arbor.WithPlugin(health.Plugin(
			health.WithCheck("db", func(context.Context) error { return nil }),
			health.WithCheck("queue", func(context.Context) error { return errors.New("down") }),
			health.WithConcurrency(1),
		)))

		rec := probe(app, "/health/ready", true)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var report health.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, health.StatusUnhealthy, report.Status)
		assert.Equal(t, health.StatusHealthy, report.Checks["db"].Status)
		assert.Equal(t, "down", report.Checks["queue"].Error)

		text := probe(app, "/health/ready", false)
		assert.Equal(t, "Service Unavailable", text.Body.String())
	})

	t.Run("check timeout", func(t *testing.T) {
		t.Parallel()

		app := arbor.New(arbor.WithPlugin(health.Plugin(
			health.WithTimeout(10*time.Millisecond),
			health.WithCheck("slow", func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}),
		)))
		rec := probe(app, "/health/ready?format=json", false)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "deadline exceeded")
	})

	t.Run("checks added by sibling plugins", func(t *testing.T) {
		t.Parallel()

		app := arbor.New(arbor.WithPlugin(health.Plugin()))
		var added, orphan bool
		app.Register(arbor.NewPlugin("dep", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
			added = health.AddCheck(s, "dep", func(context.Context) error { return errors.New("nope") })
			return nil
		}))
		require.NoError(t, app.Ready(t.Context()))
		assert.True(t, added)

		reg, ok := arbor.Lookup(app.Container(), health.RegistryKey)
		require.True(t, ok)
		assert.Equal(t, []string{"dep"}, reg.Names())

		other := arbor.New()
		other.Register(arbor.NewPlugin("dep", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
			orphan = health.AddCheck(s, "dep", func(context.Context) error { return nil })
			return nil
		}))
		require.NoError(t, other.Ready(t.Context()))
		assert.False(t, orphan)
	})

	t.Run("draining after close", func(t *testing.T) {
		t.Parallel()

		app := arbor.New(arbor.WithPlugin(health.Plugin()))
		require.NoError(t, app.Ready(t.Context()))

		reg, ok := arbor.Lookup(app.Container(), health.RegistryKey)
		require.True(t, ok)
		require.NoError(t, app.Close(t.Context()))
		assert.Equal(t, health.StatusDraining, reg.Run(t.Context()).Status)
	})

	t.Run("custom paths", func(t *testing.T) {
		t.Parallel()

		app := arbor.New(arbor.WithPlugin(health.Plugin(health.WithPaths("/livez", "/readyz"))))
		assert.Equal(t, http.StatusOK, probe(app, "/livez", false).Code)
		assert.Equal(t, http.StatusOK, probe(app, "/readyz", false).Code)
		assert.Equal(t, http.StatusNotFound, probe(app, "/health/live", false).Code)
	})
}
