package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/arbor"
	"github.com/dmitrymomot/arbor/plugins/metrics"
)

func TestPlugin(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	app := arbor.New(arbor.WithPlugin(metrics.Plugin(
		metrics.WithRegistry(reg),
		metrics.WithNamespace("test"),
	)))
	app.GET("/users/{id}", func(c *arbor.Context) (any, error) {
		return "ok", nil
	})

	for _, path := range []string{"/users/1", "/users/2", "/missing"} {
		app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP test_http_requests_total Total number of HTTP requests by method, route and status.
# TYPE test_http_requests_total counter
test_http_requests_total{method="GET",route="/users/{id}",status="200"} 2
test_http_requests_total{method="GET",route="unmatched",status="404"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, stringsReader(expected), "test_http_requests_total"))

	inFlight := `
# HELP test_http_requests_in_flight Number of HTTP requests being served.
# TYPE test_http_requests_in_flight gauge
test_http_requests_in_flight 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, stringsReader(inFlight), "test_http_requests_in_flight"))

	t.Run("scrape route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "test_http_request_duration_seconds")
	})

	t.Run("collector in container", func(t *testing.T) {
		m, ok := arbor.Lookup(app.Container(), metrics.CollectorKey)
		assert.True(t, ok)
		assert.NotNil(t, m)
	})
}

func TestPluginDisabledPath(t *testing.T) {
	t.Parallel()

	app := arbor.New(arbor.WithPlugin(metrics.Plugin(metrics.WithPath(""))))
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	app := arbor.New(
		arbor.WithPlugin(metrics.Plugin(metrics.WithRegistry(reg), metrics.WithPath(""))),
		arbor.WithPlugin(metrics.Plugin(metrics.WithRegistry(reg), metrics.WithPath(""))),
	)
	err := app.Ready(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `plugin "metrics"`)
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
