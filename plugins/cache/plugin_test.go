package cache_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/arbor"
	"github.com/dmitrymomot/arbor/plugins/cache"
)

func get(app *arbor.App, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestPlugin(t *testing.T) {
	t.Parallel()

	t.Run("caches enabled routes", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		app := arbor.New(arbor.WithPlugin(cache.Plugin()))
		app.GET("/catalog", func(c *arbor.Context) (any, error) {
			calls.Add(1)
			c.SetHeader("X-Custom", "yes")
			return map[string]int{"n": int(calls.Load())}, nil
		}, cache.Enable(time.Minute))

		first := get(app, "/catalog")
		require.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "MISS", first.Header().Get(cache.Header))

		second := get(app, "/catalog")
		require.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, "HIT", second.Header().Get(cache.Header))
		assert.Equal(t, "yes", second.Header().Get("X-Custom"))
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, int32(1), calls.Load())

		get(app, "/catalog?page=2")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("skips routes without ttl", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		app := arbor.New(arbor.WithPlugin(cache.Plugin()))
		app.GET("/live", func(c *arbor.Context) (any, error) {
			calls.Add(1)
			return "ok", nil
		})

		get(app, "/live")
		rec := get(app, "/live")
		assert.Empty(t, rec.Header().Get(cache.Header))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("default ttl caches every GET", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		app := arbor.New(arbor.WithPlugin(cache.Plugin(cache.WithDefaultRouteTTL(time.Minute))))
		app.GET("/all", func(c *arbor.Context) (any, error) {
			calls.Add(1)
			return "ok", nil
		})

		get(app, "/all")
		get(app, "/all")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("does not cache errors", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		app := arbor.New(arbor.WithPlugin(cache.Plugin()))
		app.GET("/flaky", func(c *arbor.Context) (any, error) {
			calls.Add(1)
			return nil, arbor.ErrServiceUnavailable("later")
		}, cache.Enable(time.Minute))

		get(app, "/flaky")
		rec := get(app, "/flaky")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("custom store is shared through the container", func(t *testing.T) {
		t.Parallel()

		store := cache.NewMemory()
		defer store.Close()

		app := arbor.New(arbor.WithPlugin(cache.Plugin(
			cache.WithStore(store),
			cache.WithKeyFunc(func(c *arbor.Context) string { return "fixed" }),
		)))
		app.GET("/x", func(c *arbor.Context) (any, error) {
			return "x", nil
		}, cache.Enable(time.Minute))

		get(app, "/x")
		assert.Equal(t, 1, store.Len())

		got, ok := arbor.Lookup(app.Container(), cache.StoreKey)
		require.True(t, ok)
		assert.Same(t, store, got)
	})
}

func TestLoad(t *testing.T) {
	t.Parallel()

	type item struct {
		Name string `json:"name"`
	}

	var calls atomic.Int32
	release := make(chan struct{})
	app := arbor.New(arbor.WithPlugin(cache.Plugin()))
	app.GET("/item", func(c *arbor.Context) (any, error) {
		return cache.Load(c, "item:1", time.Minute, func(ctx context.Context) (item, error) {
			calls.Add(1)
			<-release
			return item{Name: "widget"}, nil
		})
	})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := get(app, "/item")
			assert.JSONEq(t, `{"name":"widget"}`, rec.Body.String())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	rec := get(app, "/item")
	assert.JSONEq(t, `{"name":"widget"}`, rec.Body.String())
	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	t.Run("without plugin", func(t *testing.T) {
		c := arbor.NewTestContext(arbor.New(), httptest.NewRequest(http.MethodGet, "/", nil))
		_, err := cache.Load(c, "k", time.Minute, func(ctx context.Context) (int, error) { return 1, nil })
		require.ErrorIs(t, err, arbor.ErrMissingEntry)
	})

	t.Run("shared fill survives the first caller leaving", func(t *testing.T) {
		fill := make(chan struct{})
		started := make(chan struct{})
		load := func(c *arbor.Context) (int, error) {
			return cache.Load(c, "shared", time.Minute, func(ctx context.Context) (int, error) {
				close(started)
				<-fill
				if err := ctx.Err(); err != nil {
					return 0, err
				}
				return 42, nil
			})
		}

		ctx, cancel := context.WithCancel(context.Background())
		first := arbor.NewTestContext(app, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
		firstErr := make(chan error, 1)
		go func() {
			_, err := load(first)
			firstErr <- err
		}()
		<-started

		second := make(chan int, 1)
		go func() {
			v, err := load(arbor.NewTestContext(app, httptest.NewRequest(http.MethodGet, "/", nil)))
			assert.NoError(t, err)
			second <- v
		}()

		cancel()
		require.ErrorIs(t, <-firstErr, context.Canceled)
		close(fill)
		assert.Equal(t, 42, <-second)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		boom := errors.New("boom")
		c := arbor.NewTestContext(app, httptest.NewRequest(http.MethodGet, "/", nil))
		_, err := cache.Load(c, "fail", time.Minute, func(ctx context.Context) (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)

		v, err := cache.Load(c, "fail", time.Minute, func(ctx context.Context) (int, error) { return 7, nil })
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})
}
