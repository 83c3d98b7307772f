package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/arbor"
)

// StoreKey holds the Store in the container of the scope the plugin was
// registered in.
var StoreKey = arbor.NewKey[Store]("cache.store")

// TTLKey is the route metadata key read by the plugin. Use Enable to set it.
var TTLKey = arbor.NewKey[time.Duration]("cache.ttl")

// Header reports HIT or MISS on cacheable responses.
const Header = "X-Cache"

// DefaultSkipHeaders are never stored with a cached response.
var DefaultSkipHeaders = []string{"Set-Cookie", "X-Request-ID", Header}

type pendingKey struct{}

type pending struct {
	key string
	ttl time.Duration
}

// entry is the stored form of a Response.
type entry struct {
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
	Status int         `json:"status"`
}

// Config configures the response cache plugin.
type Config struct {
	Store Store
	// KeyFunc derives the cache key. Defaults to method and request URI.
	KeyFunc func(c *arbor.Context) string
	// SkipHeaders are removed before a response is stored.
	SkipHeaders []string
	// DefaultTTL caches every GET route that has no TTL of its own.
	// Zero caches only routes registered with Enable.
	DefaultTTL time.Duration
}

// Option configures Config.
type Option func(*Config)

// WithStore sets the backend. Without it the plugin uses a Store already
// provided in its scope (see redis.WithCacheStore), or creates a Memory store
// that closes with the application.
func WithStore(s Store) Option {
	return func(cfg *Config) {
		cfg.Store = s
	}
}

// WithKeyFunc sets the cache key function.
func WithKeyFunc(fn func(c *arbor.Context) string) Option {
	return func(cfg *Config) {
		cfg.KeyFunc = fn
	}
}

// WithDefaultRouteTTL caches every GET route for d.
func WithDefaultRouteTTL(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.DefaultTTL = d
	}
}

// Enable marks a route as cacheable for ttl.
//
//	s.GET("/catalog", listCatalog, cache.Enable(time.Minute))
func Enable(ttl time.Duration) arbor.Descriptor {
	return arbor.Meta(TTLKey, ttl)
}

// Plugin returns an opaque plugin caching successful GET responses and
// providing its Store to the scope it is registered in.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := &Config{SkipHeaders: DefaultSkipHeaders}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *arbor.Context) string {
			return c.Method() + " " + c.Request().URL.RequestURI()
		}
	}

	return arbor.NewPlugin("cache", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		store := cfg.Store
		if store == nil {
			store, _ = arbor.Lookup(s.Container(), StoreKey)
		}
		if store == nil {
			mem := NewMemory()
			s.OnClose(func(context.Context) error { return mem.Close() })
			store = mem
		}
		arbor.Provide(s.Container(), StoreKey, store)

		s.OnRequest(func(c *arbor.Context) (*arbor.Response, error) {
			if c.Method() != http.MethodGet {
				return nil, nil
			}
			ttl := cfg.DefaultTTL
			if v, ok := arbor.RouteMeta(c.Route(), TTLKey); ok {
				ttl = v
			}
			if ttl == 0 {
				return nil, nil
			}

			key := cfg.KeyFunc(c)
			data, err := store.Get(c, key)
			if err == nil {
				var e entry
				if err := json.Unmarshal(data, &e); err == nil {
					res := arbor.NewResponse(e.Status, e.Body)
					for k, vv := range e.Header {
						res.Header[k] = vv
					}
					res.Header.Set(Header, "HIT")
					return res, nil
				}
			} else if !errors.Is(err, ErrNotFound) {
				c.LogWarn("cache lookup failed", slog.String("key", key), slog.Any("error", err))
			}

			c.Set(pendingKey{}, pending{key: key, ttl: ttl})
			c.SetHeader(Header, "MISS")
			return nil, nil
		})

		s.OnSend(func(c *arbor.Context, res *arbor.Response) (*arbor.Response, error) {
			v, ok := c.Local(pendingKey{})
			if !ok || res.Status != http.StatusOK || res.Stream != nil {
				return nil, nil
			}
			p := v.(pending)

			header := res.Header.Clone()
			for _, h := range cfg.SkipHeaders {
				header.Del(h)
			}
			data, err := json.Marshal(entry{Status: res.Status, Header: header, Body: res.Body})
			if err == nil {
				err = store.Set(c, p.key, data, p.ttl)
			}
			if err != nil {
				c.LogWarn("cache store failed", slog.String("key", p.key), slog.Any("error", err))
			}
			return nil, nil
		})
		return nil
	}).Opaque()
}

var group singleflight.Group

// Load returns the JSON value cached under key or computes it with fn.
// Concurrent misses for the same key share one call to fn, which runs
// detached from the caller's cancellation.
func Load[V any](c *arbor.Context, key string, ttl time.Duration, fn func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	store, err := arbor.Resolve(c, StoreKey)
	if err != nil {
		return zero, err
	}

	if data, err := store.Get(c, key); err == nil {
		var v V
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
	}

	// The shared fill outlives any single caller; each caller still stops
	// waiting when its own request ends.
	ch := group.DoChan(key, func() (any, error) {
		ctx := context.WithoutCancel(c)
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(v); err == nil {
			_ = store.Set(ctx, key, data, ttl)
		}
		return v, nil
	})

	select {
	case <-c.Done():
		return zero, context.Cause(c)
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}
