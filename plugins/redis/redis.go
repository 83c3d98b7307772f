// Package redis connects a go-redis client during boot and provides it to the
// scope the plugin is registered in. The client closes with the application.
//
//	app.Register(redis.Plugin(os.Getenv("REDIS_URL"),
//	    redis.WithPoolSize(20),
//	    redis.WithCacheStore("http"),
//	))
//	app.Register(cache.Plugin()) // uses the Redis store
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/arbor"
	"github.com/dmitrymomot/arbor/plugins/cache"
	"github.com/dmitrymomot/arbor/plugins/health"
)

var (
	ErrEmptyConnectionURL = errors.New("redis: empty connection URL")
	ErrFailedToParseURL   = errors.New("redis: failed to parse connection URL")
	ErrConnectionFailed   = errors.New("redis: failed to establish connection")
	ErrHealthcheckFailed  = errors.New("redis: healthcheck failed")
)

// ClientKey holds the redis.UniversalClient.
var ClientKey = arbor.NewKey[redis.UniversalClient]("redis.client")

// Option configures a Redis connection.
type Option func(*options)

type options struct {
	cachePrefix   string
	checkName     string
	poolSize      int
	minIdleConns  int
	maxIdleTime   time.Duration
	maxActiveTime time.Duration
	retryAttempts int
	retryInterval time.Duration
	readTimeout   time.Duration
	writeTimeout  time.Duration
	dialTimeout   time.Duration
	cacheTTL      time.Duration
	cacheStore    bool
}

func defaultOptions() *options {
	return &options{
		checkName:     "redis",
		poolSize:      10,
		minIdleConns:  5,
		maxIdleTime:   10 * time.Minute,
		maxActiveTime: 30 * time.Minute,
		retryAttempts: 3,
		retryInterval: 5 * time.Second,
		readTimeout:   3 * time.Second,
		writeTimeout:  3 * time.Second,
		dialTimeout:   5 * time.Second,
		cacheTTL:      5 * time.Minute,
	}
}

// WithPoolSize sets the maximum number of connections in the pool.
// Default: 10
func WithPoolSize(n int) Option {
	return func(o *options) {
		o.poolSize = n
	}
}

// WithMinIdleConns sets the minimum number of idle connections kept open.
// Default: 5
func WithMinIdleConns(n int) Option {
	return func(o *options) {
		o.minIdleConns = n
	}
}

// WithConnLifetime sets the idle and total lifetime of a connection.
// Default: 10 minutes idle, 30 minutes total
func WithConnLifetime(idle, total time.Duration) Option {
	return func(o *options) {
		o.maxIdleTime = idle
		o.maxActiveTime = total
	}
}

// WithRetry configures connection retry behavior.
// Default: 3 attempts, 5 second base interval.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(o *options) {
		o.retryAttempts = attempts
		o.retryInterval = interval
	}
}

// WithTimeouts sets the dial, read and write timeouts.
// Default: 5s dial, 3s read, 3s write
func WithTimeouts(dial, read, write time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = dial
		o.readTimeout = read
		o.writeTimeout = write
	}
}

// WithCheckName sets the readiness check name. Default: "redis"
func WithCheckName(name string) Option {
	return func(o *options) {
		o.checkName = name
	}
}

// WithCacheStore provides a cache.Store backed by the client, with keys
// namespaced by prefix. A cache plugin registered later in the same scope
// picks it up.
func WithCacheStore(prefix string) Option {
	return func(o *options) {
		o.cacheStore = true
		o.cachePrefix = prefix
	}
}

// Plugin returns an opaque plugin connecting to url.
func Plugin(url string, opts ...Option) arbor.Plugin {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return arbor.NewPlugin("redis", func(ctx context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		client, err := open(ctx, url, o)
		if err != nil {
			return err
		}
		s.OnClose(func(context.Context) error {
			return client.Close()
		})

		arbor.Provide(s.Container(), ClientKey, client)
		if o.cacheStore {
			arbor.Provide[cache.Store](s.Container(), cache.StoreKey, cache.NewRedis(client, o.cachePrefix, o.cacheTTL))
		}
		health.AddCheck(s, o.checkName, Healthcheck(client))
		return nil
	}).Opaque()
}

// Open creates a client and pings it. Supports redis:// and rediss:// (TLS) URLs.
func Open(ctx context.Context, url string, opts ...Option) (redis.UniversalClient, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return open(ctx, url, o)
}

func open(ctx context.Context, url string, o *options) (redis.UniversalClient, error) {
	if url == "" {
		return nil, ErrEmptyConnectionURL
	}
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return nil, ErrFailedToParseURL
	}

	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseURL, err)
	}
	redisOpts.PoolSize = o.poolSize
	redisOpts.MinIdleConns = o.minIdleConns
	redisOpts.ConnMaxIdleTime = o.maxIdleTime
	redisOpts.ConnMaxLifetime = o.maxActiveTime
	redisOpts.ReadTimeout = o.readTimeout
	redisOpts.WriteTimeout = o.writeTimeout
	redisOpts.DialTimeout = o.dialTimeout

	for i := range max(o.retryAttempts, 1) {
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrConnectionFailed, ctx.Err())
		case <-time.After(time.Duration(i+1) * o.retryInterval):
		}
	}
	return nil, ErrConnectionFailed
}

// Healthcheck returns a readiness check pinging the client.
func Healthcheck(client redis.UniversalClient) health.CheckFunc {
	return func(ctx context.Context) error {
		if client == nil {
			return ErrHealthcheckFailed
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// Client returns the client visible from the request's scope.
func Client(c *arbor.Context) (redis.UniversalClient, error) {
	return arbor.Resolve(c, ClientKey)
}
