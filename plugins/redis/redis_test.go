package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/arbor"
	"github.com/dmitrymomot/arbor/plugins/redis"
)

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty URL", func(t *testing.T) {
		t.Parallel()

		client, err := redis.Open(ctx, "")
		require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
		require.Nil(t, client)
	})

	for _, url := range []string{"http://localhost:6379", "localhost:6379", "postgresql://localhost:6379"} {
		t.Run("invalid scheme "+url, func(t *testing.T) {
			t.Parallel()

			client, err := redis.Open(ctx, url)
			require.ErrorIs(t, err, redis.ErrFailedToParseURL)
			require.Nil(t, client)
		})
	}

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()

		_, err := redis.Open(ctx, "redis://127.0.0.1:1/0",
			redis.WithRetry(1, time.Millisecond),
			redis.WithTimeouts(100*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond),
		)
		require.ErrorIs(t, err, redis.ErrConnectionFailed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := redis.Open(cctx, "redis://127.0.0.1:1/0", redis.WithRetry(3, time.Hour))
		require.ErrorIs(t, err, redis.ErrConnectionFailed)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestPluginBootFailure(t *testing.T) {
	t.Parallel()

	app := arbor.New(arbor.WithPlugin(redis.Plugin("")))
	err := app.Ready(context.Background())
	require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	assert.Contains(t, err.Error(), `plugin "redis"`)
}

func TestHealthcheckNilClient(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, redis.Healthcheck(nil)(context.Background()), redis.ErrHealthcheckFailed)
}
