package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	args, insert, err := buildArgs("welcome", map[string]string{"email": "a@b.c"}, []EnqueueOption{
		InQueue("email"),
		At(at),
		MaxAttempts(3),
		Priority(2),
		Tags("signup", "mail"),
		UniqueFor(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "welcome", args.Task)
	assert.JSONEq(t, `{"email":"a@b.c"}`, string(args.Payload))
	assert.Equal(t, "arbor:task", args.Kind())
	assert.Equal(t, "email", insert.Queue)
	assert.Equal(t, at, insert.ScheduledAt)
	assert.Equal(t, 3, insert.MaxAttempts)
	assert.Equal(t, 2, insert.Priority)
	assert.Equal(t, []string{"signup", "mail"}, insert.Tags)
	assert.True(t, insert.UniqueOpts.ByArgs)
	assert.Equal(t, time.Hour, insert.UniqueOpts.ByPeriod)

	args, insert, err = buildArgs("tick", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, args.Payload)
	assert.Empty(t, insert.Queue)

	_, _, err = buildArgs("bad", make(chan int), nil)
	assert.Error(t, err)
}
