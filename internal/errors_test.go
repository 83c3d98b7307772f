package internal_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/arbor/internal"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	t.Run("inspection through wrapping", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("sql: no rows")
		err := fmt.Errorf("load user: %w", internal.ErrNotFound("user not found", internal.WithError(cause)))

		require.True(t, internal.IsHTTPError(err))
		httpErr := internal.AsHTTPError(err)
		require.NotNil(t, httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.StatusCode())
		assert.Equal(t, "Not Found", httpErr.StatusText())
		assert.ErrorIs(t, err, cause)

		assert.False(t, internal.IsHTTPError(cause))
		assert.Nil(t, internal.AsHTTPError(cause))
	})

	t.Run("constructors", func(t *testing.T) {
		t.Parallel()
		cases := map[int]*internal.HTTPError{
			http.StatusBadRequest:          internal.ErrBadRequest("x"),
			http.StatusUnauthorized:        internal.ErrUnauthorized("x"),
			http.StatusForbidden:           internal.ErrForbidden("x"),
			http.StatusNotFound:            internal.ErrNotFound("x"),
			http.StatusConflict:            internal.ErrConflict("x"),
			http.StatusUnprocessableEntity: internal.ErrUnprocessable("x"),
			http.StatusInternalServerError: internal.ErrInternal("x"),
			http.StatusServiceUnavailable:  internal.ErrServiceUnavailable("x"),
		}
		for code, err := range cases {
			assert.Equal(t, code, err.Code)
			assert.Equal(t, "x", err.Error())
		}
	})

	t.Run("render", func(t *testing.T) {
		t.Parallel()
		err := internal.ErrConflict("email taken",
			internal.WithTitle("Conflict!"),
			internal.WithDetail("choose another address"),
			internal.WithErrorCode("email.taken"),
			internal.WithRequestID("req-1"),
		)
		err.Header = http.Header{"Retry-After": {"10"}}

		res, rerr := err.Render(nil)
		require.NoError(t, rerr)
		assert.Equal(t, http.StatusConflict, res.Status)
		assert.Equal(t, "10", res.Header.Get("Retry-After"))
		assert.JSONEq(t, `{"error":{
			"code":409,
			"title":"Conflict!",
			"message":"email taken",
			"detail":"choose another address",
			"error_code":"email.taken",
			"request_id":"req-1"
		}}`, string(res.Body))
	})

	t.Run("title defaults to status text", func(t *testing.T) {
		t.Parallel()
		res, err := internal.ErrBadRequest("bad").Render(nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":{"code":400,"title":"Bad Request","message":"bad"}}`, string(res.Body))
	})
}

func TestRedirectError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", internal.Redirect(http.StatusMovedPermanently, "/login"))
	assert.True(t, internal.IsRedirect(err))
	assert.False(t, internal.IsRedirect(errors.New("plain")))
	assert.Equal(t, "redirect 301 to /login", errors.Unwrap(err).Error())
}

func TestTimeoutError(t *testing.T) {
	t.Parallel()

	err := &internal.TimeoutError{}
	assert.ErrorIs(t, err, internal.ErrRequestTimeout)

	res, rerr := err.Render(nil)
	require.NoError(t, rerr)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
}

func TestPanicError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "panic: boom", (&internal.PanicError{Value: "boom"}).Error())
	assert.Nil(t, (&internal.PanicError{Value: 42}).Unwrap())
}
