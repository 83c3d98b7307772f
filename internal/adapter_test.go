package internal_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/arbor/internal"
)

func TestWrapHTTP(t *testing.T) {
	t.Parallel()

	var sawCurrent bool
	app := internal.New()
	app.OnSend(func(_ *internal.Context, res *internal.Response) (*internal.Response, error) {
		res.Header.Set("X-Hooked", "yes")
		return nil, nil
	})
	app.GET("/std", internal.WrapHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawCurrent = internal.CurrentOrNil(r.Context()) != nil
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("from net/http"))
	})))
	app.GET("/implicit", internal.WrapHTTP(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})))

	res := get(app, "/std")
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, "from net/http", string(res.Body))
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	assert.Equal(t, "yes", res.Header.Get("X-Hooked"))
	assert.True(t, sawCurrent)

	assert.Equal(t, http.StatusOK, get(app, "/implicit").Status)
}
