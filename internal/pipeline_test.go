package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/arbor/internal"
)

func errorBody(t *testing.T, res *internal.Response) map[string]any {
	t.Helper()
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(res.Body, &body))
	return body.Error
}

func TestRequestHooks(t *testing.T) {
	t.Parallel()

	t.Run("short-circuit skips the handler", func(t *testing.T) {
		t.Parallel()
		var handled, sent atomic.Bool
		app := internal.New()
		app.OnRequest(func(c *internal.Context) (*internal.Response, error) {
			if c.Header("Authorization") == "" {
				return internal.Text(http.StatusUnauthorized, "login"), nil
			}
			return nil, nil
		})
		app.OnSend(func(_ *internal.Context, res *internal.Response) (*internal.Response, error) {
			res.Header.Set("X-Sent", "1")
			return nil, nil
		})
		app.OnSent(func(*internal.Context, *internal.Response) error {
			sent.Store(true)
			return nil
		})
		app.GET("/", func(*internal.Context) (any, error) {
			handled.Store(true)
			return "secret", nil
		})

		res := get(app, "/")
		assert.Equal(t, http.StatusUnauthorized, res.Status)
		assert.Equal(t, "login", string(res.Body))
		assert.Equal(t, "1", res.Header.Get("X-Sent"))
		assert.False(t, handled.Load())
		assert.True(t, sent.Load())
	})

	t.Run("first response wins", func(t *testing.T) {
		t.Parallel()
		var second atomic.Bool
		app := internal.New()
		app.OnRequest(func(*internal.Context) (*internal.Response, error) {
			return internal.NoContent(http.StatusAccepted), nil
		})
		app.OnRequest(func(*internal.Context) (*internal.Response, error) {
			second.Store(true)
			return nil, nil
		})
		app.GET("/", ok("handler"))

		assert.Equal(t, http.StatusAccepted, get(app, "/").Status)
		assert.False(t, second.Load())
	})

	t.Run("error enters the error branch", func(t *testing.T) {
		t.Parallel()
		var errorSent atomic.Bool
		app := internal.New()
		app.OnRequest(func(*internal.Context) (*internal.Response, error) {
			return nil, internal.ErrForbidden("nope")
		})
		app.OnErrorSent(func(*internal.Context, *internal.Response) error {
			errorSent.Store(true)
			return nil
		})
		app.GET("/", ok("handler"))

		res := get(app, "/")
		assert.Equal(t, http.StatusForbidden, res.Status)
		assert.Equal(t, "nope", errorBody(t, res)["message"])
		assert.True(t, errorSent.Load())
	})
}

func TestNestedSendHooksWrap(t *testing.T) {
	t.Parallel()

	wrap := func(by string) internal.SendHook {
		return func(_ *internal.Context, res *internal.Response) (*internal.Response, error) {
			return internal.JSON(res.Status, map[string]any{
				"wrappedBy": by,
				"data":      json.RawMessage(res.Body),
			})
		}
	}

	app := internal.New()
	app.OnSend(wrap("A"))
	app.Register(internal.NewPlugin("nested", func(_ context.Context, s *internal.Scope, _ internal.PluginOptions) error {
		s.OnSend(wrap("B"))
		s.GET("/x", func(*internal.Context) (any, error) {
			return map[string]any{"x": 1}, nil
		})
		return nil
	}))

	res := app.Handle(httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `{"wrappedBy":"A","data":{"wrappedBy":"B","data":{"x":1}}}`, string(res.Body))
}

func TestErrorHooks(t *testing.T) {
	t.Parallel()

	t.Run("decline, replace and resolve", func(t *testing.T) {
		t.Parallel()
		var seen []string
		app := internal.New()
		app.OnError(func(_ *internal.Context, err error) (*internal.Response, error) {
			seen = append(seen, "root:"+err.Error())
			if errors.Is(err, internal.ErrRouteNotFound) {
				return nil, nil
			}
			return internal.Text(http.StatusConflict, "resolved"), nil
		})
		app.Register(internal.NewPlugin("child", func(_ context.Context, s *internal.Scope, _ internal.PluginOptions) error {
			s.OnError(func(_ *internal.Context, err error) (*internal.Response, error) {
				seen = append(seen, "child:"+err.Error())
				return nil, errors.New("replaced")
			})
			s.OnError(func(_ *internal.Context, err error) (*internal.Response, error) {
				seen = append(seen, "declined:"+err.Error())
				return nil, nil
			})
			s.GET("/", func(*internal.Context) (any, error) {
				return nil, errors.New("original")
			})
			return nil
		}))

		res := get(app, "/")
		assert.Equal(t, http.StatusConflict, res.Status)
		assert.Equal(t, "resolved", string(res.Body))
		assert.Equal(t, []string{"declined:original", "child:original", "root:replaced"}, seen)
	})

	t.Run("unresolved http error renders itself", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/", func(*internal.Context) (any, error) {
			return nil, internal.ErrNotFound("user not found", internal.WithErrorCode("user.missing"))
		})

		res := get(app, "/")
		assert.Equal(t, http.StatusNotFound, res.Status)
		body := errorBody(t, res)
		assert.Equal(t, "user not found", body["message"])
		assert.Equal(t, "user.missing", body["error_code"])
	})

	t.Run("unknown error is a generic 500", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/", func(*internal.Context) (any, error) {
			return nil, errors.New("connection refused to 10.0.0.1")
		})

		res := get(app, "/")
		assert.Equal(t, http.StatusInternalServerError, res.Status)
		assert.NotContains(t, string(res.Body), "10.0.0.1")
	})

	t.Run("panicking error hook passes a panic error on", func(t *testing.T) {
		t.Parallel()
		var got error
		app := internal.New()
		app.OnError(func(_ *internal.Context, err error) (*internal.Response, error) {
			got = err
			return nil, nil
		})
		app.OnError(func(*internal.Context, error) (*internal.Response, error) {
			panic("hook broke")
		})
		app.GET("/", func(*internal.Context) (any, error) {
			return nil, errors.New("original")
		})

		res := get(app, "/")
		assert.Equal(t, http.StatusInternalServerError, res.Status)
		var pe *internal.PanicError
		assert.ErrorAs(t, got, &pe)
	})

	t.Run("custom renderer", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/", func(*internal.Context) (any, error) {
			return nil, teapotError{}
		})

		res := get(app, "/")
		assert.Equal(t, http.StatusTeapot, res.Status)
		assert.Equal(t, "short and stout", string(res.Body))
	})

	t.Run("send hook failure in error branch", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.OnSend(func(*internal.Context, *internal.Response) (*internal.Response, error) {
			return nil, errors.New("send broke")
		})
		app.GET("/", ok("fine"))

		res := get(app, "/")
		assert.Equal(t, http.StatusInternalServerError, res.Status)
	})

	t.Run("error handler option", func(t *testing.T) {
		t.Parallel()
		errNoRows := errors.New("no rows")
		app := internal.New(internal.WithErrorHandler(func(_ *internal.Context, err error) (*internal.Response, error) {
			if errors.Is(err, errNoRows) {
				return nil, internal.ErrNotFound("missing")
			}
			return nil, nil
		}))
		app.GET("/", func(*internal.Context) (any, error) {
			return nil, errNoRows
		})

		assert.Equal(t, http.StatusNotFound, get(app, "/").Status)
	})
}

type teapotError struct{}

func (teapotError) Error() string { return "teapot" }

func (teapotError) Render(*internal.Context) (*internal.Response, error) {
	return internal.Text(http.StatusTeapot, "short and stout"), nil
}

func TestRedirect(t *testing.T) {
	t.Parallel()

	var hooked atomic.Bool
	app := internal.New()
	app.OnError(func(*internal.Context, error) (*internal.Response, error) {
		hooked.Store(true)
		return nil, nil
	})
	app.GET("/old", func(c *internal.Context) (any, error) {
		return nil, c.Redirect(http.StatusSeeOther, "/new")
	})
	app.GET("/bad-code", func(*internal.Context) (any, error) {
		return nil, internal.Redirect(http.StatusOK, "/new")
	})

	res := get(app, "/old")
	assert.Equal(t, http.StatusSeeOther, res.Status)
	assert.Equal(t, "/new", res.Header.Get("Location"))
	assert.False(t, hooked.Load())

	assert.Equal(t, http.StatusFound, get(app, "/bad-code").Status)
}

func TestPanicRecovery(t *testing.T) {
	t.Parallel()

	var got error
	app := internal.New()
	app.OnError(func(_ *internal.Context, err error) (*internal.Response, error) {
		got = err
		return nil, nil
	})
	app.GET("/", func(*internal.Context) (any, error) {
		panic(errors.New("nil map"))
	})

	res := get(app, "/")
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	var pe *internal.PanicError
	require.ErrorAs(t, got, &pe)
	assert.NotEmpty(t, pe.Stack)
	assert.EqualError(t, errors.Unwrap(pe), "nil map")
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	slow := func(c *internal.Context) (any, error) {
		select {
		case <-c.Done():
			return nil, c.Err()
		case <-time.After(5 * time.Second):
			return "late", nil
		}
	}

	t.Run("route deadline", func(t *testing.T) {
		t.Parallel()
		var cause error
		app := internal.New(internal.WithRequestTimeout(5 * time.Second))
		app.OnErrorSent(func(c *internal.Context, _ *internal.Response) error {
			cause = context.Cause(c)
			return nil
		})
		app.GET("/", slow, internal.Timeout(20*time.Millisecond))

		res := get(app, "/")
		assert.Equal(t, http.StatusServiceUnavailable, res.Status)
		assert.Equal(t, "Request Timeout", errorBody(t, res)["message"])
		var te *internal.TimeoutError
		require.ErrorAs(t, cause, &te)
		assert.Equal(t, 20*time.Millisecond, te.Duration)
	})

	t.Run("timeout hook answers", func(t *testing.T) {
		t.Parallel()
		app := internal.New(internal.WithRequestTimeout(20 * time.Millisecond))
		app.OnTimeout(func(*internal.Context) (*internal.Response, error) {
			return internal.Text(http.StatusGatewayTimeout, "too slow"), nil
		})
		app.GET("/", slow)

		res := get(app, "/")
		assert.Equal(t, http.StatusGatewayTimeout, res.Status)
		assert.Equal(t, "too slow", string(res.Body))
	})

	t.Run("negative route timeout disables the default", func(t *testing.T) {
		t.Parallel()
		app := internal.New(internal.WithRequestTimeout(time.Millisecond))
		app.GET("/", func(*internal.Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return "done", nil
		}, internal.Timeout(-1))

		res := get(app, "/")
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, "done", string(res.Body))
	})

	t.Run("client abort", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/", func(c *internal.Context) (any, error) {
			return map[string]bool{"aborted": c.Aborted()}, nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := app.Handle(httptest.NewRequestWithContext(ctx, http.MethodGet, "/", nil))
		assert.JSONEq(t, `{"aborted":true}`, string(res.Body))
	})
}

func TestRouting(t *testing.T) {
	t.Parallel()

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		var requested atomic.Bool
		app := internal.New()
		app.OnRequest(func(*internal.Context) (*internal.Response, error) {
			requested.Store(true)
			return nil, nil
		})
		app.GET("/users", ok("users"))

		res := get(app, "/missing")
		assert.Equal(t, http.StatusNotFound, res.Status)
		assert.False(t, requested.Load())
	})

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()
		var hookErr error
		app := internal.New()
		app.OnError(func(_ *internal.Context, err error) (*internal.Response, error) {
			hookErr = err
			return nil, nil
		})
		app.GET("/users", ok("users"))
		app.POST("/users", ok("created"))

		res := app.Handle(httptest.NewRequest(http.MethodDelete, "/users", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, res.Status)
		assert.Equal(t, "GET, POST", res.Header.Get("Allow"))
		assert.ErrorIs(t, hookErr, internal.ErrMethodNotAllowed)
	})

	t.Run("custom not found handler", func(t *testing.T) {
		t.Parallel()
		app := internal.New(internal.WithNotFoundHandler(func(c *internal.Context) (any, error) {
			c.Status(http.StatusNotFound)
			return "no such page: " + c.Path(), nil
		}))

		res := get(app, "/nowhere")
		assert.Equal(t, http.StatusNotFound, res.Status)
		assert.Equal(t, "no such page: /nowhere", string(res.Body))
	})

	t.Run("custom method not allowed handler", func(t *testing.T) {
		t.Parallel()
		app := internal.New(internal.WithMethodNotAllowedHandler(func(c *internal.Context) (any, error) {
			return c.String(http.StatusMethodNotAllowed, "try GET")
		}))
		app.GET("/only-get", ok("ok"))

		res := app.Handle(httptest.NewRequest(http.MethodPut, "/only-get", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, res.Status)
		assert.Equal(t, "try GET", string(res.Body))
	})
}

func TestResponseState(t *testing.T) {
	t.Parallel()

	t.Run("nil payload", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.DELETE("/a", func(*internal.Context) (any, error) { return nil, nil })
		app.DELETE("/b", func(c *internal.Context) (any, error) {
			c.Status(http.StatusAccepted)
			return nil, nil
		})

		assert.Equal(t, http.StatusNoContent, app.Handle(httptest.NewRequest(http.MethodDelete, "/a", nil)).Status)
		assert.Equal(t, http.StatusAccepted, app.Handle(httptest.NewRequest(http.MethodDelete, "/b", nil)).Status)
	})

	t.Run("headers merge without overriding", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/", func(c *internal.Context) (any, error) {
			c.SetHeader("X-State", "state")
			c.SetHeader("Content-Type", "text/csv")
			c.Status(http.StatusCreated)
			return "a,b", nil
		})
		app.GET("/explicit", func(c *internal.Context) (any, error) {
			c.SetHeader("X-Mode", "state")
			res := internal.Text(http.StatusOK, "explicit")
			res.Header.Set("X-Mode", "response")
			return res, nil
		})

		res := get(app, "/")
		assert.Equal(t, http.StatusCreated, res.Status)
		assert.Equal(t, "state", res.Header.Get("X-State"))
		assert.Equal(t, "text/csv", res.Header.Get("Content-Type"))

		assert.Equal(t, "response", get(app, "/explicit").Header.Get("X-Mode"))
	})

	t.Run("send hook state is applied", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.OnSend(func(c *internal.Context, _ *internal.Response) (*internal.Response, error) {
			c.SetHeader("X-Late", "late")
			return nil, nil
		})
		app.GET("/", ok("ok"))

		assert.Equal(t, "late", get(app, "/").Header.Get("X-Late"))
	})

	t.Run("send hook replaces the response", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.OnSend(func(_ *internal.Context, res *internal.Response) (*internal.Response, error) {
			out := res.Clone()
			out.Body = []byte(strings.ToUpper(string(res.Body)))
			return out, nil
		})
		app.GET("/", ok("quiet"))

		assert.Equal(t, "QUIET", string(get(app, "/").Body))
	})

	t.Run("locals are request private", func(t *testing.T) {
		t.Parallel()
		type userKey struct{}
		app := internal.New()
		app.OnRequest(func(c *internal.Context) (*internal.Response, error) {
			if u := c.Query("user"); u != "" {
				c.Set(userKey{}, u)
			}
			return nil, nil
		})
		app.GET("/", func(c *internal.Context) (any, error) {
			return "user=" + internal.LocalValue[string](c, userKey{}), nil
		})

		assert.Equal(t, "user=ann", string(get(app, "/?user=ann").Body))
		assert.Equal(t, "user=", string(get(app, "/").Body))
	})
}

func TestSerializers(t *testing.T) {
	t.Parallel()

	t.Run("default payload shapes", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/text", ok("hi"))
		app.GET("/bytes", func(*internal.Context) (any, error) { return []byte{1, 2}, nil })
		app.GET("/json", func(*internal.Context) (any, error) { return map[string]int{"n": 1}, nil })
		app.GET("/html", func(*internal.Context) (any, error) {
			return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
				_, err := io.WriteString(w, "<p>hi</p>")
				return err
			}), nil
		})

		text := get(app, "/text")
		assert.Equal(t, "text/plain; charset=utf-8", text.Header.Get("Content-Type"))

		bin := get(app, "/bytes")
		assert.Equal(t, "application/octet-stream", bin.Header.Get("Content-Type"))
		assert.Equal(t, []byte{1, 2}, bin.Body)

		js := get(app, "/json")
		assert.Equal(t, "application/json; charset=utf-8", js.Header.Get("Content-Type"))
		assert.JSONEq(t, `{"n":1}`, string(js.Body))

		html := get(app, "/html")
		assert.Equal(t, "text/html; charset=utf-8", html.Header.Get("Content-Type"))
		assert.Equal(t, "<p>hi</p>", string(html.Body))
	})

	t.Run("stream is written by ServeHTTP", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/stream", func(*internal.Context) (any, error) {
			return strings.NewReader("streamed body"), nil
		})

		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "streamed body", rec.Body.String())
	})

	t.Run("yaml on request", func(t *testing.T) {
		t.Parallel()
		app := internal.New(internal.WithSerializer(internal.YAMLSerializer(nil)))
		app.GET("/", func(*internal.Context) (any, error) { return map[string]string{"name": "arbor"}, nil })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept", "application/x-yaml, application/json;q=0.5")
		res := app.Handle(req)
		assert.Equal(t, "application/yaml", res.Header.Get("Content-Type"))
		assert.Equal(t, "name: arbor\n", string(res.Body))

		js := get(app, "/")
		assert.JSONEq(t, `{"name":"arbor"}`, string(js.Body))
	})

	t.Run("scope serializer", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.Register(internal.NewPlugin("upper", func(_ context.Context, s *internal.Scope, _ internal.PluginOptions) error {
			if err := s.SetSerializer(func(_ *internal.Context, v any) (*internal.Response, error) {
				return internal.Text(http.StatusOK, strings.ToUpper(v.(string))), nil
			}); err != nil {
				return err
			}
			s.GET("/upper", ok("loud"))
			return nil
		}))
		app.GET("/plain", ok("quiet"))

		assert.Equal(t, "LOUD", string(get(app, "/upper").Body))
		assert.Equal(t, "quiet", string(get(app, "/plain").Body))
	})

	t.Run("serializer failure", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.GET("/", func(*internal.Context) (any, error) { return make(chan int), nil })

		assert.Equal(t, http.StatusInternalServerError, get(app, "/").Status)
	})
}
