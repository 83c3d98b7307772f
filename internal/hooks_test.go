package internal_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/arbor/internal"
)

func TestHooksAdd(t *testing.T) {
	t.Parallel()

	t.Run("accepts named and literal callbacks", func(t *testing.T) {
		t.Parallel()
		h := internal.NewHooks(nil)

		require.NoError(t, h.Add(internal.HookRequest, internal.RequestHook(func(*internal.Context) (*internal.Response, error) {
			return nil, nil
		})))
		require.NoError(t, h.Add(internal.HookRequest, func(*internal.Context) (*internal.Response, error) {
			return nil, nil
		}))
		require.NoError(t, h.Add(internal.HookClose, func(context.Context) error { return nil }))
		require.NoError(t, h.Add(internal.HookSent, func(*internal.Context, *internal.Response) error { return nil }))
		require.NoError(t, h.Add(internal.HookErrorSent, func(*internal.Context, *internal.Response) error { return nil }))

		assert.Equal(t, 2, h.Len(internal.HookRequest))
		assert.Equal(t, 1, h.Len(internal.HookClose))
		assert.Equal(t, 1, h.Len(internal.HookSent))
		assert.Equal(t, 1, h.Len(internal.HookErrorSent))
		assert.Zero(t, h.Len(internal.HookReady))
	})

	t.Run("rejects mismatched callback", func(t *testing.T) {
		t.Parallel()
		h := internal.NewHooks(nil)

		err := h.Add(internal.HookSend, func(*internal.Context) error { return nil })
		assert.ErrorIs(t, err, internal.ErrHookType)
		assert.Zero(t, h.Len(internal.HookSend))
	})

	t.Run("rejects nil callback", func(t *testing.T) {
		t.Parallel()
		err := internal.NewHooks(nil).Add(internal.HookError, nil)
		assert.ErrorIs(t, err, internal.ErrHookType)
	})

	t.Run("rejects unknown name", func(t *testing.T) {
		t.Parallel()
		err := internal.NewHooks(nil).Add("onBogus", func() {})
		assert.ErrorIs(t, err, internal.ErrUnknownHook)
	})

	t.Run("server hook names", func(t *testing.T) {
		t.Parallel()
		for _, name := range internal.HookNames {
			want := name == internal.HookReady || name == internal.HookClose ||
				name == internal.HookListen || name == internal.HookRegister
			assert.Equal(t, want, internal.IsServerHook(name), name)
		}
	})
}

func TestHooksDerive(t *testing.T) {
	t.Parallel()

	parent := internal.NewHooks(nil)
	require.NoError(t, parent.Add(internal.HookSend, func(*internal.Context, *internal.Response) (*internal.Response, error) {
		return nil, nil
	}))

	child := parent.Derive()
	assert.Equal(t, 1, child.Len(internal.HookSend))

	require.NoError(t, child.Add(internal.HookSend, func(*internal.Context, *internal.Response) (*internal.Response, error) {
		return nil, nil
	}))
	assert.Equal(t, 2, child.Len(internal.HookSend))
	assert.Equal(t, 1, parent.Len(internal.HookSend))

	require.NoError(t, child.Add(internal.HookReady, func(context.Context) error { return nil }))
	assert.Equal(t, 1, parent.Len(internal.HookReady))
}

func TestOrderPolicy(t *testing.T) {
	t.Parallel()

	p := internal.DefaultOrderPolicy()
	assert.Equal(t, internal.Forward, p.Direction(internal.HookRequest))
	assert.Equal(t, internal.Forward, p.Direction(internal.HookTransform))
	assert.Equal(t, internal.Reverse, p.Direction(internal.HookSend))
	assert.Equal(t, internal.Reverse, p.Direction(internal.HookError))
	assert.Equal(t, internal.Reverse, p.Direction(internal.HookClose))
	assert.Equal(t, internal.Forward, p.Direction("unknown"))
}

// trace records hook invocations for order assertions.
type trace struct {
	calls []string
}

func (tr *trace) add(s string) { tr.calls = append(tr.calls, s) }

func TestHookOrderAcrossScopes(t *testing.T) {
	t.Parallel()

	tr := &trace{}
	app := internal.New()
	app.OnRequest(func(*internal.Context) (*internal.Response, error) {
		tr.add("request:root")
		return nil, nil
	})
	app.OnTransform(func(_ *internal.Context, v any) (any, error) {
		tr.add("transform:root")
		return v, nil
	})
	app.OnSend(func(*internal.Context, *internal.Response) (*internal.Response, error) {
		tr.add("send:root")
		return nil, nil
	})
	app.OnSent(func(*internal.Context, *internal.Response) error {
		tr.add("sent:root")
		return nil
	})
	app.Register(internal.NewPlugin("child", func(_ context.Context, s *internal.Scope, _ internal.PluginOptions) error {
		s.OnRequest(func(*internal.Context) (*internal.Response, error) {
			tr.add("request:child")
			return nil, nil
		})
		s.OnTransform(func(_ *internal.Context, v any) (any, error) {
			tr.add("transform:child")
			return v, nil
		})
		s.OnSend(func(*internal.Context, *internal.Response) (*internal.Response, error) {
			tr.add("send:child")
			return nil, nil
		})
		s.OnSent(func(*internal.Context, *internal.Response) error {
			tr.add("sent:child")
			return nil
		})
		s.GET("/", func(*internal.Context) (any, error) {
			tr.add("handler")
			return "ok", nil
		})
		return nil
	}))

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{
		"request:root", "request:child",
		"handler",
		"transform:root", "transform:child",
		"send:child", "send:root",
		"sent:child", "sent:root",
	}, tr.calls)
}

func TestTransformOrderReverse(t *testing.T) {
	t.Parallel()

	app := internal.New(internal.WithTransformOrder(internal.Reverse))
	app.OnTransform(func(_ *internal.Context, v any) (any, error) {
		return v.(string) + "-root", nil
	})
	app.Register(internal.NewPlugin("child", func(_ context.Context, s *internal.Scope, _ internal.PluginOptions) error {
		s.OnTransform(func(_ *internal.Context, v any) (any, error) {
			return v.(string) + "-child", nil
		})
		s.GET("/", func(*internal.Context) (any, error) { return "v", nil })
		return nil
	}))

	res := app.Handle(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "v-child-root", string(res.Body))
}

func TestSentHookFailuresDoNotStopOthers(t *testing.T) {
	t.Parallel()

	var ran []string
	app := internal.New()
	app.OnSent(func(*internal.Context, *internal.Response) error {
		ran = append(ran, "first")
		return nil
	})
	app.OnSent(func(*internal.Context, *internal.Response) error {
		ran = append(ran, "failing")
		return errors.New("boom")
	})
	app.OnSent(func(*internal.Context, *internal.Response) error {
		ran = append(ran, "panicking")
		panic("sent hook")
	})
	app.GET("/", func(*internal.Context) (any, error) { return "ok", nil })

	res := app.Handle(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "panicking,failing,first", strings.Join(ran, ","))
}

func TestHookPlugins(t *testing.T) {
	t.Parallel()

	t.Run("single hook joins the registering scope", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.Register(internal.HookPlugin(internal.HookSend, func(_ *internal.Context, res *internal.Response) (*internal.Response, error) {
			res.Header.Set("X-Hooked", "yes")
			return nil, nil
		}))
		app.GET("/", func(*internal.Context) (any, error) { return "ok", nil })

		res := app.Handle(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "yes", res.Header.Get("X-Hooked"))
		assert.True(t, internal.HookPlugin(internal.HookSend, nil).IsOpaque())
	})

	t.Run("batch keeps per-name order", func(t *testing.T) {
		t.Parallel()
		var calls []string
		step := func(name string) func(*internal.Context) (*internal.Response, error) {
			return func(*internal.Context) (*internal.Response, error) {
				calls = append(calls, name)
				return nil, nil
			}
		}

		app := internal.New()
		app.Register(internal.DefineHooks(map[internal.HookName][]any{
			internal.HookRequest: {step("first"), step("second")},
			internal.HookSent: {func(*internal.Context, *internal.Response) error {
				calls = append(calls, "sent")
				return nil
			}},
		}))
		app.GET("/", func(*internal.Context) (any, error) { return "ok", nil })

		res := app.Handle(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, []string{"first", "second", "sent"}, calls)
	})

	t.Run("mismatched callback fails boot", func(t *testing.T) {
		t.Parallel()
		app := internal.New()
		app.Register(internal.DefineHooks(map[internal.HookName][]any{
			internal.HookSend: {func(*internal.Context) error { return nil }},
		}))
		assert.ErrorIs(t, app.Ready(context.Background()), internal.ErrHookType)

		app = internal.New()
		app.Register(internal.HookPlugin("onBogus", func() {}))
		assert.ErrorIs(t, app.Ready(context.Background()), internal.ErrUnknownHook)
	})
}
