package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
)

// HookName identifies a lifecycle or server event.
type HookName string

// Server hooks are process-wide; lifecycle hooks are per request.
const (
	HookClose    HookName = "close"
	HookListen   HookName = "listen"
	HookReady    HookName = "ready"
	HookRegister HookName = "register"

	HookRequest   HookName = "request"
	HookTransform HookName = "transform"
	HookSend      HookName = "send"
	HookError     HookName = "error"
	HookSent      HookName = "sent"
	HookErrorSent HookName = "errorSent"
	HookTimeout   HookName = "timeout"
)

// HookNames lists every known hook name.
var HookNames = []HookName{
	HookClose, HookListen, HookReady, HookRegister,
	HookRequest, HookTransform, HookSend, HookError, HookSent, HookErrorSent, HookTimeout,
}

// IsServerHook reports whether name is one of the server hooks.
func IsServerHook(name HookName) bool {
	switch name {
	case HookClose, HookListen, HookReady, HookRegister:
		return true
	}
	return false
}

type (
	// RequestHook runs before routing dispatch. A non-nil Response short-circuits the request.
	RequestHook func(c *Context) (*Response, error)

	// TransformHook receives the handler result and returns the value passed to the next hook.
	TransformHook func(c *Context, v any) (any, error)

	// SendHook runs after serialization. A non-nil Response replaces the current one.
	SendHook func(c *Context, res *Response) (*Response, error)

	// ErrorHook may resolve an error with a Response, decline with (nil, nil),
	// or return a new error that is passed to the next error hook.
	ErrorHook func(c *Context, err error) (*Response, error)

	// SentHook is notified after a response is committed. Errors are logged only.
	SentHook func(c *Context, res *Response) error

	// TimeoutHook runs when a route exceeds its deadline. A non-nil Response is sent as is.
	TimeoutHook func(c *Context) (*Response, error)

	// ServerHook runs on ready and close.
	ServerHook func(ctx context.Context) error

	// ListenHook runs once the transport is bound.
	ListenHook func(ctx context.Context, addr net.Addr) error

	// RegisterHook runs whenever a plugin creates a child scope.
	RegisterHook func(s *Scope) error
)

// Direction is the iteration order of a hook collection.
type Direction int

const (
	// Forward runs hooks in registration order (parent before child).
	Forward Direction = iota
	// Reverse runs the most recently registered hooks first (child before parent).
	Reverse
)

// OrderPolicy maps hook names to their dispatch direction.
type OrderPolicy map[HookName]Direction

// DefaultOrderPolicy returns the standard ordering with transform hooks forward.
func DefaultOrderPolicy() OrderPolicy {
	return OrderPolicy{
		HookRequest:   Forward,
		HookTransform: Forward,
		HookListen:    Forward,
		HookReady:     Forward,
		HookRegister:  Forward,
		HookClose:     Reverse,
		HookSend:      Reverse,
		HookSent:      Reverse,
		HookError:     Reverse,
		HookErrorSent: Reverse,
		HookTimeout:   Reverse,
	}
}

// Direction returns the dispatch direction for name. Unknown names run forward.
func (p OrderPolicy) Direction(name HookName) Direction {
	return p[name]
}

func (p OrderPolicy) clone() OrderPolicy {
	out := make(OrderPolicy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// hookList is an insertion-ordered, concurrency-safe list of callbacks.
type hookList[T any] struct {
	items []T
	mu    sync.RWMutex
}

func (l *hookList[T]) add(fn T) {
	l.mu.Lock()
	l.items = append(l.items, fn)
	l.mu.Unlock()
}

func (l *hookList[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// ordered returns a snapshot in dispatch order.
func (l *hookList[T]) ordered(dir Direction) []T {
	l.mu.RLock()
	out := slices.Clone(l.items)
	l.mu.RUnlock()
	if dir == Reverse {
		slices.Reverse(out)
	}
	return out
}

func (l *hookList[T]) copy() *hookList[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &hookList[T]{items: slices.Clone(l.items)}
}

// Hooks is a scope's hook store.
// Server hook lists are shared by every scope of an application;
// lifecycle hook lists are copied when a child scope is derived.
type Hooks struct {
	policy OrderPolicy

	ready    *hookList[ServerHook]
	close    *hookList[ServerHook]
	listen   *hookList[ListenHook]
	register *hookList[RegisterHook]

	request    *hookList[RequestHook]
	transform  *hookList[TransformHook]
	send       *hookList[SendHook]
	errorHooks *hookList[ErrorHook]
	sent       *hookList[SentHook]
	errorSent  *hookList[SentHook]
	timeout    *hookList[TimeoutHook]
}

// NewHooks creates an empty root hook store. A nil policy uses DefaultOrderPolicy.
func NewHooks(policy OrderPolicy) *Hooks {
	if policy == nil {
		policy = DefaultOrderPolicy()
	}
	return &Hooks{
		policy:     policy.clone(),
		ready:      &hookList[ServerHook]{},
		close:      &hookList[ServerHook]{},
		listen:     &hookList[ListenHook]{},
		register:   &hookList[RegisterHook]{},
		request:    &hookList[RequestHook]{},
		transform:  &hookList[TransformHook]{},
		send:       &hookList[SendHook]{},
		errorHooks: &hookList[ErrorHook]{},
		sent:       &hookList[SentHook]{},
		errorSent:  &hookList[SentHook]{},
		timeout:    &hookList[TimeoutHook]{},
	}
}

// Derive creates a child store: server lists are shared, lifecycle lists are copied.
func (h *Hooks) Derive() *Hooks {
	return &Hooks{
		policy:     h.policy,
		ready:      h.ready,
		close:      h.close,
		listen:     h.listen,
		register:   h.register,
		request:    h.request.copy(),
		transform:  h.transform.copy(),
		send:       h.send.copy(),
		errorHooks: h.errorHooks.copy(),
		sent:       h.sent.copy(),
		errorSent:  h.errorSent.copy(),
		timeout:    h.timeout.copy(),
	}
}

// Policy returns the store's order policy.
func (h *Hooks) Policy() OrderPolicy {
	return h.policy
}

// Len returns the number of callbacks registered under name.
func (h *Hooks) Len(name HookName) int {
	switch name {
	case HookReady:
		return h.ready.len()
	case HookClose:
		return h.close.len()
	case HookListen:
		return h.listen.len()
	case HookRegister:
		return h.register.len()
	case HookRequest:
		return h.request.len()
	case HookTransform:
		return h.transform.len()
	case HookSend:
		return h.send.len()
	case HookError:
		return h.errorHooks.len()
	case HookSent:
		return h.sent.len()
	case HookErrorSent:
		return h.errorSent.len()
	case HookTimeout:
		return h.timeout.len()
	}
	return 0
}

// Add registers callback under name. Both the named hook types and plain
// function literals with the matching signature are accepted.
func (h *Hooks) Add(name HookName, callback any) error {
	if callback == nil {
		return fmt.Errorf("%w: nil callback for %q", ErrHookType, name)
	}
	ok := false
	switch name {
	case HookReady, HookClose:
		var fn ServerHook
		switch f := callback.(type) {
		case ServerHook:
			fn, ok = f, true
		case func(context.Context) error:
			fn, ok = f, true
		}
		if ok {
			if name == HookReady {
				h.ready.add(fn)
			} else {
				h.close.add(fn)
			}
		}
	case HookListen:
		switch f := callback.(type) {
		case ListenHook:
			h.listen.add(f)
			ok = true
		case func(context.Context, net.Addr) error:
			h.listen.add(f)
			ok = true
		}
	case HookRegister:
		switch f := callback.(type) {
		case RegisterHook:
			h.register.add(f)
			ok = true
		case func(*Scope) error:
			h.register.add(f)
			ok = true
		}
	case HookRequest:
		switch f := callback.(type) {
		case RequestHook:
			h.request.add(f)
			ok = true
		case func(*Context) (*Response, error):
			h.request.add(f)
			ok = true
		}
	case HookTimeout:
		switch f := callback.(type) {
		case TimeoutHook:
			h.timeout.add(f)
			ok = true
		case func(*Context) (*Response, error):
			h.timeout.add(f)
			ok = true
		}
	case HookTransform:
		switch f := callback.(type) {
		case TransformHook:
			h.transform.add(f)
			ok = true
		case func(*Context, any) (any, error):
			h.transform.add(f)
			ok = true
		}
	case HookSend:
		switch f := callback.(type) {
		case SendHook:
			h.send.add(f)
			ok = true
		case func(*Context, *Response) (*Response, error):
			h.send.add(f)
			ok = true
		}
	case HookError:
		switch f := callback.(type) {
		case ErrorHook:
			h.errorHooks.add(f)
			ok = true
		case func(*Context, error) (*Response, error):
			h.errorHooks.add(f)
			ok = true
		}
	case HookSent, HookErrorSent:
		var fn SentHook
		switch f := callback.(type) {
		case SentHook:
			fn, ok = f, true
		case func(*Context, *Response) error:
			fn, ok = f, true
		}
		if ok {
			if name == HookSent {
				h.sent.add(fn)
			} else {
				h.errorSent.add(fn)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownHook, name)
	}
	if !ok {
		return fmt.Errorf("%w: %q got %T", ErrHookType, name, callback)
	}
	return nil
}

func (h *Hooks) dir(name HookName) Direction {
	return h.policy.Direction(name)
}

// runRequest returns the first non-nil Response or the first error.
func (h *Hooks) runRequest(c *Context) (*Response, error) {
	for _, fn := range h.request.ordered(h.dir(HookRequest)) {
		res, err := fn(c)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// runTransform threads v through every transform hook.
func (h *Hooks) runTransform(c *Context, v any) (any, error) {
	var err error
	for _, fn := range h.transform.ordered(h.dir(HookTransform)) {
		if v, err = fn(c, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// runSend lets each send hook replace the response.
func (h *Hooks) runSend(c *Context, res *Response) (*Response, error) {
	for _, fn := range h.send.ordered(h.dir(HookSend)) {
		next, err := fn(c, res)
		if err != nil {
			return nil, err
		}
		if next != nil {
			res = next
		}
	}
	return res, nil
}

// runError walks the error hooks. It returns the resolving Response, or nil
// together with the last error seen when no hook resolved it.
func (h *Hooks) runError(c *Context, err error) (*Response, error) {
	for _, fn := range h.errorHooks.ordered(h.dir(HookError)) {
		res, herr := callErrorHook(fn, c, err)
		if herr != nil {
			err = herr
			continue
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, err
}

// callErrorHook converts a panicking error hook into the next error.
func callErrorHook(fn ErrorHook, c *Context, err error) (res *Response, herr error) {
	defer func() {
		if r := recover(); r != nil {
			res, herr = nil, newPanicError(r)
		}
	}()
	return fn(c, err)
}

// runSent notifies every sent (or errorSent) hook. Failures and panics are
// collected and returned; they never stop the remaining hooks.
func (h *Hooks) runSent(c *Context, name HookName, res *Response) error {
	list := h.sent
	if name == HookErrorSent {
		list = h.errorSent
	}
	var errs []error
	for _, fn := range list.ordered(h.dir(name)) {
		if err := callSentHook(fn, c, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func callSentHook(fn SentHook, c *Context, res *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn(c, res)
}

func (h *Hooks) runTimeout(c *Context) (*Response, error) {
	for _, fn := range h.timeout.ordered(h.dir(HookTimeout)) {
		res, err := fn(c)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// runReady stops at the first failing hook.
func (h *Hooks) runReady(ctx context.Context) error {
	for _, fn := range h.ready.ordered(h.dir(HookReady)) {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runClose runs every close hook and joins their errors.
func (h *Hooks) runClose(ctx context.Context) error {
	var errs []error
	for _, fn := range h.close.ordered(h.dir(HookClose)) {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hooks) runListen(ctx context.Context, addr net.Addr) error {
	for _, fn := range h.listen.ordered(h.dir(HookListen)) {
		if err := fn(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) runRegister(s *Scope) error {
	for _, fn := range h.register.ordered(h.dir(HookRegister)) {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}
