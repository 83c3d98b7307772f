package internal

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"gopkg.in/yaml.v3"
)

// Serializer turns a handler payload into a Response.
type Serializer func(c *Context, v any) (*Response, error)

// DefaultSerializer handles the common payload shapes:
//   - *Response is used as is
//   - nil produces an empty body (204 unless a status was set)
//   - string is sent as text/plain, []byte as application/octet-stream
//   - templ.Component is rendered as text/html
//   - io.Reader is streamed
//   - anything else is encoded as JSON
//
// Content-Type is only set when the handler did not set one.
func DefaultSerializer(c *Context, v any) (*Response, error) {
	switch p := v.(type) {
	case *Response:
		if p == nil {
			return emptyResponse(c), nil
		}
		return p, nil
	case nil:
		return emptyResponse(c), nil
	case string:
		res := NewResponse(0, []byte(p))
		defaultContentType(c, res, "text/plain; charset=utf-8")
		return res, nil
	case []byte:
		res := NewResponse(0, p)
		defaultContentType(c, res, "application/octet-stream")
		return res, nil
	case templ.Component:
		var buf bytes.Buffer
		if err := p.Render(c, &buf); err != nil {
			return nil, err
		}
		res := NewResponse(0, buf.Bytes())
		defaultContentType(c, res, "text/html; charset=utf-8")
		return res, nil
	case io.Reader:
		res := NewResponse(0, nil)
		res.Stream = p
		defaultContentType(c, res, "application/octet-stream")
		return res, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	res := NewResponse(0, data)
	defaultContentType(c, res, "application/json; charset=utf-8")
	return res, nil
}

func emptyResponse(c *Context) *Response {
	if c.StatusCode() == 0 {
		return NewResponse(http.StatusNoContent, nil)
	}
	return NewResponse(0, nil)
}

func defaultContentType(c *Context, res *Response, ct string) {
	if c.ResponseState().Header.Get("Content-Type") != "" {
		return
	}
	res.Header.Set("Content-Type", ct)
}

// YAMLSerializer encodes structured payloads as YAML when the client accepts
// it and delegates everything else to next.
func YAMLSerializer(next Serializer) Serializer {
	if next == nil {
		next = DefaultSerializer
	}
	return func(c *Context, v any) (*Response, error) {
		switch v.(type) {
		case nil, *Response, string, []byte, templ.Component, io.Reader:
			return next(c, v)
		}
		if !acceptsYAML(c.Header("Accept")) {
			return next(c, v)
		}
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, err
		}
		res := NewResponse(0, data)
		defaultContentType(c, res, "application/yaml")
		return res, nil
	}
}

func acceptsYAML(accept string) bool {
	for part := range strings.SplitSeq(accept, ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.ToLower(mt) {
		case "application/yaml", "application/x-yaml", "text/yaml":
			return true
		}
	}
	return false
}
