package internal

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// Response is the materialized outcome of one request.
// Body holds buffered bytes; Stream, when set, is copied after Body.
type Response struct {
	Header http.Header
	Stream io.Reader
	Body   []byte
	Status int
}

// NewResponse creates a Response with an empty header set.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		Status: status,
		Header: make(http.Header),
		Body:   body,
	}
}

// JSON encodes v and returns a Response with a JSON content type.
func JSON(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	res := NewResponse(status, data)
	res.Header.Set("Content-Type", "application/json; charset=utf-8")
	return res, nil
}

// Text returns a plain text Response.
func Text(status int, s string) *Response {
	res := NewResponse(status, []byte(s))
	res.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return res
}

// NoContent returns a Response without a body.
func NoContent(status int) *Response {
	return NewResponse(status, nil)
}

// Clone returns a copy whose header and body can be mutated independently.
// Streams cannot be duplicated and are shared.
func (r *Response) Clone() *Response {
	out := &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Stream: r.Stream,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// WriteTo writes the response to an http.ResponseWriter.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	h := w.Header()
	for k, vv := range r.Header {
		h[k] = vv
	}
	if r.Stream == nil && h.Get("Content-Length") == "" && len(r.Body) > 0 {
		h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) > 0 {
		if _, err := w.Write(r.Body); err != nil {
			return err
		}
	}
	if r.Stream != nil {
		_, err := io.Copy(w, r.Stream)
		if c, ok := r.Stream.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	}
	return nil
}

// ResponseState is the mutable response data hooks and handlers write before
// the final Response is materialized.
type ResponseState struct {
	Header     http.Header
	StatusText string
	Status     int
}

func newResponseState() *ResponseState {
	return &ResponseState{Header: make(http.Header)}
}

// apply merges the state into res: headers are added only when absent,
// and the state status fills an unset response status.
func (s *ResponseState) apply(res *Response) {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	for k, vv := range s.Header {
		if _, ok := res.Header[k]; !ok {
			res.Header[k] = append([]string(nil), vv...)
		}
	}
	if res.Status == 0 {
		res.Status = s.Status
	}
	if res.Status == 0 {
		res.Status = http.StatusOK
	}
}
