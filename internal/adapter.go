package internal

import (
	"bytes"
	"net/http"
)

// WrapHTTP adapts a standard http.Handler to a HandlerFunc. The handler
// writes into a buffer which becomes the Response, so hooks still see it.
// Streaming and hijacking are not supported.
//
// Example:
//
//	s.GET("/metrics", arbor.WrapHTTP(promhttp.Handler()))
func WrapHTTP(h http.Handler) HandlerFunc {
	return func(c *Context) (any, error) {
		rec := &bufferedWriter{header: make(http.Header)}
		h.ServeHTTP(rec, c.Request().WithContext(c))
		res := NewResponse(rec.status, rec.body.Bytes())
		res.Header = rec.header
		if res.Status == 0 {
			res.Status = http.StatusOK
		}
		return res, nil
	}
}

// bufferedWriter is an http.ResponseWriter that records into memory.
type bufferedWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (w *bufferedWriter) Header() http.Header {
	return w.header
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}
