package internal

import (
	"fmt"
	"strings"
)

// ExtractorSource reads a value from the request.
// Returns the value and true if found, or ("", false) if not present.
type ExtractorSource = func(*Context) (string, bool)

// Extractor tries multiple sources in order and returns the first match.
type Extractor struct {
	sources []ExtractorSource
}

// NewExtractor creates an Extractor that tries the given sources in order.
func NewExtractor(sources ...ExtractorSource) Extractor {
	return Extractor{sources: sources}
}

// Extract returns the first non-empty value.
func (e Extractor) Extract(c *Context) (string, bool) {
	for _, src := range e.sources {
		if v, ok := src(c); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Empty reports whether the extractor has no sources.
func (e Extractor) Empty() bool {
	return len(e.sources) == 0
}

func nonEmpty(v string) (string, bool) {
	return v, v != ""
}

// FromHeader reads a request header.
func FromHeader(name string) ExtractorSource {
	return func(c *Context) (string, bool) {
		return nonEmpty(c.Header(name))
	}
}

// FromQuery reads a query parameter.
func FromQuery(name string) ExtractorSource {
	return func(c *Context) (string, bool) {
		return nonEmpty(c.Query(name))
	}
}

// FromParam reads a URL parameter.
func FromParam(name string) ExtractorSource {
	return func(c *Context) (string, bool) {
		return nonEmpty(c.Param(name))
	}
}

// FromCookie reads a plain request cookie.
func FromCookie(name string) ExtractorSource {
	return func(c *Context) (string, bool) {
		ck, err := c.Request().Cookie(name)
		if err != nil {
			return "", false
		}
		return nonEmpty(ck.Value)
	}
}

// FromLocal reads a request-private value set with Context.Set.
// Non-string values are formatted with fmt.Sprint.
func FromLocal(key any) ExtractorSource {
	return func(c *Context) (string, bool) {
		val, ok := c.Local(key)
		if !ok || val == nil {
			return "", false
		}
		if s, ok := val.(string); ok {
			return nonEmpty(s)
		}
		return nonEmpty(fmt.Sprint(val))
	}
}

// FromBearerToken reads a Bearer token from the Authorization header.
// The "Bearer " prefix is matched case-insensitively.
func FromBearerToken() ExtractorSource {
	return func(c *Context) (string, bool) {
		auth := c.Header("Authorization")
		if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
			return "", false
		}
		return nonEmpty(auth[7:])
	}
}
