package internal

import (
	"reflect"
	"strconv"
)

// LocalValue returns a request-private value as T, or the zero value.
func LocalValue[T any](c *Context, key any) T {
	if v, ok := c.Get(key).(T); ok {
		return v
	}
	var zero T
	return zero
}

// Param retrieves a typed URL parameter. Unparsable values yield the zero value.
func Param[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Context, name string) T {
	v, _ := convertParam[T](c.Param(name))
	return v
}

// Query retrieves a typed query parameter. Unparsable values yield the zero value.
func Query[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Context, name string) T {
	v, _ := convertParam[T](c.Query(name))
	return v
}

// QueryDefault retrieves a typed query parameter with a default value.
// Returns defaultValue if the parameter is empty or cannot be parsed.
func QueryDefault[T ~string | ~int | ~int64 | ~float64 | ~bool](c *Context, name string, defaultValue T) T {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue
	}
	v, ok := convertParam[T](raw)
	if !ok {
		return defaultValue
	}
	return v
}

// Resolve returns the typed container entry of the request's scope.
func Resolve[T any](c *Context, key *Key[T]) (T, error) {
	return Require(c.Container(), key)
}

// convertParam converts raw to T, honoring named types through their underlying kind.
func convertParam[T ~string | ~int | ~int64 | ~float64 | ~bool](raw string) (T, bool) {
	var out T
	switch p := any(&out).(type) {
	case *string:
		*p = raw
		return out, true
	case *int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return out, false
		}
		*p = v
		return out, true
	case *int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return out, false
		}
		*p = v
		return out, true
	case *float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return out, false
		}
		*p = v
		return out, true
	case *bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return out, false
		}
		*p = v
		return out, true
	}
	return convertNamed[T](raw)
}

// convertNamed handles named types like `type UserID string`.
func convertNamed[T ~string | ~int | ~int64 | ~float64 | ~bool](raw string) (T, bool) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	switch rv.Kind() {
	case reflect.String:
		rv.SetString(raw)
	case reflect.Int, reflect.Int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return out, false
		}
		rv.SetInt(v)
	case reflect.Float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return out, false
		}
		rv.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return out, false
		}
		rv.SetBool(v)
	default:
		return out, false
	}
	return out, true
}
