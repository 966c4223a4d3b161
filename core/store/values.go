package store

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// AsInt64 coerces numeric values read from any backend into int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// MustInt64 is AsInt64 returning zero for non-numeric values.
func MustInt64(v any) int64 {
	n, _ := AsInt64(v)
	return n
}

// AsString renders scalar values as strings. Nil becomes the empty string.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case *string:
		if s == nil {
			return ""
		}
		return *s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// AsTime coerces stored timestamps. Strings are parsed as RFC 3339.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	case []byte:
		return AsTime(string(t))
	}
	return time.Time{}, false
}

// IsNil reports whether v is nil or a nil pointer, including a nil entity
// pointer held by an association field.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func deref(v any) any {
	switch p := v.(type) {
	case *string:
		if p != nil {
			return *p
		}
		return nil
	case *int64:
		if p != nil {
			return *p
		}
		return nil
	case *int:
		if p != nil {
			return *p
		}
		return nil
	case *time.Time:
		if p != nil {
			return *p
		}
		return nil
	case []byte:
		return string(p)
	}
	return v
}

// Compare orders two scalar values. Numbers compare numerically across
// integer and float types, strings lexically and times chronologically. The
// second result is false when the values are not comparable.
func Compare(a, b any) (int, bool) {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		return 0, false
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := AsTime(b); ok {
			return at.Compare(bt), true
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1, true
			case as > bs:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			if ab == bb {
				return 0, true
			}
			if !ab {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

// Equal reports whether two stored values are equal, treating nil pointers
// and nil alike and numbers across widths.
func Equal(a, b any) bool {
	if IsNil(a) || IsNil(b) {
		return IsNil(a) && IsNil(b)
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return fmt.Sprint(deref(a)) == fmt.Sprint(deref(b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string, []byte:
		return 0, false
	}
	i, ok := AsInt64(v)
	return float64(i), ok
}
