package rag

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metadata values come back from the backends with different Go types:
// JSON decoding yields float64 for numbers, Qdrant yields int64 or float64.
// These helpers normalise them.

// MetaString returns the string form of md[key], or "" if absent.
func MetaString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// MetaInt returns md[key] as an int, or 0 if absent or not numeric.
func MetaInt(md map[string]any, key string) int {
	switch x := md[key].(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case float64:
		return int(x)
	case float32:
		return int(x)
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// MetaTime parses md[key] as an RFC 3339 timestamp. The second return value
// is false when the field is absent or unparseable.
func MetaTime(md map[string]any, key string) (time.Time, bool) {
	s := MetaString(md, key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatTime renders t the way upload_date is stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseDateBound parses a search date bound given as an RFC 3339 timestamp or
// a bare YYYY-MM-DD date (UTC). A bare upper bound (endOfDay) covers the whole
// day. An empty string yields nil.
func ParseDateBound(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return &d, nil
}
