package domain

import (
	"fmt"
	"sort"
	"time"
)

// RemoteUser is a key-value record returned by the directory API. It is
// owned entirely by the remote side; the engine reads it and proposes
// updates but never reshapes it.
type RemoteUser map[string]any

// Has reports whether the record carries the given key.
func (r RemoteUser) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Keys returns the record's field names, sorted.
func (r RemoteUser) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ID returns the remote identifier normalized to a string. JSON decoding
// yields float64 for numeric ids.
func (r RemoteUser) ID() string {
	return toString(r["id"])
}

func (r RemoteUser) Email() string    { return toString(r["email"]) }
func (r RemoteUser) Username() string { return toString(r["username"]) }
func (r RemoteUser) Name() string     { return toString(r["name"]) }
func (r RemoteUser) Password() string { return toString(r["password"]) }

// UpdatedAt parses the record's updated_at field, nil when absent or
// unparseable.
func (r RemoteUser) UpdatedAt() *time.Time {
	return toTimePtr(r["updated_at"])
}

// ValueString normalizes a column value for loose comparison and
// display. Numeric ids survive JSON decoding as float64, so equality is
// judged on this form rather than on raw types.
func ValueString(v any) string { return toString(v) }

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// Integer-valued ids survive the JSON round trip as float64.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func toTimePtr(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		return t
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed
			}
		}
		return nil
	default:
		return nil
	}
}
