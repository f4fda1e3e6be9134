package dispatcher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload is the normalized request data forwarded to a handler. Values come
// from JSON bodies (float64, bool, string, []any, map[string]any) or form
// fields (string), so the accessors below convert leniently between the two.
type Payload map[string]any

// Has reports whether key is present, even with a nil value.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value at key rendered as a string; "" when absent or nil.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// Float returns the value at key as a float64.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns the value at key as an int. Fractional numbers are rejected.
func (p Payload) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Bool returns the value at key as a bool. Form-style strings ("1", "on",
// "true", "yes" and their negatives) are accepted.
func (p Payload) Bool(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes":
			return true, true
		case "0", "false", "off", "no", "":
			return false, true
		}
	}
	return false, false
}

// Missing returns the first of fields that is absent, nil, or a blank string.
func (p Payload) Missing(fields ...string) string {
	for _, f := range fields {
		v, ok := p[f]
		if !ok || v == nil {
			return f
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return f
		}
	}
	return ""
}

// Decode copies the payload into v through a JSON round trip.
func (p Payload) Decode(v any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s - encode payload: %w", logPrefix, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - decode payload: %w", logPrefix, err)
	}
	return nil
}

// Clone returns a shallow copy of p.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
