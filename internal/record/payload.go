package record

import "encoding/json"

// Payload field coercion for decoded JSONL lines. Payloads are opaque on
// the wire, so readers take what fits the expected shape and ignore the
// rest; a malformed field reads as its zero value, never an error.

// PayloadString returns the string at key, or "" when absent or not a
// string.
func PayloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// PayloadFloat returns the number at key, or def when absent or not a
// number. Accepts json.Number so callers may decode with or without
// UseNumber.
func PayloadFloat(p map[string]any, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return def
		}
		return f
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// PayloadStrings returns the string list at key, dropping non-string
// elements. Absent or malformed keys read as nil.
func PayloadStrings(p map[string]any, key string) []string {
	items, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
