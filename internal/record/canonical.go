package record

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalBytes returns the RFC 8785 (JCS) canonical serialization of v.
//
// Canonicalization guarantees: object keys sorted by UTF-16 code units,
// minimal string escaping, ES6 shortest-round-trip number formatting.
// Two records with the same logical content always canonicalize to the
// same bytes, which is what makes content hashes and idempotency keys
// stable across processes.
func CanonicalBytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// DecodeFields decodes a record (struct or raw line) into a field map,
// preserving number text exactly via json.Number. Used to strip excluded
// fields before hashing and to recompute hashes of stored lines.
func DecodeFields(v any) (map[string]any, error) {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case json.RawMessage:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonical: marshal: %w", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("canonical: decode fields: %w", err)
	}
	return fields, nil
}
