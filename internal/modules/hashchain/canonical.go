// Package hashchain implements the canonical serialization and SHA-256
// chaining that make settlement records tamper-evident. Each record's hash
// covers the previous record's hash, so altering record N forces a recompute
// of every record from N to the head of the chain.
package hashchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonical produces a deterministic JSON encoding of v: object keys sorted
// lexicographically at every level, no insignificant whitespace, numbers in
// shortest round-trip form, instants as RFC-3339 strings (time.Time marshals
// through its JSON encoding), booleans and nulls as JSON literals.
//
// Values the serializer cannot represent (channels, functions, NaN, ±Inf)
// are rejected with an error rather than silently coerced.
func Canonical(v interface{}) ([]byte, error) {
	// First pass through encoding/json validates the value and applies
	// struct tags and custom marshalers (time.Time → RFC-3339).
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not canonically serializable: %w", err)
	}

	// Decode with UseNumber so numeric lexical forms survive untouched;
	// a float64 round trip here could silently lose precision.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode intermediate form: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCanonical emits the decoded JSON tree with sorted object keys.
func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")

	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case json.Number:
		buf.WriteString(val.String())

	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to encode string: %w", err)
		}
		buf.Write(encoded)

	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("failed to encode key %q: %w", k, err)
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return fmt.Errorf("unsupported canonical value type %T", v)
	}

	return nil
}
