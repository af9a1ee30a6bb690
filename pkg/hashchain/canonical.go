// Package hashchain computes the tamper-evident per-session hash chain.
//
// Hashes are SHA-256 over a canonical JSON serialization: object keys sorted
// lexicographically at every depth, UTF-8 without BOM, numbers as their
// shortest round-trip decimal. The format must be byte-identical across
// implementations so SDKs can pre-compute and verify chains.
package hashchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CanonicalJSON serializes v deterministically. v may be any value produced
// by encoding/json unmarshalling (maps, slices, strings, float64, bool, nil)
// or a json.RawMessage, which is re-parsed before serialization.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeString(buf, val)
	case float64:
		return writeNumber(buf, val)
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", val.String(), err)
		}
		return writeNumber(buf, f)
	case json.RawMessage:
		parsed, err := parseRaw(val)
		if err != nil {
			return err
		}
		return writeCanonical(buf, parsed)
	case map[string]any:
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
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
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
	default:
		return fmt.Errorf("unsupported canonical JSON type %T", v)
	}
	return nil
}

// writeNumber emits the shortest decimal that round-trips to the same
// float64. Integral values in the safe range are written without a fraction
// or exponent.
func writeNumber(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v cannot be serialized", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// FormatFloat emits e+07 style exponents; canonical form uses e7/e-7.
	s = strings.Replace(s, "e+0", "e", 1)
	s = strings.Replace(s, "e-0", "e-", 1)
	s = strings.Replace(s, "e+", "e", 1)
	buf.WriteString(s)
	return nil
}

// writeString emits a JSON string with the minimal escape set.
func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func parseRaw(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return v, nil
}
