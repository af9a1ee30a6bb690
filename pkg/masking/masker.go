// Package masking redacts credential-shaped substrings from event payloads.
// Redaction runs before hashing, so stored payloads and chain hashes agree.
package masking

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Masker applies a fixed pattern set to strings and JSON payloads.
type Masker struct {
	patterns []*Pattern
}

// New creates a masker with the built-in pattern set.
func New() *Masker {
	return &Masker{patterns: builtinPatterns()}
}

// AddPattern registers a custom redaction rule on top of the built-ins.
func (m *Masker) AddPattern(name, pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling masking pattern %q: %w", name, err)
	}
	m.patterns = append(m.patterns, &Pattern{Name: name, Regex: re, Replacement: replacement})
	return nil
}

// MaskString applies every pattern to one string.
func (m *Masker) MaskString(s string) string {
	for _, p := range m.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// RedactJSON walks the payload and masks every string value. Non-JSON input
// is masked as a flat string.
func (m *Masker) RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return json.RawMessage(m.MaskString(string(raw)))
	}
	masked, changed := m.redactValue(decoded)
	if !changed {
		return raw
	}
	out, err := json.Marshal(masked)
	if err != nil {
		return raw
	}
	return out
}

func (m *Masker) redactValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		if masked := m.MaskString(val); masked != val {
			return masked, true
		}
		return val, false
	case map[string]any:
		changed := false
		for k, item := range val {
			r, c := m.redactValue(item)
			if c {
				val[k] = r
				changed = true
			}
		}
		return val, changed
	case []any:
		changed := false
		for i, item := range val {
			r, c := m.redactValue(item)
			if c {
				val[i] = r
				changed = true
			}
		}
		return val, changed
	default:
		return v, false
	}
}

// defaultMasker backs the package-level helpers. Patterns are fixed after
// init, so sharing it across goroutines is safe.
var defaultMasker = New()

// RedactJSON applies the built-in pattern set via a shared masker.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	return defaultMasker.RedactJSON(raw)
}
