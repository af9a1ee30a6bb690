package ingest

import (
	"encoding/json"

	"github.com/agentlensai/agentlens/pkg/costs"
	"github.com/agentlensai/agentlens/pkg/masking"
	"github.com/agentlensai/agentlens/pkg/models"
)

// truncationSuffix marks a string field cut at the payload bound.
const truncationSuffix = "[truncated]"

// SanitizePayload redacts credential-shaped strings and truncates oversized
// fields. Runs before hashing, so the stored payload and the chain hash agree.
func SanitizePayload(raw json.RawMessage) json.RawMessage {
	return TruncatePayload(masking.RedactJSON(raw))
}

// TruncatePayload caps every string field in the payload at MaxPayloadBytes,
// appending the truncation sentinel. Non-JSON payloads pass through
// unchanged; validation catches them later if they matter.
func TruncatePayload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	truncated, changed := truncateValue(decoded)
	if !changed {
		return raw
	}
	out, err := json.Marshal(truncated)
	if err != nil {
		return raw
	}
	return out
}

func truncateValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		if len(val) > models.MaxPayloadBytes {
			cut := models.MaxPayloadBytes - len(truncationSuffix)
			// Back off to a UTF-8 boundary.
			for cut > 0 && val[cut]&0xC0 == 0x80 {
				cut--
			}
			return val[:cut] + truncationSuffix, true
		}
		return val, false
	case map[string]any:
		changed := false
		for k, item := range val {
			t, c := truncateValue(item)
			if c {
				val[k] = t
				changed = true
			}
		}
		return val, changed
	case []any:
		changed := false
		for i, item := range val {
			t, c := truncateValue(item)
			if c {
				val[i] = t
				changed = true
			}
		}
		return val, changed
	default:
		return v, false
	}
}

// EnrichPayload injects a computed costUsd into llm_response and cost_tracked
// payloads that carry token counts but no explicit cost.
func EnrichPayload(eventType models.EventType, raw json.RawMessage) json.RawMessage {
	if eventType != models.EventLLMResponse && eventType != models.EventCostTracked {
		return raw
	}
	usage := models.DecodeTokenUsage(raw)
	if usage.CostUsd != 0 || usage.Model == "" {
		return raw
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.CacheRead == 0 && usage.CacheWrite == 0 {
		return raw
	}
	cost := costs.Compute(usage)
	if cost == 0 {
		return raw
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	decoded["costUsd"] = cost
	out, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return out
}
