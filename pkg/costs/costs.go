// Package costs prices LLM token usage. Rates are USD per million tokens,
// keyed by the longest matching model-name prefix.
package costs

import (
	"sort"
	"strings"

	"github.com/agentlensai/agentlens/pkg/models"
)

// Rate holds per-million-token USD prices for one model family.
type Rate struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
}

// modelRates is the built-in price table. Prefix-matched: "claude-sonnet-4-20250514"
// resolves via the "claude-sonnet-4" entry.
var modelRates = map[string]Rate{
	"claude-opus-4":     {Input: 15.0, Output: 75.0, CacheRead: 1.50, CacheWrite: 18.75},
	"claude-sonnet-4":   {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
	"claude-haiku-4":    {Input: 0.80, Output: 4.0, CacheRead: 0.08, CacheWrite: 1.0},
	"claude-3-5-sonnet": {Input: 3.0, Output: 15.0, CacheRead: 0.30, CacheWrite: 3.75},
	"claude-3-5-haiku":  {Input: 0.80, Output: 4.0, CacheRead: 0.08, CacheWrite: 1.0},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60, CacheRead: 0.075},
	"gpt-4o":            {Input: 2.50, Output: 10.0, CacheRead: 1.25},
	"gpt-4.1-mini":      {Input: 0.40, Output: 1.60, CacheRead: 0.10},
	"gpt-4.1":           {Input: 2.00, Output: 8.00, CacheRead: 0.50},
	"o3":                {Input: 2.00, Output: 8.00, CacheRead: 0.50},
	"gemini-2.5-pro":    {Input: 1.25, Output: 10.0, CacheRead: 0.31},
	"gemini-2.5-flash":  {Input: 0.30, Output: 2.50, CacheRead: 0.075},
}

// sortedPrefixes caches prefixes by descending length so the longest match
// wins ("gpt-4.1-mini" before "gpt-4.1").
var sortedPrefixes = func() []string {
	prefixes := make([]string, 0, len(modelRates))
	for p := range modelRates {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return prefixes
}()

// Lookup resolves the rate for a model name by longest prefix match.
// Returns false when the model is unknown.
func Lookup(model string) (Rate, bool) {
	for _, prefix := range sortedPrefixes {
		if strings.HasPrefix(model, prefix) {
			return modelRates[prefix], true
		}
	}
	return Rate{}, false
}

// Compute prices a token usage record. Cached tokens are billed at their own
// rates; uncached input is input minus cache reads and writes, floored at 0.
// Returns 0 for unknown models or usage that already carries a cost.
func Compute(usage models.TokenUsage) float64 {
	if usage.CostUsd > 0 {
		return usage.CostUsd
	}
	rate, ok := Lookup(usage.Model)
	if !ok {
		return 0
	}
	uncached := usage.InputTokens - usage.CacheRead - usage.CacheWrite
	if uncached < 0 {
		uncached = 0
	}
	total := float64(uncached)*rate.Input +
		float64(usage.OutputTokens)*rate.Output +
		float64(usage.CacheRead)*rate.CacheRead +
		float64(usage.CacheWrite)*rate.CacheWrite
	return total / 1e6
}
