package costs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentlensai/agentlens/pkg/models"
)

func TestLookup_LongestPrefixWins(t *testing.T) {
	mini, ok := Lookup("gpt-4.1-mini-2025-04-14")
	assert.True(t, ok)
	assert.Equal(t, 0.40, mini.Input)

	full, ok := Lookup("gpt-4.1-2025-04-14")
	assert.True(t, ok)
	assert.Equal(t, 2.00, full.Input)
}

func TestLookup_UnknownModel(t *testing.T) {
	_, ok := Lookup("totally-unknown-model")
	assert.False(t, ok)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name  string
		usage models.TokenUsage
		want  float64
	}{
		{
			name:  "plain input and output",
			usage: models.TokenUsage{Model: "claude-sonnet-4-20250514", InputTokens: 1_000_000, OutputTokens: 1_000_000},
			want:  3.0 + 15.0,
		},
		{
			name: "cache reads priced separately",
			usage: models.TokenUsage{
				Model: "claude-sonnet-4", InputTokens: 1_000_000,
				CacheRead: 400_000, OutputTokens: 0,
			},
			// 600k uncached at 3.0 + 400k cache reads at 0.30, per million
			want: 0.6*3.0 + 0.4*0.30,
		},
		{
			name: "uncached input floored at zero",
			usage: models.TokenUsage{
				Model: "claude-sonnet-4", InputTokens: 100,
				CacheRead: 200, CacheWrite: 100,
			},
			want: (200*0.30 + 100*3.75) / 1e6,
		},
		{
			name:  "declared cost passes through",
			usage: models.TokenUsage{Model: "anything", CostUsd: 0.42},
			want:  0.42,
		},
		{
			name:  "unknown model yields zero",
			usage: models.TokenUsage{Model: "mystery", InputTokens: 1000},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Compute(tt.usage), 1e-12)
		})
	}
}
