package models

import "time"

// BenchmarkStatus is the lifecycle state of a benchmark.
type BenchmarkStatus string

// Benchmark statuses.
const (
	BenchmarkDraft     BenchmarkStatus = "draft"
	BenchmarkRunning   BenchmarkStatus = "running"
	BenchmarkCompleted BenchmarkStatus = "completed"
	BenchmarkArchived  BenchmarkStatus = "archived"
)

// BenchmarkMetric names a metric extracted from tagged sessions.
type BenchmarkMetric string

// Benchmark metrics.
const (
	MetricAvgCost         BenchmarkMetric = "avg_cost"
	MetricErrorRate       BenchmarkMetric = "error_rate"
	MetricToolSuccessRate BenchmarkMetric = "tool_success_rate"
	MetricCompletionRate  BenchmarkMetric = "completion_rate"
	MetricAvgTokens       BenchmarkMetric = "avg_tokens"
	MetricAvgDuration     BenchmarkMetric = "avg_duration"
)

// Valid reports whether m is a known benchmark metric.
func (m BenchmarkMetric) Valid() bool {
	switch m {
	case MetricAvgCost, MetricErrorRate, MetricToolSuccessRate,
		MetricCompletionRate, MetricAvgTokens, MetricAvgDuration:
		return true
	}
	return false
}

// BenchmarkVariant is one configuration under comparison. Sessions carrying
// the variant's tag belong to it.
type BenchmarkVariant struct {
	Name      string `json:"name"`
	Tag       string `json:"tag"`
	SortOrder int    `json:"sortOrder"`
}

// Benchmark compares configuration variants on one or more metrics.
// Results are cached once status is completed.
type Benchmark struct {
	ID                    string             `json:"id"`
	TenantID              string             `json:"tenantId"`
	Name                  string             `json:"name"`
	Status                BenchmarkStatus    `json:"status"`
	Metrics               []BenchmarkMetric  `json:"metrics"`
	MinSessionsPerVariant int                `json:"minSessionsPerVariant"`
	Variants              []BenchmarkVariant `json:"variants"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// MetricAggregate summarizes one metric for one variant.
type MetricAggregate struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// VariantResult holds per-metric aggregates for one variant.
type VariantResult struct {
	Name         string                              `json:"name"`
	Tag          string                              `json:"tag"`
	SessionCount int                                 `json:"sessionCount"`
	Metrics      map[BenchmarkMetric]MetricAggregate `json:"metrics"`
}

// Comparison is one pairwise statistical test between two variants on one
// metric.
type Comparison struct {
	Metric      BenchmarkMetric `json:"metric"`
	VariantA    string          `json:"variantA"`
	VariantB    string          `json:"variantB"`
	Test        string          `json:"test"` // "welch_t" or "chi_squared"
	Statistic   float64         `json:"statistic"`
	PValue      float64         `json:"pValue"`
	EffectSize  float64         `json:"effectSize"`
	Significant bool            `json:"significant"`
	Confidence  string          `json:"confidence"` // ★★★ / ★★ / ★ / —
	Winner      string          `json:"winner,omitempty"`
}

// BenchmarkResults is the full computed comparison for a benchmark.
type BenchmarkResults struct {
	BenchmarkID string          `json:"benchmarkId"`
	ComputedAt  time.Time       `json:"computedAt"`
	Variants    []VariantResult `json:"variants"`
	Comparisons []Comparison    `json:"comparisons"`
	Summary     string          `json:"summary"`
}
