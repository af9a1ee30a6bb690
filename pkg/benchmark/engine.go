package benchmark

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// defaultMinSessions is the per-variant sample size below which results are
// flagged as insufficient data.
const defaultMinSessions = 30

// sessionPageSize bounds one variant session scan page.
const sessionPageSize = 500

// Engine computes benchmark results. Completed benchmarks serve cached
// results; running ones are computed on the fly.
type Engine struct {
	provider store.Provider
}

// NewEngine creates a benchmark engine.
func NewEngine(provider store.Provider) *Engine {
	return &Engine{provider: provider}
}

// Results returns the comparison for a benchmark, from cache when the
// benchmark is completed and a cached computation exists.
func (e *Engine) Results(ctx context.Context, tenantID, benchmarkID string) (*models.BenchmarkResults, error) {
	st := e.provider.ForTenant(tenantID)
	b, err := st.GetBenchmark(ctx, benchmarkID)
	if err != nil {
		return nil, err
	}

	if b.Status == models.BenchmarkCompleted {
		if cached, err := st.GetBenchmarkResults(ctx, b.ID); err == nil && cached != nil {
			return cached, nil
		}
	}

	results, err := e.Compute(ctx, st, b)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BenchmarkCompleted {
		if err := st.SaveBenchmarkResults(ctx, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Compute runs the full comparison for a benchmark.
func (e *Engine) Compute(ctx context.Context, st store.Store, b *models.Benchmark) (*models.BenchmarkResults, error) {
	if len(b.Variants) < 2 {
		return nil, models.ValidationError("benchmark needs at least two variants")
	}
	if len(b.Metrics) == 0 {
		return nil, models.ValidationError("benchmark needs at least one metric")
	}

	variants := make([]VariantData, 0, len(b.Variants))
	for _, v := range b.Variants {
		sessions, err := variantSessions(ctx, st, v.Tag)
		if err != nil {
			return nil, err
		}
		variants = append(variants, VariantData{Variant: v, Sessions: sessions})
	}
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].Variant.SortOrder < variants[j].Variant.SortOrder
	})

	results := &models.BenchmarkResults{
		BenchmarkID: b.ID,
		ComputedAt:  time.Now().UTC(),
	}
	for _, vd := range variants {
		vr := models.VariantResult{
			Name:         vd.Variant.Name,
			Tag:          vd.Variant.Tag,
			SessionCount: len(vd.Sessions),
			Metrics:      make(map[models.BenchmarkMetric]models.MetricAggregate, len(b.Metrics)),
		}
		for _, metric := range b.Metrics {
			vr.Metrics[metric] = aggregate(MetricSamples(metric, vd.Sessions))
		}
		results.Variants = append(results.Variants, vr)
	}

	for _, metric := range b.Metrics {
		for i := 0; i < len(variants); i++ {
			for j := i + 1; j < len(variants); j++ {
				results.Comparisons = append(results.Comparisons,
					compare(metric, variants[i], variants[j]))
			}
		}
	}

	results.Summary = summarize(b, results)
	return results, nil
}

// VariantData pairs a variant with its matched sessions.
type VariantData struct {
	Variant  models.BenchmarkVariant
	Sessions []*models.Session
}

func variantSessions(ctx context.Context, st store.EventReader, tag string) ([]*models.Session, error) {
	var all []*models.Session
	offset := 0
	for {
		page, err := st.QuerySessions(ctx, store.SessionFilter{
			Tags:   []string{tag},
			Limit:  sessionPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < sessionPageSize {
			return all, nil
		}
		offset += len(page)
	}
}

// MetricSamples extracts the per-session values of one metric, applying the
// skip rules for undefined denominators.
func MetricSamples(metric models.BenchmarkMetric, sessions []*models.Session) []float64 {
	out := make([]float64, 0, len(sessions))
	for _, s := range sessions {
		switch metric {
		case models.MetricAvgCost:
			out = append(out, s.TotalCostUsd)
		case models.MetricErrorRate:
			if s.EventCount == 0 {
				continue
			}
			out = append(out, float64(s.ErrorCount)/float64(s.EventCount))
		case models.MetricToolSuccessRate:
			if s.ToolCallCount == 0 {
				continue
			}
			out = append(out, float64(s.ToolCallCount-s.ErrorCount)/float64(s.ToolCallCount))
		case models.MetricCompletionRate:
			if s.Status == models.SessionCompleted {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case models.MetricAvgTokens:
			out = append(out, float64(s.TotalInputTokens+s.TotalOutputTokens))
		case models.MetricAvgDuration:
			if s.EndedAt == nil {
				continue
			}
			out = append(out, s.DurationMs())
		}
	}
	return out
}

func aggregate(xs []float64) models.MetricAggregate {
	agg := models.MetricAggregate{Count: len(xs)}
	if len(xs) == 0 {
		return agg
	}
	agg.Mean = Mean(xs)
	agg.Median = Median(xs)
	agg.StdDev = StdDev(xs)
	agg.Min = xs[0]
	agg.Max = xs[0]
	for _, x := range xs[1:] {
		if x < agg.Min {
			agg.Min = x
		}
		if x > agg.Max {
			agg.Max = x
		}
	}
	return agg
}

// compare runs the appropriate statistical test for one metric between two
// variants. Binary metrics get chi-squared; continuous ones Welch's t.
func compare(metric models.BenchmarkMetric, a, b VariantData) models.Comparison {
	samplesA := MetricSamples(metric, a.Sessions)
	samplesB := MetricSamples(metric, b.Sessions)

	c := models.Comparison{
		Metric:   metric,
		VariantA: a.Variant.Name,
		VariantB: b.Variant.Name,
	}

	switch metric {
	case models.MetricCompletionRate:
		c.Test = "chi_squared"
		successA := countOnes(samplesA)
		successB := countOnes(samplesB)
		c.Statistic, c.PValue, c.EffectSize = ChiSquared2x2(
			successA, len(samplesA)-successA,
			successB, len(samplesB)-successB)
	case models.MetricToolSuccessRate:
		// Categorical over individual tool calls, not per-session ratios.
		c.Test = "chi_squared"
		successA, failA := toolCallCounts(a.Sessions)
		successB, failB := toolCallCounts(b.Sessions)
		c.Statistic, c.PValue, c.EffectSize = ChiSquared2x2(successA, failA, successB, failB)
	case models.MetricErrorRate:
		// A proportion over discrete events; same treatment as tool success.
		c.Test = "chi_squared"
		errA, okA := errorEventCounts(a.Sessions)
		errB, okB := errorEventCounts(b.Sessions)
		c.Statistic, c.PValue, c.EffectSize = ChiSquared2x2(errA, okA, errB, okB)
	default:
		c.Test = "welch_t"
		c.Statistic, _, c.PValue = WelchT(samplesA, samplesB)
		c.EffectSize = CohenD(samplesA, samplesB)
	}

	c.Significant = c.PValue < 0.05
	c.Confidence = ConfidenceStars(c.PValue)
	if c.Significant {
		c.Winner = pickWinner(metric, a.Variant.Name, Mean(samplesA), b.Variant.Name, Mean(samplesB))
	}
	return c
}

func countOnes(xs []float64) int {
	n := 0
	for _, x := range xs {
		if x == 1 {
			n++
		}
	}
	return n
}

// toolCallCounts totals successful and failed tool calls across sessions.
func toolCallCounts(sessions []*models.Session) (successes, failures int) {
	for _, s := range sessions {
		if s.ToolCallCount == 0 {
			continue
		}
		f := int(s.ErrorCount)
		if f > int(s.ToolCallCount) {
			f = int(s.ToolCallCount)
		}
		failures += f
		successes += int(s.ToolCallCount) - f
	}
	return successes, failures
}

// errorEventCounts totals error and non-error events across sessions.
func errorEventCounts(sessions []*models.Session) (errors, others int) {
	for _, s := range sessions {
		if s.EventCount == 0 {
			continue
		}
		e := int(s.ErrorCount)
		if e > int(s.EventCount) {
			e = int(s.EventCount)
		}
		errors += e
		others += int(s.EventCount) - e
	}
	return errors, others
}

// pickWinner applies the metric's preferred direction. Token volume has no
// preferred direction, so no winner is declared for it.
func pickWinner(metric models.BenchmarkMetric, nameA string, meanA float64, nameB string, meanB float64) string {
	if meanA == meanB {
		return ""
	}
	switch metric {
	case models.MetricAvgCost, models.MetricErrorRate, models.MetricAvgDuration:
		if meanA < meanB {
			return nameA
		}
		return nameB
	case models.MetricCompletionRate, models.MetricToolSuccessRate:
		if meanA > meanB {
			return nameA
		}
		return nameB
	}
	return ""
}

var metricLabels = map[models.BenchmarkMetric]string{
	models.MetricAvgCost:         "cost",
	models.MetricErrorRate:       "error rate",
	models.MetricToolSuccessRate: "tool success rate",
	models.MetricCompletionRate:  "completion rate",
	models.MetricAvgTokens:       "tokens",
	models.MetricAvgDuration:     "duration",
}

// summarize renders the human-readable result sentence.
func summarize(b *models.Benchmark, results *models.BenchmarkResults) string {
	minSessions := b.MinSessionsPerVariant
	if minSessions <= 0 {
		minSessions = defaultMinSessions
	}

	var parts []string
	for _, v := range results.Variants {
		if v.SessionCount < minSessions {
			parts = append(parts, fmt.Sprintf("%s has insufficient data (%d sessions, %d needed)",
				v.Name, v.SessionCount, minSessions))
		}
	}

	significant := 0
	for _, c := range results.Comparisons {
		if !c.Significant || c.Winner == "" {
			continue
		}
		significant++
		loser := c.VariantA
		if c.Winner == c.VariantA {
			loser = c.VariantB
		}
		parts = append(parts, fmt.Sprintf("%s outperforms %s on %s (%s)",
			c.Winner, loser, metricLabels[c.Metric], c.Confidence))
	}
	if significant == 0 {
		parts = append(parts, "no significant difference between variants")
	}
	return strings.Join(parts, "; ")
}
