package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

func addSession(t *testing.T, provider store.Provider, tag, sessionID string, costUsd float64, completed bool) {
	t.Helper()
	ctx := context.Background()
	reqs := []models.IngestEvent{
		{SessionID: sessionID, AgentID: "a1", EventType: models.EventSessionStarted,
			Payload: json.RawMessage(`{"agentName":"Checkout Agent"}`)},
		{SessionID: sessionID, AgentID: "a1", EventType: models.EventCostTracked,
			Payload: json.RawMessage(fmt.Sprintf(`{"costUsd":%g}`, costUsd))},
	}
	if completed {
		reqs = append(reqs, models.IngestEvent{
			SessionID: sessionID, AgentID: "a1", EventType: models.EventSessionEnded,
			Payload: json.RawMessage(`{}`),
		})
	}
	_, err := ingest.New(provider, nil, nil).Ingest(ctx, "t1", reqs)
	require.NoError(t, err)
	require.NoError(t, provider.ForTenant("t1").SetSessionTags(ctx, sessionID, []string{tag}))
}

func costBenchmark(status models.BenchmarkStatus) *models.Benchmark {
	return &models.Benchmark{
		ID:                    "b1",
		TenantID:              "t1",
		Name:                  "prompt rewrite",
		Status:                status,
		Metrics:               []models.BenchmarkMetric{models.MetricAvgCost},
		MinSessionsPerVariant: 2,
		Variants: []models.BenchmarkVariant{
			{Name: "control", Tag: "v-control", SortOrder: 0},
			{Name: "treatment", Tag: "v-treatment", SortOrder: 1},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestComputeAggregatesAndComparison(t *testing.T) {
	provider := store.NewMemory()
	ctx := context.Background()

	for i, cost := range []float64{1, 2, 3} {
		addSession(t, provider, "v-control", fmt.Sprintf("sc-%d", i), cost, true)
	}
	for i, cost := range []float64{10, 11, 12} {
		addSession(t, provider, "v-treatment", fmt.Sprintf("st-%d", i), cost, true)
	}

	engine := NewEngine(provider)
	results, err := engine.Compute(ctx, provider.ForTenant("t1"), costBenchmark(models.BenchmarkRunning))
	require.NoError(t, err)

	require.Len(t, results.Variants, 2)
	control := results.Variants[0]
	assert.Equal(t, "control", control.Name)
	assert.Equal(t, 3, control.SessionCount)
	agg := control.Metrics[models.MetricAvgCost]
	assert.InDelta(t, 2.0, agg.Mean, 1e-9)
	assert.InDelta(t, 2.0, agg.Median, 1e-9)
	assert.InDelta(t, 1.0, agg.StdDev, 1e-9)
	assert.InDelta(t, 1.0, agg.Min, 1e-9)
	assert.InDelta(t, 3.0, agg.Max, 1e-9)

	require.Len(t, results.Comparisons, 1)
	c := results.Comparisons[0]
	assert.Equal(t, "welch_t", c.Test)
	assert.True(t, c.Significant)
	assert.Equal(t, "control", c.Winner)
	assert.Equal(t, "★★★", c.Confidence)
	assert.Contains(t, results.Summary, "control outperforms treatment on cost")
}

func TestComputeCompletionRateUsesChiSquared(t *testing.T) {
	provider := store.NewMemory()
	ctx := context.Background()

	// Control completes 5 of 6 sessions, treatment 1 of 6.
	for i := 0; i < 6; i++ {
		addSession(t, provider, "v-control", fmt.Sprintf("sc-%d", i), 1, i < 5)
		addSession(t, provider, "v-treatment", fmt.Sprintf("st-%d", i), 1, i < 1)
	}

	b := costBenchmark(models.BenchmarkRunning)
	b.Metrics = []models.BenchmarkMetric{models.MetricCompletionRate}

	results, err := NewEngine(provider).Compute(ctx, provider.ForTenant("t1"), b)
	require.NoError(t, err)

	require.Len(t, results.Comparisons, 1)
	c := results.Comparisons[0]
	assert.Equal(t, "chi_squared", c.Test)
	assert.InDelta(t, 5.33, c.Statistic, 0.01)
	assert.True(t, c.Significant)
	assert.Equal(t, "control", c.Winner)
}

// addErrorSession ingests a session with errorCount errors out of ten events.
func addErrorSession(t *testing.T, provider store.Provider, tag, sessionID string, errorCount int) {
	t.Helper()
	ctx := context.Background()
	reqs := []models.IngestEvent{
		{SessionID: sessionID, AgentID: "a1", EventType: models.EventSessionStarted,
			Payload: json.RawMessage(`{}`)},
	}
	for i := 0; i < errorCount; i++ {
		reqs = append(reqs, models.IngestEvent{
			SessionID: sessionID, AgentID: "a1", EventType: models.EventToolError,
			Severity: models.SeverityError, Payload: json.RawMessage(`{}`),
		})
	}
	for len(reqs) < 10 {
		reqs = append(reqs, models.IngestEvent{
			SessionID: sessionID, AgentID: "a1", EventType: models.EventCustom,
			Payload: json.RawMessage(`{}`),
		})
	}
	_, err := ingest.New(provider, nil, nil).Ingest(ctx, "t1", reqs)
	require.NoError(t, err)
	require.NoError(t, provider.ForTenant("t1").SetSessionTags(ctx, sessionID, []string{tag}))
}

func TestComputeErrorRateUsesChiSquared(t *testing.T) {
	provider := store.NewMemory()
	ctx := context.Background()

	// Control errors on 1 of 10 events per session, treatment on 8 of 10.
	for i := 0; i < 4; i++ {
		addErrorSession(t, provider, "v-control", fmt.Sprintf("sc-%d", i), 1)
		addErrorSession(t, provider, "v-treatment", fmt.Sprintf("st-%d", i), 8)
	}

	b := costBenchmark(models.BenchmarkRunning)
	b.Metrics = []models.BenchmarkMetric{models.MetricErrorRate}

	results, err := NewEngine(provider).Compute(ctx, provider.ForTenant("t1"), b)
	require.NoError(t, err)

	require.Len(t, results.Comparisons, 1)
	c := results.Comparisons[0]
	assert.Equal(t, "chi_squared", c.Test)
	assert.Greater(t, c.Statistic, 0.0)
	assert.True(t, c.Significant)
	assert.Equal(t, "control", c.Winner)
}

func TestComputeInsufficientDataAndNoDifference(t *testing.T) {
	provider := store.NewMemory()
	ctx := context.Background()

	addSession(t, provider, "v-control", "sc-1", 1, true)
	addSession(t, provider, "v-treatment", "st-1", 1, true)

	b := costBenchmark(models.BenchmarkRunning)
	b.MinSessionsPerVariant = 0 // fall back to the default threshold

	results, err := NewEngine(provider).Compute(ctx, provider.ForTenant("t1"), b)
	require.NoError(t, err)
	assert.Contains(t, results.Summary, "insufficient data")
	assert.Contains(t, results.Summary, "no significant difference")
}

func TestComputeValidation(t *testing.T) {
	provider := store.NewMemory()
	st := provider.ForTenant("t1")
	ctx := context.Background()

	b := costBenchmark(models.BenchmarkRunning)
	b.Variants = b.Variants[:1]
	_, err := NewEngine(provider).Compute(ctx, st, b)
	assert.True(t, models.IsKind(err, models.KindValidation))

	b = costBenchmark(models.BenchmarkRunning)
	b.Metrics = nil
	_, err = NewEngine(provider).Compute(ctx, st, b)
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestResultsCachedWhenCompleted(t *testing.T) {
	provider := store.NewMemory()
	st := provider.ForTenant("t1")
	ctx := context.Background()

	for i, cost := range []float64{1, 2} {
		addSession(t, provider, "v-control", fmt.Sprintf("sc-%d", i), cost, true)
		addSession(t, provider, "v-treatment", fmt.Sprintf("st-%d", i), cost+1, true)
	}
	require.NoError(t, st.CreateBenchmark(ctx, costBenchmark(models.BenchmarkCompleted)))

	engine := NewEngine(provider)
	first, err := engine.Results(ctx, "t1", "b1")
	require.NoError(t, err)
	require.Len(t, first.Variants, 2)

	// New data after completion must not change the cached results.
	addSession(t, provider, "v-control", "sc-late", 50, true)
	second, err := engine.Results(ctx, "t1", "b1")
	require.NoError(t, err)
	assert.Equal(t, first.ComputedAt, second.ComputedAt)
	assert.Equal(t, 2, second.Variants[0].SessionCount)
}

func TestResultsComputedFreshWhileRunning(t *testing.T) {
	provider := store.NewMemory()
	st := provider.ForTenant("t1")
	ctx := context.Background()

	addSession(t, provider, "v-control", "sc-1", 1, true)
	addSession(t, provider, "v-treatment", "st-1", 2, true)
	require.NoError(t, st.CreateBenchmark(ctx, costBenchmark(models.BenchmarkRunning)))

	engine := NewEngine(provider)
	first, err := engine.Results(ctx, "t1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Variants[0].SessionCount)

	addSession(t, provider, "v-control", "sc-2", 3, true)
	second, err := engine.Results(ctx, "t1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Variants[0].SessionCount)
}
