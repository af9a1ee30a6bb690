package replay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

func seedProvider(t *testing.T) store.Provider {
	t.Helper()
	provider := store.NewMemory()
	base := time.Now().UTC().Add(-10 * time.Minute)
	ts := func(offset time.Duration) *time.Time {
		v := base.Add(offset)
		return &v
	}

	reqs := []models.IngestEvent{
		{SessionID: "s1", AgentID: "a1", EventType: models.EventSessionStarted,
			Timestamp: ts(0), Payload: json.RawMessage(`{"agentName":"Support Agent"}`)},
		{SessionID: "s1", AgentID: "a1", EventType: models.EventToolCall,
			Timestamp: ts(time.Second), Payload: json.RawMessage(`{"toolName":"search"}`)},
		{SessionID: "s1", AgentID: "a1", EventType: models.EventToolResponse,
			Timestamp: ts(2 * time.Second), Payload: json.RawMessage(`{"toolName":"search","durationMs":900}`)},
		{SessionID: "s1", AgentID: "a1", EventType: models.EventToolCall,
			Timestamp: ts(3 * time.Second), Payload: json.RawMessage(`{"toolName":"send_email"}`)},
		{SessionID: "s1", AgentID: "a1", EventType: models.EventToolError,
			Timestamp: ts(4 * time.Second), Severity: models.SeverityError,
			Payload: json.RawMessage(`{"toolName":"send_email","error":"mailbox full"}`)},
		{SessionID: "s1", AgentID: "a1", EventType: models.EventCostTracked,
			Timestamp: ts(5 * time.Second), Payload: json.RawMessage(`{"model":"gpt-4o","costUsd":0.5}`)},
		{SessionID: "s1", AgentID: "a1", EventType: models.EventSessionEnded,
			Timestamp: ts(6 * time.Second), Payload: json.RawMessage(`{}`)},

		{SessionID: "s2", AgentID: "a1", EventType: models.EventToolCall,
			Timestamp: ts(time.Minute), Payload: json.RawMessage(`{"toolName":"search"}`)},
		{SessionID: "s2", AgentID: "a1", EventType: models.EventToolError,
			Timestamp: ts(time.Minute + time.Second), Severity: models.SeverityError,
			Payload: json.RawMessage(`{"toolName":"send_email","error":"mailbox full"}`)},
		{SessionID: "s3", AgentID: "a2", EventType: models.EventCostTracked,
			Timestamp: ts(time.Minute + 2*time.Second), Payload: json.RawMessage(`{"model":"gpt-4o-mini","costUsd":0.1}`)},
	}
	_, err := ingest.New(provider, nil, nil).Ingest(context.Background(), "t1", reqs)
	require.NoError(t, err)
	return provider
}

func TestReplayTimeline(t *testing.T) {
	provider := seedProvider(t)
	svc := NewService(provider)

	r, err := svc.Replay(context.Background(), "t1", "s1")
	require.NoError(t, err)

	assert.True(t, r.ChainValid)
	require.Len(t, r.Steps, 7)
	assert.Equal(t, models.EventSessionStarted, r.Steps[0].Event.EventType)
	assert.Zero(t, r.Steps[0].DeltaMs)
	assert.InDelta(t, 1000, r.Steps[1].DeltaMs, 1)
	assert.InDelta(t, 2000, r.Steps[2].ElapsedMs, 1)

	// session_ended generated a summary.
	require.NotNil(t, r.Summary)
	assert.Equal(t, "completed with errors", r.Summary.Outcome)
}

func TestReplayUnknownSession(t *testing.T) {
	svc := NewService(store.NewMemory())
	_, err := svc.Replay(context.Background(), "t1", "nope")
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestSnapshot(t *testing.T) {
	provider := seedProvider(t)
	require.NoError(t, provider.ForTenant("t1").SetAgentPaused(context.Background(), "a2", true))

	snap, err := NewService(provider).Snapshot(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 2, snap.ActiveSessions)
	assert.Equal(t, 1, snap.CompletedSessions)
	assert.Equal(t, 0, snap.ErrorSessions)
	assert.Equal(t, 2, snap.TotalAgents)
	assert.Equal(t, []string{"a2"}, snap.PausedAgents)
	assert.Equal(t, int64(10), snap.LastHourEvents)
	assert.InDelta(t, 0.2, snap.LastHourErrorRate, 1e-9)
	assert.InDelta(t, 0.6, snap.LastHourCostUsd, 1e-9)
}

func TestReflectErrorPatterns(t *testing.T) {
	provider := seedProvider(t)
	svc := NewService(provider)

	res, err := svc.Reflect(context.Background(), "t1", ReflectQuery{Analysis: AnalysisErrorPatterns})
	require.NoError(t, err)
	require.Len(t, res.ErrorPatterns, 1)
	p := res.ErrorPatterns[0]
	assert.Equal(t, "send_email: mailbox full", p.Message)
	assert.Equal(t, 2, p.Count)
	assert.ElementsMatch(t, []string{"s1", "s2"}, p.Sessions)
}

func TestReflectToolSequences(t *testing.T) {
	provider := seedProvider(t)
	svc := NewService(provider)

	res, err := svc.Reflect(context.Background(), "t1", ReflectQuery{Analysis: AnalysisToolSequences})
	require.NoError(t, err)
	require.Len(t, res.ToolSequences, 2)
	assert.ElementsMatch(t, [][]string{
		{"search", "send_email"},
		{"search"},
	}, [][]string{res.ToolSequences[0].Sequence, res.ToolSequences[1].Sequence})
}

func TestReflectCostAnalysis(t *testing.T) {
	provider := seedProvider(t)
	svc := NewService(provider)

	res, err := svc.Reflect(context.Background(), "t1", ReflectQuery{Analysis: AnalysisCostAnalysis})
	require.NoError(t, err)
	require.NotNil(t, res.Cost)
	assert.InDelta(t, 0.6, res.Cost.TotalCostUsd, 1e-9)
	require.Len(t, res.Cost.ByModel, 2)
	assert.Equal(t, "gpt-4o", res.Cost.ByModel[0].Model)
	assert.InDelta(t, 0.5, res.Cost.ByModel[0].CostUsd, 1e-9)

	// Agent scoping narrows the spend.
	res, err = svc.Reflect(context.Background(), "t1",
		ReflectQuery{Analysis: AnalysisCostAnalysis, AgentID: "a2"})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, res.Cost.TotalCostUsd, 1e-9)
}

func TestReflectPerformanceTrends(t *testing.T) {
	provider := seedProvider(t)
	svc := NewService(provider)

	res, err := svc.Reflect(context.Background(), "t1", ReflectQuery{Analysis: AnalysisPerformanceTrends})
	require.NoError(t, err)
	require.NotEmpty(t, res.Trends)

	var count int
	var errors float64
	for _, p := range res.Trends {
		count += p.Count
		errors += p.ErrorRate * float64(p.Count)
	}
	assert.Equal(t, 3, count)
	assert.InDelta(t, 2.0, errors, 1e-9)
}

func TestReflectUnknownAnalysis(t *testing.T) {
	svc := NewService(store.NewMemory())
	_, err := svc.Reflect(context.Background(), "t1", ReflectQuery{Analysis: "vibes"})
	assert.True(t, models.IsKind(err, models.KindValidation))
}
