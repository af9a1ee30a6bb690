package guardrails

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/notify"
	"github.com/agentlensai/agentlens/pkg/store"
)

type captureDispatcher struct {
	mu       sync.Mutex
	payloads []*notify.Payload
}

func (c *captureDispatcher) Dispatch(ctx context.Context, tenantID string, targets []string, payload *notify.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *payload
	c.payloads = append(c.payloads, &cp)
}

func seedErrors(t *testing.T, provider store.Provider, tenantID, agentID string, n int) {
	t.Helper()
	reqs := make([]models.IngestEvent, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, models.IngestEvent{
			SessionID: "s1",
			AgentID:   agentID,
			EventType: models.EventError,
			Severity:  models.SeverityError,
			Payload:   json.RawMessage(`{}`),
		})
	}
	_, err := ingest.New(provider, nil, nil).Ingest(context.Background(), tenantID, reqs)
	require.NoError(t, err)
}

func errorRateRule(id, agentID string, action models.GuardrailAction, actionConfig string) *models.GuardrailRule {
	return &models.GuardrailRule{
		ID:              id,
		TenantID:        "t1",
		Name:            "too many errors",
		Enabled:         true,
		ConditionType:   ConditionErrorRateThreshold,
		ConditionConfig: json.RawMessage(`{"threshold":0.5,"windowMinutes":60}`),
		ActionType:      action,
		ActionConfig:    json.RawMessage(actionConfig),
		AgentID:         agentID,
		CooldownMinutes: 30,
	}
}

func TestPauseAgentAction(t *testing.T) {
	provider := store.NewMemory()
	engine := NewEngine(provider, nil, nil, time.Minute)
	ctx := context.Background()
	st := provider.ForTenant("t1")

	seedErrors(t, provider, "t1", "a1", 3)
	require.NoError(t, st.CreateGuardrailRule(ctx, errorRateRule("g1", "a1", models.ActionPauseAgent, `{}`)))

	engine.Tick(ctx)

	agent, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, agent.Paused)

	state, err := st.GetGuardrailState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TriggerCount)
	assert.NotNil(t, state.LastTriggeredAt)
	assert.Equal(t, 1.0, state.CurrentValue)
}

func TestDowngradeModelAction(t *testing.T) {
	provider := store.NewMemory()
	engine := NewEngine(provider, nil, nil, time.Minute)
	ctx := context.Background()
	st := provider.ForTenant("t1")

	seedErrors(t, provider, "t1", "a1", 3)
	require.NoError(t, st.CreateGuardrailRule(ctx,
		errorRateRule("g1", "a1", models.ActionDowngradeModel, `{"model":"claude-haiku-4-5"}`)))

	engine.Tick(ctx)

	agent, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", agent.ModelOverride)
}

func TestNotifyAction(t *testing.T) {
	provider := store.NewMemory()
	dispatcher := &captureDispatcher{}
	engine := NewEngine(provider, dispatcher, nil, time.Minute)
	ctx := context.Background()
	st := provider.ForTenant("t1")

	seedErrors(t, provider, "t1", "a1", 2)
	require.NoError(t, st.CreateGuardrailRule(ctx,
		errorRateRule("g1", "a1", models.ActionNotify, `{"channels":["ch-1"]}`)))

	engine.Tick(ctx)

	require.Len(t, dispatcher.payloads, 1)
	assert.Equal(t, "guardrail_rule", dispatcher.payloads[0].Source)
	assert.Equal(t, "g1", dispatcher.payloads[0].RuleID)
	assert.Equal(t, 1.0, dispatcher.payloads[0].CurrentValue)
}

func TestLogActionAppendsMarkerEvent(t *testing.T) {
	provider := store.NewMemory()
	pipeline := ingest.New(provider, nil, nil)
	engine := NewEngine(provider, nil, pipeline, time.Minute)
	ctx := context.Background()
	st := provider.ForTenant("t1")

	seedErrors(t, provider, "t1", "a1", 2)
	require.NoError(t, st.CreateGuardrailRule(ctx, errorRateRule("g1", "a1", models.ActionLog, `{}`)))

	engine.Tick(ctx)

	page, err := st.QueryEvents(ctx, store.EventFilter{SessionID: "guardrail-g1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	ev := page.Events[0]
	assert.Equal(t, models.EventCustom, ev.EventType)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, true, payload["guardrail"])
	assert.Equal(t, "g1", payload["ruleId"])
}

func TestDryRunFiresWithoutSideEffects(t *testing.T) {
	provider := store.NewMemory()
	dispatcher := &captureDispatcher{}
	engine := NewEngine(provider, dispatcher, nil, time.Minute)
	ctx := context.Background()
	st := provider.ForTenant("t1")

	seedErrors(t, provider, "t1", "a1", 2)
	rule := errorRateRule("g1", "a1", models.ActionPauseAgent, `{}`)
	rule.DryRun = true
	require.NoError(t, st.CreateGuardrailRule(ctx, rule))

	engine.Tick(ctx)

	agent, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, agent.Paused)
	assert.Empty(t, dispatcher.payloads)

	// The trigger is still recorded in state.
	state, err := st.GetGuardrailState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TriggerCount)
}

func TestCooldownSuppressesRefire(t *testing.T) {
	provider := store.NewMemory()
	engine := NewEngine(provider, nil, nil, time.Minute)
	ctx := context.Background()
	st := provider.ForTenant("t1")

	seedErrors(t, provider, "t1", "a1", 2)
	require.NoError(t, st.CreateGuardrailRule(ctx, errorRateRule("g1", "a1", models.ActionPauseAgent, `{}`)))

	engine.Tick(ctx)
	engine.Tick(ctx)

	state, err := st.GetGuardrailState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.TriggerCount)
}

func TestStateUpdatedWhenRuleDoesNotFire(t *testing.T) {
	provider := store.NewMemory()
	engine := NewEngine(provider, nil, nil, time.Minute)
	ctx := context.Background()
	st := provider.ForTenant("t1")

	// All-info traffic keeps the error rate at zero.
	_, err := ingest.New(provider, nil, nil).Ingest(ctx, "t1", []models.IngestEvent{{
		SessionID: "s1",
		AgentID:   "a1",
		EventType: models.EventCustom,
		Severity:  models.SeverityInfo,
		Payload:   json.RawMessage(`{}`),
	}})
	require.NoError(t, err)
	require.NoError(t, st.CreateGuardrailRule(ctx, errorRateRule("g1", "a1", models.ActionPauseAgent, `{}`)))

	engine.Tick(ctx)

	state, err := st.GetGuardrailState(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.TriggerCount)
	assert.Nil(t, state.LastTriggeredAt)
	assert.False(t, state.LastEvaluatedAt.IsZero())
	assert.Zero(t, state.CurrentValue)
}
