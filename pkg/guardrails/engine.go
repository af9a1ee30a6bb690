// Package guardrails evaluates guardrail rules on a ticker and performs
// their side effects: pausing agents, suggesting model downgrades, notifying,
// or logging marker events.
package guardrails

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentlensai/agentlens/pkg/alerts"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/notify"
	"github.com/agentlensai/agentlens/pkg/store"
)

// DefaultInterval is how often the engine sweeps all tenants.
const DefaultInterval = 60 * time.Second

// Condition types. Each maps onto one of the rolling-window measurements the
// alert engine also uses.
const (
	ConditionErrorRateThreshold = "error_rate_threshold"
	ConditionCostThreshold      = "cost_threshold"
	ConditionLatencyThreshold   = "latency_threshold"
)

// ConditionConfig is the decoded shape of GuardrailRule.ConditionConfig.
type ConditionConfig struct {
	Threshold     float64 `json:"threshold"`
	WindowMinutes int     `json:"windowMinutes"`
	ToolName      string  `json:"toolName,omitempty"`
}

// ActionConfig is the decoded shape of GuardrailRule.ActionConfig.
type ActionConfig struct {
	AgentID  string   `json:"agentId,omitempty"`
	Model    string   `json:"model,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Ingestor is the slice of the ingest pipeline the log action needs.
type Ingestor interface {
	Ingest(ctx context.Context, tenantID string, reqs []models.IngestEvent) ([]*models.Event, error)
}

// Engine evaluates guardrail rules per tenant on a fixed interval. Side
// effects go through the minimal AgentMutator surface, never the full store.
type Engine struct {
	provider store.Provider
	router   alerts.Dispatcher
	ingestor Ingestor
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates a guardrail engine. Router and ingestor may be nil; the
// corresponding actions then degrade to logging.
func NewEngine(provider store.Provider, router alerts.Dispatcher, ingestor Ingestor, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		provider: provider,
		router:   router,
		ingestor: ingestor,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the evaluation ticker.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		slog.Info("Guardrail engine started", "interval", e.interval)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				slog.Info("Guardrail engine shutting down")
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop halts the ticker and waits for an in-flight tick to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// Tick evaluates every tenant once.
func (e *Engine) Tick(ctx context.Context) {
	tenants, err := e.provider.Tenants(ctx)
	if err != nil {
		slog.Error("Tenant enumeration failed", "error", err)
		return
	}
	for _, tenantID := range tenants {
		e.evaluateTenant(ctx, tenantID, time.Now().UTC())
	}
}

func (e *Engine) evaluateTenant(ctx context.Context, tenantID string, now time.Time) {
	st := e.provider.ForTenant(tenantID)
	rules, err := st.ListGuardrailRules(ctx, true)
	if err != nil {
		slog.Error("Guardrail rule listing failed", "tenant_id", tenantID, "error", err)
		return
	}
	for _, rule := range rules {
		if err := e.evaluateRule(ctx, st, tenantID, rule, now); err != nil {
			slog.Error("Guardrail rule evaluation failed",
				"tenant_id", tenantID, "rule_id", rule.ID, "rule", rule.Name, "error", err)
		}
	}
}

// evaluateRule computes the rule's value, persists state for the tick, and
// fires the action when the threshold is crossed outside the cooldown.
func (e *Engine) evaluateRule(ctx context.Context, st store.Store, tenantID string, rule *models.GuardrailRule, now time.Time) error {
	var cfg ConditionConfig
	if len(rule.ConditionConfig) > 0 {
		if err := json.Unmarshal(rule.ConditionConfig, &cfg); err != nil {
			return models.ValidationError("invalid condition config for rule " + rule.ID)
		}
	}
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = 60
	}

	condition, err := alertCondition(rule.ConditionType)
	if err != nil {
		return err
	}
	scope := models.AlertScope{AgentID: rule.AgentID, ToolName: cfg.ToolName}
	value, err := alerts.CurrentValue(ctx, st, condition, scope,
		time.Duration(cfg.WindowMinutes)*time.Minute, now)
	if err != nil {
		return err
	}

	state, err := st.GetGuardrailState(ctx, rule.ID)
	if err != nil && !models.IsKind(err, models.KindNotFound) {
		return err
	}
	if state == nil {
		state = &models.GuardrailState{RuleID: rule.ID, TenantID: tenantID}
	}
	state.LastEvaluatedAt = now
	state.CurrentValue = value

	fired := value > cfg.Threshold && !inCooldown(state.LastTriggeredAt, rule.CooldownMinutes, now)
	if fired {
		triggeredAt := now
		state.LastTriggeredAt = &triggeredAt
		state.TriggerCount++
	}
	if err := st.UpsertGuardrailState(ctx, state); err != nil {
		return err
	}
	if !fired {
		return nil
	}

	if rule.DryRun {
		slog.Info("Guardrail rule fired (dry run)",
			"tenant_id", tenantID, "rule_id", rule.ID, "rule", rule.Name,
			"action", string(rule.ActionType), "value", value, "threshold", cfg.Threshold)
		return nil
	}
	slog.Warn("Guardrail rule fired",
		"tenant_id", tenantID, "rule_id", rule.ID, "rule", rule.Name,
		"action", string(rule.ActionType), "value", value, "threshold", cfg.Threshold)
	return e.performAction(ctx, st, tenantID, rule, cfg, value, now)
}

func (e *Engine) performAction(ctx context.Context, st store.Store, tenantID string, rule *models.GuardrailRule, cond ConditionConfig, value float64, now time.Time) error {
	var action ActionConfig
	if len(rule.ActionConfig) > 0 {
		if err := json.Unmarshal(rule.ActionConfig, &action); err != nil {
			return models.ValidationError("invalid action config for rule " + rule.ID)
		}
	}
	agentID := rule.AgentID
	if action.AgentID != "" {
		agentID = action.AgentID
	}

	switch rule.ActionType {
	case models.ActionPauseAgent:
		if agentID == "" {
			return models.ValidationError("pause_agent requires a target agent")
		}
		return st.SetAgentPaused(ctx, agentID, true)

	case models.ActionDowngradeModel:
		if agentID == "" || action.Model == "" {
			return models.ValidationError("downgrade_model requires a target agent and model")
		}
		return st.SetAgentModelOverride(ctx, agentID, action.Model)

	case models.ActionNotify:
		if e.router == nil || len(action.Channels) == 0 {
			return nil
		}
		e.router.Dispatch(ctx, tenantID, action.Channels, &notify.Payload{
			Source:       "guardrail_rule",
			Severity:     "warning",
			Title:        "Guardrail: " + rule.Name,
			Message:      triggerMessage(rule, cond, value),
			RuleID:       rule.ID,
			RuleName:     rule.Name,
			TriggeredAt:  now,
			CurrentValue: value,
			Threshold:    cond.Threshold,
			Metadata:     map[string]any{"conditionType": rule.ConditionType},
		})
		return nil

	case models.ActionLog:
		if e.ingestor == nil {
			return nil
		}
		if agentID == "" {
			agentID = "system"
		}
		payload := map[string]any{
			"guardrail":    true,
			"ruleId":       rule.ID,
			"ruleName":     rule.Name,
			"message":      triggerMessage(rule, cond, value),
			"currentValue": value,
			"threshold":    cond.Threshold,
		}
		_, err := e.ingestor.Ingest(ctx, tenantID, []models.IngestEvent{{
			SessionID: "guardrail-" + rule.ID,
			AgentID:   agentID,
			EventType: models.EventCustom,
			Severity:  models.SeverityWarning,
			Payload:   marshalPayload(payload),
		}})
		return err
	}
	return models.ValidationError("unknown guardrail action: " + string(rule.ActionType))
}

func alertCondition(conditionType string) (models.AlertCondition, error) {
	switch conditionType {
	case ConditionErrorRateThreshold:
		return models.ConditionErrorRateExceeds, nil
	case ConditionCostThreshold:
		return models.ConditionCostExceeds, nil
	case ConditionLatencyThreshold:
		return models.ConditionLatencyExceeds, nil
	}
	return "", models.ValidationError("unknown guardrail condition: " + conditionType)
}

func inCooldown(last *time.Time, cooldownMinutes int, now time.Time) bool {
	return last != nil && last.Add(time.Duration(cooldownMinutes)*time.Minute).After(now)
}

func triggerMessage(rule *models.GuardrailRule, cond ConditionConfig, value float64) string {
	return fmt.Sprintf("%s: %.4f exceeded threshold %.4f over the last %d minutes",
		rule.Name, value, cond.Threshold, cond.WindowMinutes)
}

func marshalPayload(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
