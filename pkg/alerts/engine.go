package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/notify"
	"github.com/agentlensai/agentlens/pkg/store"
)

// DefaultInterval is how often the engine sweeps all tenants.
const DefaultInterval = 60 * time.Second

// Dispatcher is the slice of the notification router the engine needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID string, targets []string, payload *notify.Payload)
}

// Engine periodically evaluates every enabled alert rule in every tenant.
// Rules are evaluated independently; one rule's failure never blocks the
// rest of the tick.
type Engine struct {
	provider store.Provider
	router   Dispatcher
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates an alert engine. Router may be nil, in which case
// triggers are recorded in history but nothing is dispatched.
func NewEngine(provider store.Provider, router Dispatcher, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		provider: provider,
		router:   router,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the evaluation ticker.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		slog.Info("Alert engine started", "interval", e.interval)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				slog.Info("Alert engine shutting down")
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

// Tick evaluates every tenant once. Exported for tests and the diagnostics
// endpoint.
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
	rules, err := st.ListAlertRules(ctx, true)
	if err != nil {
		slog.Error("Alert rule listing failed", "tenant_id", tenantID, "error", err)
		return
	}
	for _, rule := range rules {
		if err := e.evaluateRule(ctx, st, tenantID, rule, now); err != nil {
			slog.Error("Alert rule evaluation failed",
				"tenant_id", tenantID, "rule_id", rule.ID, "rule", rule.Name, "error", err)
		}
	}
}

func (e *Engine) evaluateRule(ctx context.Context, st store.Store, tenantID string, rule *models.AlertRule, now time.Time) error {
	last, err := st.LastTriggeredAt(ctx, rule.ID)
	if err != nil {
		return err
	}
	if last != nil && last.Add(time.Duration(rule.CooldownMinutes)*time.Minute).After(now) {
		return nil
	}

	window := time.Duration(rule.WindowMinutes) * time.Minute
	value, err := CurrentValue(ctx, st, rule.Condition, rule.Scope, window, now)
	if err != nil {
		return err
	}
	if value <= rule.Threshold {
		return nil
	}

	message := fmt.Sprintf("%s: %.4f exceeded threshold %.4f over the last %d minutes",
		rule.Name, value, rule.Threshold, rule.WindowMinutes)
	entry := &models.AlertHistoryEntry{
		ID:           uuid.NewString(),
		RuleID:       rule.ID,
		TenantID:     tenantID,
		TriggeredAt:  now,
		CurrentValue: value,
		Threshold:    rule.Threshold,
		Message:      message,
	}
	if err := st.AppendAlertHistory(ctx, entry); err != nil {
		return err
	}
	slog.Warn("Alert rule triggered",
		"tenant_id", tenantID, "rule_id", rule.ID, "rule", rule.Name,
		"value", value, "threshold", rule.Threshold)

	if e.router != nil && len(rule.NotifyChannels) > 0 {
		e.router.Dispatch(ctx, tenantID, rule.NotifyChannels, &notify.Payload{
			Source:       "alert_rule",
			Severity:     triggerSeverity(value, rule.Threshold),
			Title:        "Alert: " + rule.Name,
			Message:      message,
			RuleID:       rule.ID,
			RuleName:     rule.Name,
			TriggeredAt:  now,
			CurrentValue: value,
			Threshold:    rule.Threshold,
			Metadata: map[string]any{
				"condition":     string(rule.Condition),
				"windowMinutes": rule.WindowMinutes,
			},
		})
	}
	return nil
}

// triggerSeverity escalates to critical when the value is at least double
// the threshold.
func triggerSeverity(value, threshold float64) string {
	if threshold > 0 && value >= 2*threshold {
		return "critical"
	}
	return "warning"
}
