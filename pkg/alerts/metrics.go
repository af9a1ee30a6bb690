// Package alerts evaluates alert rules over rolling event windows and
// dispatches notifications when a rule's value crosses its threshold.
package alerts

import (
	"context"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// metricPageSize bounds one window-scan page.
const metricPageSize = 1000

// CurrentValue computes a rule condition's value over the window ending now.
// Shared with the guardrail engine, whose conditions map onto the same three
// measurements.
func CurrentValue(ctx context.Context, st store.EventReader, condition models.AlertCondition, scope models.AlertScope, window time.Duration, now time.Time) (float64, error) {
	from := now.Add(-window)
	switch condition {
	case models.ConditionErrorRateExceeds:
		return errorRate(ctx, st, scope, from)
	case models.ConditionCostExceeds:
		return windowCost(ctx, st, scope, from)
	case models.ConditionLatencyExceeds:
		return avgLatency(ctx, st, scope, from)
	}
	return 0, models.ValidationError("unknown alert condition: " + string(condition))
}

// errorRate is (error-or-critical severity events plus tool_error events)
// over all events in the window.
func errorRate(ctx context.Context, st store.EventReader, scope models.AlertScope, from time.Time) (float64, error) {
	var total, errored int
	err := scanWindow(ctx, st, scope, from, nil, func(ev *models.Event) {
		total++
		if ev.Severity.IsErrorLevel() || ev.EventType == models.EventToolError {
			errored++
		}
	})
	if err != nil || total == 0 {
		return 0, err
	}
	return float64(errored) / float64(total), nil
}

func windowCost(ctx context.Context, st store.EventReader, scope models.AlertScope, from time.Time) (float64, error) {
	var sum float64
	types := []models.EventType{models.EventCostTracked}
	err := scanWindow(ctx, st, scope, from, types, func(ev *models.Event) {
		sum += models.DecodeTokenUsage(ev.Payload).CostUsd
	})
	return sum, err
}

func avgLatency(ctx context.Context, st store.EventReader, scope models.AlertScope, from time.Time) (float64, error) {
	var sum float64
	var n int
	types := []models.EventType{models.EventToolResponse}
	err := scanWindow(ctx, st, scope, from, types, func(ev *models.Event) {
		sum += models.DecodeToolCall(ev.Payload).DurationMs
		n++
	})
	if err != nil || n == 0 {
		return 0, err
	}
	return sum / float64(n), nil
}

// scanWindow pages through every event in the window and feeds the matching
// ones to fn. Tool-name scoping is applied here since payload fields are not
// indexed.
func scanWindow(ctx context.Context, st store.EventReader, scope models.AlertScope, from time.Time, types []models.EventType, fn func(*models.Event)) error {
	offset := 0
	for {
		page, err := st.QueryEvents(ctx, store.EventFilter{
			AgentID:    scope.AgentID,
			EventTypes: types,
			From:       &from,
			Limit:      metricPageSize,
			Offset:     offset,
		})
		if err != nil {
			return err
		}
		for _, ev := range page.Events {
			if scope.ToolName != "" {
				if models.DecodeToolCall(ev.Payload).ToolName != scope.ToolName {
					continue
				}
			}
			fn(ev)
		}
		if !page.HasMore {
			return nil
		}
		offset += len(page.Events)
	}
}
