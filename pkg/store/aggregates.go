package store

import (
	"encoding/json"

	"github.com/agentlensai/agentlens/pkg/models"
)

// foldEventIntoSession applies one event's contribution to the session
// aggregate row. Shared by the in-memory and PostgreSQL stores so both sides
// count identically. Returns the agent display name carried by a
// session_started payload, if any.
func foldEventIntoSession(sess *models.Session, ev *models.Event) (agentName string) {
	sess.EventCount++

	switch ev.EventType {
	case models.EventToolCall:
		sess.ToolCallCount++
	case models.EventToolError:
		sess.ErrorCount++
	case models.EventLLMCall:
		sess.LLMCallCount++
	case models.EventSessionStarted:
		var p struct {
			AgentName string   `json:"agentName"`
			Tags      []string `json:"tags"`
		}
		if len(ev.Payload) > 0 && json.Unmarshal(ev.Payload, &p) == nil {
			if p.AgentName != "" {
				sess.AgentName = p.AgentName
				agentName = p.AgentName
			}
			if len(p.Tags) > 0 {
				sess.Tags = mergeTags(sess.Tags, p.Tags)
			}
		}
	case models.EventSessionEnded:
		ts := ev.Timestamp
		sess.EndedAt = &ts
		if sess.Status != models.SessionError {
			sess.Status = models.SessionCompleted
		}
	}

	if ev.Severity.IsErrorLevel() && ev.EventType != models.EventToolError {
		sess.ErrorCount++
	}
	if ev.Severity == models.SeverityCritical {
		sess.Status = models.SessionError
	}

	if ev.EventType == models.EventLLMResponse || ev.EventType == models.EventCostTracked {
		usage := models.DecodeTokenUsage(ev.Payload)
		sess.TotalInputTokens += usage.InputTokens
		sess.TotalOutputTokens += usage.OutputTokens
		sess.TotalCostUsd += usage.CostUsd
	}
	return agentName
}
