package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// maxEventTextLen caps the text handed to the embedding queue per event.
const maxEventTextLen = 2000

// EventText derives the embeddable text of an event. Empty means the event
// carries nothing worth indexing.
func EventText(ev *models.Event) string {
	switch ev.EventType {
	case models.EventError, models.EventToolError:
		tool := models.DecodeToolCall(ev.Payload)
		parts := make([]string, 0, 3)
		if tool.ToolName != "" {
			parts = append(parts, "tool "+tool.ToolName+" failed")
		}
		if tool.Error != "" {
			parts = append(parts, tool.Error)
		}
		if msg := payloadString(ev, "message"); msg != "" {
			parts = append(parts, msg)
		}
		return clip(strings.Join(parts, ": "))
	case models.EventCustom:
		if msg := payloadString(ev, "message"); msg != "" {
			return clip(msg)
		}
		if summary := payloadString(ev, "summary"); summary != "" {
			return clip(summary)
		}
		return ""
	case models.EventLLMCall:
		return clip(payloadString(ev, "prompt"))
	default:
		return ""
	}
}

func payloadString(ev *models.Event, key string) string {
	if len(ev.Payload) == 0 {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal(ev.Payload, &decoded); err != nil {
		return ""
	}
	s, _ := decoded[key].(string)
	return strings.TrimSpace(s)
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxEventTextLen {
		return s[:maxEventTextLen]
	}
	return s
}

// Summarize derives a deterministic session summary from the full timeline:
// the tool sequence, an error digest, and an outcome classification.
func Summarize(sess *models.Session, timeline []*models.Event) *models.SessionSummary {
	toolSeq := make([]string, 0)
	errorLines := make([]string, 0)
	topics := append([]string(nil), sess.Tags...)

	for _, ev := range timeline {
		switch ev.EventType {
		case models.EventToolCall:
			if tool := models.DecodeToolCall(ev.Payload); tool.ToolName != "" {
				toolSeq = append(toolSeq, tool.ToolName)
			}
		case models.EventToolError, models.EventError:
			if text := EventText(ev); text != "" {
				errorLines = append(errorLines, text)
			}
		}
	}

	outcome := classifyOutcome(sess)

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s by agent %s %s with %d events",
		sess.SessionID, agentLabel(sess), outcome, sess.EventCount)
	if len(toolSeq) > 0 {
		fmt.Fprintf(&b, "; tools used: %s", strings.Join(dedupe(toolSeq), ", "))
	}
	if sess.ErrorCount > 0 {
		fmt.Fprintf(&b, "; %d errors", sess.ErrorCount)
	}
	if sess.TotalCostUsd > 0 {
		fmt.Fprintf(&b, "; cost $%.4f", sess.TotalCostUsd)
	}
	if d := sess.DurationMs(); d > 0 {
		fmt.Fprintf(&b, "; duration %s", (time.Duration(d) * time.Millisecond).Round(time.Millisecond))
	}

	return &models.SessionSummary{
		SessionID:    sess.SessionID,
		TenantID:     sess.TenantID,
		Summary:      b.String(),
		Topics:       topics,
		ToolSequence: toolSeq,
		ErrorSummary: strings.Join(errorLines, "; "),
		Outcome:      outcome,
		GeneratedAt:  time.Now().UTC(),
	}
}

func classifyOutcome(sess *models.Session) string {
	switch {
	case sess.Status == models.SessionError:
		return "failed"
	case sess.Status == models.SessionCompleted && sess.ErrorCount > 0:
		return "completed with errors"
	case sess.Status == models.SessionCompleted:
		return "completed"
	default:
		return "active"
	}
}

func agentLabel(sess *models.Session) string {
	if sess.AgentName != "" {
		return sess.AgentName
	}
	return sess.AgentID
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
