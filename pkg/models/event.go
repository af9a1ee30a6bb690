// Package models contains the domain types shared by every component:
// events, sessions, agents, rules, embeddings, and the error taxonomy.
package models

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event types accepted by the ingest pipeline.
type EventType string

// Event type constants.
const (
	EventSessionStarted    EventType = "session_started"
	EventSessionEnded      EventType = "session_ended"
	EventToolCall          EventType = "tool_call"
	EventToolResponse      EventType = "tool_response"
	EventToolError         EventType = "tool_error"
	EventLLMCall           EventType = "llm_call"
	EventLLMResponse       EventType = "llm_response"
	EventError             EventType = "error"
	EventCostTracked       EventType = "cost_tracked"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalDenied    EventType = "approval_denied"
	EventApprovalExpired   EventType = "approval_expired"
	EventFormSubmitted     EventType = "form_submitted"
	EventFormCompleted     EventType = "form_completed"
	EventFormExpired       EventType = "form_expired"
	EventCustom            EventType = "custom"
)

var validEventTypes = map[EventType]bool{
	EventSessionStarted: true, EventSessionEnded: true,
	EventToolCall: true, EventToolResponse: true, EventToolError: true,
	EventLLMCall: true, EventLLMResponse: true,
	EventError: true, EventCostTracked: true,
	EventApprovalRequested: true, EventApprovalGranted: true,
	EventApprovalDenied: true, EventApprovalExpired: true,
	EventFormSubmitted: true, EventFormCompleted: true, EventFormExpired: true,
	EventCustom: true,
}

// Valid reports whether t is a member of the closed event type set.
func (t EventType) Valid() bool { return validEventTypes[t] }

// Severity classifies an event's impact.
type Severity string

// Severity levels.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// IsErrorLevel reports whether the severity counts toward session error
// aggregates (error or critical).
func (s Severity) IsErrorLevel() bool {
	return s == SeverityError || s == SeverityCritical
}

// MaxPayloadBytes is the cap applied to any single payload string field.
// Longer values are truncated with a "[truncated]" suffix.
const MaxPayloadBytes = 64 * 1024

// Event is a single persisted observability event. Events are append-only
// and form a per-session hash chain: Hash covers the canonical serialization
// of all fields including PrevHash.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId"`
	TenantID  string          `json:"tenantId"`
	EventType EventType       `json:"eventType"`
	Severity  Severity        `json:"severity"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	PrevHash  *string         `json:"prevHash"`
	Hash      string          `json:"hash"`
}

// IngestEvent is the producer-facing shape accepted by POST /api/events.
// Timestamp and Severity are optional; the pipeline fills defaults.
type IngestEvent struct {
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId"`
	EventType EventType       `json:"eventType"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Severity  Severity        `json:"severity,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// TokenUsage is the typed view of the token accounting fields that
// llm_response and cost_tracked payloads may carry.
type TokenUsage struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CacheRead    int64   `json:"cacheReadTokens"`
	CacheWrite   int64   `json:"cacheWriteTokens"`
	CostUsd      float64 `json:"costUsd"`
}

// ToolCallPayload is the typed view of tool_call / tool_response payloads.
type ToolCallPayload struct {
	ToolName   string          `json:"toolName"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	DurationMs float64         `json:"durationMs"`
	Error      string          `json:"error,omitempty"`
}

// DecodeTokenUsage extracts token accounting from a payload. Missing fields
// decode to their zero values; a nil payload yields an empty TokenUsage.
func DecodeTokenUsage(payload json.RawMessage) TokenUsage {
	var u TokenUsage
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &u)
	}
	return u
}

// DecodeToolCall extracts the typed tool call fields from a payload.
func DecodeToolCall(payload json.RawMessage) ToolCallPayload {
	var p ToolCallPayload
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &p)
	}
	return p
}
