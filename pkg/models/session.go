package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

// Session statuses.
const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionError:
		return true
	}
	return false
}

// Session is the per-(tenant, sessionId) aggregate row. Aggregates are
// maintained in the same transaction as event inserts.
type Session struct {
	SessionID string        `json:"sessionId"`
	TenantID  string        `json:"tenantId"`
	AgentID   string        `json:"agentId"`
	AgentName string        `json:"agentName,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
	Status    SessionStatus `json:"status"`

	EventCount        int64   `json:"eventCount"`
	ToolCallCount     int64   `json:"toolCallCount"`
	ErrorCount        int64   `json:"errorCount"`
	LLMCallCount      int64   `json:"llmCallCount"`
	TotalInputTokens  int64   `json:"totalInputTokens"`
	TotalOutputTokens int64   `json:"totalOutputTokens"`
	TotalCostUsd      float64 `json:"totalCostUsd"`

	Tags []string `json:"tags,omitempty"`
}

// DurationMs returns the session duration in milliseconds, or 0 when the
// session has not ended.
func (s *Session) DurationMs() float64 {
	if s.EndedAt == nil {
		return 0
	}
	return float64(s.EndedAt.Sub(s.StartedAt).Milliseconds())
}

// SessionSummary is derived from the timeline when a session_ended event
// arrives, and regenerated on each subsequent session_ended.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	TenantID     string    `json:"tenantId"`
	Summary      string    `json:"summary"`
	Topics       []string  `json:"topics,omitempty"`
	ToolSequence []string  `json:"toolSequence,omitempty"`
	ErrorSummary string    `json:"errorSummary,omitempty"`
	Outcome      string    `json:"outcome"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Agent is the per-(tenant, agentId) row, upserted on each session's first
// event. Guardrail actions may set Paused and ModelOverride.
type Agent struct {
	AgentID       string    `json:"agentId"`
	TenantID      string    `json:"tenantId"`
	Name          string    `json:"name"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	SessionCount  int64     `json:"sessionCount"`
	Paused        bool      `json:"paused"`
	ModelOverride string    `json:"modelOverride,omitempty"`
}

// APIKey authenticates producers and dashboard clients. The raw key is never
// stored; lookup is by SHA-256 hash.
type APIKey struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	KeyHash   string    `json:"-"`
	Scopes    []string  `json:"scopes,omitempty"`
	RateLimit int       `json:"rateLimit,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed,omitempty"`
}
