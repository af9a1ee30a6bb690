package models

import "time"

// SourceType identifies what an embedding vector was computed from.
type SourceType string

// Embedding source types.
const (
	SourceEvent   SourceType = "event"
	SourceSession SourceType = "session"
	SourceLesson  SourceType = "lesson"
)

// Valid reports whether t is a known embedding source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceEvent, SourceSession, SourceLesson:
		return true
	}
	return false
}

// Embedding is a content-addressed vector row. Uniqueness is
// (tenantId, contentHash): re-submitting the same content for a different
// source overwrites the source fields and skips recomputation.
type Embedding struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	SourceType  SourceType `json:"sourceType"`
	SourceID    string     `json:"sourceId"`
	ContentHash string     `json:"contentHash"`
	TextContent string     `json:"textContent"`
	Vector      []float32  `json:"vector"`
	Model       string     `json:"model"`
	Dimensions  int        `json:"dimensions"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Importance ranks a lesson's weight during recall.
type Importance string

// Lesson importance levels.
const (
	ImportanceLow      Importance = "low"
	ImportanceNormal   Importance = "normal"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Valid reports whether i is a known importance level.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceCritical:
		return true
	}
	return false
}

// Lesson is a user- or agent-authored knowledge item surfaced by recall and
// cross-session context retrieval.
type Lesson struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenantId"`
	AgentID         string     `json:"agentId,omitempty"`
	Category        string     `json:"category"`
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	Importance      Importance `json:"importance"`
	AccessCount     int64      `json:"accessCount"`
	SourceSessionID string     `json:"sourceSessionId,omitempty"`
	SourceEventID   string     `json:"sourceEventId,omitempty"`
	Archived        bool       `json:"archived"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
