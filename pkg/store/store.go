// Package store defines the tenant-scoped persistence contracts and provides
// two implementations: an in-memory store for single-node deployments and
// tests, and a PostgreSQL store for production.
//
// All operations on a Store are scoped to the tenant it was bound to via
// Provider.ForTenant. Read and write capabilities are split so evaluators
// (alerts, guardrails, benchmarks) consume only EventReader and can never
// write events by accident.
package store

import (
	"context"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// SortOrder for event queries.
type SortOrder string

// Sort orders.
const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// EventFilter selects events for QueryEvents. Zero values mean "no filter".
type EventFilter struct {
	SessionID  string
	AgentID    string
	EventTypes []models.EventType
	Severities []models.Severity
	From       *time.Time
	To         *time.Time
	Search     string // free-text substring match on payload
	Limit      int
	Offset     int
	Order      SortOrder
}

// EventPage is the paginated result envelope for QueryEvents.
type EventPage struct {
	Events  []*models.Event `json:"events"`
	Total   int64           `json:"total"`
	HasMore bool            `json:"hasMore"`
}

// Timeline is the full ordered event list for one session. ChainValid is
// false when the stored hash chain does not verify; corrupt chains are
// surfaced, never hidden.
type Timeline struct {
	Events     []*models.Event `json:"events"`
	ChainValid bool            `json:"chainValid"`
}

// SessionFilter selects sessions for QuerySessions.
type SessionFilter struct {
	AgentID string
	Status  models.SessionStatus
	Tags    []string // matches sessions carrying ANY of these tags
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// EventWriter is the write side of the event store. The ingest pipeline and
// the batch writer are its only consumers.
type EventWriter interface {
	// InsertEvents persists a slice of events atomically: all or none.
	// It also updates the per-session aggregate row and upserts the agent
	// row in the same transaction. Concurrent inserts to the same session
	// are serialized; a hash-chain race surfaces as a conflict error.
	InsertEvents(ctx context.Context, events []*models.Event) error

	// SetSessionTags replaces the tag set of a session.
	SetSessionTags(ctx context.Context, sessionID string, tags []string) error

	// Purge irreversibly deletes all tenant data. Data-subject-rights only.
	Purge(ctx context.Context) error
}

// EventReader is the read side consumed by evaluators, recall, export and
// the query API.
type EventReader interface {
	QueryEvents(ctx context.Context, f EventFilter) (*EventPage, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetSessionTimeline(ctx context.Context, sessionID string) (*Timeline, error)

	// GetLastEventHash returns the hash of the most recent event in the
	// session, or nil when the session has no events. O(1).
	GetLastEventHash(ctx context.Context, sessionID string) (*string, error)

	QuerySessions(ctx context.Context, f SessionFilter) ([]*models.Session, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)

	// CountEventsSince counts events ingested at or after the given time.
	// Drives the monthly quota check.
	CountEventsSince(ctx context.Context, since time.Time) (int64, error)
}

// AgentMutator is the minimal mutation surface handed to the guardrail
// engine, so it never holds the full store.
type AgentMutator interface {
	SetAgentPaused(ctx context.Context, agentID string, paused bool) error
	SetAgentModelOverride(ctx context.Context, agentID, model string) error
}

// RetentionStore enforces data retention policy.
type RetentionStore interface {
	// PurgeSessionsBefore deletes every session whose most recent event is
	// older than cutoff, together with its events and summary. Returns the
	// number of sessions removed. Idempotent; safe to run from multiple
	// replicas.
	PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SummaryStore persists derived session summaries.
type SummaryStore interface {
	UpsertSessionSummary(ctx context.Context, s *models.SessionSummary) error
	GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
}

// LessonStore persists knowledge items.
type LessonStore interface {
	CreateLesson(ctx context.Context, l *models.Lesson) error
	UpdateLesson(ctx context.Context, l *models.Lesson) error
	GetLesson(ctx context.Context, id string) (*models.Lesson, error)
	ListLessons(ctx context.Context, agentID, category string, includeArchived bool) ([]*models.Lesson, error)
	TouchLessonAccess(ctx context.Context, id string) error
}

// AlertStore persists alert rules and their trigger history.
type AlertStore interface {
	CreateAlertRule(ctx context.Context, r *models.AlertRule) error
	UpdateAlertRule(ctx context.Context, r *models.AlertRule) error
	DeleteAlertRule(ctx context.Context, id string) error
	GetAlertRule(ctx context.Context, id string) (*models.AlertRule, error)
	ListAlertRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error)

	AppendAlertHistory(ctx context.Context, e *models.AlertHistoryEntry) error
	ListAlertHistory(ctx context.Context, ruleID string, limit int) ([]*models.AlertHistoryEntry, error)
	// LastTriggeredAt returns the most recent trigger time for a rule, or
	// nil if it has never fired. Drives cooldown checks across restarts.
	LastTriggeredAt(ctx context.Context, ruleID string) (*time.Time, error)
}

// GuardrailStore persists guardrail rules and per-rule evaluation state.
type GuardrailStore interface {
	CreateGuardrailRule(ctx context.Context, r *models.GuardrailRule) error
	UpdateGuardrailRule(ctx context.Context, r *models.GuardrailRule) error
	DeleteGuardrailRule(ctx context.Context, id string) error
	GetGuardrailRule(ctx context.Context, id string) (*models.GuardrailRule, error)
	ListGuardrailRules(ctx context.Context, enabledOnly bool) ([]*models.GuardrailRule, error)

	UpsertGuardrailState(ctx context.Context, s *models.GuardrailState) error
	GetGuardrailState(ctx context.Context, ruleID string) (*models.GuardrailState, error)
}

// ChannelStore persists notification channels.
type ChannelStore interface {
	CreateChannel(ctx context.Context, c *models.NotificationChannel) error
	UpdateChannel(ctx context.Context, c *models.NotificationChannel) error
	DeleteChannel(ctx context.Context, id string) error
	GetChannel(ctx context.Context, id string) (*models.NotificationChannel, error)
	ListChannels(ctx context.Context) ([]*models.NotificationChannel, error)
}

// BenchmarkStore persists benchmarks and their cached results.
type BenchmarkStore interface {
	CreateBenchmark(ctx context.Context, b *models.Benchmark) error
	UpdateBenchmark(ctx context.Context, b *models.Benchmark) error
	GetBenchmark(ctx context.Context, id string) (*models.Benchmark, error)
	ListBenchmarks(ctx context.Context) ([]*models.Benchmark, error)

	SaveBenchmarkResults(ctx context.Context, r *models.BenchmarkResults) error
	GetBenchmarkResults(ctx context.Context, benchmarkID string) (*models.BenchmarkResults, error)
}

// EmbeddingStore persists content-addressed vectors.
type EmbeddingStore interface {
	// GetEmbeddingByContentHash returns the existing row for a content
	// hash, or nil when no vector exists yet.
	GetEmbeddingByContentHash(ctx context.Context, contentHash string) (*models.Embedding, error)

	// UpsertEmbedding inserts the row; when (tenant, contentHash) already
	// exists it overwrites the source fields of the existing row.
	UpsertEmbedding(ctx context.Context, e *models.Embedding) error

	// ListEmbeddings returns all vectors matching the optional filters,
	// for in-memory similarity scoring.
	ListEmbeddings(ctx context.Context, sourceType models.SourceType, from, to *time.Time) ([]*models.Embedding, error)
}

// NotificationLogStore records every delivery attempt.
type NotificationLogStore interface {
	AppendNotificationLog(ctx context.Context, e *models.NotificationLogEntry) error
	ListNotificationLog(ctx context.Context, limit int) ([]*models.NotificationLogEntry, error)
}

// Store aggregates every tenant-scoped capability.
type Store interface {
	EventWriter
	EventReader
	AgentMutator
	RetentionStore
	SummaryStore
	LessonStore
	AlertStore
	GuardrailStore
	ChannelStore
	BenchmarkStore
	EmbeddingStore
	NotificationLogStore
}

// APIKeyStore is tenant-independent: keys are looked up by hash before the
// tenant is known.
type APIKeyStore interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, k *models.APIKey) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
}

// Provider binds stores to tenants. Implementations share the underlying
// connection pool or memory across tenants.
type Provider interface {
	ForTenant(tenantID string) Store
	APIKeys() APIKeyStore
	// Tenants lists every tenant with data or an API key. Background
	// engines use it to sweep rules across tenants.
	Tenants(ctx context.Context) ([]string, error)
	Close() error
}
