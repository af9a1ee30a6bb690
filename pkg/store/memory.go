package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
)

// Memory is the in-memory Provider. It satisfies the same contracts as the
// PostgreSQL store, including per-session insert serialization, and backs
// single-node deployments and tests.
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]*tenantData
	apiKeys map[string]*models.APIKey // keyed by key hash
}

type tenantData struct {
	events        []*models.Event // global insert order
	eventsByID    map[string]*models.Event
	sessionEvents map[string][]*models.Event
	sessions      map[string]*models.Session
	agents        map[string]*models.Agent

	summaries       map[string]*models.SessionSummary
	lessons         map[string]*models.Lesson
	alertRules      map[string]*models.AlertRule
	alertHistory    []*models.AlertHistoryEntry
	guardrailRules  map[string]*models.GuardrailRule
	guardrailStates map[string]*models.GuardrailState
	channels        map[string]*models.NotificationChannel
	benchmarks      map[string]*models.Benchmark
	benchResults    map[string]*models.BenchmarkResults
	embeddings      map[string]*models.Embedding // keyed by content hash
	notifyLog       []*models.NotificationLogEntry
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		tenants: make(map[string]*tenantData),
		apiKeys: make(map[string]*models.APIKey),
	}
}

// ForTenant returns a Store bound to the given tenant.
func (m *Memory) ForTenant(tenantID string) Store {
	return &memStore{mem: m, tenantID: tenantID}
}

// APIKeys returns the key store.
func (m *Memory) APIKeys() APIKeyStore { return (*memKeyStore)(m) }

// Tenants lists every tenant bucket plus tenants known only through API keys.
func (m *Memory) Tenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{}, len(m.tenants))
	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, k := range m.apiKeys {
		if _, ok := seen[k.TenantID]; !ok {
			seen[k.TenantID] = struct{}{}
			ids = append(ids, k.TenantID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory provider.
func (m *Memory) Close() error { return nil }

// emptyBucket backs reads for tenants with no data yet. Reads on its nil
// maps and slices are safe; it must never be written to.
var emptyBucket = &tenantData{}

// readTenant returns the tenant bucket without materializing it, so read
// paths holding only RLock never write the tenants map.
func (m *Memory) readTenant(id string) *tenantData {
	if td, ok := m.tenants[id]; ok {
		return td
	}
	return emptyBucket
}

// tenant returns (creating if needed) the tenant bucket. Callers must hold
// the write lock.
func (m *Memory) tenant(id string) *tenantData {
	td, ok := m.tenants[id]
	if !ok {
		td = &tenantData{
			eventsByID:      make(map[string]*models.Event),
			sessionEvents:   make(map[string][]*models.Event),
			sessions:        make(map[string]*models.Session),
			agents:          make(map[string]*models.Agent),
			summaries:       make(map[string]*models.SessionSummary),
			lessons:         make(map[string]*models.Lesson),
			alertRules:      make(map[string]*models.AlertRule),
			guardrailRules:  make(map[string]*models.GuardrailRule),
			guardrailStates: make(map[string]*models.GuardrailState),
			channels:        make(map[string]*models.NotificationChannel),
			benchmarks:      make(map[string]*models.Benchmark),
			benchResults:    make(map[string]*models.BenchmarkResults),
			embeddings:      make(map[string]*models.Embedding),
		}
		m.tenants[id] = td
	}
	return td
}

type memStore struct {
	mem      *Memory
	tenantID string
}

// --- EventWriter ---

func (s *memStore) InsertEvents(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)

	// Validate everything before mutating anything: all-or-none semantics.
	lastHash := make(map[string]*string)
	for _, ev := range events {
		if ev.TenantID != s.tenantID {
			return models.NewError(models.KindValidation, "event tenant does not match store tenant")
		}
		if _, exists := td.eventsByID[ev.ID]; exists {
			return models.NewError(models.KindConflict, "duplicate event id "+ev.ID)
		}
		expected, seen := lastHash[ev.SessionID]
		if !seen {
			if existing := td.sessionEvents[ev.SessionID]; len(existing) > 0 {
				expected = &existing[len(existing)-1].Hash
			}
		}
		if !hashPtrEqual(ev.PrevHash, expected) {
			return models.NewError(models.KindConflict, "hash chain mismatch for session "+ev.SessionID)
		}
		h := ev.Hash
		lastHash[ev.SessionID] = &h
	}

	for _, ev := range events {
		td.events = append(td.events, ev)
		td.eventsByID[ev.ID] = ev
		td.sessionEvents[ev.SessionID] = append(td.sessionEvents[ev.SessionID], ev)
		applyAggregates(td, ev)
	}
	return nil
}

func hashPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// applyAggregates updates the session and agent rows for one inserted event.
// Mirrors the SQL-side trigger logic in the PostgreSQL store.
func applyAggregates(td *tenantData, ev *models.Event) {
	sess, ok := td.sessions[ev.SessionID]
	if !ok {
		sess = &models.Session{
			SessionID: ev.SessionID,
			TenantID:  ev.TenantID,
			AgentID:   ev.AgentID,
			StartedAt: ev.Timestamp,
			Status:    models.SessionActive,
		}
		td.sessions[ev.SessionID] = sess

		agent, found := td.agents[ev.AgentID]
		if !found {
			agent = &models.Agent{
				AgentID:     ev.AgentID,
				TenantID:    ev.TenantID,
				Name:        ev.AgentID,
				FirstSeenAt: ev.Timestamp,
			}
			td.agents[ev.AgentID] = agent
		}
		agent.SessionCount++
		agent.LastSeenAt = ev.Timestamp
	} else if agent, found := td.agents[ev.AgentID]; found {
		agent.LastSeenAt = ev.Timestamp
	}

	if agentName := foldEventIntoSession(sess, ev); agentName != "" {
		if agent, found := td.agents[ev.AgentID]; found {
			agent.Name = agentName
		}
	}
}

func (s *memStore) SetSessionTags(ctx context.Context, sessionID string, tags []string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	sess, ok := td.sessions[sessionID]
	if !ok {
		return models.NewError(models.KindNotFound, "session not found: "+sessionID)
	}
	sess.Tags = mergeTags(nil, tags)
	return nil
}

func (s *memStore) Purge(ctx context.Context) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	delete(s.mem.tenants, s.tenantID)
	return nil
}

// --- RetentionStore ---

func (s *memStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)

	stale := make(map[string]bool)
	for id, sess := range td.sessions {
		last := sess.StartedAt
		if events := td.sessionEvents[id]; len(events) > 0 {
			last = events[len(events)-1].Timestamp
		}
		if last.Before(cutoff) {
			stale[id] = true
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	kept := td.events[:0]
	for _, ev := range td.events {
		if stale[ev.SessionID] {
			delete(td.eventsByID, ev.ID)
		} else {
			kept = append(kept, ev)
		}
	}
	td.events = kept
	for id := range stale {
		delete(td.sessionEvents, id)
		delete(td.sessions, id)
		delete(td.summaries, id)
	}
	return int64(len(stale)), nil
}

// --- EventReader ---

func (s *memStore) QueryEvents(ctx context.Context, f EventFilter) (*EventPage, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)

	matched := make([]*models.Event, 0)
	for _, ev := range td.events {
		if eventMatches(ev, f) {
			matched = append(matched, ev)
		}
	}

	// Stable sort keeps insert order for equal timestamps.
	if f.Order == OrderDesc {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		})
	} else {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		})
	}

	total := int64(len(matched))
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	return &EventPage{
		Events:  matched[start:end],
		Total:   total,
		HasMore: int64(end) < total,
	}, nil
}

func eventMatches(ev *models.Event, f EventFilter) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.AgentID != "" && ev.AgentID != f.AgentID {
		return false
	}
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, ev.EventType) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, ev.Severity) {
		return false
	}
	if f.From != nil && ev.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.Timestamp.After(*f.To) {
		return false
	}
	if f.Search != "" && !strings.Contains(string(ev.Payload), f.Search) {
		return false
	}
	return true
}

func (s *memStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	ev, ok := td.eventsByID[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "event not found: "+id)
	}
	return ev, nil
}

func (s *memStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	sess, ok := td.sessions[sessionID]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "session not found: "+sessionID)
	}
	cp := *sess
	cp.Tags = append([]string(nil), sess.Tags...)
	return &cp, nil
}

func (s *memStore) GetSessionTimeline(ctx context.Context, sessionID string) (*Timeline, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	events := append([]*models.Event(nil), td.sessionEvents[sessionID]...)
	return &Timeline{Events: events, ChainValid: hashchain.Verify(events)}, nil
}

func (s *memStore) GetLastEventHash(ctx context.Context, sessionID string) (*string, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	events := td.sessionEvents[sessionID]
	if len(events) == 0 {
		return nil, nil
	}
	h := events[len(events)-1].Hash
	return &h, nil
}

func (s *memStore) QuerySessions(ctx context.Context, f SessionFilter) ([]*models.Session, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)

	matched := make([]*models.Session, 0)
	for _, sess := range td.sessions {
		if sessionMatches(sess, f) {
			cp := *sess
			cp.Tags = append([]string(nil), sess.Tags...)
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	return matched[start:end], nil
}

func sessionMatches(sess *models.Session, f SessionFilter) bool {
	if f.AgentID != "" && sess.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && sess.Status != f.Status {
		return false
	}
	if len(f.Tags) > 0 && !anyTagMatches(sess.Tags, f.Tags) {
		return false
	}
	if f.From != nil && sess.StartedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && sess.StartedAt.After(*f.To) {
		return false
	}
	return true
}

func (s *memStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	agents := make([]*models.Agent, 0, len(td.agents))
	for _, a := range td.agents {
		cp := *a
		agents = append(agents, &cp)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents, nil
}

func (s *memStore) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	a, ok := td.agents[agentID]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "agent not found: "+agentID)
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	var n int64
	for _, ev := range td.events {
		if !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// --- AgentMutator ---

func (s *memStore) SetAgentPaused(ctx context.Context, agentID string, paused bool) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	a, ok := td.agents[agentID]
	if !ok {
		return models.NewError(models.KindNotFound, "agent not found: "+agentID)
	}
	a.Paused = paused
	return nil
}

func (s *memStore) SetAgentModelOverride(ctx context.Context, agentID, model string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	a, ok := td.agents[agentID]
	if !ok {
		return models.NewError(models.KindNotFound, "agent not found: "+agentID)
	}
	a.ModelOverride = model
	return nil
}

// --- helpers ---

func containsType(types []models.EventType, t models.EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func containsSeverity(sevs []models.Severity, s models.Severity) bool {
	for _, x := range sevs {
		if x == s {
			return true
		}
	}
	return false
}

func anyTagMatches(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range incoming {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
