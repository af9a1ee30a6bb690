package store

import (
	"context"
	"sort"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// --- SummaryStore ---

func (s *memStore) UpsertSessionSummary(ctx context.Context, sum *models.SessionSummary) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	cp := *sum
	s.mem.tenant(s.tenantID).summaries[sum.SessionID] = &cp
	return nil
}

func (s *memStore) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	sum, ok := s.mem.readTenant(s.tenantID).summaries[sessionID]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "summary not found for session "+sessionID)
	}
	cp := *sum
	return &cp, nil
}

// --- LessonStore ---

func (s *memStore) CreateLesson(ctx context.Context, l *models.Lesson) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.lessons[l.ID]; exists {
		return models.NewError(models.KindConflict, "lesson already exists: "+l.ID)
	}
	cp := *l
	td.lessons[l.ID] = &cp
	return nil
}

func (s *memStore) UpdateLesson(ctx context.Context, l *models.Lesson) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.lessons[l.ID]; !exists {
		return models.NewError(models.KindNotFound, "lesson not found: "+l.ID)
	}
	cp := *l
	td.lessons[l.ID] = &cp
	return nil
}

func (s *memStore) GetLesson(ctx context.Context, id string) (*models.Lesson, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	l, ok := s.mem.readTenant(s.tenantID).lessons[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "lesson not found: "+id)
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) ListLessons(ctx context.Context, agentID, category string, includeArchived bool) ([]*models.Lesson, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.Lesson, 0)
	for _, l := range td.lessons {
		if agentID != "" && l.AgentID != agentID {
			continue
		}
		if category != "" && l.Category != category {
			continue
		}
		if l.Archived && !includeArchived {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) TouchLessonAccess(ctx context.Context, id string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	l, ok := s.mem.tenant(s.tenantID).lessons[id]
	if !ok {
		return models.NewError(models.KindNotFound, "lesson not found: "+id)
	}
	l.AccessCount++
	return nil
}

// --- AlertStore ---

func (s *memStore) CreateAlertRule(ctx context.Context, r *models.AlertRule) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.alertRules[r.ID]; exists {
		return models.NewError(models.KindConflict, "alert rule already exists: "+r.ID)
	}
	cp := *r
	td.alertRules[r.ID] = &cp
	return nil
}

func (s *memStore) UpdateAlertRule(ctx context.Context, r *models.AlertRule) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.alertRules[r.ID]; !exists {
		return models.NewError(models.KindNotFound, "alert rule not found: "+r.ID)
	}
	cp := *r
	td.alertRules[r.ID] = &cp
	return nil
}

func (s *memStore) DeleteAlertRule(ctx context.Context, id string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.alertRules[id]; !exists {
		return models.NewError(models.KindNotFound, "alert rule not found: "+id)
	}
	delete(td.alertRules, id)
	return nil
}

func (s *memStore) GetAlertRule(ctx context.Context, id string) (*models.AlertRule, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	r, ok := s.mem.readTenant(s.tenantID).alertRules[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "alert rule not found: "+id)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListAlertRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.AlertRule, 0, len(td.alertRules))
	for _, r := range td.alertRules {
		if enabledOnly && !r.Enabled {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) AppendAlertHistory(ctx context.Context, e *models.AlertHistoryEntry) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	cp := *e
	td.alertHistory = append(td.alertHistory, &cp)
	return nil
}

func (s *memStore) ListAlertHistory(ctx context.Context, ruleID string, limit int) ([]*models.AlertHistoryEntry, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.AlertHistoryEntry, 0)
	for i := len(td.alertHistory) - 1; i >= 0; i-- {
		e := td.alertHistory[i]
		if ruleID != "" && e.RuleID != ruleID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) LastTriggeredAt(ctx context.Context, ruleID string) (*time.Time, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	for i := len(td.alertHistory) - 1; i >= 0; i-- {
		if td.alertHistory[i].RuleID == ruleID {
			t := td.alertHistory[i].TriggeredAt
			return &t, nil
		}
	}
	return nil, nil
}

// --- GuardrailStore ---

func (s *memStore) CreateGuardrailRule(ctx context.Context, r *models.GuardrailRule) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.guardrailRules[r.ID]; exists {
		return models.NewError(models.KindConflict, "guardrail rule already exists: "+r.ID)
	}
	cp := *r
	td.guardrailRules[r.ID] = &cp
	return nil
}

func (s *memStore) UpdateGuardrailRule(ctx context.Context, r *models.GuardrailRule) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.guardrailRules[r.ID]; !exists {
		return models.NewError(models.KindNotFound, "guardrail rule not found: "+r.ID)
	}
	cp := *r
	td.guardrailRules[r.ID] = &cp
	return nil
}

func (s *memStore) DeleteGuardrailRule(ctx context.Context, id string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.guardrailRules[id]; !exists {
		return models.NewError(models.KindNotFound, "guardrail rule not found: "+id)
	}
	delete(td.guardrailRules, id)
	delete(td.guardrailStates, id)
	return nil
}

func (s *memStore) GetGuardrailRule(ctx context.Context, id string) (*models.GuardrailRule, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	r, ok := s.mem.readTenant(s.tenantID).guardrailRules[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "guardrail rule not found: "+id)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListGuardrailRules(ctx context.Context, enabledOnly bool) ([]*models.GuardrailRule, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.GuardrailRule, 0, len(td.guardrailRules))
	for _, r := range td.guardrailRules {
		if enabledOnly && !r.Enabled {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) UpsertGuardrailState(ctx context.Context, st *models.GuardrailState) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	cp := *st
	s.mem.tenant(s.tenantID).guardrailStates[st.RuleID] = &cp
	return nil
}

func (s *memStore) GetGuardrailState(ctx context.Context, ruleID string) (*models.GuardrailState, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	st, ok := s.mem.readTenant(s.tenantID).guardrailStates[ruleID]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "guardrail state not found: "+ruleID)
	}
	cp := *st
	return &cp, nil
}

// --- ChannelStore ---

func (s *memStore) CreateChannel(ctx context.Context, c *models.NotificationChannel) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.channels[c.ID]; exists {
		return models.NewError(models.KindConflict, "channel already exists: "+c.ID)
	}
	cp := *c
	td.channels[c.ID] = &cp
	return nil
}

func (s *memStore) UpdateChannel(ctx context.Context, c *models.NotificationChannel) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.channels[c.ID]; !exists {
		return models.NewError(models.KindNotFound, "channel not found: "+c.ID)
	}
	cp := *c
	td.channels[c.ID] = &cp
	return nil
}

func (s *memStore) DeleteChannel(ctx context.Context, id string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.channels[id]; !exists {
		return models.NewError(models.KindNotFound, "channel not found: "+id)
	}
	delete(td.channels, id)
	return nil
}

func (s *memStore) GetChannel(ctx context.Context, id string) (*models.NotificationChannel, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	c, ok := s.mem.readTenant(s.tenantID).channels[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "channel not found: "+id)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListChannels(ctx context.Context) ([]*models.NotificationChannel, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.NotificationChannel, 0, len(td.channels))
	for _, c := range td.channels {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- BenchmarkStore ---

func (s *memStore) CreateBenchmark(ctx context.Context, b *models.Benchmark) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.benchmarks[b.ID]; exists {
		return models.NewError(models.KindConflict, "benchmark already exists: "+b.ID)
	}
	cp := *b
	td.benchmarks[b.ID] = &cp
	return nil
}

func (s *memStore) UpdateBenchmark(ctx context.Context, b *models.Benchmark) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if _, exists := td.benchmarks[b.ID]; !exists {
		return models.NewError(models.KindNotFound, "benchmark not found: "+b.ID)
	}
	cp := *b
	td.benchmarks[b.ID] = &cp
	return nil
}

func (s *memStore) GetBenchmark(ctx context.Context, id string) (*models.Benchmark, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	b, ok := s.mem.readTenant(s.tenantID).benchmarks[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "benchmark not found: "+id)
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) ListBenchmarks(ctx context.Context) ([]*models.Benchmark, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.Benchmark, 0, len(td.benchmarks))
	for _, b := range td.benchmarks {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) SaveBenchmarkResults(ctx context.Context, r *models.BenchmarkResults) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	cp := *r
	s.mem.tenant(s.tenantID).benchResults[r.BenchmarkID] = &cp
	return nil
}

func (s *memStore) GetBenchmarkResults(ctx context.Context, benchmarkID string) (*models.BenchmarkResults, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	r, ok := s.mem.readTenant(s.tenantID).benchResults[benchmarkID]
	if !ok {
		return nil, models.NewError(models.KindNotFound, "no cached results for benchmark "+benchmarkID)
	}
	cp := *r
	return &cp, nil
}

// --- EmbeddingStore ---

func (s *memStore) GetEmbeddingByContentHash(ctx context.Context, contentHash string) (*models.Embedding, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	e, ok := s.mem.readTenant(s.tenantID).embeddings[contentHash]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) UpsertEmbedding(ctx context.Context, e *models.Embedding) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	if existing, ok := td.embeddings[e.ContentHash]; ok {
		existing.SourceType = e.SourceType
		existing.SourceID = e.SourceID
		return nil
	}
	cp := *e
	cp.Vector = append([]float32(nil), e.Vector...)
	td.embeddings[e.ContentHash] = &cp
	return nil
}

func (s *memStore) ListEmbeddings(ctx context.Context, sourceType models.SourceType, from, to *time.Time) ([]*models.Embedding, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.Embedding, 0, len(td.embeddings))
	for _, e := range td.embeddings {
		if sourceType != "" && e.SourceType != sourceType {
			continue
		}
		if from != nil && e.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && e.CreatedAt.After(*to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// --- NotificationLogStore ---

func (s *memStore) AppendNotificationLog(ctx context.Context, e *models.NotificationLogEntry) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	td := s.mem.tenant(s.tenantID)
	cp := *e
	td.notifyLog = append(td.notifyLog, &cp)
	return nil
}

func (s *memStore) ListNotificationLog(ctx context.Context, limit int) ([]*models.NotificationLogEntry, error) {
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	td := s.mem.readTenant(s.tenantID)
	out := make([]*models.NotificationLogEntry, 0)
	for i := len(td.notifyLog) - 1; i >= 0; i-- {
		cp := *td.notifyLog[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- APIKeyStore ---

type memKeyStore Memory

func (m *memKeyStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[keyHash]
	if !ok {
		return nil, models.NewError(models.KindAuth, "unknown api key")
	}
	cp := *k
	return &cp, nil
}

func (m *memKeyStore) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.apiKeys[k.KeyHash]; exists {
		return models.NewError(models.KindConflict, "api key already exists")
	}
	cp := *k
	m.apiKeys[k.KeyHash] = &cp
	return nil
}

func (m *memKeyStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ID == id {
			k.LastUsed = usedAt
			return nil
		}
	}
	return models.NewError(models.KindNotFound, "api key not found: "+id)
}
