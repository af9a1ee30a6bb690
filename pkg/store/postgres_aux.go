package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// --- session summaries ---

func (s *pgStore) UpsertSessionSummary(ctx context.Context, sum *models.SessionSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_summaries (session_id, tenant_id, summary, topics, tool_sequence, error_summary, outcome, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, session_id) DO UPDATE SET
		   summary = EXCLUDED.summary, topics = EXCLUDED.topics, tool_sequence = EXCLUDED.tool_sequence,
		   error_summary = EXCLUDED.error_summary, outcome = EXCLUDED.outcome, generated_at = EXCLUDED.generated_at`,
		sum.SessionID, s.tenantID, sum.Summary, marshalJSON(sum.Topics), marshalJSON(sum.ToolSequence),
		nullIfEmpty(sum.ErrorSummary), sum.Outcome, sum.GeneratedAt.UTC())
	if err != nil {
		return storageErr("upsert session summary", err)
	}
	return nil
}

func (s *pgStore) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	sum := &models.SessionSummary{}
	var topics, toolSeq []byte
	var errSummary sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, tenant_id, summary, topics, tool_sequence, error_summary, outcome, generated_at
		 FROM session_summaries WHERE tenant_id = $1 AND session_id = $2`,
		s.tenantID, sessionID).Scan(
		&sum.SessionID, &sum.TenantID, &sum.Summary, &topics, &toolSeq, &errSummary, &sum.Outcome, &sum.GeneratedAt)
	if err != nil {
		return nil, notFoundOr("session summary not found: "+sessionID, err)
	}
	sum.Topics = scanStringSlice(topics)
	sum.ToolSequence = scanStringSlice(toolSeq)
	sum.ErrorSummary = errSummary.String
	return sum, nil
}

// --- lessons ---

func (s *pgStore) CreateLesson(ctx context.Context, l *models.Lesson) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (id, tenant_id, agent_id, category, title, content, importance,
		                      access_count, source_session_id, source_event_id, archived, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, s.tenantID, nullIfEmpty(l.AgentID), l.Category, l.Title, l.Content, string(l.Importance),
		l.AccessCount, nullIfEmpty(l.SourceSessionID), nullIfEmpty(l.SourceEventID), l.Archived,
		l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	if err != nil {
		return storageErr("create lesson", err)
	}
	return nil
}

func (s *pgStore) UpdateLesson(ctx context.Context, l *models.Lesson) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lessons SET agent_id = $3, category = $4, title = $5, content = $6, importance = $7,
		        archived = $8, updated_at = $9
		 WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, l.ID, nullIfEmpty(l.AgentID), l.Category, l.Title, l.Content, string(l.Importance),
		l.Archived, l.UpdatedAt.UTC())
	if err != nil {
		return storageErr("update lesson", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "lesson not found: "+l.ID)
	}
	return nil
}

func scanLesson(row interface{ Scan(...any) error }) (*models.Lesson, error) {
	l := &models.Lesson{}
	var agentID, sourceSession, sourceEvent sql.NullString
	err := row.Scan(&l.ID, &l.TenantID, &agentID, &l.Category, &l.Title, &l.Content, &l.Importance,
		&l.AccessCount, &sourceSession, &sourceEvent, &l.Archived, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.AgentID = agentID.String
	l.SourceSessionID = sourceSession.String
	l.SourceEventID = sourceEvent.String
	return l, nil
}

const lessonColumns = `id, tenant_id, agent_id, category, title, content, importance,
	access_count, source_session_id, source_event_id, archived, created_at, updated_at`

func (s *pgStore) GetLesson(ctx context.Context, id string) (*models.Lesson, error) {
	l, err := scanLesson(s.db.QueryRowContext(ctx,
		"SELECT "+lessonColumns+" FROM lessons WHERE tenant_id = $1 AND id = $2", s.tenantID, id))
	if err != nil {
		return nil, notFoundOr("lesson not found: "+id, err)
	}
	return l, nil
}

func (s *pgStore) ListLessons(ctx context.Context, agentID, category string, includeArchived bool) ([]*models.Lesson, error) {
	query := "SELECT " + lessonColumns + " FROM lessons WHERE tenant_id = $1"
	args := []any{s.tenantID}
	if agentID != "" {
		args = append(args, agentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if !includeArchived {
		query += " AND NOT archived"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list lessons", err)
	}
	defer rows.Close()

	lessons := make([]*models.Lesson, 0)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, storageErr("scan lesson", err)
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

func (s *pgStore) TouchLessonAccess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE lessons SET access_count = access_count + 1 WHERE tenant_id = $1 AND id = $2",
		s.tenantID, id)
	if err != nil {
		return storageErr("touch lesson access", err)
	}
	return nil
}

// --- alert rules and history ---

func (s *pgStore) CreateAlertRule(ctx context.Context, r *models.AlertRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_rules (id, tenant_id, name, enabled, condition, threshold, window_minutes,
		                          scope, notify_channels, cooldown_minutes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, s.tenantID, r.Name, r.Enabled, string(r.Condition), r.Threshold, r.WindowMinutes,
		marshalJSON(r.Scope), marshalJSON(r.NotifyChannels), r.CooldownMinutes,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return storageErr("create alert rule", err)
	}
	return nil
}

func (s *pgStore) UpdateAlertRule(ctx context.Context, r *models.AlertRule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_rules SET name = $3, enabled = $4, condition = $5, threshold = $6,
		        window_minutes = $7, scope = $8, notify_channels = $9, cooldown_minutes = $10, updated_at = $11
		 WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, r.ID, r.Name, r.Enabled, string(r.Condition), r.Threshold,
		r.WindowMinutes, marshalJSON(r.Scope), marshalJSON(r.NotifyChannels), r.CooldownMinutes,
		r.UpdatedAt.UTC())
	if err != nil {
		return storageErr("update alert rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "alert rule not found: "+r.ID)
	}
	return nil
}

func (s *pgStore) DeleteAlertRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM alert_rules WHERE tenant_id = $1 AND id = $2", s.tenantID, id)
	if err != nil {
		return storageErr("delete alert rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "alert rule not found: "+id)
	}
	return nil
}

func scanAlertRule(row interface{ Scan(...any) error }) (*models.AlertRule, error) {
	r := &models.AlertRule{}
	var scope, channels []byte
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Enabled, &r.Condition, &r.Threshold,
		&r.WindowMinutes, &scope, &channels, &r.CooldownMinutes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(scope, &r.Scope)
	r.NotifyChannels = scanStringSlice(channels)
	return r, nil
}

const alertRuleColumns = `id, tenant_id, name, enabled, condition, threshold, window_minutes,
	scope, notify_channels, cooldown_minutes, created_at, updated_at`

func (s *pgStore) GetAlertRule(ctx context.Context, id string) (*models.AlertRule, error) {
	r, err := scanAlertRule(s.db.QueryRowContext(ctx,
		"SELECT "+alertRuleColumns+" FROM alert_rules WHERE tenant_id = $1 AND id = $2", s.tenantID, id))
	if err != nil {
		return nil, notFoundOr("alert rule not found: "+id, err)
	}
	return r, nil
}

func (s *pgStore) ListAlertRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error) {
	query := "SELECT " + alertRuleColumns + " FROM alert_rules WHERE tenant_id = $1"
	if enabledOnly {
		query += " AND enabled"
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, s.tenantID)
	if err != nil {
		return nil, storageErr("list alert rules", err)
	}
	defer rows.Close()

	out := make([]*models.AlertRule, 0)
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, storageErr("scan alert rule", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) AppendAlertHistory(ctx context.Context, e *models.AlertHistoryEntry) error {
	var resolvedAt any
	if e.ResolvedAt != nil {
		resolvedAt = e.ResolvedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_history (id, rule_id, tenant_id, triggered_at, resolved_at, current_value, threshold, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.RuleID, s.tenantID, e.TriggeredAt.UTC(), resolvedAt, e.CurrentValue, e.Threshold, e.Message)
	if err != nil {
		return storageErr("append alert history", err)
	}
	return nil
}

func (s *pgStore) ListAlertHistory(ctx context.Context, ruleID string, limit int) ([]*models.AlertHistoryEntry, error) {
	query := `SELECT id, rule_id, tenant_id, triggered_at, resolved_at, current_value, threshold, message
	          FROM alert_history WHERE tenant_id = $1`
	args := []any{s.tenantID}
	if ruleID != "" {
		args = append(args, ruleID)
		query += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	query += " ORDER BY triggered_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list alert history", err)
	}
	defer rows.Close()

	out := make([]*models.AlertHistoryEntry, 0)
	for rows.Next() {
		e := &models.AlertHistoryEntry{}
		var resolvedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.RuleID, &e.TenantID, &e.TriggeredAt, &resolvedAt,
			&e.CurrentValue, &e.Threshold, &e.Message); err != nil {
			return nil, storageErr("scan alert history", err)
		}
		e.ResolvedAt = timePtr(resolvedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgStore) LastTriggeredAt(ctx context.Context, ruleID string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT triggered_at FROM alert_history WHERE tenant_id = $1 AND rule_id = $2 ORDER BY triggered_at DESC LIMIT 1",
		s.tenantID, ruleID).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("last triggered at", err)
	}
	t = t.UTC()
	return &t, nil
}

// --- guardrail rules and state ---

func (s *pgStore) CreateGuardrailRule(ctx context.Context, r *models.GuardrailRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guardrail_rules (id, tenant_id, name, enabled, condition_type, condition_config,
		                              action_type, action_config, agent_id, cooldown_minutes, dry_run, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, s.tenantID, r.Name, r.Enabled, r.ConditionType, rawOrNull(r.ConditionConfig),
		string(r.ActionType), rawOrNull(r.ActionConfig), nullIfEmpty(r.AgentID),
		r.CooldownMinutes, r.DryRun, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return storageErr("create guardrail rule", err)
	}
	return nil
}

func (s *pgStore) UpdateGuardrailRule(ctx context.Context, r *models.GuardrailRule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE guardrail_rules SET name = $3, enabled = $4, condition_type = $5, condition_config = $6,
		        action_type = $7, action_config = $8, agent_id = $9, cooldown_minutes = $10, dry_run = $11, updated_at = $12
		 WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, r.ID, r.Name, r.Enabled, r.ConditionType, rawOrNull(r.ConditionConfig),
		string(r.ActionType), rawOrNull(r.ActionConfig), nullIfEmpty(r.AgentID),
		r.CooldownMinutes, r.DryRun, r.UpdatedAt.UTC())
	if err != nil {
		return storageErr("update guardrail rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "guardrail rule not found: "+r.ID)
	}
	return nil
}

func (s *pgStore) DeleteGuardrailRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM guardrail_rules WHERE tenant_id = $1 AND id = $2", s.tenantID, id)
	if err != nil {
		return storageErr("delete guardrail rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "guardrail rule not found: "+id)
	}
	return nil
}

func scanGuardrailRule(row interface{ Scan(...any) error }) (*models.GuardrailRule, error) {
	r := &models.GuardrailRule{}
	var condConfig, actionConfig []byte
	var agentID sql.NullString
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Enabled, &r.ConditionType, &condConfig,
		&r.ActionType, &actionConfig, &agentID, &r.CooldownMinutes, &r.DryRun, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(condConfig) > 0 {
		r.ConditionConfig = json.RawMessage(condConfig)
	}
	if len(actionConfig) > 0 {
		r.ActionConfig = json.RawMessage(actionConfig)
	}
	r.AgentID = agentID.String
	return r, nil
}

const guardrailRuleColumns = `id, tenant_id, name, enabled, condition_type, condition_config,
	action_type, action_config, agent_id, cooldown_minutes, dry_run, created_at, updated_at`

func (s *pgStore) GetGuardrailRule(ctx context.Context, id string) (*models.GuardrailRule, error) {
	r, err := scanGuardrailRule(s.db.QueryRowContext(ctx,
		"SELECT "+guardrailRuleColumns+" FROM guardrail_rules WHERE tenant_id = $1 AND id = $2", s.tenantID, id))
	if err != nil {
		return nil, notFoundOr("guardrail rule not found: "+id, err)
	}
	return r, nil
}

func (s *pgStore) ListGuardrailRules(ctx context.Context, enabledOnly bool) ([]*models.GuardrailRule, error) {
	query := "SELECT " + guardrailRuleColumns + " FROM guardrail_rules WHERE tenant_id = $1"
	if enabledOnly {
		query += " AND enabled"
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, s.tenantID)
	if err != nil {
		return nil, storageErr("list guardrail rules", err)
	}
	defer rows.Close()

	out := make([]*models.GuardrailRule, 0)
	for rows.Next() {
		r, err := scanGuardrailRule(rows)
		if err != nil {
			return nil, storageErr("scan guardrail rule", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) UpsertGuardrailState(ctx context.Context, st *models.GuardrailState) error {
	var lastTriggered any
	if st.LastTriggeredAt != nil {
		lastTriggered = st.LastTriggeredAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guardrail_states (rule_id, tenant_id, last_triggered_at, trigger_count, last_evaluated_at, current_value)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, rule_id) DO UPDATE SET
		   last_triggered_at = EXCLUDED.last_triggered_at, trigger_count = EXCLUDED.trigger_count,
		   last_evaluated_at = EXCLUDED.last_evaluated_at, current_value = EXCLUDED.current_value`,
		st.RuleID, s.tenantID, lastTriggered, st.TriggerCount, st.LastEvaluatedAt.UTC(), st.CurrentValue)
	if err != nil {
		return storageErr("upsert guardrail state", err)
	}
	return nil
}

func (s *pgStore) GetGuardrailState(ctx context.Context, ruleID string) (*models.GuardrailState, error) {
	st := &models.GuardrailState{}
	var lastTriggered sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT rule_id, tenant_id, last_triggered_at, trigger_count, last_evaluated_at, current_value
		 FROM guardrail_states WHERE tenant_id = $1 AND rule_id = $2`,
		s.tenantID, ruleID).Scan(
		&st.RuleID, &st.TenantID, &lastTriggered, &st.TriggerCount, &st.LastEvaluatedAt, &st.CurrentValue)
	if err != nil {
		return nil, notFoundOr("guardrail state not found: "+ruleID, err)
	}
	st.LastTriggeredAt = timePtr(lastTriggered)
	return st, nil
}

// --- notification channels ---

func (s *pgStore) CreateChannel(ctx context.Context, c *models.NotificationChannel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_channels (id, tenant_id, name, type, enabled, config, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, s.tenantID, c.Name, string(c.Type), c.Enabled, []byte(c.Config), c.CreatedAt.UTC())
	if err != nil {
		return storageErr("create channel", err)
	}
	return nil
}

func (s *pgStore) UpdateChannel(ctx context.Context, c *models.NotificationChannel) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_channels SET name = $3, type = $4, enabled = $5, config = $6
		 WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, c.ID, c.Name, string(c.Type), c.Enabled, []byte(c.Config))
	if err != nil {
		return storageErr("update channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "channel not found: "+c.ID)
	}
	return nil
}

func (s *pgStore) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notification_channels WHERE tenant_id = $1 AND id = $2", s.tenantID, id)
	if err != nil {
		return storageErr("delete channel", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "channel not found: "+id)
	}
	return nil
}

func (s *pgStore) GetChannel(ctx context.Context, id string) (*models.NotificationChannel, error) {
	c := &models.NotificationChannel{}
	var config []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, type, enabled, config, created_at
		 FROM notification_channels WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.Enabled, &config, &c.CreatedAt)
	if err != nil {
		return nil, notFoundOr("channel not found: "+id, err)
	}
	c.Config = json.RawMessage(config)
	return c, nil
}

func (s *pgStore) ListChannels(ctx context.Context) ([]*models.NotificationChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, type, enabled, config, created_at
		 FROM notification_channels WHERE tenant_id = $1 ORDER BY created_at`, s.tenantID)
	if err != nil {
		return nil, storageErr("list channels", err)
	}
	defer rows.Close()

	out := make([]*models.NotificationChannel, 0)
	for rows.Next() {
		c := &models.NotificationChannel{}
		var config []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.Enabled, &config, &c.CreatedAt); err != nil {
			return nil, storageErr("scan channel", err)
		}
		c.Config = json.RawMessage(config)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- benchmarks ---

func (s *pgStore) CreateBenchmark(ctx context.Context, b *models.Benchmark) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO benchmarks (id, tenant_id, name, status, metrics, min_sessions_per_variant, variants, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, s.tenantID, b.Name, string(b.Status), marshalJSON(b.Metrics),
		b.MinSessionsPerVariant, marshalJSON(b.Variants), b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return storageErr("create benchmark", err)
	}
	return nil
}

func (s *pgStore) UpdateBenchmark(ctx context.Context, b *models.Benchmark) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE benchmarks SET name = $3, status = $4, metrics = $5, min_sessions_per_variant = $6,
		        variants = $7, updated_at = $8
		 WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, b.ID, b.Name, string(b.Status), marshalJSON(b.Metrics),
		b.MinSessionsPerVariant, marshalJSON(b.Variants), b.UpdatedAt.UTC())
	if err != nil {
		return storageErr("update benchmark", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "benchmark not found: "+b.ID)
	}
	return nil
}

func (s *pgStore) GetBenchmark(ctx context.Context, id string) (*models.Benchmark, error) {
	b := &models.Benchmark{}
	var metrics, variants []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, status, metrics, min_sessions_per_variant, variants, created_at, updated_at
		 FROM benchmarks WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, id).Scan(&b.ID, &b.TenantID, &b.Name, &b.Status, &metrics,
		&b.MinSessionsPerVariant, &variants, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, notFoundOr("benchmark not found: "+id, err)
	}
	_ = json.Unmarshal(metrics, &b.Metrics)
	_ = json.Unmarshal(variants, &b.Variants)
	return b, nil
}

func (s *pgStore) ListBenchmarks(ctx context.Context) ([]*models.Benchmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, status, metrics, min_sessions_per_variant, variants, created_at, updated_at
		 FROM benchmarks WHERE tenant_id = $1 ORDER BY created_at DESC`, s.tenantID)
	if err != nil {
		return nil, storageErr("list benchmarks", err)
	}
	defer rows.Close()

	out := make([]*models.Benchmark, 0)
	for rows.Next() {
		b := &models.Benchmark{}
		var metrics, variants []byte
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Name, &b.Status, &metrics,
			&b.MinSessionsPerVariant, &variants, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, storageErr("scan benchmark", err)
		}
		_ = json.Unmarshal(metrics, &b.Metrics)
		_ = json.Unmarshal(variants, &b.Variants)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *pgStore) SaveBenchmarkResults(ctx context.Context, r *models.BenchmarkResults) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO benchmark_results (benchmark_id, tenant_id, computed_at, results)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, benchmark_id) DO UPDATE SET
		   computed_at = EXCLUDED.computed_at, results = EXCLUDED.results`,
		r.BenchmarkID, s.tenantID, r.ComputedAt.UTC(), marshalJSON(r))
	if err != nil {
		return storageErr("save benchmark results", err)
	}
	return nil
}

func (s *pgStore) GetBenchmarkResults(ctx context.Context, benchmarkID string) (*models.BenchmarkResults, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT results FROM benchmark_results WHERE tenant_id = $1 AND benchmark_id = $2",
		s.tenantID, benchmarkID).Scan(&raw)
	if err != nil {
		return nil, notFoundOr("benchmark results not found: "+benchmarkID, err)
	}
	r := &models.BenchmarkResults{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, models.WrapError(models.KindCorruption, "decode benchmark results", err)
	}
	return r, nil
}

// --- embeddings ---

func (s *pgStore) GetEmbeddingByContentHash(ctx context.Context, contentHash string) (*models.Embedding, error) {
	e := &models.Embedding{}
	var vector []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, source_type, source_id, content_hash, text_content, vector, model, dimensions, created_at
		 FROM embeddings WHERE tenant_id = $1 AND content_hash = $2`,
		s.tenantID, contentHash).Scan(&e.ID, &e.TenantID, &e.SourceType, &e.SourceID,
		&e.ContentHash, &e.TextContent, &vector, &e.Model, &e.Dimensions, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get embedding", err)
	}
	e.Vector = vectorFromBytes(vector)
	return e, nil
}

func (s *pgStore) UpsertEmbedding(ctx context.Context, e *models.Embedding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (id, tenant_id, source_type, source_id, content_hash, text_content, vector, model, dimensions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (tenant_id, content_hash) DO UPDATE SET
		   source_type = EXCLUDED.source_type, source_id = EXCLUDED.source_id`,
		e.ID, s.tenantID, string(e.SourceType), e.SourceID, e.ContentHash, e.TextContent,
		vectorToBytes(e.Vector), e.Model, e.Dimensions, e.CreatedAt.UTC())
	if err != nil {
		return storageErr("upsert embedding", err)
	}
	return nil
}

func (s *pgStore) ListEmbeddings(ctx context.Context, sourceType models.SourceType, from, to *time.Time) ([]*models.Embedding, error) {
	query := `SELECT id, tenant_id, source_type, source_id, content_hash, text_content, vector, model, dimensions, created_at
	          FROM embeddings WHERE tenant_id = $1`
	args := []any{s.tenantID}
	if sourceType != "" {
		args = append(args, string(sourceType))
		query += fmt.Sprintf(" AND source_type = $%d", len(args))
	}
	if from != nil {
		args = append(args, from.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, to.UTC())
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list embeddings", err)
	}
	defer rows.Close()

	out := make([]*models.Embedding, 0)
	for rows.Next() {
		e := &models.Embedding{}
		var vector []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.SourceType, &e.SourceID,
			&e.ContentHash, &e.TextContent, &vector, &e.Model, &e.Dimensions, &e.CreatedAt); err != nil {
			return nil, storageErr("scan embedding", err)
		}
		e.Vector = vectorFromBytes(vector)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- notification log ---

func (s *pgStore) AppendNotificationLog(ctx context.Context, e *models.NotificationLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_log (id, tenant_id, channel_id, rule_id, rule_type, status, attempt, error_message, payload_summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, s.tenantID, e.ChannelID, e.RuleID, e.RuleType, e.Status, e.Attempt,
		nullIfEmpty(e.ErrorMessage), e.PayloadSummary, e.CreatedAt.UTC())
	if err != nil {
		return storageErr("append notification log", err)
	}
	return nil
}

func (s *pgStore) ListNotificationLog(ctx context.Context, limit int) ([]*models.NotificationLogEntry, error) {
	query := `SELECT id, tenant_id, channel_id, rule_id, rule_type, status, attempt, error_message, payload_summary, created_at
	          FROM notification_log WHERE tenant_id = $1 ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, s.tenantID)
	if err != nil {
		return nil, storageErr("list notification log", err)
	}
	defer rows.Close()

	out := make([]*models.NotificationLogEntry, 0)
	for rows.Next() {
		e := &models.NotificationLogEntry{}
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ChannelID, &e.RuleID, &e.RuleType,
			&e.Status, &e.Attempt, &errMsg, &e.PayloadSummary, &e.CreatedAt); err != nil {
			return nil, storageErr("scan notification log", err)
		}
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- api keys ---

type pgKeyStore struct {
	db *sql.DB
}

func (s *pgKeyStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	k := &models.APIKey{}
	var scopes []byte
	var rateLimit sql.NullInt64
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, key_hash, scopes, rate_limit, created_at, last_used_at
		 FROM api_keys WHERE key_hash = $1`,
		keyHash).Scan(&k.ID, &k.TenantID, &k.KeyHash, &scopes, &rateLimit, &k.CreatedAt, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, models.NewError(models.KindAuth, "unknown api key")
	}
	if err != nil {
		return nil, storageErr("get api key", err)
	}
	k.Scopes = scanStringSlice(scopes)
	k.RateLimit = int(rateLimit.Int64)
	if lastUsed.Valid {
		k.LastUsed = lastUsed.Time.UTC()
	}
	return k, nil
}

func (s *pgKeyStore) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, tenant_id, key_hash, scopes, rate_limit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		k.ID, k.TenantID, k.KeyHash, marshalJSON(k.Scopes), k.RateLimit, k.CreatedAt.UTC())
	if err != nil {
		return storageErr("create api key", err)
	}
	return nil
}

func (s *pgKeyStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = $2 WHERE id = $1", id, usedAt.UTC())
	if err != nil {
		return storageErr("touch api key", err)
	}
	return nil
}
