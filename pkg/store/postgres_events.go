package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
)

const eventColumns = "id, tenant_id, session_id, agent_id, event_type, severity, payload, metadata, prev_hash, hash, ts"

// InsertEvents persists a batch atomically. For every session touched by the
// batch the transaction takes a pg advisory lock on (tenant, session), so
// concurrent inserts to the same session serialize and the chain check below
// cannot race. Session aggregates and agent rows are updated in the same
// transaction.
func (s *pgStore) InsertEvents(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		if ev.TenantID != s.tenantID {
			return models.NewError(models.KindValidation, "event tenant does not match store tenant")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin insert transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Group by session, preserving batch order within each group.
	order := make([]string, 0)
	groups := make(map[string][]*models.Event)
	for _, ev := range events {
		if _, ok := groups[ev.SessionID]; !ok {
			order = append(order, ev.SessionID)
		}
		groups[ev.SessionID] = append(groups[ev.SessionID], ev)
	}

	for _, sessionID := range order {
		group := groups[sessionID]

		if _, err := tx.ExecContext(ctx,
			"SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))",
			s.tenantID, sessionID); err != nil {
			return storageErr("advisory lock", err)
		}

		var lastHash sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT hash FROM events WHERE tenant_id = $1 AND session_id = $2 ORDER BY seq DESC LIMIT 1`,
			s.tenantID, sessionID).Scan(&lastHash)
		if err != nil && err != sql.ErrNoRows {
			return storageErr("read chain head", err)
		}

		expected := (*string)(nil)
		if lastHash.Valid {
			expected = &lastHash.String
		}
		for _, ev := range group {
			if !hashPtrEqual(ev.PrevHash, expected) {
				return models.NewError(models.KindConflict, "hash chain mismatch for session "+sessionID)
			}
			h := ev.Hash
			expected = &h
		}

		if err := s.insertSessionGroup(ctx, tx, sessionID, group); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit insert transaction", err)
	}
	return nil
}

func (s *pgStore) insertSessionGroup(ctx context.Context, tx *sql.Tx, sessionID string, group []*models.Event) error {
	for _, ev := range group {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, tenant_id, session_id, agent_id, event_type, severity, payload, metadata, prev_hash, hash, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			ev.ID, ev.TenantID, ev.SessionID, ev.AgentID, string(ev.EventType), string(ev.Severity),
			[]byte(ev.Payload), rawOrNull(ev.Metadata), ev.PrevHash, ev.Hash, ev.Timestamp.UTC())
		if err != nil {
			return storageErr("insert event", err)
		}
	}

	// Load (or create) the session aggregate row under the advisory lock,
	// fold the batch in Go, and write it back. Keeps counting logic shared
	// with the in-memory store.
	sess, isNew, err := s.loadSessionForUpdate(ctx, tx, sessionID, group[0])
	if err != nil {
		return err
	}
	var agentName string
	for _, ev := range group {
		if name := foldEventIntoSession(sess, ev); name != "" {
			agentName = name
		}
	}
	if err := s.writeSession(ctx, tx, sess); err != nil {
		return err
	}
	return s.upsertAgent(ctx, tx, group[0].AgentID, agentName, group[len(group)-1].Timestamp, isNew)
}

func (s *pgStore) loadSessionForUpdate(ctx context.Context, tx *sql.Tx, sessionID string, first *models.Event) (*models.Session, bool, error) {
	sess := &models.Session{}
	var endedAt sql.NullTime
	var agentName sql.NullString
	var tagsRaw []byte
	err := tx.QueryRowContext(ctx,
		`SELECT session_id, tenant_id, agent_id, agent_name, started_at, ended_at, status,
		        event_count, tool_call_count, error_count, llm_call_count,
		        total_input_tokens, total_output_tokens, total_cost_usd, tags
		 FROM sessions WHERE tenant_id = $1 AND session_id = $2 FOR UPDATE`,
		s.tenantID, sessionID).Scan(
		&sess.SessionID, &sess.TenantID, &sess.AgentID, &agentName, &sess.StartedAt, &endedAt, &sess.Status,
		&sess.EventCount, &sess.ToolCallCount, &sess.ErrorCount, &sess.LLMCallCount,
		&sess.TotalInputTokens, &sess.TotalOutputTokens, &sess.TotalCostUsd, &tagsRaw)
	if err == sql.ErrNoRows {
		return &models.Session{
			SessionID: sessionID,
			TenantID:  s.tenantID,
			AgentID:   first.AgentID,
			StartedAt: first.Timestamp.UTC(),
			Status:    models.SessionActive,
		}, true, nil
	}
	if err != nil {
		return nil, false, storageErr("load session", err)
	}
	sess.AgentName = agentName.String
	sess.EndedAt = timePtr(endedAt)
	sess.Tags = scanStringSlice(tagsRaw)
	return sess, false, nil
}

func (s *pgStore) writeSession(ctx context.Context, tx *sql.Tx, sess *models.Session) error {
	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UTC()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, tenant_id, agent_id, agent_name, started_at, ended_at, status,
		                       event_count, tool_call_count, error_count, llm_call_count,
		                       total_input_tokens, total_output_tokens, total_cost_usd, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (tenant_id, session_id) DO UPDATE SET
		   agent_name = EXCLUDED.agent_name, ended_at = EXCLUDED.ended_at, status = EXCLUDED.status,
		   event_count = EXCLUDED.event_count, tool_call_count = EXCLUDED.tool_call_count,
		   error_count = EXCLUDED.error_count, llm_call_count = EXCLUDED.llm_call_count,
		   total_input_tokens = EXCLUDED.total_input_tokens, total_output_tokens = EXCLUDED.total_output_tokens,
		   total_cost_usd = EXCLUDED.total_cost_usd, tags = EXCLUDED.tags`,
		sess.SessionID, sess.TenantID, sess.AgentID, nullIfEmpty(sess.AgentName),
		sess.StartedAt.UTC(), endedAt, string(sess.Status),
		sess.EventCount, sess.ToolCallCount, sess.ErrorCount, sess.LLMCallCount,
		sess.TotalInputTokens, sess.TotalOutputTokens, sess.TotalCostUsd, marshalJSON(sess.Tags))
	if err != nil {
		return storageErr("write session", err)
	}
	return nil
}

func (s *pgStore) upsertAgent(ctx context.Context, tx *sql.Tx, agentID, agentName string, seenAt time.Time, newSession bool) error {
	sessionIncrement := 0
	if newSession {
		sessionIncrement = 1
	}
	name := agentName
	if name == "" {
		name = agentID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO agents (agent_id, tenant_id, name, first_seen_at, last_seen_at, session_count, paused)
		 VALUES ($1, $2, $3, $4, $4, $5, FALSE)
		 ON CONFLICT (tenant_id, agent_id) DO UPDATE SET
		   last_seen_at = EXCLUDED.last_seen_at,
		   session_count = agents.session_count + $5,
		   name = CASE WHEN $6 <> '' THEN $6 ELSE agents.name END`,
		agentID, s.tenantID, name, seenAt.UTC(), sessionIncrement, agentName)
	if err != nil {
		return storageErr("upsert agent", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- reads ---

func (s *pgStore) QueryEvents(ctx context.Context, f EventFilter) (*EventPage, error) {
	where := []string{"tenant_id = $1"}
	args := []any{s.tenantID}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.SessionID != "" {
		addArg("session_id = $%d", f.SessionID)
	}
	if f.AgentID != "" {
		addArg("agent_id = $%d", f.AgentID)
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			types[i] = string(t)
		}
		where = append(where, fmt.Sprintf("event_type IN (%s)", inPlaceholders(&args, len(args)+1, types)))
	}
	if len(f.Severities) > 0 {
		sevs := make([]string, len(f.Severities))
		for i, sv := range f.Severities {
			sevs[i] = string(sv)
		}
		where = append(where, fmt.Sprintf("severity IN (%s)", inPlaceholders(&args, len(args)+1, sevs)))
	}
	if f.From != nil {
		addArg("ts >= $%d", f.From.UTC())
	}
	if f.To != nil {
		addArg("ts <= $%d", f.To.UTC())
	}
	if f.Search != "" {
		addArg("payload::text LIKE '%%' || $%d || '%%'", f.Search)
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, storageErr("count events", err)
	}

	dir := "ASC"
	if f.Order == OrderDesc {
		dir = "DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(
		"SELECT %s FROM events WHERE %s ORDER BY ts %s, seq %s LIMIT %d OFFSET %d",
		eventColumns, whereClause, dir, dir, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	return &EventPage{
		Events:  events,
		Total:   total,
		HasMore: int64(f.Offset+len(events)) < total,
	}, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	events := make([]*models.Event, 0)
	for rows.Next() {
		ev := &models.Event{}
		var payload, metadata []byte
		var prevHash sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.SessionID, &ev.AgentID,
			&ev.EventType, &ev.Severity, &payload, &metadata, &prevHash, &ev.Hash, &ev.Timestamp); err != nil {
			return nil, storageErr("scan event", err)
		}
		ev.Payload = json.RawMessage(payload)
		if len(metadata) > 0 {
			ev.Metadata = json.RawMessage(metadata)
		}
		if prevHash.Valid {
			ev.PrevHash = &prevHash.String
		}
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *pgStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE tenant_id = $1 AND id = $2", s.tenantID, id)
	if err != nil {
		return nil, storageErr("get event", err)
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, models.NewError(models.KindNotFound, "event not found: "+id)
	}
	return events[0], nil
}

func (s *pgStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess := &models.Session{}
	var endedAt sql.NullTime
	var agentName sql.NullString
	var tagsRaw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, tenant_id, agent_id, agent_name, started_at, ended_at, status,
		        event_count, tool_call_count, error_count, llm_call_count,
		        total_input_tokens, total_output_tokens, total_cost_usd, tags
		 FROM sessions WHERE tenant_id = $1 AND session_id = $2`,
		s.tenantID, sessionID).Scan(
		&sess.SessionID, &sess.TenantID, &sess.AgentID, &agentName, &sess.StartedAt, &endedAt, &sess.Status,
		&sess.EventCount, &sess.ToolCallCount, &sess.ErrorCount, &sess.LLMCallCount,
		&sess.TotalInputTokens, &sess.TotalOutputTokens, &sess.TotalCostUsd, &tagsRaw)
	if err != nil {
		return nil, notFoundOr("session not found: "+sessionID, err)
	}
	sess.AgentName = agentName.String
	sess.EndedAt = timePtr(endedAt)
	sess.StartedAt = sess.StartedAt.UTC()
	sess.Tags = scanStringSlice(tagsRaw)
	return sess, nil
}

func (s *pgStore) GetSessionTimeline(ctx context.Context, sessionID string) (*Timeline, error) {
	// Timelines follow insert order (seq), not timestamps. Clients may
	// backdate ts, and chain verification walks the insert sequence.
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE tenant_id = $1 AND session_id = $2 ORDER BY seq ASC",
		s.tenantID, sessionID)
	if err != nil {
		return nil, storageErr("query timeline", err)
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	return &Timeline{Events: events, ChainValid: hashchain.Verify(events)}, nil
}

func (s *pgStore) GetLastEventHash(ctx context.Context, sessionID string) (*string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT hash FROM events WHERE tenant_id = $1 AND session_id = $2 ORDER BY seq DESC LIMIT 1",
		s.tenantID, sessionID).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("read chain head", err)
	}
	return &hash, nil
}

func (s *pgStore) QuerySessions(ctx context.Context, f SessionFilter) ([]*models.Session, error) {
	where := []string{"tenant_id = $1"}
	args := []any{s.tenantID}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.AgentID != "" {
		addArg("agent_id = $%d", f.AgentID)
	}
	if f.Status != "" {
		addArg("status = $%d", string(f.Status))
	}
	if f.From != nil {
		addArg("started_at >= $%d", f.From.UTC())
	}
	if f.To != nil {
		addArg("started_at <= $%d", f.To.UTC())
	}
	if len(f.Tags) > 0 {
		// JSONB containment per tag, ANY-match.
		tagClauses := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			args = append(args, string(marshalJSON([]string{tag})))
			tagClauses[i] = fmt.Sprintf("tags @> $%d::jsonb", len(args))
		}
		where = append(where, "("+strings.Join(tagClauses, " OR ")+")")
	}

	query := `SELECT session_id, tenant_id, agent_id, agent_name, started_at, ended_at, status,
	                 event_count, tool_call_count, error_count, llm_call_count,
	                 total_input_tokens, total_output_tokens, total_cost_usd, tags
	          FROM sessions WHERE ` + strings.Join(where, " AND ") + " ORDER BY started_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query sessions", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		sess := &models.Session{}
		var endedAt sql.NullTime
		var agentName sql.NullString
		var tagsRaw []byte
		if err := rows.Scan(&sess.SessionID, &sess.TenantID, &sess.AgentID, &agentName,
			&sess.StartedAt, &endedAt, &sess.Status,
			&sess.EventCount, &sess.ToolCallCount, &sess.ErrorCount, &sess.LLMCallCount,
			&sess.TotalInputTokens, &sess.TotalOutputTokens, &sess.TotalCostUsd, &tagsRaw); err != nil {
			return nil, storageErr("scan session", err)
		}
		sess.AgentName = agentName.String
		sess.EndedAt = timePtr(endedAt)
		sess.StartedAt = sess.StartedAt.UTC()
		sess.Tags = scanStringSlice(tagsRaw)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *pgStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, tenant_id, name, first_seen_at, last_seen_at, session_count, paused, COALESCE(model_override, '')
		 FROM agents WHERE tenant_id = $1 ORDER BY agent_id`, s.tenantID)
	if err != nil {
		return nil, storageErr("list agents", err)
	}
	defer rows.Close()

	agents := make([]*models.Agent, 0)
	for rows.Next() {
		a := &models.Agent{}
		if err := rows.Scan(&a.AgentID, &a.TenantID, &a.Name, &a.FirstSeenAt, &a.LastSeenAt,
			&a.SessionCount, &a.Paused, &a.ModelOverride); err != nil {
			return nil, storageErr("scan agent", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *pgStore) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	a := &models.Agent{}
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, tenant_id, name, first_seen_at, last_seen_at, session_count, paused, COALESCE(model_override, '')
		 FROM agents WHERE tenant_id = $1 AND agent_id = $2`, s.tenantID, agentID).Scan(
		&a.AgentID, &a.TenantID, &a.Name, &a.FirstSeenAt, &a.LastSeenAt,
		&a.SessionCount, &a.Paused, &a.ModelOverride)
	if err != nil {
		return nil, notFoundOr("agent not found: "+agentID, err)
	}
	return a, nil
}

func (s *pgStore) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE tenant_id = $1 AND ts >= $2", s.tenantID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, storageErr("count events", err)
	}
	return n, nil
}

func (s *pgStore) SetSessionTags(ctx context.Context, sessionID string, tags []string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET tags = $3 WHERE tenant_id = $1 AND session_id = $2",
		s.tenantID, sessionID, marshalJSON(mergeTags(nil, tags)))
	if err != nil {
		return storageErr("set session tags", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "session not found: "+sessionID)
	}
	return nil
}

func (s *pgStore) Purge(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin purge", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables := []string{
		"events", "sessions", "agents", "session_summaries", "lessons",
		"alert_rules", "alert_history", "guardrail_rules", "guardrail_states",
		"notification_channels", "notification_log", "benchmarks",
		"benchmark_results", "embeddings",
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = $1", s.tenantID); err != nil {
			return storageErr("purge "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit purge", err)
	}
	return nil
}

func (s *pgStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id
		 FROM sessions s
		 LEFT JOIN LATERAL (
		   SELECT MAX(ts) AS last_ts FROM events e
		   WHERE e.tenant_id = s.tenant_id AND e.session_id = s.session_id
		 ) le ON TRUE
		 WHERE s.tenant_id = $1 AND COALESCE(le.last_ts, s.started_at) < $2`,
		s.tenantID, cutoff.UTC())
	if err != nil {
		return 0, storageErr("select stale sessions", err)
	}
	stale := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, storageErr("scan stale session", err)
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storageErr("select stale sessions", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin retention purge", err)
	}
	defer func() { _ = tx.Rollback() }()

	var purged int64
	for _, sessionID := range stale {
		for _, table := range []string{"events", "session_summaries"} {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE tenant_id = $1 AND session_id = $2",
				s.tenantID, sessionID); err != nil {
				return 0, storageErr("retention purge "+table, err)
			}
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM sessions WHERE tenant_id = $1 AND session_id = $2",
			s.tenantID, sessionID)
		if err != nil {
			return 0, storageErr("retention purge sessions", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			purged++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit retention purge", err)
	}
	return purged, nil
}

func (s *pgStore) SetAgentPaused(ctx context.Context, agentID string, paused bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET paused = $3 WHERE tenant_id = $1 AND agent_id = $2",
		s.tenantID, agentID, paused)
	if err != nil {
		return storageErr("set agent paused", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "agent not found: "+agentID)
	}
	return nil
}

func (s *pgStore) SetAgentModelOverride(ctx context.Context, agentID, model string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET model_override = $3 WHERE tenant_id = $1 AND agent_id = $2",
		s.tenantID, agentID, nullIfEmpty(model))
	if err != nil {
		return storageErr("set agent model override", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindNotFound, "agent not found: "+agentID)
	}
	return nil
}
