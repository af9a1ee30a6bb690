// Package ingest implements the validated write path: it chains events per
// session, inserts them atomically, and fires best-effort post-commit side
// effects (bus fan-out, embedding jobs, session summaries).
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentlensai/agentlens/pkg/bus"
	"github.com/agentlensai/agentlens/pkg/embedding"
	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// MaxBatchSize caps one ingest call.
const MaxBatchSize = 1000

// conflictRetries bounds how many times an insert is retried after losing a
// hash-chain race to a concurrent batch for the same session.
const conflictRetries = 5

// Pipeline is the ingest write path. Bus and embeddings are optional; nil
// disables the corresponding side effect.
type Pipeline struct {
	provider   store.Provider
	bus        *bus.Bus
	embeddings embedding.Enqueuer
}

// New creates a pipeline.
func New(provider store.Provider, b *bus.Bus, embeddings embedding.Enqueuer) *Pipeline {
	return &Pipeline{provider: provider, bus: b, embeddings: embeddings}
}

// Ingest validates, chains, and persists a batch of events for one tenant.
// The batch either fully succeeds or fails as a whole; partial success would
// corrupt the per-session chain. Returns the persisted events in input order.
func (p *Pipeline) Ingest(ctx context.Context, tenantID string, reqs []models.IngestEvent) ([]*models.Event, error) {
	if err := Validate(reqs); err != nil {
		return nil, err
	}

	st := p.provider.ForTenant(tenantID)
	now := time.Now().UTC()

	// Group by session, remembering each request's position in the batch so
	// the response lines up with the input.
	order := make([]string, 0)
	groups := make(map[string][]models.IngestEvent)
	positions := make(map[string][]int)
	for i, req := range reqs {
		if _, ok := groups[req.SessionID]; !ok {
			order = append(order, req.SessionID)
		}
		groups[req.SessionID] = append(groups[req.SessionID], req)
		positions[req.SessionID] = append(positions[req.SessionID], i)
	}

	out := make([]*models.Event, len(reqs))
	var ended map[string]bool

	for _, sessionID := range order {
		events, err := p.insertGroup(ctx, st, tenantID, sessionID, groups[sessionID], now)
		if err != nil {
			return nil, err
		}
		for i, ev := range events {
			out[positions[sessionID][i]] = ev
			if ev.EventType == models.EventSessionEnded {
				if ended == nil {
					ended = make(map[string]bool)
				}
				ended[sessionID] = true
			}
		}
	}

	p.postCommit(ctx, st, tenantID, order, out, ended)
	return out, nil
}

// insertGroup builds the chained events for one session and inserts them,
// retrying from a fresh chain head when a concurrent batch wins the race.
func (p *Pipeline) insertGroup(ctx context.Context, st store.Store, tenantID, sessionID string, group []models.IngestEvent, now time.Time) ([]*models.Event, error) {
	for attempt := 0; ; attempt++ {
		prevHash, err := st.GetLastEventHash(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		events := make([]*models.Event, 0, len(group))
		for _, req := range group {
			ts := now
			if req.Timestamp != nil {
				ts = req.Timestamp.UTC()
			}
			severity := req.Severity
			if severity == "" {
				severity = models.SeverityInfo
			}
			ev := &models.Event{
				ID:        hashchain.NewEventID(),
				Timestamp: ts,
				SessionID: req.SessionID,
				AgentID:   req.AgentID,
				TenantID:  tenantID,
				EventType: req.EventType,
				Severity:  severity,
				Payload:   EnrichPayload(req.EventType, SanitizePayload(req.Payload)),
				Metadata:  req.Metadata,
				PrevHash:  prevHash,
			}
			hash, err := hashchain.ComputeHash(ev)
			if err != nil {
				return nil, models.WrapError(models.KindValidation, "event is not hashable", err)
			}
			ev.Hash = hash
			h := ev.Hash
			prevHash = &h
			events = append(events, ev)
		}

		err = st.InsertEvents(ctx, events)
		if err == nil {
			return events, nil
		}
		if !models.IsKind(err, models.KindConflict) || attempt >= conflictRetries {
			return nil, err
		}
		slog.Debug("Ingest lost chain race, retrying",
			"tenant_id", tenantID, "session_id", sessionID, "attempt", attempt+1)
	}
}

// postCommit runs the best-effort side effects. Failures are logged and
// swallowed; they never block acknowledgement.
func (p *Pipeline) postCommit(ctx context.Context, st store.Store, tenantID string, sessions []string, events []*models.Event, ended map[string]bool) {
	if p.bus != nil {
		for _, ev := range events {
			p.bus.PublishEvent(ev)
		}
	}

	for _, sessionID := range sessions {
		sess, err := st.GetSession(ctx, sessionID)
		if err != nil {
			slog.Warn("Post-commit session load failed",
				"tenant_id", tenantID, "session_id", sessionID, "error", err)
			continue
		}
		if p.bus != nil {
			p.bus.PublishSession(sess)
		}
	}

	if p.embeddings != nil {
		for _, ev := range events {
			if text := EventText(ev); text != "" {
				p.embeddings.Enqueue(embedding.Job{
					TenantID:    tenantID,
					SourceType:  models.SourceEvent,
					SourceID:    ev.ID,
					TextContent: text,
				})
			}
		}
	}

	for sessionID := range ended {
		if err := p.summarizeSession(ctx, st, tenantID, sessionID); err != nil {
			slog.Warn("Session summary generation failed",
				"tenant_id", tenantID, "session_id", sessionID, "error", err)
		}
	}
}

// summarizeSession derives and persists the summary for an ended session and
// enqueues it for embedding.
func (p *Pipeline) summarizeSession(ctx context.Context, st store.Store, tenantID, sessionID string) error {
	timeline, err := st.GetSessionTimeline(ctx, sessionID)
	if err != nil {
		return err
	}
	sess, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	summary := Summarize(sess, timeline.Events)
	if err := st.UpsertSessionSummary(ctx, summary); err != nil {
		return err
	}

	if p.embeddings != nil && summary.Summary != "" {
		p.embeddings.Enqueue(embedding.Job{
			TenantID:    tenantID,
			SourceType:  models.SourceSession,
			SourceID:    sessionID,
			TextContent: summary.Summary,
		})
	}
	return nil
}

// Validate checks batch-level and per-event constraints.
func Validate(reqs []models.IngestEvent) error {
	if len(reqs) == 0 {
		return models.ValidationError("events must not be empty")
	}
	if len(reqs) > MaxBatchSize {
		return models.ValidationError(fmt.Sprintf("batch exceeds %d events", MaxBatchSize))
	}

	var details []string
	for i, req := range reqs {
		switch {
		case req.SessionID == "":
			details = append(details, fmt.Sprintf("events[%d]: sessionId is required", i))
		case req.AgentID == "":
			details = append(details, fmt.Sprintf("events[%d]: agentId is required", i))
		case req.EventType == "":
			details = append(details, fmt.Sprintf("events[%d]: eventType is required", i))
		case !req.EventType.Valid():
			details = append(details, fmt.Sprintf("events[%d]: unknown eventType %q", i, req.EventType))
		case req.Severity != "" && !req.Severity.Valid():
			details = append(details, fmt.Sprintf("events[%d]: unknown severity %q", i, req.Severity))
		}
	}
	if len(details) > 0 {
		err := models.ValidationError("invalid ingest batch")
		err.Details = details
		return err
	}
	return nil
}
