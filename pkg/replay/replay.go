// Package replay reconstructs session timelines for step-by-step inspection
// and computes diagnostic views over the event history.
package replay

import (
	"context"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// Step is one timeline entry annotated with timing relative to the session.
type Step struct {
	Index     int           `json:"index"`
	Event     *models.Event `json:"event"`
	ElapsedMs float64       `json:"elapsedMs"`
	DeltaMs   float64       `json:"deltaMs"`
}

// SessionReplay is the reconstructed view of one session.
type SessionReplay struct {
	Session    *models.Session        `json:"session"`
	Summary    *models.SessionSummary `json:"summary,omitempty"`
	Steps      []Step                 `json:"steps"`
	ChainValid bool                   `json:"chainValid"`
}

// Snapshot is a point-in-time diagnostic view of one tenant.
type Snapshot struct {
	TakenAt           time.Time `json:"takenAt"`
	ActiveSessions    int       `json:"activeSessions"`
	CompletedSessions int       `json:"completedSessions"`
	ErrorSessions     int       `json:"errorSessions"`
	TotalAgents       int       `json:"totalAgents"`
	PausedAgents      []string  `json:"pausedAgents,omitempty"`
	LastHourEvents    int64     `json:"lastHourEvents"`
	LastHourErrorRate float64   `json:"lastHourErrorRate"`
	LastHourCostUsd   float64   `json:"lastHourCostUsd"`
}

// Service computes replays, snapshots, and reflect analyses.
type Service struct {
	provider store.Provider
}

// NewService creates a replay service.
func NewService(provider store.Provider) *Service {
	return &Service{provider: provider}
}

// Replay rebuilds the session's ordered timeline with per-step timing.
func (s *Service) Replay(ctx context.Context, tenantID, sessionID string) (*SessionReplay, error) {
	st := s.provider.ForTenant(tenantID)
	sess, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	timeline, err := st.GetSessionTimeline(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := &SessionReplay{
		Session:    sess,
		Steps:      make([]Step, 0, len(timeline.Events)),
		ChainValid: timeline.ChainValid,
	}
	if summary, err := st.GetSessionSummary(ctx, sessionID); err == nil {
		out.Summary = summary
	}

	var prev time.Time
	for i, ev := range timeline.Events {
		step := Step{
			Index:     i,
			Event:     ev,
			ElapsedMs: float64(ev.Timestamp.Sub(sess.StartedAt).Milliseconds()),
		}
		if i > 0 {
			step.DeltaMs = float64(ev.Timestamp.Sub(prev).Milliseconds())
		}
		prev = ev.Timestamp
		out.Steps = append(out.Steps, step)
	}
	return out, nil
}

// Snapshot summarizes the tenant's current state and last hour of traffic.
func (s *Service) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	st := s.provider.ForTenant(tenantID)
	now := time.Now().UTC()
	snap := &Snapshot{TakenAt: now}

	sessions, err := st.QuerySessions(ctx, store.SessionFilter{})
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		switch sess.Status {
		case models.SessionActive:
			snap.ActiveSessions++
		case models.SessionCompleted:
			snap.CompletedSessions++
		case models.SessionError:
			snap.ErrorSessions++
		}
	}

	agents, err := st.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	snap.TotalAgents = len(agents)
	for _, a := range agents {
		if a.Paused {
			snap.PausedAgents = append(snap.PausedAgents, a.AgentID)
		}
	}

	from := now.Add(-time.Hour)
	var errored int64
	err = forEachEvent(ctx, st, store.EventFilter{From: &from}, func(ev *models.Event) {
		snap.LastHourEvents++
		if ev.Severity.IsErrorLevel() || ev.EventType == models.EventToolError {
			errored++
		}
		if ev.EventType == models.EventCostTracked {
			snap.LastHourCostUsd += models.DecodeTokenUsage(ev.Payload).CostUsd
		}
	})
	if err != nil {
		return nil, err
	}
	if snap.LastHourEvents > 0 {
		snap.LastHourErrorRate = float64(errored) / float64(snap.LastHourEvents)
	}
	return snap, nil
}

// reflectPageSize bounds one analysis scan page.
const reflectPageSize = 1000

func forEachEvent(ctx context.Context, st store.EventReader, f store.EventFilter, fn func(*models.Event)) error {
	f.Limit = reflectPageSize
	f.Order = store.OrderAsc
	offset := 0
	for {
		f.Offset = offset
		page, err := st.QueryEvents(ctx, f)
		if err != nil {
			return err
		}
		for _, ev := range page.Events {
			fn(ev)
		}
		if !page.HasMore {
			return nil
		}
		offset += len(page.Events)
	}
}
