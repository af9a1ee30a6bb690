package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentlensai/agentlens/pkg/bus"
	"github.com/agentlensai/agentlens/pkg/embedding"
	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// readBlock is how long one ReadBatch call waits for messages.
const readBlock = 2 * time.Second

// chainRetries bounds per-session retries after losing a hash-chain race.
const chainRetries = 5

// WriterConfig tunes the batch writer loop.
type WriterConfig struct {
	BatchSize  int
	MaxRetries int
	Consumer   string
}

// DefaultWriterConfig returns production defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:  DefaultBatchSize,
		MaxRetries: DefaultMaxRetries,
		Consumer:   "writer-1",
	}
}

// WriterStats are cumulative writer counters.
type WriterStats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	DLQd      int64 `json:"dlqd"`
}

// Writer drains the main stream into the event store: enrich, chain, insert,
// ack; requeue on failure; dead-letter after MaxRetries. One tenant group's
// failure never poisons the other groups in the same batch.
type Writer struct {
	queue      Queue
	provider   store.Provider
	bus        *bus.Bus
	embeddings embedding.Enqueuer
	cfg        WriterConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats WriterStats
}

// NewWriter creates a batch writer. Bus and embeddings are optional.
func NewWriter(q Queue, provider store.Provider, b *bus.Bus, embeddings embedding.Enqueuer, cfg WriterConfig) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "writer-1"
	}
	return &Writer{
		queue:      q,
		provider:   provider,
		bus:        b,
		embeddings: embeddings,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the writer loop in a goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the writer to stop after its current batch and waits.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) run(ctx context.Context) {
	defer w.wg.Done()

	slog.Info("Batch writer started", "batch_size", w.cfg.BatchSize, "consumer", w.cfg.Consumer)
	for {
		select {
		case <-w.stopCh:
			slog.Info("Batch writer shutting down")
			return
		case <-ctx.Done():
			return
		default:
			if err := w.ProcessBatch(ctx); err != nil {
				slog.Error("Batch read failed", "error", err)
				select {
				case <-w.stopCh:
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

// ProcessBatch reads one batch and writes it. Exported for tests and the
// drain-on-demand diagnostics command.
func (w *Writer) ProcessBatch(ctx context.Context) error {
	msgs, err := w.queue.ReadBatch(ctx, w.cfg.Consumer, w.cfg.BatchSize, readBlock)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	// Group by tenant, preserving stream order within each group.
	tenantOrder := make([]string, 0)
	byTenant := make(map[string][]*Message)
	for _, msg := range msgs {
		if _, ok := byTenant[msg.TenantID]; !ok {
			tenantOrder = append(tenantOrder, msg.TenantID)
		}
		byTenant[msg.TenantID] = append(byTenant[msg.TenantID], msg)
	}

	for _, tenantID := range tenantOrder {
		group := byTenant[tenantID]
		if err := w.writeTenantGroup(ctx, tenantID, group); err != nil {
			w.failGroup(ctx, group, err)
		}
	}
	return nil
}

// writeTenantGroup chains and inserts one tenant's messages, then acks them
// and fires side effects.
func (w *Writer) writeTenantGroup(ctx context.Context, tenantID string, group []*Message) error {
	st := w.provider.ForTenant(tenantID)

	sessionOrder := make([]string, 0)
	bySession := make(map[string][]*Message)
	for _, msg := range group {
		sid := msg.Event.SessionID
		if _, ok := bySession[sid]; !ok {
			sessionOrder = append(sessionOrder, sid)
		}
		bySession[sid] = append(bySession[sid], msg)
	}

	written := make([]*models.Event, 0, len(group))
	var ended []string
	for _, sessionID := range sessionOrder {
		events, err := w.writeSessionGroup(ctx, st, sessionID, bySession[sessionID])
		if err != nil {
			return err
		}
		written = append(written, events...)
		for _, ev := range events {
			if ev.EventType == models.EventSessionEnded {
				ended = append(ended, sessionID)
			}
		}
	}

	for _, msg := range group {
		if err := w.queue.Ack(ctx, msg.Offset); err != nil {
			slog.Warn("Ack failed after successful write",
				"tenant_id", tenantID, "offset", msg.Offset, "error", err)
		}
	}
	w.mu.Lock()
	w.stats.Processed += int64(len(group))
	w.mu.Unlock()
	processedTotal.Add(float64(len(group)))

	w.postCommit(ctx, st, tenantID, sessionOrder, written, ended)
	return nil
}

func (w *Writer) writeSessionGroup(ctx context.Context, st store.Store, sessionID string, msgs []*Message) ([]*models.Event, error) {
	for attempt := 0; ; attempt++ {
		prevHash, err := st.GetLastEventHash(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		events := make([]*models.Event, 0, len(msgs))
		for _, msg := range msgs {
			ev := *msg.Event
			ev.Payload = ingest.EnrichPayload(ev.EventType, ev.Payload)
			ev.PrevHash = prevHash
			hash, err := hashchain.ComputeHash(&ev)
			if err != nil {
				return nil, models.WrapError(models.KindCorruption, "event is not hashable", err)
			}
			ev.Hash = hash
			h := ev.Hash
			prevHash = &h
			events = append(events, &ev)
		}

		err = st.InsertEvents(ctx, events)
		if err == nil {
			return events, nil
		}
		if !models.IsKind(err, models.KindConflict) || attempt >= chainRetries {
			return nil, err
		}
	}
}

// failGroup requeues or dead-letters every message of a failed tenant group.
func (w *Writer) failGroup(ctx context.Context, group []*Message, cause error) {
	slog.Error("Tenant group write failed",
		"tenant_id", group[0].TenantID, "messages", len(group), "error", cause)

	for _, msg := range group {
		if msg.Attempts+1 >= w.cfg.MaxRetries {
			reason := fmt.Sprintf("retries exhausted: %v", cause)
			if err := w.queue.MoveToDLQ(ctx, msg, reason); err != nil {
				slog.Error("DLQ move failed", "offset", msg.Offset, "error", err)
				continue
			}
			w.mu.Lock()
			w.stats.DLQd++
			w.mu.Unlock()
			dlqdTotal.Inc()
		} else {
			if err := w.queue.Requeue(ctx, msg); err != nil {
				slog.Error("Requeue failed", "offset", msg.Offset, "error", err)
				continue
			}
			w.mu.Lock()
			w.stats.Failed++
			w.mu.Unlock()
			failedTotal.Inc()
		}
	}
}

// postCommit mirrors the ingest pipeline's best-effort side effects.
func (w *Writer) postCommit(ctx context.Context, st store.Store, tenantID string, sessions []string, events []*models.Event, ended []string) {
	if w.bus != nil {
		for _, ev := range events {
			w.bus.PublishEvent(ev)
		}
		for _, sessionID := range sessions {
			if sess, err := st.GetSession(ctx, sessionID); err == nil {
				w.bus.PublishSession(sess)
			}
		}
	}

	if w.embeddings != nil {
		for _, ev := range events {
			if text := ingest.EventText(ev); text != "" {
				w.embeddings.Enqueue(embedding.Job{
					TenantID:    tenantID,
					SourceType:  models.SourceEvent,
					SourceID:    ev.ID,
					TextContent: text,
				})
			}
		}
	}

	for _, sessionID := range ended {
		timeline, err := st.GetSessionTimeline(ctx, sessionID)
		if err != nil {
			continue
		}
		sess, err := st.GetSession(ctx, sessionID)
		if err != nil {
			continue
		}
		summary := ingest.Summarize(sess, timeline.Events)
		if err := st.UpsertSessionSummary(ctx, summary); err != nil {
			slog.Warn("Session summary persist failed",
				"tenant_id", tenantID, "session_id", sessionID, "error", err)
			continue
		}
		if w.embeddings != nil && summary.Summary != "" {
			w.embeddings.Enqueue(embedding.Job{
				TenantID:    tenantID,
				SourceType:  models.SourceSession,
				SourceID:    sessionID,
				TextContent: summary.Summary,
			})
		}
	}
}
