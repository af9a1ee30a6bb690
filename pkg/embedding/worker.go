package embedding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// DefaultQueueCapacity bounds the worker's job queue. Enqueue drops when full.
const DefaultQueueCapacity = 1000

// jobTimeout bounds the handling of one job (service call plus store write).
const jobTimeout = 30 * time.Second

// Job is one pending embedding computation.
type Job struct {
	TenantID    string
	SourceType  models.SourceType
	SourceID    string
	TextContent string
}

// Enqueuer accepts embedding jobs. Implemented by Worker; consumed by the
// ingest pipeline and the lesson service.
type Enqueuer interface {
	Enqueue(job Job) bool
}

// Worker is the single background task that drains the embedding queue.
// Intentionally single-worker: serializing jobs avoids duplicate computation
// for the same content hash within one burst.
type Worker struct {
	provider store.Provider
	client   Client
	jobs     chan Job
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	processed int64
	deduped   int64
	dropped   int64
}

// NewWorker creates a worker with the given queue capacity (0 uses the
// default).
func NewWorker(provider store.Provider, client Client, capacity int) *Worker {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Worker{
		provider: provider,
		client:   client,
		jobs:     make(chan Job, capacity),
		stopCh:   make(chan struct{}),
	}
}

// Enqueue adds a job without blocking. Returns false when the queue is full
// or the job carries no text; callers treat a drop as acceptable loss.
func (w *Worker) Enqueue(job Job) bool {
	if job.TextContent == "" {
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		slog.Warn("Embedding queue full, dropping job",
			"tenant_id", job.TenantID, "source_type", job.SourceType, "source_id", job.SourceID)
		return false
	}
}

// QueueLength returns the number of pending jobs.
func (w *Worker) QueueLength() int { return len(w.jobs) }

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current job to finish.
// Pending queued jobs are lost; their sources remain and can be re-enqueued.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	slog.Info("Embedding worker started", "queue_capacity", cap(w.jobs))
	for {
		select {
		case <-w.stopCh:
			slog.Info("Embedding worker shutting down", "pending", len(w.jobs))
			return
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			if err := w.process(jobCtx, job); err != nil {
				// Drop after logging. A later submission with the same
				// content recovers it, keyed by content hash.
				slog.Error("Embedding job failed, dropping",
					"tenant_id", job.TenantID, "source_type", job.SourceType,
					"source_id", job.SourceID, "error", err)
			}
			cancel()
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) error {
	st := w.provider.ForTenant(job.TenantID)
	contentHash := hashchain.HashContent(job.TextContent)

	existing, err := st.GetEmbeddingByContentHash(ctx, contentHash)
	if err != nil {
		return err
	}
	if existing != nil {
		// Same content already embedded: repoint the row, skip computation.
		existing.SourceType = job.SourceType
		existing.SourceID = job.SourceID
		if err := st.UpsertEmbedding(ctx, existing); err != nil {
			return err
		}
		w.mu.Lock()
		w.deduped++
		w.mu.Unlock()
		return nil
	}

	vector, err := w.client.Embed(ctx, job.TextContent)
	if err != nil {
		return err
	}

	err = st.UpsertEmbedding(ctx, &models.Embedding{
		ID:          uuid.New().String(),
		TenantID:    job.TenantID,
		SourceType:  job.SourceType,
		SourceID:    job.SourceID,
		ContentHash: contentHash,
		TextContent: job.TextContent,
		Vector:      vector,
		Model:       w.client.Model(),
		Dimensions:  len(vector),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()
	return nil
}

// Stats reports worker counters for diagnostics.
func (w *Worker) Stats() (processed, deduped, dropped int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed, w.deduped, w.dropped
}
