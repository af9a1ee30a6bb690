package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// fakeClient returns canned vectors keyed by input text.
type fakeClient struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (f *fakeClient) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeClient) Model() string   { return "test-embed" }
func (f *fakeClient) Dimensions() int { return 3 }

func drain(t *testing.T, w *Worker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.QueueLength() == 0 {
			// One more beat for the in-flight job to commit.
			time.Sleep(20 * time.Millisecond)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("worker did not drain in time")
}

func TestWorkerStoresVector(t *testing.T) {
	provider := store.NewMemory()
	client := &fakeClient{}
	w := NewWorker(provider, client, 10)
	w.Start(context.Background())
	defer w.Stop()

	ok := w.Enqueue(Job{TenantID: "t1", SourceType: models.SourceEvent, SourceID: "ev-1", TextContent: "tool failed"})
	require.True(t, ok)
	drain(t, w)

	row, err := provider.ForTenant("t1").GetEmbeddingByContentHash(
		context.Background(), hashchain.HashContent("tool failed"))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.SourceEvent, row.SourceType)
	assert.Equal(t, "ev-1", row.SourceID)
	assert.Equal(t, "test-embed", row.Model)
	assert.Equal(t, 3, row.Dimensions)
}

func TestWorkerDeduplicatesByContentHash(t *testing.T) {
	provider := store.NewMemory()
	client := &fakeClient{}
	w := NewWorker(provider, client, 10)
	w.Start(context.Background())
	defer w.Stop()

	w.Enqueue(Job{TenantID: "t1", SourceType: models.SourceEvent, SourceID: "ev-1", TextContent: "same text"})
	drain(t, w)
	w.Enqueue(Job{TenantID: "t1", SourceType: models.SourceSession, SourceID: "sess-9", TextContent: "same text"})
	drain(t, w)

	// Second job must reuse the vector and only repoint the source fields.
	assert.Equal(t, 1, client.calls)

	row, err := provider.ForTenant("t1").GetEmbeddingByContentHash(
		context.Background(), hashchain.HashContent("same text"))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.SourceSession, row.SourceType)
	assert.Equal(t, "sess-9", row.SourceID)

	processed, deduped, _ := w.Stats()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(1), deduped)
}

func TestWorkerDropsOnServiceFailure(t *testing.T) {
	provider := store.NewMemory()
	client := &fakeClient{err: errors.New("service down")}
	w := NewWorker(provider, client, 10)
	w.Start(context.Background())
	defer w.Stop()

	w.Enqueue(Job{TenantID: "t1", SourceType: models.SourceEvent, SourceID: "ev-1", TextContent: "doomed"})
	drain(t, w)

	row, err := provider.ForTenant("t1").GetEmbeddingByContentHash(
		context.Background(), hashchain.HashContent("doomed"))
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	provider := store.NewMemory()
	// Worker not started: the queue fills and stays full.
	w := NewWorker(provider, &fakeClient{}, 2)

	assert.True(t, w.Enqueue(Job{TenantID: "t1", TextContent: "a"}))
	assert.True(t, w.Enqueue(Job{TenantID: "t1", TextContent: "b"}))
	assert.False(t, w.Enqueue(Job{TenantID: "t1", TextContent: "c"}))

	_, _, dropped := w.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestEnqueueRejectsEmptyText(t *testing.T) {
	w := NewWorker(store.NewMemory(), &fakeClient{}, 2)
	assert.False(t, w.Enqueue(Job{TenantID: "t1", TextContent: ""}))
}
