package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

func seedEmbedding(t *testing.T, st store.Store, sourceType models.SourceType, sourceID, text string, vec []float32) {
	t.Helper()
	err := st.UpsertEmbedding(context.Background(), &models.Embedding{
		ID:          "emb-" + sourceID,
		TenantID:    "t1",
		SourceType:  sourceType,
		SourceID:    sourceID,
		ContentHash: hashchain.HashContent(text),
		TextContent: text,
		Vector:      vec,
		Model:       "test-embed",
		Dimensions:  len(vec),
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedLesson(t *testing.T, st store.Store, id string, importance models.Importance) {
	t.Helper()
	now := time.Now().UTC()
	err := st.CreateLesson(context.Background(), &models.Lesson{
		ID:         id,
		TenantID:   "t1",
		Category:   "ops",
		Title:      "lesson " + id,
		Content:    "content " + id,
		Importance: importance,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1}))
}

func TestRecallRanksByScoreAndFilters(t *testing.T) {
	provider := store.NewMemory()
	st := provider.ForTenant("t1")
	seedLesson(t, st, "l1", models.ImportanceNormal)

	seedEmbedding(t, st, models.SourceLesson, "l1", "close match", []float32{1, 0, 0})
	seedEmbedding(t, st, models.SourceLesson, "l-missing", "drifting", []float32{0.7, 0.7, 0})
	seedEmbedding(t, st, models.SourceLesson, "l-far", "unrelated", []float32{0, 0, 1})

	client := &fakeClient{vectors: map[string][]float32{"query": {1, 0, 0}}}
	svc := NewSearchService(provider, client)

	matches, err := svc.Recall(context.Background(), "t1", RecallQuery{
		Query:    "query",
		Scope:    models.SourceLesson,
		MinScore: 0.5,
	})
	require.NoError(t, err)

	// l-far is below minScore; l-missing has no lesson row and is skipped.
	require.Len(t, matches, 1)
	assert.Equal(t, "l1", matches[0].SourceID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	require.NotNil(t, matches[0].Lesson)
}

func TestRecallRequiresQuery(t *testing.T) {
	svc := NewSearchService(store.NewMemory(), &fakeClient{})
	_, err := svc.Recall(context.Background(), "t1", RecallQuery{})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestContextIncludesHighImportanceLessons(t *testing.T) {
	provider := store.NewMemory()
	st := provider.ForTenant("t1")
	seedLesson(t, st, "l-critical", models.ImportanceCritical)
	seedLesson(t, st, "l-low", models.ImportanceLow)

	svc := NewSearchService(provider, &fakeClient{})

	result, err := svc.Context(context.Background(), "t1", ContextQuery{AgentID: ""})
	require.NoError(t, err)
	require.Len(t, result.Lessons, 1)
	assert.Equal(t, "l-critical", result.Lessons[0].ID)

	// Access is recorded for surfaced lessons.
	lesson, err := st.GetLesson(context.Background(), "l-critical")
	require.NoError(t, err)
	assert.Equal(t, int64(1), lesson.AccessCount)
}
