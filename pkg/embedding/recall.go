package embedding

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// Default recall parameters.
const (
	DefaultRecallLimit  = 10
	DefaultContextLimit = 5
)

// RecallQuery selects embeddings by semantic similarity to Query.
type RecallQuery struct {
	Query    string
	Scope    models.SourceType // empty means all source types
	Limit    int
	MinScore float64
	From     *time.Time
	To       *time.Time
	AgentID  string
}

// Match is one recall hit joined with its source row. Exactly one of Event,
// Session, Lesson is set, matching SourceType.
type Match struct {
	Score       float64           `json:"score"`
	SourceType  models.SourceType `json:"sourceType"`
	SourceID    string            `json:"sourceId"`
	TextContent string            `json:"textContent"`
	Event       *models.Event     `json:"event,omitempty"`
	Session     *models.Session   `json:"session,omitempty"`
	Lesson      *models.Lesson    `json:"lesson,omitempty"`
}

// ContextQuery retrieves cross-session context for an agent.
type ContextQuery struct {
	Topic   string
	UserID  string
	AgentID string
	Limit   int
}

// SessionContext is one context hit: a session, its summary if available,
// and the similarity score that surfaced it.
type SessionContext struct {
	Session *models.Session        `json:"session"`
	Summary *models.SessionSummary `json:"summary,omitempty"`
	Score   float64                `json:"score"`
}

// ContextResult is the cross-session context payload.
type ContextResult struct {
	Sessions []SessionContext `json:"sessions"`
	Lessons  []*models.Lesson `json:"lessons"`
}

// SearchService serves recall and context queries over stored embeddings.
type SearchService struct {
	provider store.Provider
	client   Client
}

// NewSearchService creates a search service.
func NewSearchService(provider store.Provider, client Client) *SearchService {
	return &SearchService{provider: provider, client: client}
}

// Recall embeds the query text and returns the top matches by cosine
// similarity. O(N) over the tenant's stored vectors.
func (s *SearchService) Recall(ctx context.Context, tenantID string, q RecallQuery) ([]Match, error) {
	if q.Query == "" {
		return nil, models.NewError(models.KindValidation, "query is required")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultRecallLimit
	}

	queryVec, err := s.client.Embed(ctx, q.Query)
	if err != nil {
		return nil, err
	}

	st := s.provider.ForTenant(tenantID)
	rows, err := st.ListEmbeddings(ctx, q.Scope, q.From, q.To)
	if err != nil {
		return nil, err
	}

	scored := make([]Match, 0, len(rows))
	for _, row := range rows {
		score := Cosine(queryVec, row.Vector)
		if score < q.MinScore {
			continue
		}
		scored = append(scored, Match{
			Score:       score,
			SourceType:  row.SourceType,
			SourceID:    row.SourceID,
			TextContent: row.TextContent,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	// Join with source rows, applying the agent filter where the source
	// carries one. Vanished sources are skipped, not errors.
	out := make([]Match, 0, q.Limit)
	for _, m := range scored {
		if len(out) >= q.Limit {
			break
		}
		if ok := s.join(ctx, st, &m, q.AgentID); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *SearchService) join(ctx context.Context, st store.Store, m *Match, agentID string) bool {
	switch m.SourceType {
	case models.SourceEvent:
		ev, err := st.GetEvent(ctx, m.SourceID)
		if err != nil || (agentID != "" && ev.AgentID != agentID) {
			return false
		}
		m.Event = ev
	case models.SourceSession:
		sess, err := st.GetSession(ctx, m.SourceID)
		if err != nil || (agentID != "" && sess.AgentID != agentID) {
			return false
		}
		m.Session = sess
	case models.SourceLesson:
		lesson, err := st.GetLesson(ctx, m.SourceID)
		if err != nil || lesson.Archived {
			return false
		}
		if agentID != "" && lesson.AgentID != "" && lesson.AgentID != agentID {
			return false
		}
		m.Lesson = lesson
	default:
		return false
	}
	return true
}

// Context assembles cross-session context for an agent: semantically related
// past sessions (with summaries) and applicable lessons.
func (s *SearchService) Context(ctx context.Context, tenantID string, q ContextQuery) (*ContextResult, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultContextLimit
	}
	st := s.provider.ForTenant(tenantID)
	result := &ContextResult{
		Sessions: make([]SessionContext, 0, q.Limit),
		Lessons:  make([]*models.Lesson, 0),
	}

	if q.Topic != "" {
		matches, err := s.Recall(ctx, tenantID, RecallQuery{
			Query:   q.Topic,
			Scope:   models.SourceSession,
			Limit:   q.Limit,
			AgentID: q.AgentID,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			sc := SessionContext{Session: m.Session, Score: m.Score}
			if summary, err := st.GetSessionSummary(ctx, m.SourceID); err == nil {
				sc.Summary = summary
			}
			result.Sessions = append(result.Sessions, sc)
		}

		lessonMatches, err := s.Recall(ctx, tenantID, RecallQuery{
			Query:   q.Topic,
			Scope:   models.SourceLesson,
			Limit:   q.Limit,
			AgentID: q.AgentID,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range lessonMatches {
			result.Lessons = append(result.Lessons, m.Lesson)
		}
	}

	// High-importance lessons always apply, topic or not.
	lessons, err := st.ListLessons(ctx, q.AgentID, "", false)
	if err != nil {
		return nil, err
	}
	for _, l := range lessons {
		if l.Importance != models.ImportanceHigh && l.Importance != models.ImportanceCritical {
			continue
		}
		if containsLesson(result.Lessons, l.ID) {
			continue
		}
		result.Lessons = append(result.Lessons, l)
	}

	for _, l := range result.Lessons {
		_ = st.TouchLessonAccess(ctx, l.ID)
	}
	return result, nil
}

func containsLesson(lessons []*models.Lesson, id string) bool {
	for _, l := range lessons {
		if l.ID == id {
			return true
		}
	}
	return false
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// zero-length or they disagree on dimensions.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
