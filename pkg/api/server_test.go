package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/benchmark"
	"github.com/agentlensai/agentlens/pkg/bus"
	"github.com/agentlensai/agentlens/pkg/config"
	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/queue"
	"github.com/agentlensai/agentlens/pkg/ratelimit"
	"github.com/agentlensai/agentlens/pkg/replay"
	"github.com/agentlensai/agentlens/pkg/store"
)

// newTestServer builds a server over the in-memory store with auth disabled.
// Callers tune cfg or deps through the mutate hook before routes are bound.
func newTestServer(t *testing.T, mutate func(cfg *config.Config, deps *Deps)) *Server {
	t.Helper()
	provider := store.NewMemory()
	b := bus.New()
	cfg := &config.Config{
		HTTPPort:              "0",
		CORSOrigin:            "*",
		AuthDisabled:          true,
		BackpressureThreshold: queue.DefaultBackpressureThreshold,
		WebhookSecrets:        map[string]string{},
	}
	deps := Deps{
		Provider:   provider,
		Pipeline:   ingest.New(provider, b, nil),
		Bus:        b,
		Replay:     replay.NewService(provider),
		Benchmarks: benchmark.NewEngine(provider),
		Limiter:    ratelimit.NewLimiter(time.Minute),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	return NewServer(cfg, deps)
}

// doJSON performs a request against the server's router as tenant t1.
func doJSON(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Tenant-ID", "t1")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

// seedEvents ingests a small session for tenant t1.
func seedEvents(t *testing.T, srv *Server, sessionID string, n int) {
	t.Helper()
	reqs := make([]models.IngestEvent, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, models.IngestEvent{
			SessionID: sessionID,
			AgentID:   "a1",
			EventType: models.EventToolCall,
			Payload:   json.RawMessage(fmt.Sprintf(`{"toolName":"search","step":%d}`, i)),
		})
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/events", ingestRequest{Events: reqs})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["version"], "agentlens/")
}

func TestListEventsAndGet(t *testing.T) {
	srv := newTestServer(t, nil)
	seedEvents(t, srv, "s1", 3)

	rec := doJSON(t, srv, http.MethodGet, "/api/events?sessionId=s1&order=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page store.EventPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 3)
	assert.Equal(t, int64(3), page.Total)

	rec = doJSON(t, srv, http.MethodGet, "/api/events/"+page.Events[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/events/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEventsValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, query := range []string{
		"eventType=bogus",
		"severity=loud",
		"limit=0",
		"limit=99999",
		"offset=-1",
		"order=sideways",
		"from=yesterday",
	} {
		rec := doJSON(t, srv, http.MethodGet, "/api/events?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestSessionTimelineChainValid(t *testing.T) {
	srv := newTestServer(t, nil)
	seedEvents(t, srv, "s1", 4)

	rec := doJSON(t, srv, http.MethodGet, "/api/sessions/s1/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var timeline store.Timeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timeline))
	require.Len(t, timeline.Events, 4)
	assert.True(t, timeline.ChainValid)
	assert.Nil(t, timeline.Events[0].PrevHash)
	for i := 1; i < len(timeline.Events); i++ {
		require.NotNil(t, timeline.Events[i].PrevHash)
		assert.Equal(t, timeline.Events[i-1].Hash, *timeline.Events[i].PrevHash)
	}
}

func TestSessionTags(t *testing.T) {
	srv := newTestServer(t, nil)
	seedEvents(t, srv, "s1", 1)

	rec := doJSON(t, srv, http.MethodPut, "/api/sessions/s1/tags", setTagsRequest{Tags: []string{"variant-a"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var sess models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, []string{"variant-a"}, sess.Tags)
}

func TestAgentsPauseResume(t *testing.T) {
	srv := newTestServer(t, nil)
	seedEvents(t, srv, "s1", 1)

	rec := doJSON(t, srv, http.MethodPost, "/api/agents/a1/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agent models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.True(t, agent.Paused)

	rec = doJSON(t, srv, http.MethodPost, "/api/agents/a1/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.False(t, agent.Paused)
}

func TestReflectEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	seedEvents(t, srv, "s1", 2)

	rec := doJSON(t, srv, http.MethodGet, "/api/reflect?analysis=tool_sequences", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/reflect?analysis=phrenology", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t, nil)
	seedEvents(t, srv, "s1", 2)

	rec := doJSON(t, srv, http.MethodGet, "/api/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "sessionId")

	rec = doJSON(t, srv, http.MethodGet, "/api/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurgeTenant(t *testing.T) {
	srv := newTestServer(t, nil)
	seedEvents(t, srv, "s1", 2)

	rec := doJSON(t, srv, http.MethodDelete, "/api/tenant/data", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/tenant/data?confirm=t1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page store.EventPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Events)
}

func TestQuotaEndpointWithoutChecker(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status ratelimit.QuotaStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, ratelimit.QuotaOK, status.State)
}
