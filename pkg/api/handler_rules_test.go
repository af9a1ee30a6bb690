package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/models"
)

func TestAlertRuleCRUD(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/alerts/rules", models.AlertRule{
		Name:          "error spike",
		Enabled:       true,
		Condition:     models.ConditionErrorRateExceeds,
		Threshold:     0.25,
		WindowMinutes: 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var rule models.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "t1", rule.TenantID)

	rec = doJSON(t, srv, http.MethodGet, "/api/alerts/rules/"+rule.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rule.Threshold = 0.5
	rec = doJSON(t, srv, http.MethodPut, "/api/alerts/rules/"+rule.ID, rule)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, rule.ID, updated.ID)
	assert.Equal(t, 0.5, updated.Threshold)

	rec = doJSON(t, srv, http.MethodGet, "/api/alerts/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), rule.ID)

	rec = doJSON(t, srv, http.MethodDelete, "/api/alerts/rules/"+rule.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/alerts/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertRuleValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/alerts/rules", models.AlertRule{
		Condition: "vibes_exceed",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Details)
}

func TestGuardrailCRUDAndStatus(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/guardrails", models.GuardrailRule{
		Name:            "cost ceiling",
		Enabled:         true,
		ConditionType:   "cost_threshold",
		ConditionConfig: json.RawMessage(`{"threshold":10,"windowMinutes":60}`),
		ActionType:      models.ActionPauseAgent,
		AgentID:         "a1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var rule models.GuardrailRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	require.NotEmpty(t, rule.ID)

	rec = doJSON(t, srv, http.MethodGet, "/api/guardrails/"+rule.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Rule           *models.GuardrailRule          `json:"rule"`
		State          *models.GuardrailState         `json:"state"`
		RecentTriggers []*models.NotificationLogEntry `json:"recentTriggers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, rule.ID, status.Rule.ID)
	// Not evaluated yet, so no state and no deliveries.
	assert.Nil(t, status.State)
	assert.Empty(t, status.RecentTriggers)

	rec = doJSON(t, srv, http.MethodDelete, "/api/guardrails/"+rule.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChannelCRUD(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/channels", models.NotificationChannel{
		Name:    "ops-webhook",
		Type:    models.ChannelWebhook,
		Enabled: true,
		Config:  json.RawMessage(`{"url":"https://example.com/hook"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var channel models.NotificationChannel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channel))

	rec = doJSON(t, srv, http.MethodGet, "/api/channels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), channel.ID)

	rec = doJSON(t, srv, http.MethodDelete, "/api/channels/"+channel.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChannelValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/channels", models.NotificationChannel{
		Name: "bad",
		Type: "carrier-pigeon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLessonLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/lessons", models.Lesson{
		Category: "retrieval",
		Title:    "Prefer narrow queries",
		Content:  "Broad search queries time out against the ticket index.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var lesson models.Lesson
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lesson))
	assert.Equal(t, models.ImportanceNormal, lesson.Importance)

	lesson.Importance = models.ImportanceHigh
	rec = doJSON(t, srv, http.MethodPut, "/api/lessons/"+lesson.ID, lesson)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/lessons/"+lesson.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Archived lessons drop out of the default listing.
	rec = doJSON(t, srv, http.MethodGet, "/api/lessons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), lesson.ID)

	rec = doJSON(t, srv, http.MethodGet, "/api/lessons?includeArchived=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), lesson.ID)
}

func TestBenchmarkValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/benchmarks", models.Benchmark{
		Name:    "one variant only",
		Metrics: []models.BenchmarkMetric{models.MetricAvgCost},
		Variants: []models.BenchmarkVariant{
			{Name: "a", Tag: "variant-a"},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/benchmarks", models.Benchmark{
		Name:    "prompt comparison",
		Metrics: []models.BenchmarkMetric{models.MetricAvgCost},
		Variants: []models.BenchmarkVariant{
			{Name: "a", Tag: "variant-a"},
			{Name: "b", Tag: "variant-b", SortOrder: 1},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var b models.Benchmark
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, models.BenchmarkDraft, b.Status)
}
