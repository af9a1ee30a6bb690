package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/config"
)

const webhookSecret = "whsec-test"

func newWebhookServer(t *testing.T) *Server {
	t.Helper()
	return newTestServer(t, func(cfg *config.Config, deps *Deps) {
		cfg.WebhookSecrets = map[string]string{
			"formbridge": webhookSecret,
			"agentgate":  webhookSecret,
		}
	})
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(srv *Server, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/events/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestWebhookFormbridgeSubmission(t *testing.T) {
	srv := newWebhookServer(t)
	body := []byte(`{"source":"formbridge","event":"submission.created","data":{"formId":"f1"},"context":{"agentlens_session_id":"s9","agentlens_tenant_id":"t1"}}`)

	rec := postWebhook(srv, body, sign(body, webhookSecret))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Ingested)

	page := doJSON(t, srv, http.MethodGet, "/api/events?sessionId=s9", nil)
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), `"form_submitted"`)
}

func TestWebhookAgentgateApproval(t *testing.T) {
	srv := newWebhookServer(t)
	body := []byte(`{"source":"agentgate","event":"request.approved","data":{"requestId":"r1"},"context":{"agentlens_tenant_id":"t1"}}`)

	rec := postWebhook(srv, body, sign(body, webhookSecret))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Without a session link the handler synthesizes an unlinked session.
	page := doJSON(t, srv, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), `"approval_granted"`)
	assert.Contains(t, page.Body.String(), `"sessionId":"unlinked_`)
}

func TestWebhookBadSignature(t *testing.T) {
	srv := newWebhookServer(t)
	body := []byte(`{"source":"formbridge","event":"submission.created","data":{}}`)

	rec := postWebhook(srv, body, strings.Repeat("0", 64))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(srv, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookUnconfiguredSource(t *testing.T) {
	srv := newWebhookServer(t)
	body := []byte(`{"source":"generic","event":"custom","data":{}}`)
	rec := postWebhook(srv, body, sign(body, webhookSecret))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookUnknownEventName(t *testing.T) {
	srv := newWebhookServer(t)
	body := []byte(`{"source":"formbridge","event":"submission.launched","data":{}}`)
	rec := postWebhook(srv, body, sign(body, webhookSecret))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown event name")
}
