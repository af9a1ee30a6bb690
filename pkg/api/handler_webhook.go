package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
)

// maxWebhookBody caps the raw webhook payload.
const maxWebhookBody = 1 << 20

// Event name mappings for the integrated sources.
var (
	formbridgeEvents = map[string]models.EventType{
		"submission.created":   models.EventFormSubmitted,
		"submission.completed": models.EventFormCompleted,
		"submission.expired":   models.EventFormExpired,
	}
	agentgateEvents = map[string]models.EventType{
		"request.created":  models.EventApprovalRequested,
		"request.approved": models.EventApprovalGranted,
		"request.denied":   models.EventApprovalDenied,
		"request.expired":  models.EventApprovalExpired,
	}
)

type webhookRequest struct {
	Source  string            `json:"source"`
	Event   string            `json:"event"`
	Data    json.RawMessage   `json:"data"`
	Context map[string]string `json:"context,omitempty"`
}

// webhookHandler handles POST /api/events/ingest. Callers authenticate with
// an HMAC signature over the raw body rather than an API key.
func (s *Server) webhookHandler(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return respondError(c, models.ValidationError("unreadable request body"))
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if req.Source == "" {
		return respondError(c, models.ValidationError("source is required"))
	}

	secret, ok := s.cfg.WebhookSecrets[req.Source]
	if !ok {
		return respondError(c, models.NewError(models.KindAuth, "no webhook secret configured for source "+req.Source))
	}
	if !verifySignature(body, c.Request().Header.Get("X-Webhook-Signature"), secret) {
		return respondError(c, models.NewError(models.KindAuth, "invalid webhook signature"))
	}

	eventType, err := mapWebhookEvent(req.Source, req.Event)
	if err != nil {
		return respondError(c, err)
	}

	sessionID := req.Context["agentlens_session_id"]
	if sessionID == "" {
		// No session link; synthesize one so the chain still starts cleanly.
		sessionID = "unlinked_" + hashchain.NewEventID()
	}
	agentID := req.Context["agentlens_agent_id"]
	if agentID == "" {
		agentID = req.Source
	}
	tenant := req.Context["agentlens_tenant_id"]
	if tenant == "" {
		tenant = "default"
	}

	events, err := s.deps.Pipeline.Ingest(c.Request().Context(), tenant, []models.IngestEvent{{
		SessionID: sessionID,
		AgentID:   agentID,
		EventType: eventType,
		Payload:   req.Data,
	}})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, ingestResponse{
		Ingested: len(events),
		Events:   []ingestedEvent{{ID: events[0].ID, Hash: events[0].Hash}},
	})
}

// verifySignature compares the hex HMAC-SHA256 of body in constant time.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// mapWebhookEvent translates a source event name into the canonical type.
func mapWebhookEvent(source, event string) (models.EventType, error) {
	switch source {
	case "formbridge":
		if et, ok := formbridgeEvents[event]; ok {
			return et, nil
		}
	case "agentgate":
		if et, ok := agentgateEvents[event]; ok {
			return et, nil
		}
	case "generic":
		et := models.EventType(event)
		if et.Valid() {
			return et, nil
		}
	default:
		return "", models.ValidationError("unknown webhook source: " + source)
	}
	return "", models.ValidationError("unknown event name for source " + source + ": " + event)
}
