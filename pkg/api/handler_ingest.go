package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/queue"
	"github.com/agentlensai/agentlens/pkg/ratelimit"
)

// backpressureRetryAfter is the advisory delay handed to producers when the
// queue is over its threshold.
const backpressureRetryAfter = 30

type ingestRequest struct {
	Events []models.IngestEvent `json:"events"`
}

type ingestedEvent struct {
	ID   string `json:"id"`
	Hash string `json:"hash,omitempty"`
}

type ingestResponse struct {
	Ingested int             `json:"ingested"`
	Events   []ingestedEvent `json:"events"`
}

// ingestHandler handles POST /api/events. With a queue configured, events are
// acknowledged once durably enqueued and the batch writer chains them later;
// without one, the pipeline writes synchronously and hashes are returned.
func (s *Server) ingestHandler(c *echo.Context) error {
	tenant := tenantID(c)
	ctx := c.Request().Context()

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}

	if s.deps.Quota != nil {
		status, err := s.deps.Quota.Check(ctx, tenant)
		if err != nil {
			return respondError(c, err)
		}
		if status.State == ratelimit.QuotaBlocked {
			return respondError(c, models.NewError(models.KindQuotaExceeded, status.Message))
		}
	}

	var resp *ingestResponse
	if s.deps.Queue != nil {
		r, err := s.enqueueBatch(c, tenant, req.Events)
		if err != nil {
			return respondError(c, err)
		}
		resp = r
	} else {
		events, err := s.deps.Pipeline.Ingest(ctx, tenant, req.Events)
		if err != nil {
			return respondError(c, err)
		}
		resp = &ingestResponse{Ingested: len(events), Events: make([]ingestedEvent, 0, len(events))}
		for _, ev := range events {
			resp.Events = append(resp.Events, ingestedEvent{ID: ev.ID, Hash: ev.Hash})
		}
	}

	if s.deps.Quota != nil {
		s.deps.Quota.Record(ctx, tenant, int64(resp.Ingested))
	}
	return c.JSON(http.StatusCreated, resp)
}

// enqueueBatch validates and publishes the batch to the durable queue,
// refusing when the backlog is over the backpressure threshold.
func (s *Server) enqueueBatch(c *echo.Context, tenant string, reqs []models.IngestEvent) (*ingestResponse, error) {
	ctx := c.Request().Context()

	if err := ingest.Validate(reqs); err != nil {
		return nil, err
	}

	depth, err := s.deps.Queue.Length(ctx)
	if err != nil {
		return nil, err
	}
	if depth >= s.cfg.BackpressureThreshold {
		return nil, &models.Error{
			Kind:              models.KindBackpressure,
			Message:           "ingest queue is over capacity, retry later",
			RetryAfterSeconds: backpressureRetryAfter,
		}
	}

	now := time.Now().UTC()
	msgs := make([]*queue.Message, 0, len(reqs))
	resp := &ingestResponse{Ingested: len(reqs), Events: make([]ingestedEvent, 0, len(reqs))}
	for _, req := range reqs {
		ts := now
		if req.Timestamp != nil {
			ts = req.Timestamp.UTC()
		}
		severity := req.Severity
		if severity == "" {
			severity = models.SeverityInfo
		}
		ev := &models.Event{
			ID:        hashchain.NewEventID(),
			Timestamp: ts,
			SessionID: req.SessionID,
			AgentID:   req.AgentID,
			TenantID:  tenant,
			EventType: req.EventType,
			Severity:  severity,
			Payload:   ingest.SanitizePayload(req.Payload),
			Metadata:  req.Metadata,
		}
		msgs = append(msgs, &queue.Message{TenantID: tenant, Event: ev})
		// Hash is computed by the batch writer when it assigns the chain
		// position, so queued responses carry IDs only.
		resp.Events = append(resp.Events, ingestedEvent{ID: ev.ID})
	}

	if err := s.deps.Queue.PublishBatch(ctx, msgs); err != nil {
		return nil, err
	}
	return resp, nil
}
