package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

const pagerdutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyConfig is the channel config for PagerDuty channels.
type PagerDutyConfig struct {
	RoutingKey string `json:"routingKey"`
}

// PagerDuty sends trigger events through the PagerDuty Events API v2.
type PagerDuty struct {
	client   *http.Client
	endpoint string
}

// NewPagerDuty creates the PagerDuty provider.
func NewPagerDuty() *PagerDuty {
	return &PagerDuty{
		client:   &http.Client{Timeout: requestTimeout},
		endpoint: pagerdutyEventsURL,
	}
}

type pdEvent struct {
	RoutingKey  string    `json:"routing_key"`
	EventAction string    `json:"event_action"`
	Payload     pdPayload `json:"payload"`
}

type pdPayload struct {
	Summary       string         `json:"summary"`
	Source        string         `json:"source"`
	Severity      string         `json:"severity"`
	Timestamp     time.Time      `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details,omitempty"`
}

// Send implements Provider.
func (p *PagerDuty) Send(ctx context.Context, channel *models.NotificationChannel, payload *Payload) DeliveryResult {
	var cfg PagerDutyConfig
	if err := json.Unmarshal(channel.Config, &cfg); err != nil {
		return failure(0, models.ValidationError("invalid pagerduty channel config"))
	}
	if cfg.RoutingKey == "" {
		return failure(0, models.ValidationError("pagerduty channel config requires routingKey"))
	}

	details := map[string]any{
		"ruleId":       payload.RuleID,
		"ruleName":     payload.RuleName,
		"currentValue": payload.CurrentValue,
		"threshold":    payload.Threshold,
	}
	if payload.GroupCount > 1 {
		details["groupCount"] = payload.GroupCount
	}
	body, err := json.Marshal(pdEvent{
		RoutingKey:  cfg.RoutingKey,
		EventAction: "trigger",
		Payload: pdPayload{
			Summary:       payload.Title,
			Source:        payload.Source,
			Severity:      pdSeverity(payload.Severity),
			Timestamp:     payload.TriggeredAt,
			CustomDetails: details,
		},
	})
	if err != nil {
		return failure(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return failure(1, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return DeliveryResult{Success: true, Attempt: 1, HTTPStatus: resp.StatusCode}
	}
	return DeliveryResult{Attempt: 1, HTTPStatus: resp.StatusCode,
		Error: fmt.Sprintf("pagerduty returned status %d", resp.StatusCode)}
}

// pdSeverity maps event severities onto the four values PagerDuty accepts.
func pdSeverity(s string) string {
	switch s {
	case "critical", "error", "warning", "info":
		return s
	case "warn":
		return "warning"
	default:
		return "info"
	}
}
