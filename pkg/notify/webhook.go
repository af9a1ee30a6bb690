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

// defaultBackoff spaces out webhook retries after a failed attempt.
var defaultBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// WebhookConfig is the channel config for webhook channels.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Webhook POSTs the payload as JSON, retrying on non-2xx responses.
type Webhook struct {
	client        *http.Client
	backoff       []time.Duration
	allowInternal bool
}

// NewWebhook creates the webhook provider. allowInternal disables the SSRF
// check for deployments that target in-cluster receivers.
func NewWebhook(allowInternal bool) *Webhook {
	return &Webhook{
		client:        &http.Client{Timeout: requestTimeout},
		backoff:       defaultBackoff,
		allowInternal: allowInternal,
	}
}

// Send implements Provider for configured webhook channels.
func (w *Webhook) Send(ctx context.Context, channel *models.NotificationChannel, payload *Payload) DeliveryResult {
	var cfg WebhookConfig
	if err := json.Unmarshal(channel.Config, &cfg); err != nil {
		return failure(0, models.ValidationError("invalid webhook channel config"))
	}
	return w.SendURL(ctx, cfg.URL, cfg.Headers, payload)
}

// SendURL delivers to a raw URL. Used directly by the router when a channel
// entry is an absolute http(s) URL rather than a channel ID.
func (w *Webhook) SendURL(ctx context.Context, url string, headers map[string]string, payload *Payload) DeliveryResult {
	if err := CheckURL(ctx, url, w.allowInternal); err != nil {
		return failure(0, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(0, err)
	}

	var last DeliveryResult
	for attempt := 1; attempt <= len(w.backoff)+1; attempt++ {
		status, err := w.post(ctx, url, headers, body)
		if err == nil && status >= 200 && status < 300 {
			return DeliveryResult{Success: true, Attempt: attempt, HTTPStatus: status}
		}
		if err != nil {
			last = DeliveryResult{Attempt: attempt, Error: err.Error()}
		} else {
			last = DeliveryResult{Attempt: attempt, HTTPStatus: status,
				Error: fmt.Sprintf("webhook returned status %d", status)}
		}
		if attempt <= len(w.backoff) {
			select {
			case <-time.After(w.backoff[attempt-1]):
			case <-ctx.Done():
				return last
			}
		}
	}
	return last
}

func (w *Webhook) post(ctx context.Context, url string, headers map[string]string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}
