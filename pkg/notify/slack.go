package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/agentlensai/agentlens/pkg/models"
)

const slackMaxAttempts = 3

// SlackConfig is the channel config for Slack channels. APIURL is only set in
// tests to point the SDK at a mock server.
type SlackConfig struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
	APIURL  string `json:"apiUrl,omitempty"`
}

// Slack posts notifications via the Slack Web API.
type Slack struct{}

// NewSlack creates the Slack provider.
func NewSlack() *Slack {
	return &Slack{}
}

// Send implements Provider. A 429 is retried after the duration Slack asks
// for; other errors fail the delivery immediately.
func (s *Slack) Send(ctx context.Context, channel *models.NotificationChannel, payload *Payload) DeliveryResult {
	var cfg SlackConfig
	if err := json.Unmarshal(channel.Config, &cfg); err != nil {
		return failure(0, models.ValidationError("invalid slack channel config"))
	}
	if cfg.Token == "" || cfg.Channel == "" {
		return failure(0, models.ValidationError("slack channel config requires token and channel"))
	}

	opts := []goslack.Option{}
	if cfg.APIURL != "" {
		opts = append(opts, goslack.OptionAPIURL(cfg.APIURL))
	}
	api := goslack.New(cfg.Token, opts...)
	text := formatSlackText(payload)

	for attempt := 1; attempt <= slackMaxAttempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, requestTimeout)
		_, _, err := api.PostMessageContext(sctx, cfg.Channel, goslack.MsgOptionText(text, false))
		cancel()
		if err == nil {
			return DeliveryResult{Success: true, Attempt: attempt, HTTPStatus: 200}
		}

		var rateLimited *goslack.RateLimitedError
		if errors.As(err, &rateLimited) && attempt < slackMaxAttempts {
			select {
			case <-time.After(rateLimited.RetryAfter):
				continue
			case <-ctx.Done():
				return failure(attempt, ctx.Err())
			}
		}
		return failure(attempt, err)
	}
	return failure(slackMaxAttempts, errors.New("slack delivery exhausted retries"))
}

func formatSlackText(p *Payload) string {
	text := fmt.Sprintf("*%s*\n%s", p.Title, p.Message)
	if p.RuleName != "" {
		text += fmt.Sprintf("\nRule: %s", p.RuleName)
	}
	if p.Threshold != 0 || p.CurrentValue != 0 {
		text += fmt.Sprintf("\nCurrent: %.4f (threshold %.4f)", p.CurrentValue, p.Threshold)
	}
	if p.GroupCount > 1 {
		text += fmt.Sprintf("\nGrouped: %d occurrences", p.GroupCount)
	}
	return text
}
