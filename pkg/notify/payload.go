// Package notify routes alert and guardrail notifications to delivery
// providers (webhook, Slack, PagerDuty, email) with retry, grouping, and
// SSRF protection.
package notify

import (
	"encoding/json"
	"time"
)

// Payload is the notification body handed to providers.
type Payload struct {
	Source       string         `json:"source"` // "alert_rule" or "guardrail_rule"
	Severity     string         `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	RuleID       string         `json:"ruleId"`
	RuleName     string         `json:"ruleName"`
	TriggeredAt  time.Time      `json:"triggeredAt"`
	CurrentValue float64        `json:"currentValue"`
	Threshold    float64        `json:"threshold"`
	GroupCount   int            `json:"groupCount,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Summary renders the payload for the notification log, capped at 500 chars.
func (p *Payload) Summary() string {
	data, err := json.Marshal(p)
	if err != nil {
		return p.Title
	}
	s := string(data)
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// DeliveryResult reports one provider send.
type DeliveryResult struct {
	Success    bool   `json:"success"`
	Attempt    int    `json:"attempt"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Error      string `json:"error,omitempty"`
}
