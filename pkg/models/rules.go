package models

import (
	"encoding/json"
	"time"
)

// AlertCondition discriminates how an alert rule computes its current value.
type AlertCondition string

// Alert conditions.
const (
	ConditionErrorRateExceeds AlertCondition = "error_rate_exceeds"
	ConditionCostExceeds      AlertCondition = "cost_exceeds"
	ConditionLatencyExceeds   AlertCondition = "latency_exceeds"
)

// Valid reports whether c is a known alert condition.
func (c AlertCondition) Valid() bool {
	switch c {
	case ConditionErrorRateExceeds, ConditionCostExceeds, ConditionLatencyExceeds:
		return true
	}
	return false
}

// AlertScope narrows which events a rule evaluates.
type AlertScope struct {
	AgentID  string `json:"agentId,omitempty"`
	ToolName string `json:"toolName,omitempty"`
}

// AlertRule triggers a notification when its condition exceeds the threshold
// over a rolling window.
type AlertRule struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	Name            string         `json:"name"`
	Enabled         bool           `json:"enabled"`
	Condition       AlertCondition `json:"condition"`
	Threshold       float64        `json:"threshold"`
	WindowMinutes   int            `json:"windowMinutes"`
	Scope           AlertScope     `json:"scope"`
	NotifyChannels  []string       `json:"notifyChannels,omitempty"`
	CooldownMinutes int            `json:"cooldownMinutes"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// AlertHistoryEntry records one trigger of an alert rule.
type AlertHistoryEntry struct {
	ID           string     `json:"id"`
	RuleID       string     `json:"ruleId"`
	TenantID     string     `json:"tenantId"`
	TriggeredAt  time.Time  `json:"triggeredAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
	CurrentValue float64    `json:"currentValue"`
	Threshold    float64    `json:"threshold"`
	Message      string     `json:"message"`
}

// GuardrailAction is the side effect a guardrail rule performs when it fires.
type GuardrailAction string

// Guardrail actions.
const (
	ActionPauseAgent     GuardrailAction = "pause_agent"
	ActionDowngradeModel GuardrailAction = "downgrade_model"
	ActionNotify         GuardrailAction = "notify"
	ActionLog            GuardrailAction = "log"
)

// Valid reports whether a is a known guardrail action.
func (a GuardrailAction) Valid() bool {
	switch a {
	case ActionPauseAgent, ActionDowngradeModel, ActionNotify, ActionLog:
		return true
	}
	return false
}

// GuardrailRule evaluates a runtime condition and mutates agent state (or
// notifies) when it fires. DryRun rules evaluate and log but never mutate.
type GuardrailRule struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	Name            string          `json:"name"`
	Enabled         bool            `json:"enabled"`
	ConditionType   string          `json:"conditionType"`
	ConditionConfig json.RawMessage `json:"conditionConfig,omitempty"`
	ActionType      GuardrailAction `json:"actionType"`
	ActionConfig    json.RawMessage `json:"actionConfig,omitempty"`
	AgentID         string          `json:"agentId,omitempty"`
	CooldownMinutes int             `json:"cooldownMinutes"`
	DryRun          bool            `json:"dryRun"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// GuardrailState is the per-rule evaluation state, updated every tick whether
// or not the rule fires.
type GuardrailState struct {
	RuleID          string     `json:"ruleId"`
	TenantID        string     `json:"tenantId"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	TriggerCount    int64      `json:"triggerCount"`
	LastEvaluatedAt time.Time  `json:"lastEvaluatedAt"`
	CurrentValue    float64    `json:"currentValue"`
}

// ChannelType identifies a notification delivery provider.
type ChannelType string

// Channel types.
const (
	ChannelWebhook   ChannelType = "webhook"
	ChannelSlack     ChannelType = "slack"
	ChannelPagerDuty ChannelType = "pagerduty"
	ChannelEmail     ChannelType = "email"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelWebhook, ChannelSlack, ChannelPagerDuty, ChannelEmail:
		return true
	}
	return false
}

// NotificationChannel is a configured delivery target. Config holds the
// type-specific settings (URL, token, recipients, ...).
type NotificationChannel struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	Name      string          `json:"name"`
	Type      ChannelType     `json:"type"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NotificationLogEntry records one delivery attempt, successful or not.
type NotificationLogEntry struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId"`
	ChannelID      string    `json:"channelId"`
	RuleID         string    `json:"ruleId"`
	RuleType       string    `json:"ruleType"`
	Status         string    `json:"status"`
	Attempt        int       `json:"attempt"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	PayloadSummary string    `json:"payloadSummary"`
	CreatedAt      time.Time `json:"createdAt"`
}
