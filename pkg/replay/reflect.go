package replay

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// Analysis names accepted by Reflect.
const (
	AnalysisErrorPatterns     = "error_patterns"
	AnalysisToolSequences     = "tool_sequences"
	AnalysisCostAnalysis      = "cost_analysis"
	AnalysisPerformanceTrends = "performance_trends"
)

// defaultReflectLimit caps result list sizes unless the caller asks for less.
const defaultReflectLimit = 20

// ReflectQuery selects an analysis over a time range.
type ReflectQuery struct {
	Analysis string
	AgentID  string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// ErrorPattern groups errors sharing a message.
type ErrorPattern struct {
	Message  string    `json:"message"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
	Sessions []string  `json:"sessions"`
}

// ToolSequence is one observed per-session ordering of tool calls.
type ToolSequence struct {
	Sequence []string `json:"sequence"`
	Count    int      `json:"count"`
}

// ModelCost is spend attributed to one model.
type ModelCost struct {
	Model   string  `json:"model"`
	Events  int     `json:"events"`
	CostUsd float64 `json:"costUsd"`
}

// CostAnalysis is the spend breakdown for the range.
type CostAnalysis struct {
	TotalCostUsd float64     `json:"totalCostUsd"`
	ByModel      []ModelCost `json:"byModel"`
}

// TrendPoint is one hourly bucket of tool performance.
type TrendPoint struct {
	Bucket        time.Time `json:"bucket"`
	Count         int       `json:"count"`
	AvgDurationMs float64   `json:"avgDurationMs"`
	ErrorRate     float64   `json:"errorRate"`
}

// ReflectResult carries whichever analysis was requested.
type ReflectResult struct {
	Analysis      string         `json:"analysis"`
	ErrorPatterns []ErrorPattern `json:"errorPatterns,omitempty"`
	ToolSequences []ToolSequence `json:"toolSequences,omitempty"`
	Cost          *CostAnalysis  `json:"cost,omitempty"`
	Trends        []TrendPoint   `json:"trends,omitempty"`
}

// Reflect runs one diagnostic analysis over the tenant's events.
func (s *Service) Reflect(ctx context.Context, tenantID string, q ReflectQuery) (*ReflectResult, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = defaultReflectLimit
	}
	st := s.provider.ForTenant(tenantID)

	switch q.Analysis {
	case AnalysisErrorPatterns:
		return s.errorPatterns(ctx, st, q)
	case AnalysisToolSequences:
		return s.toolSequences(ctx, st, q)
	case AnalysisCostAnalysis:
		return s.costAnalysis(ctx, st, q)
	case AnalysisPerformanceTrends:
		return s.performanceTrends(ctx, st, q)
	}
	return nil, models.ValidationError("unknown analysis: " + q.Analysis)
}

func (s *Service) errorPatterns(ctx context.Context, st store.EventReader, q ReflectQuery) (*ReflectResult, error) {
	byMessage := make(map[string]*ErrorPattern)
	filter := store.EventFilter{AgentID: q.AgentID, From: q.From, To: q.To}
	err := forEachEvent(ctx, st, filter, func(ev *models.Event) {
		if !ev.Severity.IsErrorLevel() && ev.EventType != models.EventToolError {
			return
		}
		msg := errorMessage(ev)
		p, ok := byMessage[msg]
		if !ok {
			p = &ErrorPattern{Message: msg}
			byMessage[msg] = p
		}
		p.Count++
		if ev.Timestamp.After(p.LastSeen) {
			p.LastSeen = ev.Timestamp
		}
		if len(p.Sessions) < 5 && !contains(p.Sessions, ev.SessionID) {
			p.Sessions = append(p.Sessions, ev.SessionID)
		}
	})
	if err != nil {
		return nil, err
	}

	patterns := make([]ErrorPattern, 0, len(byMessage))
	for _, p := range byMessage {
		patterns = append(patterns, *p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Message < patterns[j].Message
	})
	if len(patterns) > q.Limit {
		patterns = patterns[:q.Limit]
	}
	return &ReflectResult{Analysis: AnalysisErrorPatterns, ErrorPatterns: patterns}, nil
}

func (s *Service) toolSequences(ctx context.Context, st store.EventReader, q ReflectQuery) (*ReflectResult, error) {
	bySession := make(map[string][]string)
	var sessionOrder []string
	filter := store.EventFilter{
		AgentID:    q.AgentID,
		EventTypes: []models.EventType{models.EventToolCall},
		From:       q.From,
		To:         q.To,
	}
	err := forEachEvent(ctx, st, filter, func(ev *models.Event) {
		name := models.DecodeToolCall(ev.Payload).ToolName
		if name == "" {
			return
		}
		if _, ok := bySession[ev.SessionID]; !ok {
			sessionOrder = append(sessionOrder, ev.SessionID)
		}
		bySession[ev.SessionID] = append(bySession[ev.SessionID], name)
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, sessionID := range sessionOrder {
		counts[strings.Join(bySession[sessionID], "\x00")]++
	}
	sequences := make([]ToolSequence, 0, len(counts))
	for key, count := range counts {
		sequences = append(sequences, ToolSequence{
			Sequence: strings.Split(key, "\x00"),
			Count:    count,
		})
	}
	sort.Slice(sequences, func(i, j int) bool {
		if sequences[i].Count != sequences[j].Count {
			return sequences[i].Count > sequences[j].Count
		}
		return strings.Join(sequences[i].Sequence, ",") < strings.Join(sequences[j].Sequence, ",")
	})
	if len(sequences) > q.Limit {
		sequences = sequences[:q.Limit]
	}
	return &ReflectResult{Analysis: AnalysisToolSequences, ToolSequences: sequences}, nil
}

func (s *Service) costAnalysis(ctx context.Context, st store.EventReader, q ReflectQuery) (*ReflectResult, error) {
	byModel := make(map[string]*ModelCost)
	cost := &CostAnalysis{}
	filter := store.EventFilter{
		AgentID:    q.AgentID,
		EventTypes: []models.EventType{models.EventCostTracked, models.EventLLMResponse},
		From:       q.From,
		To:         q.To,
	}
	err := forEachEvent(ctx, st, filter, func(ev *models.Event) {
		usage := models.DecodeTokenUsage(ev.Payload)
		if usage.CostUsd == 0 {
			return
		}
		cost.TotalCostUsd += usage.CostUsd
		model := usage.Model
		if model == "" {
			model = "unknown"
		}
		mc, ok := byModel[model]
		if !ok {
			mc = &ModelCost{Model: model}
			byModel[model] = mc
		}
		mc.Events++
		mc.CostUsd += usage.CostUsd
	})
	if err != nil {
		return nil, err
	}

	for _, mc := range byModel {
		cost.ByModel = append(cost.ByModel, *mc)
	}
	sort.Slice(cost.ByModel, func(i, j int) bool {
		return cost.ByModel[i].CostUsd > cost.ByModel[j].CostUsd
	})
	if len(cost.ByModel) > q.Limit {
		cost.ByModel = cost.ByModel[:q.Limit]
	}
	return &ReflectResult{Analysis: AnalysisCostAnalysis, Cost: cost}, nil
}

func (s *Service) performanceTrends(ctx context.Context, st store.EventReader, q ReflectQuery) (*ReflectResult, error) {
	type bucket struct {
		count    int
		errors   int
		duration float64
	}
	buckets := make(map[time.Time]*bucket)
	filter := store.EventFilter{
		AgentID:    q.AgentID,
		EventTypes: []models.EventType{models.EventToolResponse, models.EventToolError},
		From:       q.From,
		To:         q.To,
	}
	err := forEachEvent(ctx, st, filter, func(ev *models.Event) {
		hour := ev.Timestamp.UTC().Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &bucket{}
			buckets[hour] = b
		}
		b.count++
		if ev.EventType == models.EventToolError {
			b.errors++
		} else {
			b.duration += models.DecodeToolCall(ev.Payload).DurationMs
		}
	})
	if err != nil {
		return nil, err
	}

	trends := make([]TrendPoint, 0, len(buckets))
	for hour, b := range buckets {
		p := TrendPoint{Bucket: hour, Count: b.count}
		if responses := b.count - b.errors; responses > 0 {
			p.AvgDurationMs = b.duration / float64(responses)
		}
		p.ErrorRate = float64(b.errors) / float64(b.count)
		trends = append(trends, p)
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Bucket.Before(trends[j].Bucket) })
	if len(trends) > q.Limit {
		trends = trends[len(trends)-q.Limit:]
	}
	return &ReflectResult{Analysis: AnalysisPerformanceTrends, Trends: trends}, nil
}

// errorMessage extracts the grouping key for an error event.
func errorMessage(ev *models.Event) string {
	if tc := models.DecodeToolCall(ev.Payload); tc.Error != "" {
		if tc.ToolName != "" {
			return tc.ToolName + ": " + tc.Error
		}
		return tc.Error
	}
	var p struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			if p.Message != "" {
				return p.Message
			}
			if p.Error != "" {
				return p.Error
			}
		}
	}
	return string(ev.EventType)
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
