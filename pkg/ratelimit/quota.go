package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentlensai/agentlens/pkg/store"
)

// Quota thresholds and defaults.
const (
	warnThreshold               = 0.80
	DefaultOverageCapMultiplier = 2.0
	DefaultPlanCacheTTL         = 60 * time.Second
	counterTTL                  = 40 * 24 * time.Hour
)

// QuotaState classifies current usage against the plan.
type QuotaState string

// Quota states.
const (
	QuotaOK      QuotaState = "ok"
	QuotaWarning QuotaState = "warning"
	QuotaBlocked QuotaState = "blocked"
)

// Plan is the billing plan slice the quota checker needs.
type Plan struct {
	Name                 string  `json:"name"`
	EventQuota           int64   `json:"eventQuota"`
	Paid                 bool    `json:"paid"`
	OverageCapMultiplier float64 `json:"overageCapMultiplier"`
}

// PlanSource resolves the plan for a tenant.
type PlanSource interface {
	PlanFor(ctx context.Context, tenantID string) (Plan, error)
}

// StaticPlans is a PlanSource backed by a fixed map with a fallback plan.
type StaticPlans struct {
	Plans   map[string]Plan
	Default Plan
}

// PlanFor implements PlanSource.
func (s *StaticPlans) PlanFor(ctx context.Context, tenantID string) (Plan, error) {
	if p, ok := s.Plans[tenantID]; ok {
		return p, nil
	}
	return s.Default, nil
}

// QuotaStatus is the outcome of a quota check.
type QuotaStatus struct {
	State   QuotaState `json:"state"`
	Used    int64      `json:"used"`
	Quota   int64      `json:"quota"`
	Percent float64    `json:"percent"`
	Message string     `json:"message,omitempty"`
}

type cachedPlan struct {
	plan    Plan
	fetched time.Time
}

// QuotaChecker tracks monthly ingested-event counts per tenant. A Redis
// counter serves the fast path; the authoritative count comes from the event
// store when the counter is missing. Redis may be nil, in which case every
// check queries the store.
type QuotaChecker struct {
	provider store.Provider
	redis    *redis.Client
	plans    PlanSource
	cacheTTL time.Duration
	now      func() time.Time

	mu        sync.Mutex
	planCache map[string]cachedPlan
}

// NewQuotaChecker creates a quota checker. redisClient may be nil.
func NewQuotaChecker(provider store.Provider, redisClient *redis.Client, plans PlanSource) *QuotaChecker {
	return &QuotaChecker{
		provider:  provider,
		redis:     redisClient,
		plans:     plans,
		cacheTTL:  DefaultPlanCacheTTL,
		now:       time.Now,
		planCache: make(map[string]cachedPlan),
	}
}

// Check evaluates the tenant's usage for the current UTC month.
func (q *QuotaChecker) Check(ctx context.Context, tenantID string) (*QuotaStatus, error) {
	plan, err := q.planFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if plan.EventQuota <= 0 {
		return &QuotaStatus{State: QuotaOK}, nil
	}

	used, err := q.usedThisMonth(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	pct := float64(used) / float64(plan.EventQuota)
	status := &QuotaStatus{Used: used, Quota: plan.EventQuota, Percent: pct * 100}
	switch {
	case pct < warnThreshold:
		status.State = QuotaOK
	case pct < 1:
		status.State = QuotaWarning
		status.Message = fmt.Sprintf("monthly quota %.0f%% used", status.Percent)
	default:
		capMult := plan.OverageCapMultiplier
		if capMult <= 0 {
			capMult = DefaultOverageCapMultiplier
		}
		if plan.Paid && pct < capMult {
			status.State = QuotaWarning
			status.Message = fmt.Sprintf("monthly quota exceeded (%.0f%%), overage billing applies", status.Percent)
		} else {
			status.State = QuotaBlocked
			status.Message = fmt.Sprintf("monthly quota exceeded (%.0f%%)", status.Percent)
		}
	}
	return status, nil
}

// Record adds freshly ingested events to the fast-path counter. Safe to call
// with a nil Redis client.
func (q *QuotaChecker) Record(ctx context.Context, tenantID string, n int64) {
	if q.redis == nil || n <= 0 {
		return
	}
	key := q.counterKey(tenantID)
	pipe := q.redis.Pipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("Quota counter update failed", "tenant_id", tenantID, "error", err)
	}
}

func (q *QuotaChecker) planFor(ctx context.Context, tenantID string) (Plan, error) {
	now := q.now()
	q.mu.Lock()
	if cached, ok := q.planCache[tenantID]; ok && now.Sub(cached.fetched) < q.cacheTTL {
		q.mu.Unlock()
		return cached.plan, nil
	}
	q.mu.Unlock()

	plan, err := q.plans.PlanFor(ctx, tenantID)
	if err != nil {
		return Plan{}, err
	}
	q.mu.Lock()
	q.planCache[tenantID] = cachedPlan{plan: plan, fetched: now}
	q.mu.Unlock()
	return plan, nil
}

// usedThisMonth reads the Redis counter, falling back to the authoritative
// store aggregate on miss and seeding the counter from it.
func (q *QuotaChecker) usedThisMonth(ctx context.Context, tenantID string) (int64, error) {
	if q.redis != nil {
		val, err := q.redis.Get(ctx, q.counterKey(tenantID)).Result()
		if err == nil {
			if n, perr := strconv.ParseInt(val, 10, 64); perr == nil {
				return n, nil
			}
		} else if err != redis.Nil {
			slog.Warn("Quota counter read failed", "tenant_id", tenantID, "error", err)
		}
	}

	count, err := q.provider.ForTenant(tenantID).CountEventsSince(ctx, q.monthStart())
	if err != nil {
		return 0, err
	}
	if q.redis != nil {
		if err := q.redis.Set(ctx, q.counterKey(tenantID), count, counterTTL).Err(); err != nil {
			slog.Warn("Quota counter seed failed", "tenant_id", tenantID, "error", err)
		}
	}
	return count, nil
}

func (q *QuotaChecker) monthStart() time.Time {
	now := q.now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (q *QuotaChecker) counterKey(tenantID string) string {
	return "agentlens:quota:" + tenantID + ":" + q.now().UTC().Format("2006-01")
}
