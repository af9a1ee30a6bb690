package ratelimit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

func plans(quota int64, paid bool) PlanSource {
	return &StaticPlans{Default: Plan{Name: "test", EventQuota: quota, Paid: paid}}
}

func seedCount(t *testing.T, provider store.Provider, tenantID string, n int) {
	t.Helper()
	reqs := make([]models.IngestEvent, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, models.IngestEvent{
			SessionID: "s1",
			AgentID:   "a1",
			EventType: models.EventCustom,
			Payload:   json.RawMessage(`{}`),
		})
	}
	_, err := ingest.New(provider, nil, nil).Ingest(context.Background(), tenantID, reqs)
	require.NoError(t, err)
}

func TestQuotaStatesFromStoreFallback(t *testing.T) {
	provider := store.NewMemory()
	q := NewQuotaChecker(provider, nil, plans(10, false))
	ctx := context.Background()

	status, err := q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, QuotaOK, status.State)

	seedCount(t, provider, "t1", 8)
	status, err = q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, QuotaWarning, status.State)
	assert.Contains(t, status.Message, "80%")

	seedCount(t, provider, "t1", 2)
	status, err = q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, QuotaBlocked, status.State)
	assert.Equal(t, int64(10), status.Used)
}

func TestQuotaPaidOverageUpToCap(t *testing.T) {
	provider := store.NewMemory()
	q := NewQuotaChecker(provider, nil, plans(10, true))
	ctx := context.Background()

	// 150% of quota: paid plans continue with overage billing.
	seedCount(t, provider, "t1", 15)
	status, err := q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, QuotaWarning, status.State)
	assert.Contains(t, status.Message, "overage")

	// Past the 2x cap even paid plans block.
	seedCount(t, provider, "t1", 5)
	status, err = q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, QuotaBlocked, status.State)
}

func TestQuotaUnlimitedPlan(t *testing.T) {
	provider := store.NewMemory()
	q := NewQuotaChecker(provider, nil, plans(0, false))

	status, err := q.Check(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, QuotaOK, status.State)
}

func TestQuotaRedisFastPath(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	provider := store.NewMemory()
	q := NewQuotaChecker(provider, client, plans(100, false))
	ctx := context.Background()

	// First check misses the counter and seeds it from the store.
	seedCount(t, provider, "t1", 4)
	status, err := q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), status.Used)

	// Record bumps the counter without touching the store.
	q.Record(ctx, "t1", 6)
	status, err = q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.Used)
	assert.Equal(t, QuotaOK, status.State)
}

func TestQuotaPlanCache(t *testing.T) {
	provider := store.NewMemory()
	src := &countingPlans{plan: Plan{EventQuota: 100}}
	q := NewQuotaChecker(provider, nil, src)
	ctx := context.Background()

	_, err := q.Check(ctx, "t1")
	require.NoError(t, err)
	_, err = q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	// Expired cache entries are refetched.
	q.now = func() time.Time { return time.Now().Add(2 * DefaultPlanCacheTTL) }
	_, err = q.Check(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

type countingPlans struct {
	plan  Plan
	calls int
}

func (c *countingPlans) PlanFor(ctx context.Context, tenantID string) (Plan, error) {
	c.calls++
	return c.plan, nil
}
