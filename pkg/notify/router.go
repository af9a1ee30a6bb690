package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// Grouping defaults. Repeated dispatches for the same rule inside the window
// collapse into one delivery carrying a groupCount.
const (
	DefaultGroupWindow = time.Minute
	DefaultGroupLimit  = 20
	flushInterval      = time.Second
)

// RouterConfig tunes the notification router.
type RouterConfig struct {
	GroupWindow       time.Duration
	GroupLimit        int
	AllowInternalURLs bool
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{GroupWindow: DefaultGroupWindow, GroupLimit: DefaultGroupLimit}
}

type groupKey struct {
	tenantID string
	ruleID   string
}

// group tracks dispatches buffered behind an already-delivered notification.
type group struct {
	openedAt time.Time
	targets  []string
	latest   *Payload
	count    int
}

// Router resolves channel entries to providers and delivers payloads, with
// per-rule grouping and a notification log entry for every delivery.
type Router struct {
	provider  store.Provider
	providers map[models.ChannelType]Provider
	webhook   *Webhook
	cfg       RouterConfig

	mu     sync.Mutex
	groups map[groupKey]*group

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRouter creates a router with the default provider set.
func NewRouter(provider store.Provider, cfg RouterConfig) *Router {
	if cfg.GroupWindow <= 0 {
		cfg.GroupWindow = DefaultGroupWindow
	}
	if cfg.GroupLimit <= 0 {
		cfg.GroupLimit = DefaultGroupLimit
	}
	webhook := NewWebhook(cfg.AllowInternalURLs)
	return &Router{
		provider: provider,
		providers: map[models.ChannelType]Provider{
			models.ChannelWebhook:   webhook,
			models.ChannelSlack:     NewSlack(),
			models.ChannelPagerDuty: NewPagerDuty(),
			models.ChannelEmail:     NewEmail(),
		},
		webhook: webhook,
		cfg:     cfg,
		groups:  make(map[groupKey]*group),
		stopCh:  make(chan struct{}),
	}
}

// RegisterProvider replaces the provider for a channel type.
func (r *Router) RegisterProvider(t models.ChannelType, p Provider) {
	r.providers[t] = p
}

// Start begins the group flush loop.
func (r *Router) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				r.flushDue(context.Background(), time.Now().Add(r.cfg.GroupWindow))
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.flushDue(ctx, now)
			}
		}
	}()
}

// Stop flushes pending groups and waits for the flush loop.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Dispatch delivers a payload to the given channel entries. The first
// dispatch for a rule goes out immediately and opens a grouping window;
// repeats inside the window are collapsed into a single follow-up delivery.
func (r *Router) Dispatch(ctx context.Context, tenantID string, targets []string, payload *Payload) {
	if len(targets) == 0 || payload == nil {
		return
	}
	key := groupKey{tenantID: tenantID, ruleID: payload.RuleID}

	r.mu.Lock()
	if g, ok := r.groups[key]; ok && payload.RuleID != "" {
		g.count++
		g.latest = payload
		g.targets = targets
		forced := g.count >= r.cfg.GroupLimit
		if forced {
			delete(r.groups, key)
		}
		r.mu.Unlock()
		if forced {
			r.deliverGroup(ctx, key, g)
		}
		return
	}
	if payload.RuleID != "" {
		r.groups[key] = &group{openedAt: time.Now(), targets: targets}
	}
	r.mu.Unlock()

	r.deliver(ctx, tenantID, targets, payload)
}

// flushDue delivers the buffered payload of every group whose window has
// elapsed and closes empty ones.
func (r *Router) flushDue(ctx context.Context, now time.Time) {
	r.mu.Lock()
	due := make(map[groupKey]*group)
	for key, g := range r.groups {
		if now.Sub(g.openedAt) >= r.cfg.GroupWindow {
			due[key] = g
			delete(r.groups, key)
		}
	}
	r.mu.Unlock()

	for key, g := range due {
		if g.count > 0 {
			r.deliverGroup(ctx, key, g)
		}
	}
}

func (r *Router) deliverGroup(ctx context.Context, key groupKey, g *group) {
	payload := *g.latest
	payload.GroupCount = g.count
	r.deliver(ctx, key.tenantID, g.targets, &payload)
}

func (r *Router) deliver(ctx context.Context, tenantID string, targets []string, payload *Payload) {
	st := r.provider.ForTenant(tenantID)
	for _, target := range targets {
		channelID, result := r.deliverOne(ctx, st, target, payload)
		r.log(ctx, st, tenantID, channelID, payload, result)
	}
}

// deliverOne sends to a single entry: absolute URLs go straight to the
// webhook provider, everything else resolves as a channel ID.
func (r *Router) deliverOne(ctx context.Context, st store.Store, target string, payload *Payload) (string, DeliveryResult) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, r.webhook.SendURL(ctx, target, nil, payload)
	}

	channel, err := st.GetChannel(ctx, target)
	if err != nil {
		return target, failure(0, err)
	}
	if !channel.Enabled {
		return target, failure(0, models.ValidationError("channel is disabled"))
	}
	provider, ok := r.providers[channel.Type]
	if !ok {
		return target, failure(0, models.ValidationError("no provider for channel type "+string(channel.Type)))
	}
	return target, provider.Send(ctx, channel, payload)
}

func (r *Router) log(ctx context.Context, st store.Store, tenantID, channelID string, payload *Payload, result DeliveryResult) {
	status := "delivered"
	if !result.Success {
		status = "failed"
		slog.Warn("Notification delivery failed",
			"tenant_id", tenantID, "channel", channelID,
			"rule_id", payload.RuleID, "attempt", result.Attempt, "error", result.Error)
	}
	entry := &models.NotificationLogEntry{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ChannelID:      channelID,
		RuleID:         payload.RuleID,
		RuleType:       payload.Source,
		Status:         status,
		Attempt:        result.Attempt,
		ErrorMessage:   result.Error,
		PayloadSummary: payload.Summary(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := st.AppendNotificationLog(ctx, entry); err != nil {
		slog.Warn("Notification log append failed", "tenant_id", tenantID, "error", err)
	}
}
