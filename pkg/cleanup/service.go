// Package cleanup enforces data retention: sessions with no activity past
// the retention window are deleted, events and summaries included.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentlensai/agentlens/pkg/store"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = time.Hour

// Config tunes the retention sweep.
type Config struct {
	// RetentionDays is the activity window. Zero disables the service.
	RetentionDays int
	Interval      time.Duration
}

// Service sweeps every tenant on a fixed interval and purges sessions whose
// last event is older than the retention window. Purges are idempotent and
// safe to run from multiple replicas.
type Service struct {
	provider store.Provider
	cfg      Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a retention service.
func NewService(provider store.Provider, cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Service{
		provider: provider,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Sweep(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
	slog.Info("Retention service started",
		"retention_days", s.cfg.RetentionDays, "interval", s.cfg.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Sweep runs one retention pass over all tenants.
func (s *Service) Sweep(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	tenants, err := s.provider.Tenants(ctx)
	if err != nil {
		slog.Error("Retention: listing tenants failed", "error", err)
		return
	}
	for _, tenantID := range tenants {
		purged, err := s.provider.ForTenant(tenantID).PurgeSessionsBefore(ctx, cutoff)
		if err != nil {
			slog.Error("Retention: purge failed", "tenant_id", tenantID, "error", err)
			continue
		}
		if purged > 0 {
			slog.Info("Retention: purged stale sessions",
				"tenant_id", tenantID, "sessions", purged, "cutoff", cutoff)
		}
	}
}
