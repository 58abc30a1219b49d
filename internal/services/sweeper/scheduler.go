package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the pause between two scheduled runs.
const DefaultInterval = 5 * time.Minute

// TenantLister enumerates the tenants to sweep.
type TenantLister interface {
	TenantIDs(ctx context.Context) ([]string, error)
}

// Pruner expires stale presence entries.
type Pruner interface {
	Prune(ctx context.Context) int
}

// SchedulerConfig holds the configuration for the scheduler.
type SchedulerConfig struct {
	Sweeper  *Sweeper
	Tenants  TenantLister
	Presence Pruner
	Interval time.Duration
	// AfterTenant runs after each swept tenant, e.g. to trigger a rebalance.
	AfterTenant func(tenantID string)
	Logger      zerolog.Logger
}

// Scheduler runs every pass for every tenant on a fixed interval.
type Scheduler struct {
	sweeper     *Sweeper
	tenants     TenantLister
	presence    Pruner
	interval    time.Duration
	afterTenant func(string)
	logger      zerolog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	if cfg.Tenants == nil {
		return nil, fmt.Errorf("tenant lister is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		sweeper:     cfg.Sweeper,
		tenants:     cfg.Tenants,
		presence:    cfg.Presence,
		interval:    interval,
		afterTenant: cfg.AfterTenant,
		logger:      cfg.Logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("sweep scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweep scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("sweep run failed")
			}
		}
	}
}

// RunOnce sweeps every tenant once. A failing tenant does not stop the run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	tenants, err := s.tenants.TenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.SweepTenant(ctx, tenantID)
	}
	if s.presence != nil {
		s.presence.Prune(ctx)
	}
	return nil
}

// SweepTenant runs the missed, stale and load passes for one tenant.
func (s *Scheduler) SweepTenant(ctx context.Context, tenantID string) {
	logger := s.logger.With().Str("tenantId", tenantID).Logger()

	if _, err := s.sweeper.SweepMissed(ctx, tenantID, 0); err != nil {
		logger.Error().Err(err).Msg("missed sweep failed")
	}
	if _, err := s.sweeper.SweepStale(ctx, tenantID, 0); err != nil {
		logger.Error().Err(err).Msg("stale sweep failed")
	}
	if _, err := s.sweeper.ReconcileLoads(ctx, tenantID, false); err != nil {
		logger.Error().Err(err).Msg("load reconciliation failed")
	}
	if s.afterTenant != nil {
		s.afterTenant(tenantID)
	}
}
