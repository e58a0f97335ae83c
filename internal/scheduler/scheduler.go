// Package scheduler runs the periodic billing drift-correction sweep.
//
// Webhooks plus post-change reconciliation keep the projection current in
// the normal case; the sweep is the backstop for accounts that stopped
// receiving events (missed deliveries, provider-side edits during an
// outage). It claims a batch of stale accounts and re-reads provider truth
// for each through the regular reconciler.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/clock"
	"github.com/smallshift/rosterly/internal/config"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Holder *config.SweepConfigHolder

	Billing billingdomain.Service
	Repo    billingdomain.Repository
}

type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	holder *config.SweepConfigHolder

	billing billingdomain.Service
	repo    billingdomain.Repository
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:     p.DB,
		log:    p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:  p.Clock,
		holder: p.Holder,

		billing: p.Billing,
		repo:    p.Repo,
	}
}

// RunOnce sweeps one batch of stale accounts. Individual reconciliation
// failures are logged and skipped so one broken account cannot stall the
// rest of the batch.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cfg := s.holder.Get()
	if !cfg.Enabled {
		return nil
	}

	cutoff := s.clock.Now().Add(-cfg.StaleThreshold)
	accounts, err := s.repo.ListStale(ctx, s.db, cutoff, cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}

	var failed int
	for _, account := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.billing.ReconcileQuantity(ctx, account.OwnerID); err != nil {
			failed++
			s.log.Warn("sweep reconciliation failed",
				zap.String("owner_id", account.OwnerID.String()),
				zap.Error(err))
		}
	}

	s.log.Info("sweep completed",
		zap.Int("swept", len(accounts)),
		zap.Int("failed", failed),
		zap.Time("stale_cutoff", cutoff))
	return nil
}

// RunForever loops RunOnce on the configured interval until ctx is
// canceled. The interval is re-read every cycle so a hot-reloaded config
// takes effect without a restart.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.holder.Get().RunInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}

		if next := s.holder.Get().RunInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
