package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const reconcileTimeout = 30 * time.Second

// MaintenanceReport counts what one maintenance tick removed.
type MaintenanceReport struct {
	FeedHistory  int
	Contexts     int
	RateWindows  int
	PendingCount int
}

// RunMaintenance expires feed history and idle contexts and sweeps the rate limiter.
func (c *Coordinator) RunMaintenance(ctx context.Context) MaintenanceReport {
	r := MaintenanceReport{
		FeedHistory:  c.deps.Ingest.ExpireHistory(c.cfg.FeedHistoryMaxAge),
		Contexts:     c.deps.Contexts.ExpireIdle(),
		PendingCount: c.deps.Resolver.PendingCount(),
	}
	if c.deps.Limiter != nil {
		r.RateWindows = c.deps.Limiter.Sweep()
	}
	slog.Debug("maintenance tick",
		"feed_history_expired", r.FeedHistory, "contexts_expired", r.Contexts,
		"rate_windows_swept", r.RateWindows, "pending", r.PendingCount)
	return r
}

// Reconcile refreshes channel-group mappings from the platform directory.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
	defer cancel()
	changed, err := c.deps.Resolver.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile mappings: %w", err)
	}
	if changed > 0 {
		slog.Info("mappings reconciled", "changed", changed)
	}
	return nil
}

// Scheduler drives maintenance and reconciliation on cron schedules.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers both jobs. Schedules use the standard five-field
// syntax or descriptors such as "@every 1m".
func NewScheduler(ctx context.Context, c *Coordinator, maintenanceSpec, reconcileSpec string) (*Scheduler, error) {
	cr := cron.New(
		cron.WithLogger(cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := cr.AddFunc(maintenanceSpec, func() { c.RunMaintenance(ctx) }); err != nil {
		return nil, fmt.Errorf("maintenance schedule %q: %w", maintenanceSpec, err)
	}
	if reconcileSpec != "" {
		if _, err := cr.AddFunc(reconcileSpec, func() {
			if err := c.Reconcile(ctx); err != nil {
				slog.Warn("scheduled reconcile failed", "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("reconcile schedule %q: %w", reconcileSpec, err)
		}
	}
	return &Scheduler{cron: cr}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
