package cmd

import (
	"context"
	"log/slog"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/config"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/gateway"
)

// startScheduler runs maintenance and mapping reconciliation on their cron
// schedules. The returned stop func waits for a running job to finish.
func startScheduler(ctx context.Context, coord *gateway.Coordinator, cfg *config.Config) (func(), error) {
	sched, err := gateway.NewScheduler(ctx, coord, cfg.Bot.MaintenanceSchedule, cfg.Bot.ReconcileSchedule)
	if err != nil {
		return nil, err
	}
	sched.Start()
	slog.Info("scheduler started",
		"maintenance", cfg.Bot.MaintenanceSchedule, "reconcile", cfg.Bot.ReconcileSchedule, "jobs", sched.Entries())
	return sched.Stop, nil
}
