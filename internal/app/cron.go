package app

import (
	"context"
	"time"

	pkgcron "github.com/publora/core/internal/pkg/cron"
	"go.uber.org/zap"
)

// registerCronJobs registers the background maintenance jobs: the
// reconciliation sweep that recovers orphaned SCHEDULED rows, and the
// queue janitor that trims completed job records.
func (a *App) registerCronJobs() {
	cronLogger := a.logger.Named("cron")

	a.sched.Register(pkgcron.Job{
		Name:        "reconcile_publications",
		Description: "re-enqueue orphaned scheduled publications, skip stale ones",
		Interval:    time.Minute,
		Fn: func(ctx context.Context) error {
			touched, err := a.publishSvc.ReconcileOrphans(ctx)
			if err != nil {
				cronLogger.Warn("reconciliation sweep failed", zap.Error(err))
				return err
			}
			if touched > 0 {
				cronLogger.Info("reconciliation sweep recovered publications", zap.Int("touched", touched))
			}
			return nil
		},
	})

	a.sched.Register(pkgcron.Job{
		Name:        "trim_queues",
		Description: "drop old completed job records past the retention window",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			for _, q := range a.queues {
				if err := q.TrimCompleted(ctx); err != nil {
					cronLogger.Warn("queue trim failed",
						zap.String("queue", q.Name()), zap.Error(err))
					return err
				}
			}
			return nil
		},
	})
}
