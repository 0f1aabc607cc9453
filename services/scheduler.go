// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Archiver is the audit export run by the scheduler.
type Archiver interface {
	RunOnce(ctx context.Context) (int, error)
}

// StartScheduler runs the reconciler and, when configured, the audit
// archiver on fixed intervals. Jobs never overlap themselves.
func StartScheduler(ctx context.Context, reconciler *Reconciler, reconcileEvery time.Duration, archiver Archiver, archiveEvery time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(reconcileEvery),
		gocron.NewTask(func() {
			if _, err := reconciler.Run(ctx); err != nil {
				log.Printf("❌ [SCHEDULER] Reconcile pass failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("reconcile-intents"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reconciler: %w", err)
	}

	if archiver != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(archiveEvery),
			gocron.NewTask(func() {
				if _, err := archiver.RunOnce(ctx); err != nil {
					log.Printf("❌ [SCHEDULER] Audit archive pass failed: %v", err)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithName("archive-wheel-draws"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule audit archiver: %w", err)
		}
	}

	sched.Start()
	log.Printf("⏱️ [SCHEDULER] Started (reconcile every %s, archive enabled: %t)", reconcileEvery, archiver != nil)
	return sched, nil
}
