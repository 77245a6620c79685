// Package scheduler runs the recurring maintenance jobs: persisting
// the search index blob, sweeping scheduled posts whose publish time
// has passed, and pruning finished workflow runs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"inkwell/pkg/logger"
)

// Job is one named cron entry. Run receives the tick time.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context, now time.Time) error
}

// Start validates every job's cron expression and launches one
// scheduler goroutine per job. Returns a cancel func covering all of
// them.
func Start(ctx context.Context, jobs []Job) (context.CancelFunc, error) {
	for _, j := range jobs {
		if !gronx.IsValid(j.Cron) {
			return nil, fmt.Errorf("invalid cron for job %s: %s", j.Name, j.Cron)
		}
	}
	ctx2, cancel := context.WithCancel(ctx)
	for _, j := range jobs {
		go runLoop(ctx2, j)
		logger.Info("scheduler_job_started", "job", j.Name, "cron", j.Cron)
	}
	return cancel, nil
}

// runLoop computes the next tick with gronx and sleeps until then.
func runLoop(ctx context.Context, j Job) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler_job_stopping", "job", j.Name)
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(j.Cron, now, false)
		if err != nil {
			logger.Error("scheduler_nexttick_failed", "job", j.Name, "cron", j.Cron, "error", err.Error())
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("scheduler_job_stopping", "job", j.Name)
			return
		}

		start := time.Now()
		if err := j.Run(ctx, next); err != nil {
			logger.Error("scheduler_job_failed", "job", j.Name, "error", err.Error())
		} else {
			logger.Info("scheduler_job_completed", "job", j.Name, "took_ms", time.Since(start).Milliseconds())
		}
	}
}
