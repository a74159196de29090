package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/topi314/tint"

	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// Scheduler wires the periodic driver with queue admission so a queue never
// stalls when a retrigger is lost.
type Scheduler struct {
	driver ports.Scheduler
	jobs   ports.JobQueue
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop the admission tick.
func NewScheduler(driver ports.Scheduler, jobs ports.JobQueue, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, jobs: jobs, logger: logger.With("component", "scheduler")}
}

// Start registers the admission tick with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.jobs == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if err := s.jobs.Enqueue(ctx, ports.Unit{Kind: ports.UnitAdmit}); err != nil {
			s.logger.WarnContext(ctx, "failed to enqueue admission tick", slog.Time("trigger", trigger), tint.Err(err))
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
