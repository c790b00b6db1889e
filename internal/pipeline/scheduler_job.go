package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// schedulerLockKey serialises scheduling runs across instances.
const schedulerLockKey = "scheduler"

// WindowScheduler schedules reminders for a window.
// *service.SchedulerService satisfies it.
type WindowScheduler interface {
	DefaultWindow() (time.Time, time.Time)
	ScheduleWindow(ctx context.Context, start, end time.Time) (int, error)
}

// SchedulerJob runs the reminder scheduler under a distributed lock.
type SchedulerJob struct {
	scheduler WindowScheduler
	locks     domain.LockManager
	lockTTL   time.Duration
	logger    *slog.Logger
}

// NewSchedulerJob creates a SchedulerJob. locks may be nil for a single
// instance deployment.
func NewSchedulerJob(scheduler WindowScheduler, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *SchedulerJob {
	return &SchedulerJob{
		scheduler: scheduler,
		locks:     locks,
		lockTTL:   lockTTL,
		logger:    logger.With(slog.String("component", "scheduler_job")),
	}
}

// Run schedules the default window. A held lock skips the run.
func (j *SchedulerJob) Run(ctx context.Context) error {
	if j.locks != nil {
		unlock, err := j.locks.Acquire(ctx, schedulerLockKey, j.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			j.logger.InfoContext(ctx, "scheduler run skipped, lock held elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("scheduler job: acquire lock: %w", err)
		}
		defer unlock()
	}

	start, end := j.scheduler.DefaultWindow()
	if _, err := j.scheduler.ScheduleWindow(ctx, start, end); err != nil {
		return fmt.Errorf("scheduler job: %w", err)
	}
	return nil
}
