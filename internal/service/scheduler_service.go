package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// MaxScheduleWindow is the widest window one scheduling run may cover.
const MaxScheduleWindow = domain.MaxScheduleWindow

// SchedulerService turns upcoming calendar events into queued reminders.
type SchedulerService struct {
	notifications domain.NotificationStore
	window        time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewSchedulerService creates a SchedulerService. window is the default look
// ahead used by DefaultWindow.
func NewSchedulerService(notifications domain.NotificationStore, window time.Duration, logger *slog.Logger) *SchedulerService {
	return &SchedulerService{
		notifications: notifications,
		window:        window,
		logger:        logger.With(slog.String("component", "scheduler_service")),
		now:           time.Now,
	}
}

// DefaultWindow returns [now, now+window).
func (s *SchedulerService) DefaultWindow() (time.Time, time.Time) {
	start := s.now().UTC().Truncate(time.Second)
	return start, start.Add(s.window)
}

// ScheduleWindow schedules reminders whose reminder time falls in
// [start, end) and returns how many were newly queued. Re-running a window
// queues nothing new.
func (s *SchedulerService) ScheduleWindow(ctx context.Context, start, end time.Time) (int, error) {
	if !start.Before(end) {
		return 0, fmt.Errorf("scheduler_service: %w: window_start must be before window_end", domain.ErrInvalidInput)
	}
	if end.Sub(start) > MaxScheduleWindow {
		return 0, fmt.Errorf("scheduler_service: %w: window exceeds %s", domain.ErrInvalidInput, MaxScheduleWindow)
	}

	n, err := s.notifications.ScheduleWindow(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("scheduler_service: schedule: %w", err)
	}

	s.logger.InfoContext(ctx, "scheduler_service: window scheduled",
		slog.Time("window_start", start),
		slog.Time("window_end", end),
		slog.Int("scheduled", n),
	)
	return n, nil
}
