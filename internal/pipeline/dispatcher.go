package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/service"
)

// NotificationSender delivers one queued notification.
// *service.DeliveryService satisfies it.
type NotificationSender interface {
	SendNotification(ctx context.Context, n domain.Notification) (service.SendResult, error)
}

// Dispatcher claims due notifications and sends them with bounded
// concurrency.
type Dispatcher struct {
	notifications domain.NotificationStore
	sender        NotificationSender
	batchSize     int
	concurrency   int
	logger        *slog.Logger
	now           func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(notifications domain.NotificationStore, sender NotificationSender, batchSize, concurrency int, logger *slog.Logger) *Dispatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		notifications: notifications,
		sender:        sender,
		batchSize:     batchSize,
		concurrency:   concurrency,
		logger:        logger.With(slog.String("component", "dispatcher")),
		now:           time.Now,
	}
}

// RunOnce claims one batch and sends it. It returns the number of
// notifications claimed. A failed send marks that notification failed and
// does not stop the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	due, err := d.notifications.ClaimDue(ctx, d.now().UTC(), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: claim due: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, n := range due {
		g.Go(func() error {
			if _, err := d.sender.SendNotification(gctx, n); err != nil {
				d.logger.ErrorContext(gctx, "send notification failed",
					slog.String("notification_id", n.ID),
					slog.String("user_id", n.UserID),
					slog.String("error", err.Error()),
				)
				// Leave nothing stuck in processing.
				if uerr := d.notifications.UpdateStatus(context.WithoutCancel(gctx), n.ID, domain.NotificationFailed); uerr != nil {
					d.logger.ErrorContext(gctx, "mark notification failed",
						slog.String("notification_id", n.ID),
						slog.String("error", uerr.Error()),
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.InfoContext(ctx, "batch dispatched", slog.Int("count", len(due)))
	return len(due), nil
}

// RunLoop runs a batch immediately and then on every tick until ctx is
// cancelled. A full batch is followed straight away by another.
func (d *Dispatcher) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			n, err := d.RunOnce(ctx)
			if err != nil {
				d.logger.ErrorContext(ctx, "dispatch failed", slog.String("error", err.Error()))
				break
			}
			if n < d.batchSize || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
