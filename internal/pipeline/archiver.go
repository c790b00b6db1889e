package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
)

const day = 24 * time.Hour

// Archiver is the cron job that moves delivery records and webhook events
// older than the retention period to cold storage.
type Archiver struct {
	target    domain.Archiver
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewArchiver(target domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		target:    target,
		retention: time.Duration(retentionDays) * day,
		logger:    logger.With(slog.String("component", "archive_job")),
		now:       time.Now,
	}
}

// Run archives deliveries first. A failure there skips webhook events until
// the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	if a.retention <= 0 {
		return fmt.Errorf("archive job: retention must be positive, got %s", a.retention)
	}
	cutoff := a.now().UTC().Add(-a.retention)
	log := a.logger.With(slog.Time("cutoff", cutoff))
	started := time.Now()

	nd, err := a.target.ArchiveDeliveries(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive job: deliveries: %w", err)
	}
	nw, err := a.target.ArchiveWebhookEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive job: webhook events: %w", err)
	}

	log.Info("archive complete",
		slog.Int64("deliveries", nd),
		slog.Int64("webhook_events", nw),
		slog.Duration("took", time.Since(started)),
	)
	return nil
}
