package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// Alerter forwards operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// publishJSON marshals v onto the signal bus. Realtime fan-out is best
// effort, so failures are logged and never returned.
func publishJSON(ctx context.Context, bus domain.SignalBus, channel string, v any, logger *slog.Logger) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logger.WarnContext(ctx, "marshal signal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "publish signal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// alert sends an operator alert when an Alerter is wired, logging failures.
func alert(ctx context.Context, a Alerter, logger *slog.Logger, event, title, message string) {
	if a == nil {
		return
	}
	if err := a.Notify(ctx, event, title, message); err != nil {
		logger.WarnContext(ctx, "operator alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
