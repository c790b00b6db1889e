package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// sleepHook waits for d or until ctx is done. Tests replace it.
var sleepHook = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome is the result of delivering one message through a Retrier.
type Outcome struct {
	ProviderMessageID string
	Attempts          int
}

// Retrier retries channel deliveries with exponential backoff.
type Retrier struct {
	maxAttempts int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// NewRetrier creates a Retrier. maxAttempts below 1 is treated as 1.
func NewRetrier(maxAttempts int, baseBackoff time.Duration, logger *slog.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		logger:      logger.With(slog.String("component", "retrier")),
	}
}

// Deliver sends msg through s, retrying transient failures. The returned
// Outcome carries the attempt count even when err is non-nil.
func (r *Retrier) Deliver(ctx context.Context, s ChannelSender, msg Message) (Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		id, err := s.Deliver(ctx, msg)
		if err == nil {
			return Outcome{ProviderMessageID: id, Attempts: attempt}, nil
		}
		lastErr = err

		r.logger.WarnContext(ctx, "delivery attempt failed",
			slog.String("channel", string(s.Channel())),
			slog.String("provider", s.Provider()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if IsPermanent(err) || attempt == r.maxAttempts {
			return Outcome{Attempts: attempt}, err
		}
		if err := sleepHook(ctx, r.backoff(attempt)); err != nil {
			return Outcome{Attempts: attempt}, fmt.Errorf("notify: retry interrupted: %w", err)
		}
	}
	return Outcome{Attempts: r.maxAttempts}, lastErr
}

// backoff returns base * 2^(attempt-1).
func (r *Retrier) backoff(attempt int) time.Duration {
	return r.baseBackoff * time.Duration(1<<uint(attempt-1))
}
