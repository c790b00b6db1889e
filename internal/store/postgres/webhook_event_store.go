package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// staleProcessingAfter is how long a "processing" row may sit before another
// delivery of the same event may reclaim it. It covers crashed workers.
const staleProcessingAfter = 10 * time.Minute

// WebhookEventStore implements domain.WebhookEventStore using PostgreSQL.
type WebhookEventStore struct {
	pool *pgxpool.Pool
}

// NewWebhookEventStore creates a new WebhookEventStore backed by the pool.
func NewWebhookEventStore(pool *pgxpool.Pool) *WebhookEventStore {
	return &WebhookEventStore{pool: pool}
}

const webhookEventCols = `id, type, status, attempts, error, payload, received_at, processed_at`

// Begin claims the event for processing. A new id is inserted as processing;
// a failed (or long-stuck processing) id is reclaimed with attempts bumped.
// Anything else is left untouched and returned with claimed=false.
func (s *WebhookEventStore) Begin(ctx context.Context, evt domain.WebhookEvent) (domain.WebhookEvent, bool, error) {
	query := `
		INSERT INTO webhook_events (id, type, status, attempts, payload, received_at, updated_at)
		VALUES ($1, $2, 'processing', 1, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status     = 'processing',
			attempts   = webhook_events.attempts + 1,
			error      = '',
			payload    = EXCLUDED.payload,
			updated_at = NOW()
		WHERE webhook_events.status = 'failed'
		   OR (webhook_events.status = 'processing' AND webhook_events.updated_at < NOW() - $4::int * INTERVAL '1 second')
		RETURNING ` + webhookEventCols

	var payload any
	if len(evt.Payload) > 0 {
		payload = evt.Payload
	}

	row := s.pool.QueryRow(ctx, query, evt.ID, evt.Type, payload, int(staleProcessingAfter.Seconds()))
	stored, err := scanWebhookEvent(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.WebhookEvent{}, false, fmt.Errorf("postgres: begin webhook event %s: %w", evt.ID, err)
	}

	row = s.pool.QueryRow(ctx, `SELECT `+webhookEventCols+` FROM webhook_events WHERE id = $1`, evt.ID)
	stored, err = scanWebhookEvent(row)
	if err != nil {
		return domain.WebhookEvent{}, false, fmt.Errorf("postgres: load webhook event %s: %w", evt.ID, err)
	}
	return stored, false, nil
}

// Complete records the outcome of processing.
func (s *WebhookEventStore) Complete(ctx context.Context, id string, status domain.WebhookEventStatus, errMsg string) error {
	const query = `
		UPDATE webhook_events SET
			status       = $2,
			error        = $3,
			processed_at = CASE WHEN $2 IN ('processed', 'ignored') THEN NOW() ELSE processed_at END,
			updated_at   = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("postgres: complete webhook event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBefore returns events received before the cutoff, oldest first.
func (s *WebhookEventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.WebhookEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+webhookEventCols+` FROM webhook_events WHERE received_at < $1 ORDER BY received_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list webhook events: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEvent
	for rows.Next() {
		evt, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan webhook event: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list webhook events rows: %w", err)
	}
	return out, nil
}

func scanWebhookEvent(row pgx.Row) (domain.WebhookEvent, error) {
	var (
		evt       domain.WebhookEvent
		statusStr string
	)
	err := row.Scan(
		&evt.ID, &evt.Type, &statusStr, &evt.Attempts, &evt.Error,
		&evt.Payload, &evt.ReceivedAt, &evt.ProcessedAt,
	)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	evt.Status = domain.WebhookEventStatus(statusStr)
	return evt, nil
}
