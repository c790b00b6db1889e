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

// DeliveryStore implements domain.DeliveryStore using PostgreSQL.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryStore creates a new DeliveryStore backed by the given pool.
func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{pool: pool}
}

const deliveryCols = `id, notification_id, user_id, channel, recipient, status, provider,
	provider_message_id, attempts, error, created_at, sent_at, updated_at`

// Create inserts a new delivery record, normally in the pending state.
func (s *DeliveryStore) Create(ctx context.Context, rec domain.DeliveryRecord) error {
	const query = `
		INSERT INTO delivery_records (
			id, notification_id, user_id, channel, recipient, status, provider, attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.NotificationID, rec.UserID, string(rec.Channel), rec.Recipient,
		string(rec.Status), rec.Provider, rec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("postgres: create delivery %s: %w", rec.ID, err)
	}
	return nil
}

// Finish moves a pending record into sent or failed. The status guard in the
// WHERE clause makes a second Finish on the same record a no-op that reports
// ErrInvalidTransition.
func (s *DeliveryStore) Finish(ctx context.Context, rec domain.DeliveryRecord) error {
	if !domain.DeliveryPending.CanTransition(rec.Status) {
		return fmt.Errorf("postgres: finish delivery %s as %s: %w", rec.ID, rec.Status, domain.ErrInvalidTransition)
	}

	const query = `
		UPDATE delivery_records SET
			status              = $2,
			provider_message_id = $3,
			attempts            = $4,
			error               = $5,
			sent_at             = $6,
			updated_at          = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		rec.ID, string(rec.Status), rec.ProviderMessageID, rec.Attempts, rec.Error, rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish delivery %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetByID(ctx, rec.ID); err != nil {
		return err
	}
	return fmt.Errorf("postgres: finish delivery %s: %w", rec.ID, domain.ErrInvalidTransition)
}

// GetByID retrieves a delivery record by its primary key.
func (s *DeliveryStore) GetByID(ctx context.Context, id string) (domain.DeliveryRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryCols+` FROM delivery_records WHERE id = $1`, id)
	rec, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DeliveryRecord{}, domain.ErrNotFound
		}
		return domain.DeliveryRecord{}, fmt.Errorf("postgres: get delivery %s: %w", id, err)
	}
	return rec, nil
}

// ListByUser returns a user's delivery records, newest first.
func (s *DeliveryStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.DeliveryRecord, error) {
	query, args := withListOpts(
		`SELECT `+deliveryCols+` FROM delivery_records WHERE user_id = $1`,
		[]any{userID}, opts)

	return s.query(ctx, "list deliveries for "+userID, query, args...)
}

// ListBefore returns every record created before the cutoff, oldest first.
// The archiver uses it to export old rows.
func (s *DeliveryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.DeliveryRecord, error) {
	return s.query(ctx, "list deliveries before cutoff",
		`SELECT `+deliveryCols+` FROM delivery_records WHERE created_at < $1 ORDER BY created_at`, before)
}

func (s *DeliveryStore) query(ctx context.Context, op, query string, args ...any) ([]domain.DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan delivery: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanDelivery(row pgx.Row) (domain.DeliveryRecord, error) {
	var (
		rec                domain.DeliveryRecord
		channel, statusStr string
	)
	err := row.Scan(
		&rec.ID, &rec.NotificationID, &rec.UserID, &channel, &rec.Recipient,
		&statusStr, &rec.Provider, &rec.ProviderMessageID, &rec.Attempts,
		&rec.Error, &rec.CreatedAt, &rec.SentAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	rec.Channel = domain.Channel(channel)
	rec.Status = domain.DeliveryStatus(statusStr)
	return rec, nil
}
