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

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore backed by the given
// connection pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

const notificationCols = `id, user_id, type, title, body, event_id, send_at, status, created_at, updated_at`

// ScheduleWindow calls schedule_event_notifications for [start, end) and
// returns how many notifications the procedure inserted.
func (s *NotificationStore) ScheduleWindow(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT schedule_event_notifications($1, $2)`, start, end,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: schedule window %s..%s: %w",
			start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	return n, nil
}

// Create inserts a notification. A duplicate id returns ErrAlreadyExists.
func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) error {
	const query = `
		INSERT INTO notifications (id, user_id, type, title, body, event_id, send_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, n.EventID, n.SendAt, string(n.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create notification %s: %w", n.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// GetByID retrieves a notification by its primary key.
func (s *NotificationStore) GetByID(ctx context.Context, id string) (domain.Notification, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Notification{}, domain.ErrNotFound
		}
		return domain.Notification{}, fmt.Errorf("postgres: get notification %s: %w", id, err)
	}
	return n, nil
}

// ClaimDue atomically moves up to limit due scheduled notifications into
// processing. Concurrent workers skip rows another worker has locked.
func (s *NotificationStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	query := `
		UPDATE notifications SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'scheduled' AND send_at <= $1
			ORDER BY send_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationCols

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan claimed notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: claim due notifications rows: %w", err)
	}
	return out, nil
}

// UpdateStatus sets the status of a notification.
func (s *NotificationStore) UpdateStatus(ctx context.Context, id string, status domain.NotificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: update notification %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n              domain.Notification
		typ, statusStr string
	)
	err := row.Scan(
		&n.ID, &n.UserID, &typ, &n.Title, &n.Body, &n.EventID,
		&n.SendAt, &statusStr, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return domain.Notification{}, err
	}
	n.Type = domain.NotificationType(typ)
	n.Status = domain.NotificationStatus(statusStr)
	return n, nil
}
