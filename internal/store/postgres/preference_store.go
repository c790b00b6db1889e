package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// PreferenceStore implements domain.PreferenceStore using PostgreSQL.
type PreferenceStore struct {
	pool *pgxpool.Pool
}

// NewPreferenceStore creates a new PreferenceStore backed by the given pool.
func NewPreferenceStore(pool *pgxpool.Pool) *PreferenceStore {
	return &PreferenceStore{pool: pool}
}

// Get returns the preference row for a user.
func (s *PreferenceStore) Get(ctx context.Context, userID string) (domain.Preference, error) {
	const query = `
		SELECT user_id, email, phone, email_enabled, sms_enabled, muted_types, updated_at
		FROM notification_preferences WHERE user_id = $1`

	var (
		p     domain.Preference
		muted []string
	)
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Email, &p.Phone, &p.EmailEnabled, &p.SMSEnabled, &muted, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Preference{}, domain.ErrNotFound
		}
		return domain.Preference{}, fmt.Errorf("postgres: get preference %s: %w", userID, err)
	}
	p.MutedTypes = make([]domain.NotificationType, 0, len(muted))
	for _, m := range muted {
		p.MutedTypes = append(p.MutedTypes, domain.NotificationType(m))
	}
	return p, nil
}

// Upsert inserts or replaces a user's preferences.
func (s *PreferenceStore) Upsert(ctx context.Context, p domain.Preference) error {
	const query = `
		INSERT INTO notification_preferences (
			user_id, email, phone, email_enabled, sms_enabled, muted_types, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email         = EXCLUDED.email,
			phone         = EXCLUDED.phone,
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled   = EXCLUDED.sms_enabled,
			muted_types   = EXCLUDED.muted_types,
			updated_at    = NOW()`

	muted := make([]string, 0, len(p.MutedTypes))
	for _, m := range p.MutedTypes {
		muted = append(muted, string(m))
	}

	if _, err := s.pool.Exec(ctx, query,
		p.UserID, p.Email, p.Phone, p.EmailEnabled, p.SMSEnabled, muted,
	); err != nil {
		return fmt.Errorf("postgres: upsert preference %s: %w", p.UserID, err)
	}
	return nil
}
