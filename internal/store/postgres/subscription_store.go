package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// SubscriptionStore implements domain.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore creates a new SubscriptionStore backed by the pool.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const subscriptionCols = `id, user_id, customer_id, provider_subscription_id, plan, status,
	current_period_end, cancel_at_period_end, last_event_at, updated_at`

// GetByUser returns the subscription owned by userID.
func (s *SubscriptionStore) GetByUser(ctx context.Context, userID string) (domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE user_id = $1`, userID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, domain.ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("postgres: get subscription for user %s: %w", userID, err)
	}
	return sub, nil
}

// GetByProviderID looks a subscription up by the provider's subscription id.
func (s *SubscriptionStore) GetByProviderID(ctx context.Context, providerSubscriptionID string) (domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE provider_subscription_id = $1`,
		providerSubscriptionID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, domain.ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("postgres: get subscription %s: %w", providerSubscriptionID, err)
	}
	return sub, nil
}

// Upsert inserts or updates the subscription keyed by user_id.
func (s *SubscriptionStore) Upsert(ctx context.Context, sub domain.Subscription) error {
	const query = `
		INSERT INTO subscriptions (
			id, user_id, customer_id, provider_subscription_id, plan, status,
			current_period_end, cancel_at_period_end, last_event_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			customer_id              = EXCLUDED.customer_id,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			plan                     = EXCLUDED.plan,
			status                   = EXCLUDED.status,
			current_period_end       = EXCLUDED.current_period_end,
			cancel_at_period_end     = EXCLUDED.cancel_at_period_end,
			last_event_at            = EXCLUDED.last_event_at,
			updated_at               = NOW()`

	_, err := s.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.CustomerID, sub.ProviderSubscriptionID, sub.Plan,
		string(sub.Status), sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.LastEventAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert subscription for user %s: %w", sub.UserID, err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var (
		sub       domain.Subscription
		statusStr string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.CustomerID, &sub.ProviderSubscriptionID, &sub.Plan,
		&statusStr, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.LastEventAt, &sub.UpdatedAt,
	)
	if err != nil {
		return domain.Subscription{}, err
	}
	sub.Status = domain.SubscriptionStatus(statusStr)
	return sub, nil
}
