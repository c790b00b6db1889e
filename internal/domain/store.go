package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// NotificationStore persists queued notifications.
type NotificationStore interface {
	// ScheduleWindow runs the scheduling stored procedure for [start, end)
	// and returns the number of notifications it inserted.
	ScheduleWindow(ctx context.Context, start, end time.Time) (int, error)
	Create(ctx context.Context, n Notification) error
	GetByID(ctx context.Context, id string) (Notification, error)
	// ClaimDue moves up to limit scheduled notifications with send_at <= now
	// into processing and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	UpdateStatus(ctx context.Context, id string, status NotificationStatus) error
}

// DeliveryStore persists delivery records.
type DeliveryStore interface {
	Create(ctx context.Context, rec DeliveryRecord) error
	// Finish moves a pending record into a final status. It returns
	// ErrInvalidTransition if the record is already final.
	Finish(ctx context.Context, rec DeliveryRecord) error
	GetByID(ctx context.Context, id string) (DeliveryRecord, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]DeliveryRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]DeliveryRecord, error)
}

// PreferenceStore persists per-user channel preferences.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (Preference, error)
	Upsert(ctx context.Context, p Preference) error
}

// SubscriptionStore persists billing subscriptions.
type SubscriptionStore interface {
	GetByUser(ctx context.Context, userID string) (Subscription, error)
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (Subscription, error)
	Upsert(ctx context.Context, s Subscription) error
}

// WebhookEventStore is the idempotency ledger for inbound provider events.
type WebhookEventStore interface {
	// Begin records the event. It returns claimed=false when the event was
	// already processed or ignored; a previously failed event is claimed
	// again with its attempt count incremented.
	Begin(ctx context.Context, evt WebhookEvent) (stored WebhookEvent, claimed bool, err error)
	Complete(ctx context.Context, id string, status WebhookEventStatus, errMsg string) error
	ListBefore(ctx context.Context, before time.Time) ([]WebhookEvent, error)
}

// MessageStore persists chat message moderation results.
type MessageStore interface {
	GetByID(ctx context.Context, id string) (ChatMessage, error)
	SetTone(ctx context.Context, messageID string, result ToneResult) error
}

// AuditEntry is a single audit log row. Subject is the user id or object
// key the event concerns.
type AuditEntry struct {
	ID        int64
	Event     string
	Subject   string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, e AuditEntry) error
	ListBySubject(ctx context.Context, subject string, opts ListOpts) ([]AuditEntry, error)
}
