package domain

import "time"

// SubscriptionStatus mirrors the payment provider's subscription states.
type SubscriptionStatus string

const (
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
)

// ParseSubscriptionStatus maps a provider status string onto our states.
// Provider states we do not model collapse onto the closest one.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, bool) {
	switch s {
	case "incomplete":
		return SubscriptionIncomplete, true
	case "trialing":
		return SubscriptionTrialing, true
	case "active":
		return SubscriptionActive, true
	case "past_due", "unpaid":
		return SubscriptionPastDue, true
	case "canceled", "incomplete_expired":
		return SubscriptionCanceled, true
	}
	return "", false
}

// Subscription is a user's billing subscription row.
type Subscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"user_id"`
	CustomerID             string             `json:"customer_id"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	Plan                   string             `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	LastEventAt            time.Time          `json:"last_event_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// CanTransition reports whether the subscription may move to next via a
// non-checkout event. Canceled is terminal; only a fresh checkout revives it.
func (s SubscriptionStatus) CanTransition(next SubscriptionStatus) bool {
	if s == SubscriptionCanceled {
		return next == SubscriptionCanceled
	}
	return true
}

// WebhookEventStatus tracks processing of one inbound provider event.
type WebhookEventStatus string

const (
	WebhookProcessing WebhookEventStatus = "processing"
	WebhookProcessed  WebhookEventStatus = "processed"
	WebhookIgnored    WebhookEventStatus = "ignored"
	WebhookFailed     WebhookEventStatus = "failed"
)

// Done reports whether the event needs no further processing.
func (s WebhookEventStatus) Done() bool {
	return s == WebhookProcessed || s == WebhookIgnored
}

// WebhookEvent is the idempotency ledger row for a provider event id.
type WebhookEvent struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Status      WebhookEventStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	Error       string             `json:"error,omitempty"`
	Payload     []byte             `json:"-"`
	ReceivedAt  time.Time          `json:"received_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
}

// BillingUpdate is published on the signal bus after a subscription changes.
type BillingUpdate struct {
	UserID  string             `json:"user_id"`
	EventID string             `json:"event_id"`
	Type    string             `json:"type"`
	Status  SubscriptionStatus `json:"status"`
	At      time.Time          `json:"at"`
}
