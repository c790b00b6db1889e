package domain

import "time"

// Channel is a delivery channel for user-facing notifications.
type Channel string

// MaxScheduleWindow is the widest window one scheduling run may cover.
const MaxScheduleWindow = 7 * 24 * time.Hour

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// AllChannels lists every channel in the order they are attempted.
var AllChannels = []Channel{ChannelEmail, ChannelSMS}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// NotificationType categorises a notification so users can mute whole classes.
type NotificationType string

const (
	NotificationEventReminder NotificationType = "event_reminder"
	NotificationExpense       NotificationType = "expense"
	NotificationMessage       NotificationType = "message"
	NotificationBilling       NotificationType = "billing"
	NotificationSupport       NotificationType = "support"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationEventReminder, NotificationExpense, NotificationMessage,
		NotificationBilling, NotificationSupport:
		return true
	}
	return false
}

// NotificationStatus tracks a notification through the dispatcher.
type NotificationStatus string

const (
	NotificationScheduled  NotificationStatus = "scheduled"
	NotificationProcessing NotificationStatus = "processing"
	NotificationDispatched NotificationStatus = "dispatched"
	NotificationFailed     NotificationStatus = "failed"
	NotificationSkipped    NotificationStatus = "skipped"
)

// Notification is a message queued for one user, either created by the
// scheduler's stored procedure or enqueued directly by a service.
type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Type      NotificationType   `json:"type"`
	Title     string             `json:"title"`
	Body      string             `json:"body"`
	EventID   *string            `json:"event_id,omitempty"`
	SendAt    time.Time          `json:"send_at"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// DeliveryStatus is the lifecycle of a single send attempt on one channel.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Final reports whether s is a terminal delivery status.
func (s DeliveryStatus) Final() bool {
	return s == DeliverySent || s == DeliveryFailed
}

// CanTransition reports whether a record may move from s to next. Records
// only move out of pending, and only into a final state.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	return s == DeliveryPending && next.Final()
}

// DeliveryRecord is the persisted row tracking one notification send on one
// channel.
type DeliveryRecord struct {
	ID                string         `json:"id"`
	NotificationID    *string        `json:"notification_id,omitempty"`
	UserID            string         `json:"user_id"`
	Channel           Channel        `json:"channel"`
	Recipient         string         `json:"recipient"`
	Status            DeliveryStatus `json:"status"`
	Provider          string         `json:"provider"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Attempts          int            `json:"attempts"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Preference holds a user's channel addresses and opt-ins.
type Preference struct {
	UserID       string             `json:"user_id"`
	Email        string             `json:"email"`
	Phone        string             `json:"phone"`
	EmailEnabled bool               `json:"email_enabled"`
	SMSEnabled   bool               `json:"sms_enabled"`
	MutedTypes   []NotificationType `json:"muted_types"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Recipient returns the address for the channel, or "" when none is set.
func (p Preference) Recipient(c Channel) string {
	switch c {
	case ChannelEmail:
		return p.Email
	case ChannelSMS:
		return p.Phone
	}
	return ""
}

// Allows reports whether a notification of type t may be delivered on
// channel c. When it may not, reason explains why.
func (p Preference) Allows(c Channel, t NotificationType) (ok bool, reason string) {
	switch c {
	case ChannelEmail:
		if !p.EmailEnabled {
			return false, "email disabled"
		}
	case ChannelSMS:
		if !p.SMSEnabled {
			return false, "sms disabled"
		}
	default:
		return false, "unknown channel"
	}
	if p.Recipient(c) == "" {
		return false, "no " + string(c) + " address"
	}
	for _, m := range p.MutedTypes {
		if m == t {
			return false, string(t) + " muted"
		}
	}
	return true, ""
}

// CalendarEvent is a shared family calendar entry that may trigger reminders.
type CalendarEvent struct {
	ID              string
	FamilyID        string
	Title           string
	StartsAt        time.Time
	ReminderMinutes int
}

// DeliveryUpdate is published on the signal bus whenever a delivery record
// changes status.
type DeliveryUpdate struct {
	DeliveryID     string         `json:"delivery_id"`
	NotificationID *string        `json:"notification_id,omitempty"`
	UserID         string         `json:"user_id"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
	At             time.Time      `json:"at"`
}
