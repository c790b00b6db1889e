package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferenceAllows(t *testing.T) {
	base := Preference{
		UserID:       "u1",
		Email:        "parent@example.com",
		Phone:        "+15551234567",
		EmailEnabled: true,
		SMSEnabled:   true,
	}

	tests := []struct {
		name    string
		mutate  func(p *Preference)
		channel Channel
		typ     NotificationType
		ok      bool
		reason  string
	}{
		{name: "email allowed", channel: ChannelEmail, typ: NotificationExpense, ok: true},
		{name: "sms allowed", channel: ChannelSMS, typ: NotificationEventReminder, ok: true},
		{
			name:    "email disabled",
			mutate:  func(p *Preference) { p.EmailEnabled = false },
			channel: ChannelEmail, typ: NotificationExpense, reason: "email disabled",
		},
		{
			name:    "sms disabled",
			mutate:  func(p *Preference) { p.SMSEnabled = false },
			channel: ChannelSMS, typ: NotificationExpense, reason: "sms disabled",
		},
		{
			name:    "missing phone",
			mutate:  func(p *Preference) { p.Phone = "" },
			channel: ChannelSMS, typ: NotificationMessage, reason: "no sms address",
		},
		{
			name:    "muted type",
			mutate:  func(p *Preference) { p.MutedTypes = []NotificationType{NotificationMessage} },
			channel: ChannelEmail, typ: NotificationMessage, reason: "message muted",
		},
		{name: "unknown channel", channel: Channel("push"), typ: NotificationMessage, reason: "unknown channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			ok, reason := p.Allows(tt.channel, tt.typ)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestDeliveryStatusTransitions(t *testing.T) {
	assert.True(t, DeliveryPending.CanTransition(DeliverySent))
	assert.True(t, DeliveryPending.CanTransition(DeliveryFailed))
	assert.False(t, DeliveryPending.CanTransition(DeliveryPending))
	assert.False(t, DeliverySent.CanTransition(DeliveryFailed))
	assert.False(t, DeliveryFailed.CanTransition(DeliverySent))
}

func TestParseSubscriptionStatus(t *testing.T) {
	cases := map[string]SubscriptionStatus{
		"active":             SubscriptionActive,
		"trialing":           SubscriptionTrialing,
		"unpaid":             SubscriptionPastDue,
		"incomplete_expired": SubscriptionCanceled,
	}
	for in, want := range cases {
		got, ok := ParseSubscriptionStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseSubscriptionStatus("paused")
	assert.False(t, ok)
}

func TestCanceledIsTerminal(t *testing.T) {
	assert.False(t, SubscriptionCanceled.CanTransition(SubscriptionActive))
	assert.True(t, SubscriptionCanceled.CanTransition(SubscriptionCanceled))
	assert.True(t, SubscriptionPastDue.CanTransition(SubscriptionActive))
}

func TestToneNeedsReview(t *testing.T) {
	assert.True(t, ToneResult{Tone: ToneHostile}.NeedsReview())
	assert.True(t, ToneResult{Tone: ToneTense}.NeedsReview())
	assert.False(t, ToneResult{Tone: ToneNeutral}.NeedsReview())
	assert.False(t, ToneResult{Tone: ToneFriendly}.NeedsReview())
}
