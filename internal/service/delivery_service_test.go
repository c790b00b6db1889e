package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/notify"
)

type deliveryFixture struct {
	svc           *DeliveryService
	deliveries    *memDeliveries
	notifications *memNotifications
	email         *fakeSender
	sms           *fakeSender
	bus           *memBus
	alerts        *recordingAlerter
}

func newDeliveryFixture(t *testing.T, pref domain.Preference) *deliveryFixture {
	t.Helper()
	f := &deliveryFixture{
		deliveries:    newMemDeliveries(),
		notifications: newMemNotifications(),
		email:         &fakeSender{channel: domain.ChannelEmail},
		sms:           &fakeSender{channel: domain.ChannelSMS},
		bus:           newMemBus(),
		alerts:        &recordingAlerter{},
	}
	prefs := NewPreferenceService(newMemPreferences(pref), newMemPrefCache(), discardLogger())
	f.svc = NewDeliveryService(
		prefs,
		f.deliveries,
		f.notifications,
		notify.NewRegistry(f.email, f.sms),
		notify.NewRetrier(2, time.Millisecond, discardLogger()),
		f.bus,
		f.alerts,
		discardLogger(),
	)
	f.svc.now = fixedNow
	seq := 0
	f.svc.newID = func() string {
		seq++
		return fmt.Sprintf("d%d", seq)
	}
	return f
}

func bothEnabled(userID string) domain.Preference {
	return domain.Preference{
		UserID:       userID,
		Email:        userID + "@example.com",
		Phone:        "+15555550100",
		EmailEnabled: true,
		SMSEnabled:   true,
	}
}

func TestSendDeliversOnAllowedChannels(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))

	res, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1",
		Type:   domain.NotificationExpense,
		Title:  "New expense",
		Body:   "Soccer camp: $120",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.NotificationDispatched, res.Status)
	require.Len(t, res.Channels, 2)
	for _, cr := range res.Channels {
		assert.Equal(t, OutcomeSent, cr.Outcome, cr.Channel)
		assert.Equal(t, 1, cr.Attempts)
		rec, err := f.deliveries.GetByID(context.Background(), cr.DeliveryID)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliverySent, rec.Status)
		assert.NotNil(t, rec.SentAt)
		assert.Equal(t, "msg-"+string(cr.Channel), rec.ProviderMessageID)
	}

	require.Len(t, f.email.calls, 1)
	assert.Equal(t, "u1@example.com", f.email.calls[0].To)
	assert.Equal(t, "New expense", f.email.calls[0].Subject)

	// pending + final per channel
	assert.Equal(t, 4, f.bus.count(domain.DeliveryChannel("u1")))
	assert.Empty(t, f.alerts.events)
}

func TestSendSkipsDisallowedChannelsWithoutRecord(t *testing.T) {
	pref := bothEnabled("u1")
	pref.SMSEnabled = false
	f := newDeliveryFixture(t, pref)

	res, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", Type: domain.NotificationMessage, Title: "New message",
	})
	require.NoError(t, err)

	require.Len(t, res.Channels, 2)
	assert.Equal(t, OutcomeSent, res.Channels[0].Outcome)
	assert.Equal(t, OutcomeSkipped, res.Channels[1].Outcome)
	assert.Equal(t, "sms disabled", res.Channels[1].Reason)
	assert.Empty(t, res.Channels[1].DeliveryID)
	assert.Len(t, f.deliveries.recs, 1)
	assert.Empty(t, f.sms.calls)
}

func TestSendMutedTypeSkipsEverything(t *testing.T) {
	pref := bothEnabled("u1")
	pref.MutedTypes = []domain.NotificationType{domain.NotificationSupport}
	f := newDeliveryFixture(t, pref)

	res, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", Type: domain.NotificationSupport, Title: "Ticket updated",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.NotificationSkipped, res.Status)
	for _, cr := range res.Channels {
		assert.Equal(t, OutcomeSkipped, cr.Outcome)
		assert.Equal(t, "support muted", cr.Reason)
	}
	assert.Empty(t, f.deliveries.recs)
}

func TestSendPartialFailureIsData(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	f.sms.err = notify.Permanent(errors.New("invalid number"))

	res, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", Type: domain.NotificationEventReminder, Title: "Pickup at 5",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.NotificationDispatched, res.Status)
	sms := res.Channels[1]
	assert.Equal(t, OutcomeFailed, sms.Outcome)
	assert.Equal(t, 1, sms.Attempts, "permanent errors are not retried")
	assert.Contains(t, sms.Reason, "invalid number")

	rec, err := f.deliveries.GetByID(context.Background(), sms.DeliveryID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, rec.Status)
	assert.Nil(t, rec.SentAt)
	assert.Equal(t, []string{notify.EventDeliveryFailed}, f.alerts.events)
}

func TestSendRetriesTransientFailures(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	f.email.failures = 1

	res, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", Type: domain.NotificationExpense, Title: "Expense", Channels: []domain.Channel{domain.ChannelEmail},
	})
	require.NoError(t, err)

	require.Len(t, res.Channels, 1)
	assert.Equal(t, OutcomeSent, res.Channels[0].Outcome)
	assert.Equal(t, 2, res.Channels[0].Attempts)
}

func TestSendNotificationUpdatesStatus(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	f.email.err = errors.New("down")
	f.sms.err = errors.New("down")

	n := domain.Notification{
		ID: "n1", UserID: "u1", Type: domain.NotificationEventReminder,
		Title: "Upcoming: Dentist", SendAt: testNow, Status: domain.NotificationProcessing,
	}
	require.NoError(t, f.notifications.Create(context.Background(), n))

	res, err := f.svc.SendNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, res.Status)

	got, err := f.notifications.GetByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, got.Status)

	for _, cr := range res.Channels {
		rec, err := f.deliveries.GetByID(context.Background(), cr.DeliveryID)
		require.NoError(t, err)
		require.NotNil(t, rec.NotificationID)
		assert.Equal(t, "n1", *rec.NotificationID)
		assert.Equal(t, 2, rec.Attempts)
	}
}

func TestSendStoreFailureIsError(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	f.deliveries.createErr = errors.New("connection reset")

	_, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", Type: domain.NotificationExpense, Title: "Expense",
	})
	require.Error(t, err)
	assert.Empty(t, f.email.calls)
}

func TestSendValidation(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))

	cases := map[string]SendRequest{
		"missing user":    {Type: domain.NotificationExpense, Title: "x"},
		"unknown type":    {UserID: "u1", Type: "promo", Title: "x"},
		"blank title":     {UserID: "u1", Type: domain.NotificationExpense, Title: "  "},
		"unknown channel": {UserID: "u1", Type: domain.NotificationExpense, Title: "x", Channels: []domain.Channel{"push"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Send(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestSendMissingPreference(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))

	_, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "nobody", Type: domain.NotificationExpense, Title: "x",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSendWithoutProviderSkips(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	delete(f.svc.senders, domain.ChannelSMS)

	res, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", Type: domain.NotificationExpense, Title: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "no provider configured", res.Channels[1].Reason)
}

func TestListDeliveries(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	_, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", Type: domain.NotificationExpense, Title: "x",
	})
	require.NoError(t, err)

	recs, err := f.svc.ListDeliveries(context.Background(), "u1", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = f.svc.ListDeliveries(context.Background(), "", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSendRejectsUnknownNotification(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	missing := "n-missing"

	_, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", NotificationID: &missing, Type: domain.NotificationExpense, Title: "x",
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.email.calls)
	assert.Empty(t, f.sms.calls)
}

func TestSendRejectsOtherUsersNotification(t *testing.T) {
	f := newDeliveryFixture(t, bothEnabled("u1"))
	require.NoError(t, f.notifications.Create(context.Background(), domain.Notification{
		ID: "n2", UserID: "u2", Type: domain.NotificationExpense, Title: "x", Status: domain.NotificationScheduled,
	}))
	id := "n2"

	_, err := f.svc.Send(context.Background(), SendRequest{
		UserID: "u1", NotificationID: &id, Type: domain.NotificationExpense, Title: "x",
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
