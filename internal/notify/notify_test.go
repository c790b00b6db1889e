package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coparent/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	old := sleepHook
	sleepHook = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { sleepHook = old })
	return &slept
}

// flakySender fails the first n calls.
type flakySender struct {
	failures int
	err      error
	calls    int
}

func (f *flakySender) Channel() domain.Channel { return domain.ChannelEmail }
func (f *flakySender) Provider() string        { return "flaky" }
func (f *flakySender) Deliver(context.Context, Message) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "msg-1", nil
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	slept := noSleep(t)
	s := &flakySender{failures: 2, err: errors.New("timeout")}

	out, err := NewRetrier(3, 100*time.Millisecond, discardLogger()).Deliver(context.Background(), s, Message{To: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", out.ProviderMessageID)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestRetrierGivesUpAfterMaxAttempts(t *testing.T) {
	noSleep(t)
	s := &flakySender{failures: 10, err: errors.New("503")}

	out, err := NewRetrier(3, time.Millisecond, discardLogger()).Deliver(context.Background(), s, Message{})
	require.Error(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, s.calls)
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	slept := noSleep(t)
	s := &flakySender{failures: 10, err: Permanent(errors.New("bad address"))}

	out, err := NewRetrier(5, time.Millisecond, discardLogger()).Deliver(context.Background(), s, Message{})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, *slept)
}

func TestRetrierHonoursContext(t *testing.T) {
	old := sleepHook
	sleepHook = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	t.Cleanup(func() { sleepHook = old })

	s := &flakySender{failures: 10, err: errors.New("down")}
	out, err := NewRetrier(3, time.Second, discardLogger()).Deliver(context.Background(), s, Message{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, out.Attempts)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("x")))
}

func TestRegistry(t *testing.T) {
	email := NewConsoleEmailSender("", discardLogger())
	sms := NewMockSMSSender("CoParent", 0, discardLogger())
	r := NewRegistry(email, sms, nil)

	assert.Same(t, email, r[domain.ChannelEmail])
	assert.Same(t, sms, r[domain.ChannelSMS])
}

func TestMockSMSSender(t *testing.T) {
	s := NewMockSMSSender("CoParent", 0.5, discardLogger())

	_, err := s.Deliver(context.Background(), Message{To: "555-1234"})
	assert.True(t, IsPermanent(err))

	s.rand = func() float64 { return 0.9 }
	id, err := s.Deliver(context.Background(), Message{To: "+15551234567", Body: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sms-"))

	s.rand = func() float64 { return 0.1 }
	_, err = s.Deliver(context.Background(), Message{To: "+15551234567"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestMockSMSFailureRateClamped(t *testing.T) {
	assert.Equal(t, 1.0, NewMockSMSSender("", 7, discardLogger()).failureRate)
	assert.Equal(t, 0.0, NewMockSMSSender("", -1, discardLogger()).failureRate)
}

func TestSMSTextTruncates(t *testing.T) {
	got := smsText(Message{Subject: "S", Body: strings.Repeat("x", 600)})
	assert.Len(t, []rune(got), 459)
}

func TestConsoleEmailSender(t *testing.T) {
	id, err := NewConsoleEmailSender("[CoParent] ", discardLogger()).
		Deliver(context.Background(), Message{To: "a@example.com", Subject: "Hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "console-"))
}

func TestSendgridSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendgridSender(EmailConfig{APIKey: "SG.test", FromAddress: "no-reply@coparent.app", FromName: "CoParent", SubjectPrefix: "[CoParent] "})
	s.host = srv.URL

	id, err := s.Deliver(context.Background(), Message{
		To: "parent@example.com", Subject: "Reminder", Body: "Pickup at 5", Type: domain.NotificationEventReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, "sg-123", id)

	pers := got["personalizations"].([]any)[0].(map[string]any)
	assert.Equal(t, "[CoParent] Reminder", pers["subject"])
	assert.Equal(t, "parent@example.com", pers["to"].([]any)[0].(map[string]any)["email"])
}

func TestSendgridSenderClassifiesErrors(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad"}]}`))
	}))
	defer srv.Close()

	s := NewSendgridSender(EmailConfig{APIKey: "k", FromAddress: "a@b.c"})
	s.host = srv.URL

	_, err := s.Deliver(context.Background(), Message{To: "x@y.z"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	status = http.StatusServiceUnavailable
	_, err = s.Deliver(context.Background(), Message{To: "x@y.z"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}
func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventPaymentFailed}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventDeliveryFailed, "ignored", "m"))
	require.NoError(t, n.Notify(context.Background(), EventPaymentFailed, "Payment failed", "m"))
	assert.Equal(t, []string{"Payment failed"}, rec.titles)
}

func TestNotifierCooldown(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, discardLogger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventWebhookFailed, "t", "m"))
	require.NoError(t, n.Notify(ctx, EventWebhookFailed, "t", "m"))
	now = now.Add(2 * DefaultAlertCooldown)
	require.NoError(t, n.Notify(ctx, EventWebhookFailed, "t", "m"))
	assert.Len(t, rec.titles, 2)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), EventPaymentFailed, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, ok.titles, 1)
}

func TestTelegramSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["chat_id"])
		assert.Equal(t, "*Title*\nbody", body["text"])
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTelegramSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "0")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, "telegram", s.Name())
}
