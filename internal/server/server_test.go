package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/server/handler"
	"github.com/alanyoungcy/coparent/internal/service"
	"github.com/alanyoungcy/coparent/internal/tone"
)

type nopScheduler struct{}

func (nopScheduler) DefaultWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	return now, now.Add(time.Minute)
}
func (nopScheduler) ScheduleWindow(context.Context, time.Time, time.Time) (int, error) { return 0, nil }

type nopDelivery struct{}

func (nopDelivery) Send(context.Context, service.SendRequest) (service.SendResult, error) {
	return service.SendResult{}, nil
}
func (nopDelivery) ListDeliveries(context.Context, string, domain.ListOpts) ([]domain.DeliveryRecord, error) {
	return nil, nil
}

type nopBilling struct{}

func (nopBilling) ProcessWebhook(context.Context, []byte, string) (service.WebhookResult, error) {
	return service.WebhookResult{Status: domain.WebhookIgnored}, nil
}
func (nopBilling) GetSubscription(context.Context, string) (domain.Subscription, error) {
	return domain.Subscription{}, domain.ErrNotFound
}
func (nopBilling) BillingHistory(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return []domain.AuditEntry{}, nil
}

type nopPrefs struct{}

func (nopPrefs) Get(context.Context, string) (domain.Preference, error) {
	return domain.Preference{}, domain.ErrNotFound
}
func (nopPrefs) Update(_ context.Context, p domain.Preference) (domain.Preference, error) {
	return p, nil
}

type denyAfter struct{ n int }

func (d *denyAfter) Allow(context.Context, string, int, time.Duration) (domain.RateDecision, error) {
	d.n--
	return domain.RateDecision{Allowed: d.n >= 0}, nil
}

func testRoutes(limiter domain.RateLimiter) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := handler.NewValidator()
	billing := nopBilling{}
	return Routes(Config{ServiceKey: "svc", RateLimit: 5, RateLimitWindow: time.Minute}, Handlers{
		Health:        handler.NewHealthHandler(nil, logger),
		Status:        handler.NewStatusHandler("api", "test", time.Now()),
		Notifications: handler.NewNotificationHandler(nopScheduler{}, nopDelivery{}, v, logger),
		Webhooks:      handler.NewWebhookHandler(billing, logger),
		Subscriptions: handler.NewSubscriptionHandler(billing, logger),
		Tone:          handler.NewToneHandler(service.NewModerationService(tone.NewKeywordAnalyzer(), nil, nil, logger), logger),
		Preferences:   handler.NewPreferenceHandler(nopPrefs{}, v, logger),
	}, limiter, nil, logger)
}

func TestRoutesAuth(t *testing.T) {
	h := testRoutes(&denyAfter{n: 100})

	cases := []struct {
		method, path, body string
		key                string
		want               int
	}{
		{http.MethodGet, "/api/health", "", "", http.StatusOK},
		{http.MethodGet, "/api/status", "", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/status", "", "svc", http.StatusOK},
		{http.MethodPost, "/api/notifications/schedule", "", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/notifications/schedule", "", "svc", http.StatusOK},
		{http.MethodGet, "/api/notifications/deliveries?user_id=u1", "", "svc", http.StatusOK},
		{http.MethodGet, "/api/preferences/u1", "", "svc", http.StatusNotFound},
		{http.MethodGet, "/api/subscriptions/u1", "", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/subscriptions/u1/history", "", "svc", http.StatusOK},
		{http.MethodPost, "/api/webhooks/payments", `{}`, "", http.StatusOK},
		{http.MethodPost, "/api/tone/analyze", `{"text":"hi"}`, "", http.StatusOK},
		{http.MethodGet, "/api/tone/analyze", "", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			if tc.key != "" {
				req.Header.Set("Authorization", "Bearer "+tc.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRoutesToneRateLimited(t *testing.T) {
	h := testRoutes(&denyAfter{n: 1})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/tone/analyze", strings.NewReader(`{"text":"hi"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
