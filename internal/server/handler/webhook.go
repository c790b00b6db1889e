package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/service"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

// maxWebhookBytes caps provider payloads.
const maxWebhookBytes = 512 << 10

// BillingService defines what the webhook and subscription handlers need.
type BillingService interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (service.WebhookResult, error)
	GetSubscription(ctx context.Context, userID string) (domain.Subscription, error)
	BillingHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// WebhookHandler receives payment provider events.
type WebhookHandler struct {
	billing BillingService
	logger  *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(billing BillingService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{billing: billing, logger: logHandler(logger, "webhook")}
}

// Payments processes one provider event. The signature header is the only
// authentication. A 5xx response asks the provider to retry.
// POST /api/webhooks/payments
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	res, err := h.billing.ProcessWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			h.logger.WarnContext(r.Context(), "handler: webhook signature rejected",
				slog.String("error", err.Error()),
			)
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: webhook processing failed",
				slog.String("event_id", res.EventID),
				slog.String("error", err.Error()),
			)
			writeJSON(w, status, res)
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// SubscriptionHandler serves subscription lookups.
type SubscriptionHandler struct {
	billing BillingService
	logger  *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(billing BillingService, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{billing: billing, logger: logHandler(logger, "subscription")}
}

// Get returns a user's subscription.
// GET /api/subscriptions/{user_id}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.billing.GetSubscription(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// History returns the billing events applied to a user.
// GET /api/subscriptions/{user_id}/history
func (h *SubscriptionHandler) History(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.billing.BillingHistory(r.Context(), r.PathValue("user_id"), opts)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
