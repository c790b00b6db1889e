package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/notify"
)

// Provider event types handled by BillingService.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoiceSucceeded    = "invoice.payment_succeeded"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Verifier checks a webhook signature header. *crypto.WebhookSigner
// satisfies it.
type Verifier interface {
	Verify(payload []byte, header string) error
}

// WebhookResult is returned to the provider after processing an event.
type WebhookResult struct {
	EventID string                    `json:"event_id"`
	Type    string                    `json:"type"`
	Status  domain.WebhookEventStatus `json:"status"`
	Deduped bool                      `json:"deduped"`
	Reason  string                    `json:"reason,omitempty"`
}

// webhookEnvelope is the provider's event wrapper.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type providerSubscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				LookupKey string `json:"lookup_key"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p providerSubscription) plan() string {
	if len(p.Items.Data) == 0 {
		return ""
	}
	price := p.Items.Data[0].Price
	if price.LookupKey != "" {
		return price.LookupKey
	}
	return price.ID
}

type providerInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Lines        struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv providerInvoice) periodEnd() *time.Time {
	for _, l := range inv.Lines.Data {
		if l.Period.End > 0 {
			t := time.Unix(l.Period.End, 0).UTC()
			return &t
		}
	}
	return nil
}

// outcome is what a type handler decided.
type outcome struct {
	status domain.WebhookEventStatus
	reason string
	sub    *domain.Subscription
}

func ignored(reason string) outcome {
	return outcome{status: domain.WebhookIgnored, reason: reason}
}

// BillingService applies payment provider webhooks to subscriptions.
type BillingService struct {
	verifier      Verifier
	events        domain.WebhookEventStore
	subs          domain.SubscriptionStore
	notifications domain.NotificationStore
	audit         domain.AuditStore
	bus           domain.SignalBus
	alerts        Alerter
	logger        *slog.Logger
	now           func() time.Time
}

// NewBillingService creates a BillingService. bus, alerts and audit may be
// nil.
func NewBillingService(
	verifier Verifier,
	events domain.WebhookEventStore,
	subs domain.SubscriptionStore,
	notifications domain.NotificationStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	alerts Alerter,
	logger *slog.Logger,
) *BillingService {
	return &BillingService{
		verifier:      verifier,
		events:        events,
		subs:          subs,
		notifications: notifications,
		audit:         audit,
		bus:           bus,
		alerts:        alerts,
		logger:        logger.With(slog.String("component", "billing_service")),
		now:           time.Now,
	}
}

// GetSubscription returns the subscription for userID.
func (s *BillingService) GetSubscription(ctx context.Context, userID string) (domain.Subscription, error) {
	if userID == "" {
		return domain.Subscription{}, fmt.Errorf("billing_service: %w: user_id is required", domain.ErrInvalidInput)
	}
	sub, err := s.subs.GetByUser(ctx, userID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("billing_service: get subscription %s: %w", userID, err)
	}
	return sub, nil
}

// BillingHistory returns the audit trail of billing events applied to
// userID, newest first. An unset audit store yields an empty history.
func (s *BillingService) BillingHistory(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("billing_service: %w: user_id is required", domain.ErrInvalidInput)
	}
	if s.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	entries, err := s.audit.ListBySubject(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("billing_service: history %s: %w", userID, err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return entries, nil
}

// ProcessWebhook verifies, records and applies one provider event. A
// non-nil error means the provider should retry.
func (s *BillingService) ProcessWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if err := s.verifier.Verify(payload, signature); err != nil {
		return WebhookResult{}, fmt.Errorf("billing_service: verify: %w", err)
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return WebhookResult{}, fmt.Errorf("billing_service: %w: decode event: %v", domain.ErrInvalidInput, err)
	}
	if env.ID == "" || env.Type == "" {
		return WebhookResult{}, fmt.Errorf("billing_service: %w: event id and type are required", domain.ErrInvalidInput)
	}

	stored, claimed, err := s.events.Begin(ctx, domain.WebhookEvent{
		ID:         env.ID,
		Type:       env.Type,
		Status:     domain.WebhookProcessing,
		Payload:    payload,
		ReceivedAt: s.now().UTC(),
	})
	if err != nil {
		return WebhookResult{}, fmt.Errorf("billing_service: record event %s: %w", env.ID, err)
	}
	res := WebhookResult{EventID: env.ID, Type: env.Type}
	if !claimed {
		res.Status = stored.Status
		res.Deduped = true
		s.logger.InfoContext(ctx, "billing_service: duplicate event",
			slog.String("event_id", env.ID),
			slog.String("status", string(stored.Status)),
		)
		return res, nil
	}

	out, handleErr := s.handle(ctx, env)
	if handleErr != nil {
		// Complete must run even when the request was cancelled so the
		// provider's retry can reclaim the event.
		if err := s.events.Complete(context.WithoutCancel(ctx), env.ID, domain.WebhookFailed, handleErr.Error()); err != nil {
			s.logger.ErrorContext(ctx, "billing_service: mark event failed",
				slog.String("event_id", env.ID),
				slog.String("error", err.Error()),
			)
		}
		alert(ctx, s.alerts, s.logger, notify.EventWebhookFailed,
			"Payment webhook failed",
			fmt.Sprintf("%s (%s): %v", env.ID, env.Type, handleErr))
		res.Status = domain.WebhookFailed
		res.Reason = handleErr.Error()
		return res, fmt.Errorf("billing_service: handle %s: %w", env.Type, handleErr)
	}

	if err := s.events.Complete(ctx, env.ID, out.status, out.reason); err != nil {
		return WebhookResult{}, fmt.Errorf("billing_service: complete event %s: %w", env.ID, err)
	}

	res.Status = out.status
	res.Reason = out.reason

	if out.sub != nil {
		s.record(ctx, env, *out.sub)
	}

	s.logger.InfoContext(ctx, "billing_service: event processed",
		slog.String("event_id", env.ID),
		slog.String("type", env.Type),
		slog.String("status", string(out.status)),
		slog.String("reason", out.reason),
	)
	return res, nil
}

func (s *BillingService) handle(ctx context.Context, env webhookEnvelope) (outcome, error) {
	at := time.Unix(env.Created, 0).UTC()

	switch env.Type {
	case EventCheckoutCompleted:
		var cs checkoutSession
		if err := json.Unmarshal(env.Data.Object, &cs); err != nil {
			return outcome{}, fmt.Errorf("decode checkout session: %w", err)
		}
		return s.onCheckout(ctx, cs, at)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var ps providerSubscription
		if err := json.Unmarshal(env.Data.Object, &ps); err != nil {
			return outcome{}, fmt.Errorf("decode subscription: %w", err)
		}
		return s.onSubscription(ctx, env.Type, ps, at)

	case EventInvoiceSucceeded, EventInvoicePaid, EventInvoiceFailed:
		var inv providerInvoice
		if err := json.Unmarshal(env.Data.Object, &inv); err != nil {
			return outcome{}, fmt.Errorf("decode invoice: %w", err)
		}
		return s.onInvoice(ctx, env, inv, at)
	}

	return ignored("unhandled event type"), nil
}

func (s *BillingService) onCheckout(ctx context.Context, cs checkoutSession, at time.Time) (outcome, error) {
	if cs.ClientReferenceID == "" {
		return ignored("checkout has no client_reference_id"), nil
	}

	sub, found, err := s.lookupByUser(ctx, cs.ClientReferenceID)
	if err != nil {
		return outcome{}, err
	}
	if found && at.Before(sub.LastEventAt) {
		return ignored("stale event"), nil
	}

	sub.UserID = cs.ClientReferenceID
	sub.CustomerID = cs.Customer
	sub.ProviderSubscriptionID = cs.Subscription
	if plan := cs.Metadata["plan"]; plan != "" {
		sub.Plan = plan
	}
	sub.Status = domain.SubscriptionActive
	sub.CancelAtPeriodEnd = false
	sub.LastEventAt = at
	return s.save(ctx, sub)
}

func (s *BillingService) onSubscription(ctx context.Context, typ string, ps providerSubscription, at time.Time) (outcome, error) {
	sub, found, err := s.lookupByProvider(ctx, ps.ID)
	if err != nil {
		return outcome{}, err
	}
	if !found {
		userID := ps.Metadata["user_id"]
		if userID == "" {
			return ignored("unknown subscription"), nil
		}
		if sub, found, err = s.lookupByUser(ctx, userID); err != nil {
			return outcome{}, err
		}
		sub.UserID = userID
		sub.ProviderSubscriptionID = ps.ID
	}
	if found && at.Before(sub.LastEventAt) {
		return ignored("stale event"), nil
	}

	next := domain.SubscriptionCanceled
	if typ != EventSubscriptionDeleted {
		var ok bool
		if next, ok = domain.ParseSubscriptionStatus(ps.Status); !ok {
			return ignored(fmt.Sprintf("unknown subscription status %q", ps.Status)), nil
		}
	}
	if found && !sub.Status.CanTransition(next) {
		return ignored(fmt.Sprintf("illegal transition %s -> %s", sub.Status, next)), nil
	}

	if ps.Customer != "" {
		sub.CustomerID = ps.Customer
	}
	if plan := ps.plan(); plan != "" {
		sub.Plan = plan
	}
	if ps.CurrentPeriodEnd > 0 {
		end := time.Unix(ps.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}
	sub.CancelAtPeriodEnd = ps.CancelAtPeriodEnd
	sub.Status = next
	sub.LastEventAt = at
	return s.save(ctx, sub)
}

func (s *BillingService) onInvoice(ctx context.Context, env webhookEnvelope, inv providerInvoice, at time.Time) (outcome, error) {
	if inv.Subscription == "" {
		return ignored("invoice has no subscription"), nil
	}
	sub, found, err := s.lookupByProvider(ctx, inv.Subscription)
	if err != nil {
		return outcome{}, err
	}
	if !found {
		return ignored("unknown subscription"), nil
	}
	if at.Before(sub.LastEventAt) {
		return ignored("stale event"), nil
	}

	next := domain.SubscriptionActive
	if env.Type == EventInvoiceFailed {
		next = domain.SubscriptionPastDue
	}
	if !sub.Status.CanTransition(next) {
		return ignored(fmt.Sprintf("illegal transition %s -> %s", sub.Status, next)), nil
	}

	if end := inv.periodEnd(); end != nil && next == domain.SubscriptionActive {
		sub.CurrentPeriodEnd = end
	}
	sub.Status = next
	sub.LastEventAt = at

	out, err := s.save(ctx, sub)
	if err != nil {
		return outcome{}, err
	}
	if next == domain.SubscriptionPastDue {
		if err := s.queuePaymentFailed(ctx, env.ID, sub, inv); err != nil {
			return outcome{}, err
		}
	}
	return out, nil
}

// queuePaymentFailed enqueues a billing notification for the dispatcher and
// alerts operators.
func (s *BillingService) queuePaymentFailed(ctx context.Context, eventID string, sub domain.Subscription, inv providerInvoice) error {
	now := s.now().UTC()
	n := domain.Notification{
		ID:     uuid.NewString(),
		UserID: sub.UserID,
		Type:   domain.NotificationBilling,
		Title:  "Payment failed",
		Body:   "We could not process your latest subscription payment. Please update your payment method to keep your plan active.",
		SendAt: now,
		Status: domain.NotificationScheduled,
	}
	if err := s.notifications.Create(ctx, n); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("queue payment notification: %w", err)
	}

	alert(ctx, s.alerts, s.logger, notify.EventPaymentFailed,
		"Payment failed",
		fmt.Sprintf("user %s subscription %s invoice %s (%d %s), event %s",
			sub.UserID, sub.ProviderSubscriptionID, inv.ID, inv.AmountDue, inv.Currency, eventID))
	return nil
}

func (s *BillingService) save(ctx context.Context, sub domain.Subscription) (outcome, error) {
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return outcome{}, fmt.Errorf("upsert subscription: %w", err)
	}
	return outcome{status: domain.WebhookProcessed, sub: &sub}, nil
}

func (s *BillingService) lookupByUser(ctx context.Context, userID string) (domain.Subscription, bool, error) {
	sub, err := s.subs.GetByUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Subscription{}, false, nil
	}
	if err != nil {
		return domain.Subscription{}, false, fmt.Errorf("get subscription for user %s: %w", userID, err)
	}
	return sub, true, nil
}

func (s *BillingService) lookupByProvider(ctx context.Context, providerID string) (domain.Subscription, bool, error) {
	if providerID == "" {
		return domain.Subscription{}, false, nil
	}
	sub, err := s.subs.GetByProviderID(ctx, providerID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Subscription{}, false, nil
	}
	if err != nil {
		return domain.Subscription{}, false, fmt.Errorf("get subscription %s: %w", providerID, err)
	}
	return sub, true, nil
}

// record writes the audit entry and publishes the billing update. Both are
// best effort once the subscription row is saved.
func (s *BillingService) record(ctx context.Context, env webhookEnvelope, sub domain.Subscription) {
	if s.audit != nil {
		err := s.audit.Append(ctx, domain.AuditEntry{
			Event:   "billing." + env.Type,
			Subject: sub.UserID,
			Detail: map[string]any{
				"event_id":        env.ID,
				"subscription_id": sub.ProviderSubscriptionID,
				"status":          string(sub.Status),
			},
		})
		if err != nil {
			s.logger.WarnContext(ctx, "billing_service: audit log failed",
				slog.String("event_id", env.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	publishJSON(ctx, s.bus, domain.ChannelBilling, domain.BillingUpdate{
		UserID:  sub.UserID,
		EventID: env.ID,
		Type:    env.Type,
		Status:  sub.Status,
		At:      s.now().UTC(),
	}, s.logger)
}
