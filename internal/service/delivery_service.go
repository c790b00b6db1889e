package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/notify"
)

// Channel outcomes reported in a SendResult.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// SendRequest asks for a notification to be delivered to one user.
type SendRequest struct {
	UserID         string                  `json:"user_id"`
	NotificationID *string                 `json:"notification_id,omitempty"`
	Type           domain.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Body           string                  `json:"body"`
	// Channels limits delivery to these channels. Empty means all.
	Channels []domain.Channel `json:"channels,omitempty"`
}

// ChannelResult is the outcome on one channel.
type ChannelResult struct {
	Channel           domain.Channel `json:"channel"`
	Outcome           string         `json:"outcome"`
	DeliveryID        string         `json:"delivery_id,omitempty"`
	Provider          string         `json:"provider,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Attempts          int            `json:"attempts,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}

// SendResult lists every channel outcome. Status summarises them: failed
// when every attempted channel failed, skipped when none was attempted,
// dispatched otherwise.
type SendResult struct {
	NotificationID *string                   `json:"notification_id,omitempty"`
	UserID         string                    `json:"user_id"`
	Status         domain.NotificationStatus `json:"status"`
	Channels       []ChannelResult           `json:"channels"`
}

// DeliveryService sends notifications over the user's allowed channels and
// keeps a delivery record per attempt.
type DeliveryService struct {
	prefs         *PreferenceService
	deliveries    domain.DeliveryStore
	notifications domain.NotificationStore
	senders       notify.Registry
	retrier       *notify.Retrier
	bus           domain.SignalBus
	alerts        Alerter
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// NewDeliveryService creates a DeliveryService. bus and alerts may be nil.
func NewDeliveryService(
	prefs *PreferenceService,
	deliveries domain.DeliveryStore,
	notifications domain.NotificationStore,
	senders notify.Registry,
	retrier *notify.Retrier,
	bus domain.SignalBus,
	alerts Alerter,
	logger *slog.Logger,
) *DeliveryService {
	return &DeliveryService{
		prefs:         prefs,
		deliveries:    deliveries,
		notifications: notifications,
		senders:       senders,
		retrier:       retrier,
		bus:           bus,
		alerts:        alerts,
		logger:        logger.With(slog.String("component", "delivery_service")),
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Send delivers req. Provider failures are reported in the result; an error
// is returned only for invalid input, an unknown notification or preference,
// or a failed store write. A NotificationID must name an existing
// notification of the same user.
func (s *DeliveryService) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if err := validateSendRequest(req); err != nil {
		return SendResult{}, err
	}
	if req.NotificationID != nil {
		n, err := s.notifications.GetByID(ctx, *req.NotificationID)
		if err != nil {
			return SendResult{}, fmt.Errorf("delivery_service: load notification %s: %w", *req.NotificationID, err)
		}
		if n.UserID != req.UserID {
			return SendResult{}, fmt.Errorf("delivery_service: %w: notification %s belongs to another user", domain.ErrInvalidInput, n.ID)
		}
	}
	return s.send(ctx, req)
}

func (s *DeliveryService) send(ctx context.Context, req SendRequest) (SendResult, error) {
	pref, err := s.prefs.Get(ctx, req.UserID)
	if err != nil {
		return SendResult{}, fmt.Errorf("delivery_service: load preference: %w", err)
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = domain.AllChannels
	}

	res := SendResult{NotificationID: req.NotificationID, UserID: req.UserID}
	attempted, failed := 0, 0

	for _, ch := range dedupeChannels(channels) {
		if ok, reason := pref.Allows(ch, req.Type); !ok {
			res.Channels = append(res.Channels, ChannelResult{Channel: ch, Outcome: OutcomeSkipped, Reason: reason})
			continue
		}
		sender, ok := s.senders[ch]
		if !ok {
			res.Channels = append(res.Channels, ChannelResult{Channel: ch, Outcome: OutcomeSkipped, Reason: "no provider configured"})
			continue
		}

		cr, err := s.deliver(ctx, req, pref.Recipient(ch), sender)
		if err != nil {
			return SendResult{}, err
		}
		attempted++
		if cr.Outcome == OutcomeFailed {
			failed++
		}
		res.Channels = append(res.Channels, cr)
	}

	switch {
	case attempted == 0:
		res.Status = domain.NotificationSkipped
	case failed == attempted:
		res.Status = domain.NotificationFailed
	default:
		res.Status = domain.NotificationDispatched
	}

	if req.NotificationID != nil {
		if err := s.notifications.UpdateStatus(ctx, *req.NotificationID, res.Status); err != nil {
			return SendResult{}, fmt.Errorf("delivery_service: update notification %s: %w", *req.NotificationID, err)
		}
	}

	if failed > 0 {
		alert(ctx, s.alerts, s.logger, notify.EventDeliveryFailed,
			"Notification delivery failed",
			fmt.Sprintf("user %s: %d of %d channel(s) failed for %q", req.UserID, failed, attempted, req.Title))
	}

	s.logger.InfoContext(ctx, "delivery_service: send complete",
		slog.String("user_id", req.UserID),
		slog.String("type", string(req.Type)),
		slog.String("status", string(res.Status)),
		slog.Int("attempted", attempted),
		slog.Int("failed", failed),
	)
	return res, nil
}

// SendNotification delivers a queued notification on every channel.
func (s *DeliveryService) SendNotification(ctx context.Context, n domain.Notification) (SendResult, error) {
	id := n.ID
	req := SendRequest{
		UserID:         n.UserID,
		NotificationID: &id,
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
	}
	if err := validateSendRequest(req); err != nil {
		return SendResult{}, err
	}
	return s.send(ctx, req)
}

// ListDeliveries returns a user's delivery records, newest first.
func (s *DeliveryService) ListDeliveries(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.DeliveryRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("delivery_service: %w: user_id is required", domain.ErrInvalidInput)
	}
	recs, err := s.deliveries.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("delivery_service: list deliveries: %w", err)
	}
	return recs, nil
}

// deliver runs one channel: pending record, provider call, final record.
func (s *DeliveryService) deliver(ctx context.Context, req SendRequest, recipient string, sender notify.ChannelSender) (ChannelResult, error) {
	rec := domain.DeliveryRecord{
		ID:             s.newID(),
		NotificationID: req.NotificationID,
		UserID:         req.UserID,
		Channel:        sender.Channel(),
		Recipient:      recipient,
		Status:         domain.DeliveryPending,
		Provider:       sender.Provider(),
	}
	if err := s.deliveries.Create(ctx, rec); err != nil {
		return ChannelResult{}, fmt.Errorf("delivery_service: create delivery: %w", err)
	}
	s.publish(ctx, rec)

	out, sendErr := s.retrier.Deliver(ctx, sender, notify.Message{
		To:      recipient,
		Subject: req.Title,
		Body:    req.Body,
		Type:    req.Type,
	})

	rec.Attempts = out.Attempts
	if sendErr != nil {
		rec.Status = domain.DeliveryFailed
		rec.Error = sendErr.Error()
	} else {
		sentAt := s.now().UTC()
		rec.Status = domain.DeliverySent
		rec.ProviderMessageID = out.ProviderMessageID
		rec.SentAt = &sentAt
	}

	// The provider call has already happened, so record the outcome even if
	// the request context was cancelled meanwhile.
	if err := s.deliveries.Finish(context.WithoutCancel(ctx), rec); err != nil {
		return ChannelResult{}, fmt.Errorf("delivery_service: finish delivery %s: %w", rec.ID, err)
	}
	s.publish(ctx, rec)

	cr := ChannelResult{
		Channel:           rec.Channel,
		DeliveryID:        rec.ID,
		Provider:          rec.Provider,
		ProviderMessageID: rec.ProviderMessageID,
		Attempts:          rec.Attempts,
		Outcome:           OutcomeSent,
	}
	if sendErr != nil {
		cr.Outcome = OutcomeFailed
		cr.Reason = sendErr.Error()
	}
	return cr, nil
}

func (s *DeliveryService) publish(ctx context.Context, rec domain.DeliveryRecord) {
	publishJSON(ctx, s.bus, domain.DeliveryChannel(rec.UserID), domain.DeliveryUpdate{
		DeliveryID:     rec.ID,
		NotificationID: rec.NotificationID,
		UserID:         rec.UserID,
		Channel:        rec.Channel,
		Status:         rec.Status,
		Error:          rec.Error,
		At:             s.now().UTC(),
	}, s.logger)
}

func validateSendRequest(req SendRequest) error {
	var problems []string
	if req.UserID == "" {
		problems = append(problems, "user_id is required")
	}
	if !req.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", req.Type))
	}
	if strings.TrimSpace(req.Title) == "" {
		problems = append(problems, "title is required")
	}
	for _, c := range req.Channels {
		if !c.Valid() {
			problems = append(problems, fmt.Sprintf("unknown channel %q", c))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("delivery_service: %w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func dedupeChannels(in []domain.Channel) []domain.Channel {
	seen := make(map[domain.Channel]bool, len(in))
	out := make([]domain.Channel, 0, len(in))
	for _, c := range in {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
