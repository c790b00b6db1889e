package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/service"
)

// SchedulerService defines what the notification handler needs to schedule
// reminders.
type SchedulerService interface {
	DefaultWindow() (time.Time, time.Time)
	ScheduleWindow(ctx context.Context, start, end time.Time) (int, error)
}

// DeliveryService defines what the notification handler needs to send and
// list deliveries.
type DeliveryService interface {
	Send(ctx context.Context, req service.SendRequest) (service.SendResult, error)
	ListDeliveries(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.DeliveryRecord, error)
}

// NotificationHandler serves the scheduler and sender endpoints.
type NotificationHandler struct {
	scheduler SchedulerService
	delivery  DeliveryService
	validate  *Validator
	logger    *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(scheduler SchedulerService, delivery DeliveryService, validate *Validator, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		scheduler: scheduler,
		delivery:  delivery,
		validate:  validate,
		logger:    logHandler(logger, "notification"),
	}
}

type scheduleRequest struct {
	WindowStart *time.Time `json:"window_start"`
	WindowEnd   *time.Time `json:"window_end"`
}

type scheduleResponse struct {
	Scheduled   int       `json:"scheduled"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Schedule runs the reminder scheduler over a window. An empty body uses
// the default window.
// POST /api/notifications/schedule
func (h *NotificationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if _, err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start, end := h.scheduler.DefaultWindow()
	switch {
	case req.WindowStart == nil && req.WindowEnd == nil:
	case req.WindowStart != nil && req.WindowEnd != nil:
		start, end = req.WindowStart.UTC(), req.WindowEnd.UTC()
	default:
		writeError(w, http.StatusBadRequest, "window_start and window_end must be given together")
		return
	}

	n, err := h.scheduler.ScheduleWindow(r.Context(), start, end)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, scheduleResponse{Scheduled: n, WindowStart: start, WindowEnd: end})
}

type sendRequest struct {
	UserID         string   `json:"user_id" validate:"notblank"`
	NotificationID *string  `json:"notification_id" validate:"omitempty,uuid"`
	Type           string   `json:"type" validate:"notification_type"`
	Title          string   `json:"title" validate:"notblank,max=200"`
	Body           string   `json:"body" validate:"max=10000"`
	Channels       []string `json:"channels" validate:"dive,channel"`
}

// Send delivers a notification to one user. Provider failures are reported
// per channel in a 200 response.
// POST /api/notifications/send
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, c := range req.Channels {
		channels = append(channels, domain.Channel(c))
	}

	res, err := h.delivery.Send(r.Context(), service.SendRequest{
		UserID:         req.UserID,
		NotificationID: req.NotificationID,
		Type:           domain.NotificationType(req.Type),
		Title:          req.Title,
		Body:           req.Body,
		Channels:       channels,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type listDeliveriesResponse struct {
	Deliveries []domain.DeliveryRecord `json:"deliveries"`
}

// ListDeliveries returns a user's delivery records.
// GET /api/notifications/deliveries?user_id=...&limit=50&offset=0
func (h *NotificationHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.delivery.ListDeliveries(r.Context(), userID, opts)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	if recs == nil {
		recs = []domain.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, listDeliveriesResponse{Deliveries: recs})
}

// writeValidationError sends field errors as {"error": ..., "fields": {...}}.
func writeValidationError(w http.ResponseWriter, err error) {
	if fe, ok := err.(FieldErrors); ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fe,
		})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
