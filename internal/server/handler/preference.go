package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// PreferenceService defines what the preference handler needs.
type PreferenceService interface {
	Get(ctx context.Context, userID string) (domain.Preference, error)
	Update(ctx context.Context, p domain.Preference) (domain.Preference, error)
}

// PreferenceHandler serves per-user notification preferences.
type PreferenceHandler struct {
	prefs    PreferenceService
	validate *Validator
	logger   *slog.Logger
}

// NewPreferenceHandler creates a PreferenceHandler.
func NewPreferenceHandler(prefs PreferenceService, validate *Validator, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs, validate: validate, logger: logHandler(logger, "preference")}
}

type preferenceRequest struct {
	Email        string   `json:"email" validate:"omitempty,email"`
	Phone        string   `json:"phone" validate:"omitempty,e164"`
	EmailEnabled bool     `json:"email_enabled"`
	SMSEnabled   bool     `json:"sms_enabled"`
	MutedTypes   []string `json:"muted_types" validate:"dive,notification_type"`
}

// Get returns a user's preference.
// GET /api/preferences/{user_id}
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.prefs.Get(r.Context(), r.PathValue("user_id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Put replaces a user's preference.
// PUT /api/preferences/{user_id}
func (h *PreferenceHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	muted := make([]domain.NotificationType, 0, len(req.MutedTypes))
	for _, t := range req.MutedTypes {
		muted = append(muted, domain.NotificationType(t))
	}

	p, err := h.prefs.Update(r.Context(), domain.Preference{
		UserID:       r.PathValue("user_id"),
		Email:        req.Email,
		Phone:        req.Phone,
		EmailEnabled: req.EmailEnabled,
		SMSEnabled:   req.SMSEnabled,
		MutedTypes:   muted,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
