package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/service"
)

// ModerationService defines what the tone handler needs.
type ModerationService interface {
	AnalyzeMessage(ctx context.Context, req service.AnalyzeRequest) (domain.ToneResult, error)
}

// ToneHandler serves the tone analyzer.
type ToneHandler struct {
	moderation ModerationService
	logger     *slog.Logger
}

// NewToneHandler creates a ToneHandler.
func NewToneHandler(moderation ModerationService, logger *slog.Logger) *ToneHandler {
	return &ToneHandler{moderation: moderation, logger: logHandler(logger, "tone")}
}

// Analyze scores a message.
// POST /api/tone/analyze
func (h *ToneHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req service.AnalyzeRequest
	empty, err := decodeJSON(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if empty || (req.Text == "" && req.MessageID == "") {
		writeError(w, http.StatusBadRequest, "text or message_id is required")
		return
	}

	res, err := h.moderation.AnalyzeMessage(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
