package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/tone"
)

// AnalyzeRequest is a tone analysis request. When MessageID is set and Text
// is empty the stored message body is analyzed.
type AnalyzeRequest struct {
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	SenderID  string `json:"sender_id,omitempty"`
}

// ModerationService scores chat messages and surfaces tense or hostile ones.
type ModerationService struct {
	analyzer tone.Analyzer
	messages domain.MessageStore
	bus      domain.SignalBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewModerationService creates a ModerationService. messages and bus may be
// nil, in which case results are neither persisted nor published.
func NewModerationService(analyzer tone.Analyzer, messages domain.MessageStore, bus domain.SignalBus, logger *slog.Logger) *ModerationService {
	return &ModerationService{
		analyzer: analyzer,
		messages: messages,
		bus:      bus,
		logger:   logger.With(slog.String("component", "moderation_service")),
		now:      time.Now,
	}
}

// AnalyzeMessage scores req.Text, or the stored body of req.MessageID when no
// text is given. The tone is saved on the message and tense or hostile
// results are published on the moderation channel. Text over
// tone.MaxTextLength characters is rejected with domain.ErrInvalidInput
// whether it came from the request or from the store.
func (s *ModerationService) AnalyzeMessage(ctx context.Context, req AnalyzeRequest) (domain.ToneResult, error) {
	if err := checkLength(req.Text); err != nil {
		return domain.ToneResult{}, err
	}

	text := req.Text
	if strings.TrimSpace(text) == "" && req.MessageID != "" {
		if s.messages == nil {
			return domain.ToneResult{}, fmt.Errorf("moderation_service: %w: text is required", domain.ErrInvalidInput)
		}
		msg, err := s.messages.GetByID(ctx, req.MessageID)
		if err != nil {
			return domain.ToneResult{}, fmt.Errorf("moderation_service: load message %s: %w", req.MessageID, err)
		}
		text = msg.Body
		if err := checkLength(text); err != nil {
			return domain.ToneResult{}, err
		}
		if req.ThreadID == "" {
			req.ThreadID = msg.ThreadID
		}
		if req.SenderID == "" {
			req.SenderID = msg.SenderID
		}
	}

	result, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		return domain.ToneResult{}, fmt.Errorf("moderation_service: analyze: %w", err)
	}
	if result.Flagged == nil {
		result.Flagged = []string{}
	}

	if req.MessageID != "" && s.messages != nil {
		if err := s.messages.SetTone(ctx, req.MessageID, result); err != nil {
			return domain.ToneResult{}, fmt.Errorf("moderation_service: store tone for %s: %w", req.MessageID, err)
		}
	}

	if result.NeedsReview() {
		publishJSON(ctx, s.bus, domain.ChannelModeration, domain.ModerationFlag{
			MessageID: req.MessageID,
			ThreadID:  req.ThreadID,
			SenderID:  req.SenderID,
			Result:    result,
			At:        s.now().UTC(),
		}, s.logger)
	}

	s.logger.DebugContext(ctx, "moderation_service: analyzed",
		slog.String("message_id", req.MessageID),
		slog.String("tone", string(result.Tone)),
		slog.Float64("score", result.Score),
		slog.String("source", string(result.Source)),
	)
	return result, nil
}

func checkLength(text string) error {
	if utf8.RuneCountInString(text) > tone.MaxTextLength {
		return fmt.Errorf("moderation_service: %w: text exceeds %d characters", domain.ErrInvalidInput, tone.MaxTextLength)
	}
	return nil
}
