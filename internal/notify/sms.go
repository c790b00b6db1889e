package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coparent/internal/domain"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// MockSMSSender logs text messages instead of sending them. A non-zero
// failure rate makes a matching share of deliveries fail, which exercises
// partial-failure handling end to end.
type MockSMSSender struct {
	senderID    string
	failureRate float64
	rand        func() float64
	logger      *slog.Logger
}

// NewMockSMSSender creates a MockSMSSender. failureRate is clamped to [0,1].
func NewMockSMSSender(senderID string, failureRate float64, logger *slog.Logger) *MockSMSSender {
	failureRate = min(max(failureRate, 0), 1)
	return &MockSMSSender{
		senderID:    senderID,
		failureRate: failureRate,
		rand:        rand.Float64,
		logger:      logger.With(slog.String("component", "mock_sms")),
	}
}

func (m *MockSMSSender) Channel() domain.Channel { return domain.ChannelSMS }
func (m *MockSMSSender) Provider() string        { return "mock_sms" }

// Deliver validates the number and logs the text.
func (m *MockSMSSender) Deliver(ctx context.Context, msg Message) (string, error) {
	if !e164.MatchString(msg.To) {
		return "", Permanent(fmt.Errorf("sms: invalid E.164 number %q", msg.To))
	}
	if m.failureRate > 0 && m.rand() < m.failureRate {
		return "", fmt.Errorf("sms: simulated carrier failure")
	}

	id := "sms-" + uuid.NewString()
	m.logger.InfoContext(ctx, "sms",
		slog.String("id", id),
		slog.String("from", m.senderID),
		slog.String("to", msg.To),
		slog.String("text", smsText(msg)),
	)
	return id, nil
}

// smsText folds subject and body into a single line, capped at one segment
// group of 3 x 153 characters.
func smsText(msg Message) string {
	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + ": " + msg.Body
	}
	const maxLen = 459
	if r := []rune(text); len(r) > maxLen {
		return string(r[:maxLen-1]) + "…"
	}
	return text
}
