package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// ConsoleEmailSender logs emails instead of sending them. It is wired when no
// SendGrid key is configured.
type ConsoleEmailSender struct {
	subjPrefix string
	logger     *slog.Logger
}

// NewConsoleEmailSender creates a ConsoleEmailSender.
func NewConsoleEmailSender(subjectPrefix string, logger *slog.Logger) *ConsoleEmailSender {
	return &ConsoleEmailSender{
		subjPrefix: subjectPrefix,
		logger:     logger.With(slog.String("component", "console_email")),
	}
}

func (c *ConsoleEmailSender) Channel() domain.Channel { return domain.ChannelEmail }
func (c *ConsoleEmailSender) Provider() string        { return "console" }

// Deliver logs the message and returns a generated id.
func (c *ConsoleEmailSender) Deliver(ctx context.Context, msg Message) (string, error) {
	id := "console-" + uuid.NewString()
	c.logger.InfoContext(ctx, "email",
		slog.String("id", id),
		slog.String("to", msg.To),
		slog.String("subject", c.subjPrefix+msg.Subject),
		slog.String("type", string(msg.Type)),
		slog.String("body", msg.Body),
	)
	return id, nil
}
