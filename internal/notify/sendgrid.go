package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/alanyoungcy/coparent/internal/domain"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// EmailConfig configures outgoing email.
type EmailConfig struct {
	APIKey        string
	FromAddress   string
	FromName      string
	SubjectPrefix string
}

// SendgridSender delivers email through the SendGrid v3 mail API.
type SendgridSender struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
}

// NewSendgridSender creates a SendgridSender.
func NewSendgridSender(cfg EmailConfig) *SendgridSender {
	return &SendgridSender{
		key:        cfg.APIKey,
		host:       sendgridHost,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		subjPrefix: cfg.SubjectPrefix,
	}
}

func (s *SendgridSender) Channel() domain.Channel { return domain.ChannelEmail }
func (s *SendgridSender) Provider() string        { return "sendgrid" }

func (s *SendgridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	m.AddCategories(string(msg.Type))
	return m
}

// Deliver posts the message to SendGrid. 4xx responses other than 429 are
// permanent failures.
func (s *SendgridSender) Deliver(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", Permanent(errors.New("sendgrid: empty recipient"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid: send: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, truncate(res.Body, 256))
		if res.StatusCode < http.StatusInternalServerError && res.StatusCode != http.StatusTooManyRequests {
			return "", Permanent(err)
		}
		return "", err
	}

	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
