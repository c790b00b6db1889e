package notify

import (
	"context"
	"errors"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// Message is one user-facing notification addressed to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
	Type    domain.NotificationType
}

// ChannelSender delivers user-facing messages on one channel.
type ChannelSender interface {
	Channel() domain.Channel
	// Provider names the backing service, e.g. "sendgrid".
	Provider() string
	// Deliver sends msg and returns the provider's message id.
	Deliver(ctx context.Context, msg Message) (string, error)
}

// permanentError marks a failure that retrying cannot fix, such as a
// rejected recipient address.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the retrier gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Registry maps channels to their senders.
type Registry map[domain.Channel]ChannelSender

// NewRegistry indexes senders by the channel they serve. A later sender for
// the same channel replaces an earlier one.
func NewRegistry(senders ...ChannelSender) Registry {
	r := make(Registry, len(senders))
	for _, s := range senders {
		if s != nil {
			r[s.Channel()] = s
		}
	}
	return r
}
