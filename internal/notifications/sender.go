package notifications

import (
	"context"

	"github.com/bissquit/pillbox/internal/domain"
)

// Message is a rendered notification ready for a transport.
type Message struct {
	To           string
	Subject      string
	Body         string
	Notification domain.Notification
}

// Sender delivers messages over one channel type.
// Any returned error is a delivery failure.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, msg Message) error
}

// InAppSender handles in_app notifications. They have no external transport
// and reach users only through the live connection fan-out that follows a
// successful send.
type InAppSender struct{}

// Type returns the channel type.
func (InAppSender) Type() domain.ChannelType {
	return domain.ChannelTypeInApp
}

// Send accepts the message.
func (InAppSender) Send(context.Context, Message) error {
	return nil
}
