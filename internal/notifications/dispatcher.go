package notifications

import (
	"context"
	"fmt"
	"sort"

	"github.com/bissquit/pillbox/internal/domain"
)

// Dispatcher renders notifications and routes them to the sender of their channel.
type Dispatcher struct {
	renderer *Renderer
	senders  map[domain.ChannelType]Sender
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(renderer *Renderer, senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{
		renderer: renderer,
		senders:  senderMap,
	}
}

// HasSender reports whether a sender is registered for channelType.
func (d *Dispatcher) HasSender(channelType domain.ChannelType) bool {
	_, ok := d.senders[channelType]
	return ok
}

// Channels returns registered channel types in lexical order.
func (d *Dispatcher) Channels() []domain.ChannelType {
	out := make([]domain.ChannelType, 0, len(d.senders))
	for ch := range d.senders {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Deliver renders n for its channel and sends it.
func (d *Dispatcher) Deliver(ctx context.Context, n domain.Notification) error {
	sender, ok := d.senders[n.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, n.Channel)
	}

	subject, body, err := d.renderer.Render(n.Channel, n)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	msg := Message{
		To:           n.Recipient,
		Subject:      subject,
		Body:         body,
		Notification: n,
	}
	if err := sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", n.Channel, err)
	}
	return nil
}
