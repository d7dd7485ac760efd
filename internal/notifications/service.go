package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/google/uuid"
)

// Dead letter listing limits.
const (
	DefaultDeadLetterLimit = 50
	MaxDeadLetterLimit     = 500
)

// Broadcaster pushes a notification to every live client connection.
type Broadcaster interface {
	Broadcast(ctx context.Context, n domain.Notification) int
}

// EnqueueInput contains data for a new notification.
type EnqueueInput struct {
	UserID    string
	Type      domain.NotificationType
	Title     string
	Message   string
	Channel   domain.ChannelType
	Recipient string
	Metadata  map[string]string
}

// Service is the producer API of the delivery pipeline.
type Service struct {
	queue       Queue
	dispatcher  *Dispatcher
	broadcaster Broadcaster
}

// NewService creates a new notifications service. broadcaster may be nil.
func NewService(queue Queue, dispatcher *Dispatcher, broadcaster Broadcaster) *Service {
	return &Service{
		queue:       queue,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
	}
}

// EnqueueNotification validates input and queues it for delivery, immediately or at scheduleAt.
// It returns once the entry is stored; delivery failures never surface here.
func (s *Service) EnqueueNotification(ctx context.Context, input EnqueueInput, scheduleAt *time.Time) (*QueueEntry, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	if input.Type == "" {
		input.Type = domain.NotificationTypeMedicationReminder
	}

	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		Channel:   input.Channel,
		Recipient: input.Recipient,
		Metadata:  input.Metadata,
		Status:    domain.NotificationStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	entry, err := s.queue.Enqueue(ctx, n, scheduleAt)
	if err != nil {
		return nil, err
	}

	slog.Debug("notification enqueued",
		"item_id", entry.ID,
		"user_id", n.UserID,
		"channel_type", n.Channel,
		"scheduled_for", entry.ScheduledFor,
	)
	return entry, nil
}

func (s *Service) validate(input EnqueueInput) error {
	switch {
	case input.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidNotification)
	case input.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	case input.Message == "":
		return fmt.Errorf("%w: message is required", ErrInvalidNotification)
	case !input.Channel.IsValid():
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidNotification, input.Channel)
	case !s.dispatcher.HasSender(input.Channel):
		return fmt.Errorf("%w: channel %s is not available", ErrInvalidNotification, input.Channel)
	case input.Channel != domain.ChannelTypeInApp && input.Recipient == "":
		return fmt.Errorf("%w: recipient is required for channel %s", ErrInvalidNotification, input.Channel)
	}
	return nil
}

// GetQueueStats returns queue sizes.
func (s *Service) GetQueueStats(ctx context.Context) (QueueStats, error) {
	return s.queue.Stats(ctx)
}

// ReplayDeadLetter moves all dead letter entries back to the immediate queue.
func (s *Service) ReplayDeadLetter(ctx context.Context) (int, error) {
	n, err := s.queue.ReplayDeadLetter(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("dead letter queue replayed", "count", n)
	}
	return n, nil
}

// ListDeadLetter returns up to limit dead letter entries, oldest first.
func (s *Service) ListDeadLetter(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	if limit <= 0 {
		limit = DefaultDeadLetterLimit
	}
	limit = min(limit, MaxDeadLetterLimit)
	return s.queue.ListDeadLetter(ctx, limit)
}

// Broadcast sends a system message to every live connection and returns how many received it.
func (s *Service) Broadcast(ctx context.Context, title, message string) (int, error) {
	if s.broadcaster == nil {
		return 0, ErrBroadcastDisabled
	}
	if title == "" || message == "" {
		return 0, fmt.Errorf("%w: title and message are required", ErrInvalidNotification)
	}

	n := domain.Notification{
		ID:        uuid.NewString(),
		Type:      domain.NotificationTypeSystem,
		Title:     title,
		Message:   message,
		Channel:   domain.ChannelTypeInApp,
		Status:    domain.NotificationStatusDelivered,
		CreatedAt: time.Now().UTC(),
	}
	delivered := s.broadcaster.Broadcast(ctx, n)

	slog.Info("system message broadcast", "notification_id", n.ID, "connections", delivered)
	return delivered, nil
}

// AvailableChannels returns the channel types that have a registered sender.
func (s *Service) AvailableChannels() []domain.ChannelType {
	return s.dispatcher.Channels()
}
