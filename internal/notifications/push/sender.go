// Package push hands push notifications to a push gateway over RabbitMQ.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/notifications"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultExchange   = "pillbox.push"
	defaultRoutingKey = "push.send"
)

// Config holds push publisher configuration.
type Config struct {
	Enabled    bool   `koanf:"enabled"`
	URL        string `koanf:"url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
}

// Publisher is the subset of *amqp.Channel used by Sender.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Sender implements notifications.Sender by publishing one message per device token.
type Sender struct {
	config Config

	mu        sync.Mutex
	conn      *amqp.Connection
	publisher Publisher
}

// NewSender connects to RabbitMQ and declares the push exchange.
// A disabled sender never connects.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled && config.URL == "" {
		return nil, errors.New("push sender: amqp url is required when enabled")
	}
	config = withDefaults(config)

	s := &Sender{config: config}
	if config.Enabled {
		if err := s.connect(); err != nil {
			return nil, err
		}
	}

	slog.Info("push sender configured",
		"enabled", config.Enabled,
		"exchange", config.Exchange,
		"routing_key", config.RoutingKey,
	)
	return s, nil
}

// NewSenderWithPublisher creates an enabled sender on top of an existing publisher.
func NewSenderWithPublisher(config Config, publisher Publisher) *Sender {
	config = withDefaults(config)
	config.Enabled = true
	return &Sender{config: config, publisher: publisher}
}

func withDefaults(config Config) Config {
	if config.Exchange == "" {
		config.Exchange = defaultExchange
	}
	if config.RoutingKey == "" {
		config.RoutingKey = defaultRoutingKey
	}
	return config
}

func (s *Sender) connect() error {
	conn, err := amqp.Dial(s.config.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(s.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	s.conn = conn
	s.publisher = ch
	return nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypePush
}

type pushMessage struct {
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	DeviceToken    string            `json:"device_token"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
}

// Send publishes msg for the device token in msg.To.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if !s.config.Enabled {
		slog.Debug("push sender disabled, skipping", "notification_id", msg.Notification.ID)
		return nil
	}
	if msg.To == "" {
		return errors.New("push device token is empty")
	}

	body, err := json.Marshal(pushMessage{
		NotificationID: msg.Notification.ID,
		UserID:         msg.Notification.UserID,
		DeviceToken:    msg.To,
		Title:          msg.Notification.Title,
		Body:           msg.Body,
		Data:           msg.Notification.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	publisher, err := s.channel()
	if err != nil {
		return err
	}

	err = publisher.PublishWithContext(ctx, s.config.Exchange, s.config.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Notification.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish push message: %w", err)
	}

	slog.Debug("push message published", "notification_id", msg.Notification.ID)
	return nil
}

// channel returns the live publisher, reconnecting once if the broker dropped the connection.
func (s *Sender) channel() (Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && s.conn.IsClosed() {
		slog.Warn("rabbitmq connection lost, reconnecting")
		if err := s.connect(); err != nil {
			return nil, err
		}
	}
	if s.publisher == nil {
		return nil, errors.New("push sender is not connected")
	}
	return s.publisher, nil
}

// Close releases the broker connection.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.publisher = nil
	return err
}
