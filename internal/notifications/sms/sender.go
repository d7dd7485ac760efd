// Package sms delivers notifications through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/notifications"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultSenderID = "Pillbox"
	// Longer texts are split into several billable segments by most gateways.
	maxTextLength = 640
)

// Config holds SMS gateway configuration.
type Config struct {
	Enabled    bool          `koanf:"enabled"`
	GatewayURL string        `koanf:"gateway_url"`
	APIKey     string        `koanf:"api_key"`
	SenderID   string        `koanf:"sender_id"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Sender implements notifications.Sender for SMS.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new SMS sender.
// Returns error if enabled but the gateway URL is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled && config.GatewayURL == "" {
		return nil, errors.New("sms sender: gateway URL is required when enabled")
	}
	if config.SenderID == "" {
		config.SenderID = defaultSenderID
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("sms sender configured",
		"enabled", config.Enabled,
		"sender_id", config.SenderID,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

type gatewayRequest struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Reference string `json:"reference,omitempty"`
}

// Send posts msg.Body to the gateway for the phone number in msg.To.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if !s.config.Enabled {
		slog.Debug("sms sender disabled, skipping", "notification_id", msg.Notification.ID)
		return nil
	}
	if msg.To == "" {
		return &PermanentError{Message: "phone number is empty"}
	}

	text := msg.Body
	if r := []rune(text); len(r) > maxTextLength {
		text = string(r[:maxTextLength-1]) + "…"
	}

	body, err := json.Marshal(gatewayRequest{
		To:        msg.To,
		From:      s.config.SenderID,
		Text:      text,
		Reference: msg.Notification.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, msg.To)
}

func (s *Sender) handleResponse(resp *http.Response, phone string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("sms sent", "phone", maskPhone(phone))
		return nil

	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("rejected: %s", string(body))}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Code: resp.StatusCode, Message: "invalid gateway credentials"}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Code: resp.StatusCode, Message: "rate limited"}

	case resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", string(body))}

	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// maskPhone keeps the last four digits for logging.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms gateway error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms gateway error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
