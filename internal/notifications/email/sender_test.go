package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "enabled without smtp host",
			config:  Config{Enabled: true, FromAddress: "pillbox@example.com"},
			wantErr: "SMTP host is required",
		},
		{
			name:    "enabled without from address",
			config:  Config{Enabled: true, SMTPHost: "smtp.example.com"},
			wantErr: "from address is required",
		},
		{
			name:   "disabled - no validation",
			config: Config{},
		},
		{
			name:   "valid config",
			config: Config{Enabled: true, SMTPHost: "smtp.example.com", FromAddress: "pillbox@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sender)
		})
	}
}

func TestNewSender_Defaults(t *testing.T) {
	sender, err := NewSender(Config{
		Enabled:     true,
		SMTPHost:    "smtp.example.com",
		FromAddress: "pillbox@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, 587, sender.config.SMTPPort)
	assert.Nil(t, sender.auth)
	assert.Equal(t, domain.ChannelTypeEmail, sender.Type())
}

func TestNewSender_WithCredentials(t *testing.T) {
	sender, err := NewSender(Config{
		Enabled:      true,
		SMTPHost:     "smtp.example.com",
		FromAddress:  "pillbox@example.com",
		SMTPUser:     "user",
		SMTPPassword: "pass",
	})
	require.NoError(t, err)
	assert.NotNil(t, sender.auth)
}

func TestSender_Send_Disabled(t *testing.T) {
	sender, err := NewSender(Config{})
	require.NoError(t, err)

	assert.NoError(t, sender.Send(context.Background(), notifications.Message{To: "a@example.com"}))
}

func TestSender_Send_EmptyRecipient(t *testing.T) {
	sender, err := NewSender(Config{Enabled: true, SMTPHost: "smtp.example.com", FromAddress: "pillbox@example.com"})
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifications.Message{Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient is empty")
}

func TestSender_Send_Unreachable(t *testing.T) {
	sender, err := NewSender(Config{Enabled: true, SMTPHost: "127.0.0.1", SMTPPort: 1, FromAddress: "pillbox@example.com"})
	require.NoError(t, err)

	err = sender.Send(context.Background(), notifications.Message{To: "a@example.com", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial smtp")
	assert.True(t, IsRetryable(err))
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"user@example.com", "user@example.com"},
		{"Pillbox <noreply@pillbox.example.com>", "noreply@pillbox.example.com"},
		{"<user@example.com>", "user@example.com"},
		{"invalid<", "invalid<"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractEmail(tt.input))
		})
	}
}

func TestSender_BuildMessage(t *testing.T) {
	sender := &Sender{
		config: Config{FromAddress: "Pillbox <noreply@example.com>"},
		now:    func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) },
	}

	msg := string(sender.buildMessage(notifications.Message{
		To:      "patient@example.com",
		Subject: "[Reminder] Time for Aspirin\r\nBcc: attacker@example.com",
		Body:    "Take 100mg",
		Notification: domain.Notification{
			ID: "n-1",
		},
	}))

	assert.Contains(t, msg, "From: Pillbox <noreply@example.com>\r\n")
	assert.Contains(t, msg, "To: patient@example.com\r\n")
	assert.Contains(t, msg, "Subject: [Reminder] Time for Aspirin  Bcc: attacker@example.com\r\n")
	assert.Contains(t, msg, "Date: Tue, 10 Mar 2026 08:00:00 +0000\r\n")
	assert.Contains(t, msg, "Message-ID: <n-1@pillbox>\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=\"utf-8\"\r\n")
	assert.Contains(t, msg, "\r\n\r\nTake 100mg")
	assert.NotContains(t, msg, "\r\nBcc:")
}

// timeoutError implements net.Error for testing
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"421 service unavailable", &textproto.Error{Code: 421, Msg: "Service not available"}, true},
		{"450 mailbox unavailable", fmt.Errorf("rcpt to: %w", &textproto.Error{Code: 450, Msg: "Mailbox unavailable"}), true},
		{"452 insufficient storage", &textproto.Error{Code: 452, Msg: "Insufficient storage"}, true},
		{"552 mailbox full", &textproto.Error{Code: 552, Msg: "Mailbox full"}, true},
		{"550 mailbox not found", &textproto.Error{Code: 550, Msg: "Mailbox not found"}, false},
		{"535 auth failed", fmt.Errorf("auth: %w", &textproto.Error{Code: 535, Msg: "Authentication failed"}), false},
		{"generic error", errors.New("some random error"), false},
		{"timeout error", &timeoutError{}, true},
		{"network operation error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
