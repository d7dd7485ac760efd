package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/bissquit/pillbox/internal/realtime"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	if token == "good" {
		return "42", domain.RoleUser, nil
	}
	return "", "", errors.New("bad token")
}

func startServer(t *testing.T) (*realtime.Registry, string) {
	t.Helper()
	registry := realtime.NewRegistry()
	server := httptest.NewServer(NewHandler(DefaultConfig(), registry, staticValidator{}))
	t.Cleanup(server.Close)
	return registry, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandler_DeliversToConnectedClient(t *testing.T) {
	registry, url := startServer(t)
	conn := dial(t, url+"?access_token=good")

	require.Eventually(t, func() bool {
		return registry.ConnectionCount("42") == 1
	}, 2*time.Second, 10*time.Millisecond)

	delivered := registry.Deliver(context.Background(), "42", domain.Notification{
		ID:      "n-1",
		Type:    domain.NotificationTypeMedicationReminder,
		Title:   "Time for Aspirin",
		Message: "Take 100mg",
		Status:  domain.NotificationStatusDelivered,
	})
	assert.Equal(t, 1, delivered)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)

	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, realtime.EnvelopeTypeNotification, env.Type)
	assert.Equal(t, "n-1", env.Data.ID)
	assert.Equal(t, "Take 100mg", env.Data.Message)
}

func TestHandler_TextPing(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url+"?access_token=good")

	require.NoError(t, wsutil.WriteClientText(conn, []byte("ping")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestHandler_UnregistersOnClose(t *testing.T) {
	registry, url := startServer(t)
	conn := dial(t, url+"?access_token=good")

	require.Eventually(t, func() bool {
		return registry.ConnectionCount("42") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return registry.ConnectionCount("42") == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, registry.Users())
}

func TestHandler_RejectsInvalidToken(t *testing.T) {
	_, url := startServer(t)

	tests := []struct {
		name string
		url  string
	}{
		{"missing token", url},
		{"bad token", url + "?access_token=bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, _, _, err := ws.Dial(ctx, tt.url)
			require.Error(t, err)

			var statusErr ws.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, 401, int(statusErr))
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?access_token=query", nil)
	assert.Equal(t, "query", bearerToken(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", bearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", bearerToken(r))
}
