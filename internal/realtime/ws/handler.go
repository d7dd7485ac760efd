// Package ws serves live notification streams over WebSocket.
package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bissquit/pillbox/internal/pkg/ctxlog"
	"github.com/bissquit/pillbox/internal/pkg/httputil"
	"github.com/bissquit/pillbox/internal/realtime"
	"github.com/gobwas/ws"
)

// Config contains WebSocket transport configuration.
type Config struct {
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// IdleTimeout closes connections that send nothing, not even pings, for this long.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// MaxFrameSize bounds client frames. Clients only send keepalives.
	MaxFrameSize int64 `koanf:"max_frame_size"`
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  90 * time.Second,
		MaxFrameSize: 4096,
	}
}

// Handler upgrades authenticated requests and registers the connections.
type Handler struct {
	config    Config
	registry  *realtime.Registry
	validator httputil.TokenValidator
}

// NewHandler creates a new WebSocket handler.
func NewHandler(config Config, registry *realtime.Registry, validator httputil.TokenValidator) *Handler {
	return &Handler{
		config:    config,
		registry:  registry,
		validator: validator,
	}
}

// ServeHTTP handles GET /ws. Browsers cannot set headers on WebSocket
// requests, so the token may also be passed as the access_token query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		httputil.Error(w, http.StatusUnauthorized, "missing token")
		return
	}

	userID, role, err := h.validator.ValidateToken(r.Context(), token)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	ctx := httputil.WithUser(r.Context(), userID, role)

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		ctxlog.FromContext(ctx).Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(netConn, h.config.WriteTimeout)
	h.registry.Connect(c, userID)

	// The request context ends with the handler, not with the hijacked connection.
	ctx, logger := ctxlog.With(context.WithoutCancel(ctx), "conn_id", c.id)
	logger.Debug("websocket connected")

	defer func() {
		h.registry.Disconnect(c, userID)
		_ = netConn.Close()
		logger.Debug("websocket disconnected")
	}()

	h.readLoop(ctx, c)
}

// readLoop consumes client frames until the connection closes, answering pings.
func (h *Handler) readLoop(ctx context.Context, c *conn) {
	for {
		if h.config.IdleTimeout > 0 {
			_ = c.netConn.SetReadDeadline(time.Now().Add(h.config.IdleTimeout))
		}

		hdr, err := ws.ReadHeader(c.netConn)
		if err != nil {
			logReadError(ctx, err)
			return
		}
		if hdr.Length > h.config.MaxFrameSize {
			_ = c.writeFrame(ctx, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusMessageTooBig, "")))
			return
		}

		payload := make([]byte, hdr.Length)
		if _, err := io.ReadFull(c.netConn, payload); err != nil {
			logReadError(ctx, err)
			return
		}
		if hdr.Masked {
			ws.Cipher(payload, hdr.Mask, 0)
		}

		switch hdr.OpCode {
		case ws.OpClose:
			_ = c.writeFrame(ctx, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
			return
		case ws.OpPing:
			if err := c.writeFrame(ctx, ws.NewPongFrame(payload)); err != nil {
				return
			}
		case ws.OpText:
			if strings.TrimSpace(string(payload)) == "ping" {
				if err := c.writeFrame(ctx, ws.NewTextFrame([]byte("pong"))); err != nil {
					return
				}
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	if r.Header.Get("Authorization") != "" {
		token, _ := httputil.BearerToken(r)
		return token
	}
	return r.URL.Query().Get("access_token")
}

func logReadError(ctx context.Context, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return
	}
	ctxlog.FromContext(ctx).Debug("websocket read failed", "error", err)
}
