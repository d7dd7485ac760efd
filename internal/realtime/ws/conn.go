package ws

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
)

// conn adapts a hijacked WebSocket connection to realtime.Conn.
// All frame writes go through mu so pongs never interleave with notifications.
type conn struct {
	id           string
	netConn      net.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func newConn(netConn net.Conn, writeTimeout time.Duration) *conn {
	return &conn{
		id:           uuid.NewString(),
		netConn:      netConn,
		writeTimeout: writeTimeout,
	}
}

func (c *conn) ID() string { return c.id }

// Send writes data as a single text frame.
func (c *conn) Send(ctx context.Context, data []byte) error {
	return c.writeFrame(ctx, ws.NewTextFrame(data))
}

func (c *conn) writeFrame(ctx context.Context, f ws.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.netConn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return ws.WriteFrame(c.netConn, f)
}
