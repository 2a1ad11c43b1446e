// Package ws implements transport over WebSocket text messages.
package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-bot/internal/transport"
)

// readLimit bounds a single frame. Snapshot frames carry a full room log.
const readLimit = 4 << 20

// Dialer dials WebSocket rooms.
type Dialer struct {
	Options *websocket.DialOptions
}

// Dial implements transport.Dialer.
func (d Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, d.Options)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)
	return &Conn{conn: conn}, nil
}

// Conn adapts a websocket connection to transport.Conn.
type Conn struct {
	conn *websocket.Conn
}

// Wrap adapts an accepted server-side connection.
func Wrap(conn *websocket.Conn) *Conn {
	conn.SetReadLimit(readLimit)
	return &Conn{conn: conn}
}

// Read returns the next text message.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, normalize(err)
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

// Write sends data as one text message.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return normalize(err)
	}
	return nil
}

// Close performs a normal close handshake.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func normalize(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return transport.ErrClosed
	}
	return fmt.Errorf("%w: %v", transport.ErrClosed, err)
}
