// Package transport defines the duplex text connection the bot talks through
// and the shared handle used to write to whichever connection is current.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed reports a write on a connection that has gone away.
	ErrClosed = errors.New("transport: connection closed")
	// ErrNotConnected reports a write while no connection is established.
	ErrNotConnected = errors.New("transport: not connected")
)

// Conn is one established connection carrying text frames.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections to a room.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Link holds the current connection. Writes are serialized and fail fast
// while disconnected.
type Link struct {
	mu    sync.Mutex
	conn  Conn
	ready chan struct{}
}

// NewLink returns a disconnected link.
func NewLink() *Link {
	return &Link{ready: make(chan struct{})}
}

// Set installs c as the current connection and wakes Ready waiters.
func (l *Link) Set(c Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = c
	select {
	case <-l.ready:
	default:
		close(l.ready)
	}
}

// Clear drops c if it is still current. Passing nil drops any connection.
func (l *Link) Clear(c Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c != nil && l.conn != c {
		return
	}
	l.conn = nil
	select {
	case <-l.ready:
		l.ready = make(chan struct{})
	default:
	}
}

// Ready is closed while a connection is installed. Fetch it again after it fires.
func (l *Link) Ready() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Connected reports whether a connection is installed.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send writes data to the current connection.
func (l *Link) Send(ctx context.Context, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	if err := l.conn.Write(ctx, data); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}
