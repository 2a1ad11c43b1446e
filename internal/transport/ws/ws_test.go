package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-bot/internal/transport"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := Wrap(conn)
		defer c.Close()
		for {
			data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if string(data) == "quit" {
				return
			}
			if err := c.Write(r.Context(), data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialEcho(t *testing.T) {
	srv := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dialer{}.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Write(ctx, []byte(`{"type":"ping-reply"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `{"type":"ping-reply"}` {
		t.Fatalf("unexpected echo %q", got)
	}

	if err := conn.Write(ctx, []byte("quit")); err != nil {
		t.Fatalf("write quit: %v", err)
	}
	if _, err := conn.Read(ctx); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed after server close, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := (Dialer{}).Dial(ctx, "ws://127.0.0.1:1/ws"); err == nil {
		t.Fatal("expected dial error")
	}
}
