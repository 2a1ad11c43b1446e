package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vovakirdan/wirechat-bot/internal/action"
	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/handler"
	"github.com/vovakirdan/wirechat-bot/internal/metrics"
	"github.com/vovakirdan/wirechat-bot/internal/packet"
	"github.com/vovakirdan/wirechat-bot/internal/transport"
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.out <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out scripted results in order, then blocks until ctx is done.
type fakeDialer struct {
	mu      sync.Mutex
	results []any
	dials   atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	if len(d.results) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := d.results[0]
	d.results = d.results[1:]
	d.mu.Unlock()

	switch v := next.(type) {
	case *fakeConn:
		return v, nil
	case error:
		return nil, v
	}
	panic("bad script")
}

type outFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func nextFrame(t *testing.T, c *fakeConn, frameType string) outFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.out:
			var f outFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			if f.Type == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame written", frameType)
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newSupervisor(t *testing.T, b *bus.Bus, d transport.Dialer, opts Options) *Supervisor {
	t.Helper()
	link := transport.NewLink()
	exec := action.NewExecutor(link, opts.Clock, 16, nil, opts.Metrics)
	s, err := New(b, d, link, exec, opts)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	return s
}

func start(s *Supervisor) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func awaitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func TestAnticipate(t *testing.T) {
	s := newSupervisor(t, bus.New(nil), &fakeDialer{}, Options{KeepaliveMargin: 5 * time.Second})

	got := s.Anticipate(packet.Ping{Time: 100, Next: 110}, time.Unix(102, 0))
	if !got.Equal(time.Unix(117, 0)) {
		t.Fatalf("expected deadline 117, got %d", got.Unix())
	}
	if !s.Deadline().Equal(got) {
		t.Fatalf("deadline not recorded")
	}

	// a clock behind the server never shortens the deadline
	got = s.Anticipate(packet.Ping{Time: 100, Next: 110}, time.Unix(95, 0))
	if !got.Equal(time.Unix(115, 0)) {
		t.Fatalf("expected deadline 115, got %d", got.Unix())
	}
}

func TestKeepaliveReconnect(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(102, 0))

	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{results: []any{first, second}}
	m := metrics.New()
	s := newSupervisor(t, bus.New(nil), d, Options{
		URL:             "ws://room",
		KeepaliveMargin: 5 * time.Second,
		MonitorInterval: time.Second,
		Clock:           clk,
		Metrics:         m,
	})

	cancel, done := start(s)
	defer cancel()

	waitUntil(t, "connect", func() bool { return s.State() == Connected })
	first.in <- []byte(`{"type":"ping-event","data":{"time":100,"next":110}}`)

	reply := nextFrame(t, first, "ping-reply")
	if string(reply.Data) != `{"time":100}` {
		t.Fatalf("unexpected ping reply %s", reply.Data)
	}
	if !s.Deadline().Equal(time.Unix(117, 0)) {
		t.Fatalf("unexpected deadline %v", s.Deadline())
	}

	for i := 0; i < 15; i++ {
		clk.Add(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	if n := d.dials.Load(); n != 1 {
		t.Fatalf("reconnected before the deadline (%d dials)", n)
	}

	clk.Add(time.Second)
	waitUntil(t, "reconnect", func() bool { return d.dials.Load() == 2 && s.State() == Connected })
	if !first.isClosed() {
		t.Fatalf("old connection left open")
	}
	if !s.Deadline().IsZero() {
		t.Fatalf("deadline should reset for a new session")
	}
	if got := testutil.ToFloat64(m.Reconnects); got != 1 {
		t.Fatalf("expected one reconnect, got %v", got)
	}

	cancel()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !second.isClosed() {
		t.Fatalf("connection left open after shutdown")
	}
}

func TestProactiveReconnectSkipsRetryDelay(t *testing.T) {
	const rounds = 20
	results := make([]any, 0, rounds+1)
	for i := 0; i <= rounds; i++ {
		results = append(results, newFakeConn())
	}
	d := &fakeDialer{results: results}
	s := newSupervisor(t, bus.New(nil), d, Options{
		RetryDelay: time.Hour,
		Clock:      clock.NewMock(),
	})

	cancel, done := start(s)
	defer cancel()

	waitUntil(t, "connect", func() bool { return s.State() == Connected })
	// the mock clock never advances, so any retry sleep would stall the redial
	for i := 0; i < rounds; i++ {
		s.forceReconnect()
		want := int32(i + 2)
		waitUntil(t, "redial", func() bool { return d.dials.Load() == want && s.State() == Connected })
	}

	cancel()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestStartupAttemptsExhausted(t *testing.T) {
	boom := errors.New("refused")
	d := &fakeDialer{results: []any{boom, boom, boom}}
	s := newSupervisor(t, bus.New(nil), d, Options{
		StartupAttempts: 3,
		RetryDelay:      time.Millisecond,
	})

	cancel, done := start(s)
	defer cancel()
	err := awaitRun(t, done)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if n := d.dials.Load(); n != 3 {
		t.Fatalf("expected 3 dials, got %d", n)
	}
}

func TestRetriesForeverAfterFirstConnect(t *testing.T) {
	boom := errors.New("refused")
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{results: []any{first, boom, boom, boom, second}}
	s := newSupervisor(t, bus.New(nil), d, Options{
		StartupAttempts: 1,
		RetryDelay:      time.Millisecond,
	})

	cancel, done := start(s)
	defer cancel()

	waitUntil(t, "connect", func() bool { return s.State() == Connected })
	first.Close()
	waitUntil(t, "second connection", func() bool { return d.dials.Load() == 5 && s.State() == Connected })

	cancel()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestOnConnectRunsPerSession(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{results: []any{first, second}}
	b := bus.New(nil)
	s := newSupervisor(t, b, d, Options{
		RetryDelay: time.Millisecond,
		OnConnect: func(ctx context.Context) error {
			return b.Publish(ctx, bus.TopicAction, action.Nick{Name: "bot"})
		},
	})

	cancel, done := start(s)
	defer cancel()

	if f := nextFrame(t, first, "nick"); string(f.Data) != `{"name":"bot"}` {
		t.Fatalf("unexpected nick frame %s", f.Data)
	}
	first.Close()
	nextFrame(t, second, "nick")

	cancel()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

type crashyHandler struct {
	inbox chan bus.Item
	runs  atomic.Int32
}

func (h *crashyHandler) Spec() bus.Spec         { return bus.Spec{Name: "crashy"} }
func (h *crashyHandler) Inbox() chan<- bus.Item { return h.inbox }
func (h *crashyHandler) Attach(*bus.Outlet)     {}

func (h *crashyHandler) Run(ctx context.Context) error {
	if h.runs.Add(1) == 1 {
		panic("first run crashes")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-h.inbox:
			if item.Topic == bus.TopicClosing {
				return nil
			}
		}
	}
}

func TestMonitorRestartsDeadHandler(t *testing.T) {
	clk := clock.NewMock()
	b := bus.New(nil)
	h := &crashyHandler{inbox: make(chan bus.Item, 1)}
	if err := b.Register(h); err != nil {
		t.Fatalf("register: %v", err)
	}
	m := metrics.New()
	s := newSupervisor(t, b, &fakeDialer{}, Options{Clock: clk, Metrics: m})

	cancel, done := start(s)
	defer cancel()

	waitUntil(t, "first run", func() bool { return h.runs.Load() == 1 })
	waitUntil(t, "restart", func() bool {
		clk.Add(time.Second)
		return h.runs.Load() == 2
	})
	if got := testutil.ToFloat64(m.Restarts.WithLabelValues("crashy")); got != 1 {
		t.Fatalf("expected one restart, got %v", got)
	}

	cancel()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestGracefulShutdownFlushesBeforeClosing(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{results: []any{conn}}
	b := bus.New(nil)

	echo := handler.NewLoop("echo", 8, nil)
	var closed atomic.Bool
	echo.Route(bus.TopicRaw, func(ctx context.Context, payload any) error {
		for _, msg := range payload.(*packet.Batch).Messages {
			if err := echo.Emit(ctx, bus.TopicAction, action.Reply{Text: "echo " + msg.Content}); err != nil {
				return err
			}
		}
		return nil
	})
	echo.OnClose(func() {
		closed.Store(true)
		_ = echo.Emit(context.Background(), bus.TopicAction, action.Reply{Text: "bye"})
	})
	if err := b.Register(&echoHandler{Loop: echo}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s := newSupervisor(t, b, d, Options{})
	cancel, done := start(s)

	conn.in <- []byte(`{"type":"send-event","data":{"id":"m1","time":5,"sender":{"id":"agent:1","name":"u"},"content":"hi"}}`)
	if f := nextFrame(t, conn, "send"); string(f.Data) != `{"content":"echo hi","parent":""}` {
		t.Fatalf("unexpected echo %s", f.Data)
	}

	cancel()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !closed.Load() {
		t.Fatalf("handler was not drained")
	}
	if f := nextFrame(t, conn, "send"); string(f.Data) != `{"content":"bye","parent":""}` {
		t.Fatalf("closing reply not flushed: %s", f.Data)
	}
	if !conn.isClosed() {
		t.Fatalf("transport left open")
	}
	if s.State() != Disconnected {
		t.Fatalf("unexpected state %v", s.State())
	}
}

type echoHandler struct {
	*handler.Loop
}

func (h *echoHandler) Spec() bus.Spec {
	return bus.Spec{
		Name:     h.Name(),
		Consumes: []bus.Topic{bus.TopicRaw},
		Produces: []bus.Topic{bus.TopicAction},
	}
}
