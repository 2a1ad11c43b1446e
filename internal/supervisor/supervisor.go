// Package supervisor owns the room connection: it dials with retries, feeds
// decoded frames into the bus, answers keepalives, reconnects before the
// server would drop us and keeps every handler task alive.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bot/internal/action"
	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/metrics"
	"github.com/vovakirdan/wirechat-bot/internal/packet"
	"github.com/vovakirdan/wirechat-bot/internal/transport"
)

// ErrAttemptsExhausted is returned when the bot never managed to connect.
var ErrAttemptsExhausted = errors.New("supervisor: connect attempts exhausted")

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configure a Supervisor.
type Options struct {
	URL string
	// StartupAttempts bounds dialing until the first success; 0 means unlimited.
	StartupAttempts int
	RetryDelay      time.Duration
	MonitorInterval time.Duration
	KeepaliveMargin time.Duration
	ShutdownTimeout time.Duration
	// OnConnect runs after every successful dial, e.g. to set the nick.
	OnConnect func(ctx context.Context) error

	Clock   clock.Clock
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Supervisor runs the connection and the handler tasks.
type Supervisor struct {
	opts    Options
	bus     *bus.Bus
	dialer  transport.Dialer
	link    *transport.Link
	exec    *action.Executor
	clock   clock.Clock
	log     *zerolog.Logger
	metrics *metrics.Metrics

	state    atomic.Int32
	stopping atomic.Bool

	mu            sync.Mutex
	deadline      time.Time
	session       string
	cancelSession context.CancelFunc
	tasks         map[string]*task
	handlerCtx    context.Context
}

// New binds the executor to the action topic. Call it before the bus is sealed.
func New(b *bus.Bus, dialer transport.Dialer, link *transport.Link, exec *action.Executor, opts Options) (*Supervisor, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MonitorInterval <= 0 || opts.MonitorInterval > time.Second {
		opts.MonitorInterval = time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if err := b.Subscribe(bus.TopicAction, exec.Inbox()); err != nil {
		return nil, fmt.Errorf("bind executor: %w", err)
	}
	return &Supervisor{
		opts:    opts,
		bus:     b,
		dialer:  dialer,
		link:    link,
		exec:    exec,
		clock:   opts.Clock,
		log:     opts.Logger,
		metrics: opts.Metrics,
		tasks:   make(map[string]*task),
	}, nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.SetConnected(st == Connected)
}

// Deadline is the predicted time by which the next keepalive must arrive.
// It is zero until the first keepalive of a session.
func (s *Supervisor) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Session identifies the current connection in logs.
func (s *Supervisor) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Anticipate records the reconnect deadline implied by a keepalive observed
// at now: the announced next keepalive plus the margin plus the latency.
func (s *Supervisor) Anticipate(p packet.Ping, now time.Time) time.Time {
	latency := now.Sub(time.Unix(p.Time, 0))
	if latency < 0 {
		latency = 0
	}
	deadline := time.Unix(p.Next, 0).Add(s.opts.KeepaliveMargin + latency)

	s.mu.Lock()
	s.deadline = deadline
	s.mu.Unlock()
	return deadline
}

// Run seals the bus, starts every handler and the executor, and keeps the
// room connection up until ctx is cancelled. It then shuts down gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	s.bus.Seal()
	s.stopping.Store(false)

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()
	s.mu.Lock()
	s.handlerCtx = handlerCtx
	s.mu.Unlock()
	for _, h := range s.bus.Handlers() {
		s.startTask(h)
	}

	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()
	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		_ = s.exec.Run(execCtx)
	}()

	monCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		s.monitor(monCtx)
	}()

	live, err := s.connectLoop(ctx)

	s.stopping.Store(true)
	cancelMonitor()
	<-monDone

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	s.shutdown(shutdownCtx, live, cancelExec, execDone)
	cancelHandlers()
	s.waitTasks(shutdownCtx)
	s.setState(Disconnected)
	s.log.Info().Msg("supervisor stopped")
	return err
}

// liveSession is a connection left open by a shutdown so queued actions can
// still be flushed.
type liveSession struct {
	conn     transport.Conn
	cancel   context.CancelFunc
	readDone <-chan error
}

func (s *Supervisor) connectLoop(ctx context.Context) (*liveSession, error) {
	var (
		attempts  int
		connected bool
	)
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		s.setState(Connecting)
		if connected {
			s.metrics.Reconnect()
		}
		conn, err := s.dialer.Dial(ctx, s.opts.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			attempts++
			s.log.Warn().Err(err).Int("attempt", attempts).Str("url", s.opts.URL).Msg("connect failed")
			if !connected && s.opts.StartupAttempts > 0 && attempts >= s.opts.StartupAttempts {
				return nil, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, attempts, err)
			}
			if !s.sleep(ctx, s.opts.RetryDelay) {
				return nil, nil
			}
			continue
		}
		attempts = 0
		connected = true

		live, proactive := s.runSession(ctx, conn)
		if live != nil {
			return live, nil
		}
		if !proactive && !s.sleep(ctx, s.opts.RetryDelay) {
			return nil, nil
		}
	}
}

// runSession serves one connection. It returns a live session when ctx was
// cancelled, or reports whether the session ended by a proactive reconnect.
func (s *Supervisor) runSession(ctx context.Context, conn transport.Conn) (*liveSession, bool) {
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := uuid.NewString()

	s.mu.Lock()
	s.deadline = time.Time{}
	s.session = id
	s.cancelSession = cancel
	s.mu.Unlock()

	logger := s.log.With().Str("session", id).Logger()
	s.link.Set(conn)
	s.setState(Connected)
	logger.Info().Str("url", s.opts.URL).Msg("connected")

	readDone := make(chan error, 1)
	go func() { readDone <- s.receive(sessCtx, conn, &logger) }()

	if s.opts.OnConnect != nil {
		if err := s.opts.OnConnect(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("on connect hook failed")
		}
	}

	end := func() {
		s.link.Clear(conn)
		cancel()
		_ = conn.Close()
		s.setState(Disconnected)
	}

	select {
	case err := <-readDone:
		// The read loop also ends when sessCtx is cancelled for a reconnect.
		proactive := sessCtx.Err() != nil
		end()
		if proactive {
			logger.Warn().Msg("keepalive deadline passed, reconnecting")
			return nil, true
		}
		logger.Warn().Err(err).Msg("connection lost")
		return nil, false
	case <-sessCtx.Done():
		end()
		<-readDone
		logger.Warn().Msg("keepalive deadline passed, reconnecting")
		return nil, true
	case <-ctx.Done():
		return &liveSession{conn: conn, cancel: cancel, readDone: readDone}, false
	}
}

func (s *Supervisor) receive(ctx context.Context, conn transport.Conn, logger *zerolog.Logger) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if s.stopping.Load() {
			continue
		}

		now := s.clock.Now()
		env, err := packet.Decode(data, now)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping frame")
			continue
		}
		s.metrics.FrameReceived(env.Kind)

		if env.IsKeepalive() {
			ping, err := env.Ping()
			if err != nil {
				logger.Warn().Err(err).Msg("dropping keepalive")
				continue
			}
			deadline := s.Anticipate(ping, now)
			logger.Debug().Time("deadline", deadline).Msg("keepalive")
			reply := action.PingReply{Base: action.Base{At: now}, Time: ping.Time}
			if err := s.bus.Publish(ctx, bus.TopicAction, reply); err != nil {
				return err
			}
			continue
		}

		batch, err := env.Batch()
		if err != nil {
			logger.Warn().Err(err).Str("type", env.Kind).Msg("dropping frame")
			continue
		}
		if !batch.Historical && len(batch.Messages) == 0 {
			continue
		}
		if err := s.bus.Publish(ctx, bus.TopicRaw, batch); err != nil {
			return err
		}
	}
}

// forceReconnect ends the current session without touching the handlers.
func (s *Supervisor) forceReconnect() {
	s.mu.Lock()
	cancel := s.cancelSession
	s.deadline = time.Time{}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) monitor(ctx context.Context) {
	ticker := s.clock.Ticker(s.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(s.clock.Now())
		}
	}
}

func (s *Supervisor) check(now time.Time) {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()
	if !deadline.IsZero() && now.After(deadline) && s.State() == Connected {
		s.log.Warn().Time("deadline", deadline).Time("now", now).Msg("keepalive overdue")
		s.forceReconnect()
	}
	s.restartDead()
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := s.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// shutdown drains handlers in registration order, then the executor, and
// finally closes the transport.
func (s *Supervisor) shutdown(ctx context.Context, live *liveSession, cancelExec context.CancelFunc, execDone <-chan struct{}) {
	s.log.Info().Msg("shutting down")
	for _, h := range s.bus.Handlers() {
		s.stopTask(ctx, h.Spec().Name)
	}

	cancelExec()
	<-execDone
	s.exec.Drain(ctx)

	if live != nil {
		s.link.Clear(live.conn)
		live.cancel()
		if err := live.conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close transport")
		}
		<-live.readDone
	}
}
