package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/metrics"
	"github.com/vovakirdan/wirechat-bot/internal/transport"
)

// DefaultRetryInterval spaces retries while the link still reports a
// connection that keeps failing writes.
const DefaultRetryInterval = 250 * time.Millisecond

// Executor serializes every outbound action through the live link.
type Executor struct {
	link    *transport.Link
	clock   clock.Clock
	log     *zerolog.Logger
	metrics *metrics.Metrics
	inbox   chan bus.Item

	// RetryInterval is the pause between retries on a connected but failing link.
	RetryInterval time.Duration

	nextID  uint64
	pending []Action
	queued  atomic.Int64
}

// NewExecutor builds an executor. Subscribe Inbox to bus.TopicAction.
func NewExecutor(link *transport.Link, clk clock.Clock, size int, logger *zerolog.Logger, m *metrics.Metrics) *Executor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if size < 0 {
		size = 0
	}
	return &Executor{
		link:          link,
		clock:         clk,
		log:           logger,
		metrics:       m,
		inbox:         make(chan bus.Item, size),
		RetryInterval: DefaultRetryInterval,
	}
}

// Inbox receives actions from the bus.
func (e *Executor) Inbox() chan<- bus.Item { return e.inbox }

// Pending returns the number of actions waiting for a connection.
// It is safe to call from any goroutine.
func (e *Executor) Pending() int { return int(e.queued.Load()) }

func (e *Executor) track() { e.queued.Store(int64(len(e.pending))) }

// Run executes actions until ctx is done. Pending actions are kept for Drain.
func (e *Executor) Run(ctx context.Context) error {
	for {
		var (
			ready <-chan struct{}
			retry <-chan time.Time
			timer *clock.Timer
		)
		if len(e.pending) > 0 {
			if e.link.Connected() {
				timer = e.clock.Timer(e.RetryInterval)
				retry = timer.C
			} else {
				ready = e.link.Ready()
			}
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case item := <-e.inbox:
			stopTimer(timer)
			e.accept(item)
			e.flush(ctx)
		case <-ready:
			e.flush(ctx)
		case <-retry:
			e.flush(ctx)
		}
	}
}

// Drain takes whatever is still queued on the inbox and tries to send all
// pending actions while the link is up. It gives up when ctx is done or the
// link goes away and reports how many actions were left unsent.
func (e *Executor) Drain(ctx context.Context) int {
	for {
		select {
		case item := <-e.inbox:
			e.accept(item)
			continue
		default:
		}
		break
	}
	for len(e.pending) > 0 && ctx.Err() == nil && e.link.Connected() {
		before := len(e.pending)
		e.flush(ctx)
		if len(e.pending) == before {
			break
		}
	}
	if n := len(e.pending); n > 0 {
		e.log.Warn().Int("pending", n).Msg("actions left unsent at shutdown")
	}
	return len(e.pending)
}

func (e *Executor) accept(item bus.Item) {
	a, ok := item.Payload.(Action)
	if !ok {
		e.log.Error().Str("topic", string(item.Topic)).Str("payload", fmt.Sprintf("%T", item.Payload)).Msg("not an action")
		e.metrics.ActionDropped()
		return
	}
	e.pending = append(e.pending, a)
	e.track()
}

// flush sends pending actions in order, stopping at the first transient failure.
func (e *Executor) flush(ctx context.Context) {
	defer e.track()
	for len(e.pending) > 0 {
		err := e.execute(ctx, e.pending[0])
		if isTransient(err) {
			e.metrics.ActionRetried()
			e.log.Debug().Err(err).Int("pending", len(e.pending)).Msg("action deferred until reconnect")
			return
		}
		e.pending[0] = nil
		e.pending = e.pending[1:]
		if err != nil {
			e.metrics.ActionDropped()
			e.log.Error().Err(err).Msg("action dropped")
		}
	}
}

// execute computes the frame afresh, stamps a new id and sends it.
func (e *Executor) execute(ctx context.Context, a Action) error {
	frame, err := a.Frame(State{Now: e.clock.Now()})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if frame == nil {
		e.metrics.ActionSkipped()
		return nil
	}

	e.nextID++
	frame.ID = strconv.FormatUint(e.nextID, 10)
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := e.link.Send(ctx, data); err != nil {
		return err
	}
	e.metrics.ActionSent()
	e.log.Debug().Str("id", frame.ID).Str("type", frame.Type).Msg("action sent")
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, transport.ErrNotConnected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}
