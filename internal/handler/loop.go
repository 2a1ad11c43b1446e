// Package handler provides the inbox loop shared by bus handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bot/internal/bus"
)

// DispatchFunc handles one payload of a routed topic.
type DispatchFunc func(ctx context.Context, payload any) error

// ErrorFunc observes a dispatch failure. The loop keeps running afterwards.
type ErrorFunc func(topic bus.Topic, payload any, err error)

// ErrStopped is returned by Post once the loop is not running.
var ErrStopped = errors.New("handler: loop stopped")

// Loop is an inbox with a topic router. Exactly one dispatch runs at a time.
// A Loop may be Run again after it returns.
type Loop struct {
	name   string
	inbox  chan bus.Item
	log    *zerolog.Logger
	routes map[bus.Topic]DispatchFunc

	onError ErrorFunc
	onSetup func(ctx context.Context) error
	onClose func()

	out *bus.Outlet

	mu      sync.Mutex
	stopped chan struct{}
	closing bool
}

// NewLoop creates a loop whose inbox buffers size items.
func NewLoop(name string, size int, logger *zerolog.Logger) *Loop {
	if size < 0 {
		size = 0
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	stopped := make(chan struct{})
	close(stopped)
	return &Loop{
		name:    name,
		inbox:   make(chan bus.Item, size),
		log:     logger,
		routes:  make(map[bus.Topic]DispatchFunc),
		stopped: stopped,
	}
}

// Name returns the handler name.
func (l *Loop) Name() string { return l.name }

// Route binds topic to fn.
func (l *Loop) Route(topic bus.Topic, fn DispatchFunc) {
	l.routes[topic] = fn
}

// OnError sets the dispatch error observer.
func (l *Loop) OnError(fn ErrorFunc) { l.onError = fn }

// OnSetup runs at the start of every Run, before the first dispatch.
func (l *Loop) OnSetup(fn func(ctx context.Context) error) { l.onSetup = fn }

// OnClose runs once the closing sentinel has been dispatched.
func (l *Loop) OnClose(fn func()) { l.onClose = fn }

// Inbox implements bus.Handler.
func (l *Loop) Inbox() chan<- bus.Item { return l.inbox }

// Attach implements bus.Handler.
func (l *Loop) Attach(out *bus.Outlet) { l.out = out }

// Emit publishes on one of the handler's declared topics.
func (l *Loop) Emit(ctx context.Context, topic bus.Topic, payload any) error {
	if l.out == nil {
		return fmt.Errorf("handler %s: not attached", l.name)
	}
	return l.out.Publish(ctx, topic, payload)
}

// Closing reports whether shutdown has begun.
// Handlers processing a long batch check it to stop early.
func (l *Loop) Closing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

// MarkClosing flags the loop as shutting down ahead of the closing sentinel,
// so a dispatch in progress can observe it through Closing.
func (l *Loop) MarkClosing() {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
}

// Post enqueues a payload to the loop's own inbox from another goroutine,
// typically a timer. It fails with ErrStopped instead of blocking once Run
// has returned.
func (l *Loop) Post(topic bus.Topic, payload any) error {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()

	select {
	case <-stopped:
		return ErrStopped
	default:
	}
	select {
	case l.inbox <- bus.Item{Topic: topic, Payload: payload}:
		return nil
	case <-stopped:
		return ErrStopped
	}
}

// Run dispatches inbox items until ctx is cancelled or the closing sentinel
// arrives. On closing, the close hook runs and items already queued are still
// dispatched; on cancellation they are discarded.
func (l *Loop) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	l.mu.Lock()
	l.closing = false
	l.stopped = stopped
	l.mu.Unlock()
	defer close(stopped)

	if l.onSetup != nil {
		if err := l.onSetup(ctx); err != nil {
			l.drain()
			return fmt.Errorf("handler %s: setup: %w", l.name, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return nil
		case item := <-l.inbox:
			if item.Topic == bus.TopicClosing {
				l.MarkClosing()
				if l.onClose != nil {
					l.onClose()
				}
				l.flush(ctx)
				return nil
			}
			l.dispatch(ctx, item)
		}
	}
}

// flush dispatches whatever is queued without waiting for more.
func (l *Loop) flush(ctx context.Context) {
	for {
		select {
		case item := <-l.inbox:
			if item.Topic == bus.TopicClosing {
				continue
			}
			l.dispatch(ctx, item)
		default:
			return
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, item bus.Item) {
	fn, ok := l.routes[item.Topic]
	if !ok {
		l.log.Warn().Str("handler", l.name).Str("topic", string(item.Topic)).Msg("no route for topic")
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx, item.Payload)
	}()
	if err == nil {
		return
	}

	l.log.Error().Err(err).Str("handler", l.name).Str("topic", string(item.Topic)).Msg("dispatch failed")
	if l.onError != nil {
		l.onError(item.Topic, item.Payload, err)
	}
}

func (l *Loop) drain() {
	for {
		select {
		case <-l.inbox:
		default:
			return
		}
	}
}
