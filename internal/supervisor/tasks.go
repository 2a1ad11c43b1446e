package supervisor

import (
	"context"
	"fmt"

	"github.com/vovakirdan/wirechat-bot/internal/bus"
)

type task struct {
	handler bus.Handler
	done    chan struct{}
}

type closingMarker interface {
	MarkClosing()
}

func (s *Supervisor) startTask(h bus.Handler) {
	name := h.Spec().Name
	t := &task{handler: h, done: make(chan struct{})}

	s.mu.Lock()
	ctx := s.handlerCtx
	s.tasks[name] = t
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("handler", name).Str("panic", fmt.Sprint(r)).Msg("handler crashed")
			}
		}()
		if err := h.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("handler", name).Msg("handler exited with error")
		}
	}()
}

// restartDead restarts tasks that ended while the supervisor is running.
func (s *Supervisor) restartDead() {
	if s.stopping.Load() {
		return
	}
	s.mu.Lock()
	var dead []bus.Handler
	for _, t := range s.tasks {
		select {
		case <-t.done:
			dead = append(dead, t.handler)
		default:
		}
	}
	s.mu.Unlock()

	for _, h := range dead {
		if s.stopping.Load() {
			return
		}
		name := h.Spec().Name
		s.log.Warn().Str("handler", name).Msg("handler terminated unexpectedly, restarting")
		s.metrics.HandlerRestarted(name)
		s.startTask(h)
	}
}

// stopTask delivers the closing sentinel and waits for the task to finish.
func (s *Supervisor) stopTask(ctx context.Context, name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}

	if m, ok := t.handler.(closingMarker); ok {
		m.MarkClosing()
	}
	select {
	case t.handler.Inbox() <- bus.Item{Topic: bus.TopicClosing}:
	case <-t.done:
		return
	case <-ctx.Done():
		s.log.Warn().Str("handler", name).Msg("handler did not accept closing in time")
		return
	}
	select {
	case <-t.done:
		s.log.Debug().Str("handler", name).Msg("handler drained")
	case <-ctx.Done():
		s.log.Warn().Str("handler", name).Msg("handler did not drain in time")
	}
}

func (s *Supervisor) waitTasks(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return
		}
	}
}
