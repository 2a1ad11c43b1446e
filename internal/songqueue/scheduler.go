// Package songqueue schedules queued songs: it follows queue commands and
// "now playing" events and announces the next song when the current one ends.
package songqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bot/internal/action"
	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/command"
	"github.com/vovakirdan/wirechat-bot/internal/handler"
	"github.com/vovakirdan/wirechat-bot/internal/log"
	"github.com/vovakirdan/wirechat-bot/internal/metrics"
	"github.com/vovakirdan/wirechat-bot/internal/store"
)

// Name is the scheduler's bus name and its snapshot key.
const Name = "songqueue"

// DefaultGrace is added to the play delay while a requested play is unconfirmed.
const DefaultGrace = 3 * time.Second

// topicTimer is private to the scheduler's inbox; it never reaches the bus.
const topicTimer bus.Topic = "songqueue.timer"

type playDue struct {
	gen uint64
}

// Options configure a Scheduler.
type Options struct {
	Store     store.Store
	Clock     clock.Clock
	Logger    *zerolog.Logger
	Metrics   *metrics.Metrics
	InboxSize int
	Grace     time.Duration
}

// Status is a point-in-time view of the playback state.
type Status struct {
	Current   *command.Command   `json:"current"`
	Queue     []*command.Command `json:"queue"`
	Expecting bool               `json:"expecting"`
	Backlog   bool               `json:"backlog"`
}

// Scheduler owns the playback state.
type Scheduler struct {
	*handler.Loop

	store   store.Store
	clock   clock.Clock
	log     *zerolog.Logger
	metrics *metrics.Metrics
	grace   time.Duration

	// mu guards the fields below for Status; they are only written from dispatch.
	mu          sync.Mutex
	current     *command.Command
	queue       []*command.Command
	expecting   bool
	inBacklog   bool
	backlogDone bool
	timer       *clock.Timer
	gen         uint64

	// closed is set by a graceful stop; the next Run waits for a new backlog.
	closed bool
}

// New builds a scheduler.
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	logger := log.Component(opts.Logger, Name)
	s := &Scheduler{
		Loop:    handler.NewLoop(Name, opts.InboxSize, logger),
		store:   opts.Store,
		clock:   opts.Clock,
		log:     logger,
		metrics: opts.Metrics,
		grace:   opts.Grace,
	}
	s.Route(command.TopicCommands, s.handleCommand)
	s.Route(command.TopicControl, s.handleControl)
	s.Route(topicTimer, s.handleTimer)
	s.OnSetup(s.setup)
	s.OnClose(s.close)
	s.OnError(func(bus.Topic, any, error) { opts.Metrics.DispatchFailed(Name) })
	return s
}

// Spec implements bus.Handler.
func (s *Scheduler) Spec() bus.Spec {
	return bus.Spec{
		Name:     Name,
		Consumes: []bus.Topic{command.TopicCommands, command.TopicControl},
		Produces: []bus.Topic{bus.TopicAction},
		Requires: []string{command.ParserName},
		Requests: map[string][]string{
			command.ParserName: {
				string(command.KindQueue),
				string(command.KindSkip),
				string(command.KindClearQueue),
				string(command.KindList),
				string(command.KindDumpQueue),
				string(command.KindPlay),
			},
		},
	}
}

// Status returns a copy of the playback state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Current:   s.current,
		Queue:     append([]*command.Command(nil), s.queue...),
		Expecting: s.expecting,
		Backlog:   !s.backlogDone || s.inBacklog,
	}
}

func (s *Scheduler) setup(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.current = nil
	s.queue = nil
	s.expecting = false
	s.inBacklog = false
	if s.closed {
		s.backlogDone = false
		s.closed = false
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	queue, err := s.loadQueue(ctx)
	if err != nil {
		return err
	}
	current, err := s.loadCurrent(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = queue
	s.current = current
	s.clearStaleLocked(s.clock.Now())
	s.log.Info().Int("queued", len(s.queue)).Bool("playing", s.current != nil).Msg("state restored")
	s.metrics.SetQueueLength(len(s.queue))
	if len(s.queue) > 0 {
		s.schedulePlayLocked()
	}
	return nil
}

func (s *Scheduler) loadQueue(ctx context.Context) ([]*command.Command, error) {
	uids, err := s.store.LoadSnapshot(ctx, Name)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	queue := make([]*command.Command, 0, len(uids))
	for _, uid := range uids {
		item, err := s.store.Get(ctx, uid)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Str("uid", uid).Msg("queued item missing from store")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", uid, err)
		}
		cmd, err := command.FromRecord(*item)
		if err != nil {
			return nil, err
		}
		if cmd.Prepared() {
			queue = append(queue, cmd)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Timestamp < queue[j].Timestamp })
	return queue, nil
}

func (s *Scheduler) loadCurrent(ctx context.Context) (*command.Command, error) {
	item, err := s.store.Latest(ctx, string(command.KindPlay))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load current: %w", err)
	}
	return command.FromRecord(*item)
}

func (s *Scheduler) handleControl(_ context.Context, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch payload {
	case command.BacklogStart:
		s.inBacklog = true
	case command.BacklogEnd:
		s.inBacklog = false
		s.backlogDone = true
		s.schedulePlayLocked()
	default:
		return fmt.Errorf("unexpected control %v", payload)
	}
	return nil
}

func (s *Scheduler) handleCommand(ctx context.Context, payload any) error {
	cmd, ok := payload.(*command.Command)
	if !ok {
		return fmt.Errorf("unexpected command payload %T", payload)
	}
	if !cmd.Prepared() {
		return nil
	}

	s.mu.Lock()
	now := s.clock.Now()
	s.clearStaleLocked(now)

	var out action.Action
	switch cmd.Kind {
	case command.KindQueue:
		s.queue = append(s.queue, cmd)
		out = newQueuedNotification(cmd, s.current, s.queue, now)
	case command.KindPlay:
		s.expecting = false
		s.playedLocked(cmd)
	case command.KindSkip:
		s.current = nil
		s.expecting = false
	case command.KindClearQueue:
		s.queue = nil
	case command.KindList:
		out = newListing(s.current, s.queue, cmd.UID, now)
	case command.KindDumpQueue:
		out = newDump(s.queue, cmd.UID, now)
		s.queue = nil
	default:
		s.mu.Unlock()
		return nil
	}

	s.schedulePlayLocked()
	uids := s.uidsLocked()
	live := s.liveLocked()
	s.mu.Unlock()

	s.metrics.SetQueueLength(len(uids))
	s.log.Debug().Str("kind", string(cmd.Kind)).Str("uid", cmd.UID).Int("queued", len(uids)).Msg("transition")

	if err := s.persist(ctx, uids); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if !live || cmd.Historical {
		s.log.Debug().Str("uid", cmd.UID).Msg("in backlog, not sending")
		return nil
	}
	return s.Emit(ctx, bus.TopicAction, out)
}

// playedLocked applies a "now playing" event. The head is popped when it is
// the same media; otherwise the first earlier entry with the same media goes.
func (s *Scheduler) playedLocked(play *command.Command) {
	s.current = play
	if len(s.queue) > 0 && s.queue[0].SameMedia(play) {
		s.queue = s.queue[1:]
		return
	}
	for i, q := range s.queue {
		if play.Timestamp > q.Timestamp && q.SameMedia(play) {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) handleTimer(ctx context.Context, payload any) error {
	due, ok := payload.(playDue)
	if !ok {
		return fmt.Errorf("unexpected timer payload %T", payload)
	}

	s.mu.Lock()
	if due.gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.timer = nil
	if !s.liveLocked() {
		// Rescheduled when the backlog ends.
		s.mu.Unlock()
		s.log.Debug().Msg("backlog not done, play deferred")
		return nil
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.expecting = true
	head := s.queue[0]
	var next *command.Command
	if len(s.queue) > 1 {
		next = s.queue[1]
	}
	s.mu.Unlock()

	s.log.Info().Str("uid", head.UID).Msg("playing next song")
	return s.Emit(ctx, bus.TopicAction, newPlay(head, next, s.clock.Now()))
}

// schedulePlayLocked replaces the play timer. The old timer is always stopped
// first and its generation invalidated.
func (s *Scheduler) schedulePlayLocked() {
	s.stopTimerLocked()
	if len(s.queue) == 0 || s.Closing() {
		return
	}
	delay := s.current.Remaining(s.clock.Now())
	if s.expecting {
		delay += s.grace
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() {
		if err := s.Post(topicTimer, playDue{gen: gen}); err != nil && !errors.Is(err, handler.ErrStopped) {
			s.log.Error().Err(err).Msg("post play timer")
		}
	})
	s.log.Debug().Dur("delay", delay).Uint64("gen", gen).Msg("play scheduled")
}

func (s *Scheduler) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.closed = true
}

func (s *Scheduler) stopTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) clearStaleLocked(now time.Time) {
	if s.current != nil && s.current.Remaining(now) == 0 {
		s.current = nil
	}
}

func (s *Scheduler) liveLocked() bool {
	return s.backlogDone && !s.inBacklog
}

func (s *Scheduler) uidsLocked() []string {
	uids := make([]string, len(s.queue))
	for i, q := range s.queue {
		uids[i] = q.UID
	}
	return uids
}

func (s *Scheduler) persist(ctx context.Context, uids []string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveSnapshot(ctx, Name, uids); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
