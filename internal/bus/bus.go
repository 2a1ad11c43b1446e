// Package bus routes payloads between in-process handlers by topic.
//
// Each topic has at most one producing handler (the reserved action topic accepts
// any number) and an ordered list of consumer inboxes. Wiring happens during
// registration; once the bus is sealed it never changes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Topic names a logical channel.
type Topic string

const (
	// TopicRaw carries decoded frames from the connection supervisor.
	TopicRaw Topic = "raw"
	// TopicAction carries outbound actions to the executor.
	TopicAction Topic = "action"
	// TopicClosing is the drain-and-stop sentinel delivered to a single handler inbox.
	TopicClosing Topic = "closing"
)

// SupervisorName is the producer recorded for the raw topic.
const SupervisorName = "supervisor"

var (
	ErrSealed          = errors.New("bus: sealed")
	ErrUnknownHandler  = errors.New("bus: unknown handler")
	ErrDependencyCycle = errors.New("bus: dependency cycle")
	ErrUndeclaredTopic = errors.New("bus: topic not declared")
	ErrReservedTopic   = errors.New("bus: reserved topic")
	ErrDuplicate       = errors.New("bus: handler already registered")
)

// Item is one routed payload.
type Item struct {
	Topic   Topic
	Payload any
}

// Spec is the static configuration of a handler.
type Spec struct {
	Name     string
	Consumes []Topic
	Produces []Topic
	// Requires lists handlers that must be registered first.
	Requires []string
	// Requests maps a handler name to the message kinds it must support.
	Requests map[string][]string
}

// Handler is a bus participant.
type Handler interface {
	Spec() Spec
	Inbox() chan<- Item
	Attach(out *Outlet)
	Run(ctx context.Context) error
}

// Negotiator is implemented by handlers that accept capability requests.
// It returns the kinds it cannot handle.
type Negotiator interface {
	RequestSupport(kinds []string) []string
}

// ConfigError reports a failed startup contract between two handlers.
type ConfigError struct {
	Handler string
	Target  string
	Kinds   []string
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Kinds) > 0 {
		return fmt.Sprintf("bus: %s: %s does not support %v", e.Handler, e.Target, e.Kinds)
	}
	return fmt.Sprintf("bus: %s: %s", e.Handler, e.Reason)
}

type topic struct {
	producer  string
	consumers []chan<- Item
}

// Bus is the topic registry. Construct one per process with New.
type Bus struct {
	log *zerolog.Logger

	mu       sync.RWMutex
	topics   map[Topic]*topic
	handlers map[string]Handler
	order    []Handler
	sealed   bool
}

// New creates a bus with the reserved topics in place.
func New(logger *zerolog.Logger) *Bus {
	b := &Bus{
		log:      logger,
		topics:   make(map[Topic]*topic),
		handlers: make(map[string]Handler),
	}
	b.topicLocked(TopicRaw).producer = SupervisorName
	b.topicLocked(TopicAction)
	return b
}

func (b *Bus) topicLocked(name Topic) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{}
		b.topics[name] = t
	}
	return t
}

// Register wires a handler whose dependencies are already registered.
// Use a Builder to resolve dependencies automatically.
func (b *Bus) Register(h Handler) error {
	spec := h.Spec()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return ErrSealed
	}
	if spec.Name == "" {
		return &ConfigError{Handler: "<unnamed>", Reason: "handler has no name"}
	}
	if _, exists := b.handlers[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, spec.Name)
	}
	for _, dep := range spec.Requires {
		if _, ok := b.handlers[dep]; !ok {
			return fmt.Errorf("%w: %s requires %s", ErrUnknownHandler, spec.Name, dep)
		}
	}

	for _, name := range spec.Produces {
		if name == TopicClosing || name == TopicRaw {
			return fmt.Errorf("%w: %s cannot produce %s", ErrReservedTopic, spec.Name, name)
		}
		if name == TopicAction {
			continue
		}
		if t, ok := b.topics[name]; ok && t.producer != "" && t.producer != spec.Name {
			return &ConfigError{
				Handler: spec.Name,
				Reason:  fmt.Sprintf("topic %s already produced by %s", name, t.producer),
			}
		}
	}
	for _, name := range spec.Consumes {
		if name == TopicClosing {
			return fmt.Errorf("%w: %s cannot consume %s", ErrReservedTopic, spec.Name, name)
		}
	}

	for _, name := range spec.Produces {
		t := b.topicLocked(name)
		if name != TopicAction {
			t.producer = spec.Name
		}
	}
	inbox := h.Inbox()
	for _, name := range spec.Consumes {
		t := b.topicLocked(name)
		t.consumers = append(t.consumers, inbox)
	}

	b.handlers[spec.Name] = h
	b.order = append(b.order, h)
	h.Attach(newOutlet(b, spec.Name, spec.Produces))

	if b.log != nil {
		b.log.Debug().
			Str("handler", spec.Name).
			Interface("consumes", spec.Consumes).
			Interface("produces", spec.Produces).
			Msg("handler registered")
	}
	return nil
}

// Subscribe binds a non-handler consumer, such as the action executor, to a topic.
func (b *Bus) Subscribe(name Topic, ch chan<- Item) error {
	if name == TopicClosing {
		return ErrReservedTopic
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrSealed
	}
	t := b.topicLocked(name)
	t.consumers = append(t.consumers, ch)
	return nil
}

// Seal freezes the wiring. Topics consumed without a producer are logged.
func (b *Bus) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return
	}
	b.sealed = true
	if b.log == nil {
		return
	}
	for name, t := range b.topics {
		if t.producer == "" && name != TopicAction && len(t.consumers) > 0 {
			b.log.Warn().Str("topic", string(name)).Msg("topic has consumers but no producer")
		}
	}
}

// Sealed reports whether registration is closed.
func (b *Bus) Sealed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sealed
}

// Publish hands payload to every consumer of topic in registration order.
// Each hand-off blocks until the consumer accepts it or ctx is done.
func (b *Bus) Publish(ctx context.Context, name Topic, payload any) error {
	if name == TopicClosing {
		return ErrReservedTopic
	}
	b.mu.RLock()
	var consumers []chan<- Item
	if t, ok := b.topics[name]; ok {
		consumers = t.consumers
	}
	b.mu.RUnlock()

	item := Item{Topic: name, Payload: payload}
	for _, ch := range consumers {
		select {
		case ch <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Handler returns a registered handler by name.
func (b *Bus) Handler(name string) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// Handlers returns handlers in registration order (dependencies first).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.order))
	copy(out, b.order)
	return out
}

// Producer returns the handler name producing topic, if any.
func (b *Bus) Producer(name Topic) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.topics[name]; ok {
		return t.producer
	}
	return ""
}

// Consumers returns the number of consumers bound to topic.
func (b *Bus) Consumers(name Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.topics[name]; ok {
		return len(t.consumers)
	}
	return 0
}
