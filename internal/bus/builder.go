package bus

import "fmt"

// Factory constructs a handler on demand.
type Factory func() (Handler, error)

// Builder registers handlers dependencies-first and runs capability negotiation.
type Builder struct {
	bus       *Bus
	factories map[string]Factory
	visiting  map[string]bool
}

// NewBuilder returns a builder registering into b.
func NewBuilder(b *Bus) *Builder {
	return &Builder{
		bus:       b,
		factories: make(map[string]Factory),
		visiting:  make(map[string]bool),
	}
}

// Provide makes a handler constructible by name.
func (bl *Builder) Provide(name string, f Factory) {
	bl.factories[name] = f
}

// Add constructs and registers the named handler and everything it needs.
// Adding an already registered handler is a no-op.
func (bl *Builder) Add(name string) error {
	if _, ok := bl.bus.Handler(name); ok {
		return nil
	}
	if bl.visiting[name] {
		return fmt.Errorf("%w: %s", ErrDependencyCycle, name)
	}
	f, ok := bl.factories[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}
	h, err := f()
	if err != nil {
		return fmt.Errorf("build %s: %w", name, err)
	}
	if got := h.Spec().Name; got != name {
		return &ConfigError{Handler: name, Reason: fmt.Sprintf("factory built %q", got)}
	}
	return bl.register(h)
}

// Register registers an already constructed handler, building its dependencies first.
func (bl *Builder) Register(h Handler) error {
	name := h.Spec().Name
	if _, ok := bl.bus.Handler(name); ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	return bl.register(h)
}

func (bl *Builder) register(h Handler) error {
	spec := h.Spec()

	bl.visiting[spec.Name] = true
	defer delete(bl.visiting, spec.Name)

	for _, dep := range spec.Requires {
		if err := bl.Add(dep); err != nil {
			return err
		}
	}
	for target := range spec.Requests {
		if err := bl.Add(target); err != nil {
			return err
		}
	}

	if err := bl.bus.Register(h); err != nil {
		return err
	}

	for target, kinds := range spec.Requests {
		if err := bl.negotiate(spec.Name, target, kinds); err != nil {
			return err
		}
	}
	return nil
}

func (bl *Builder) negotiate(requester, target string, kinds []string) error {
	h, ok := bl.bus.Handler(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, target)
	}
	n, ok := h.(Negotiator)
	if !ok {
		return &ConfigError{Handler: requester, Target: target, Kinds: kinds}
	}
	if unsupported := n.RequestSupport(kinds); len(unsupported) > 0 {
		return &ConfigError{Handler: requester, Target: target, Kinds: unsupported}
	}
	return nil
}
