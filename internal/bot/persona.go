package bot

import (
	"fmt"
	"sort"

	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/command"
	"github.com/vovakirdan/wirechat-bot/internal/log"
	"github.com/vovakirdan/wirechat-bot/internal/songqueue"
)

// Persona is a named bot: a default nick and the handlers it runs.
type Persona struct {
	Name     string
	Nick     string
	Handlers []string
}

var personas = map[string]Persona{
	"dj": {
		Name:     "dj",
		Nick:     "♬|NeonDJBot",
		Handlers: []string{ReplyName, songqueue.Name},
	},
	"basic": {
		Name:     "basic",
		Nick:     "wirechat-bot",
		Handlers: []string{ReplyName},
	},
}

// Lookup returns the persona called name.
func Lookup(name string) (Persona, error) {
	p, ok := personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("unknown persona %q (known: %v)", name, Personas())
	}
	return p, nil
}

// Personas lists the known persona names.
func Personas() []string {
	names := make([]string, 0, len(personas))
	for name := range personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provide makes every handler constructible by the builder.
func Provide(bl *bus.Builder, d Deps) {
	bl.Provide(command.ParserName, func() (bus.Handler, error) {
		return NewPacketHandler(d), nil
	})
	bl.Provide(ReplyName, func() (bus.Handler, error) {
		return NewReplyHandler(d), nil
	})
	bl.Provide(songqueue.Name, func() (bus.Handler, error) {
		return songqueue.New(songqueue.Options{
			Store:     d.Store,
			Clock:     d.Clock,
			Logger:    d.Logger,
			Metrics:   d.Metrics,
			InboxSize: d.InboxSize,
			Grace:     d.PlayGrace,
		}), nil
	})
}

// Install registers the persona's handlers, dependencies first.
func (p Persona) Install(bl *bus.Builder, d Deps) error {
	Provide(bl, d)
	for _, name := range p.Handlers {
		if err := bl.Add(name); err != nil {
			return fmt.Errorf("persona %s: %w", p.Name, err)
		}
	}
	log.Component(d.Logger, "persona").Info().Str("persona", p.Name).Strs("handlers", p.Handlers).Msg("persona installed")
	return nil
}
