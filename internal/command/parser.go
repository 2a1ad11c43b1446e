package command

import (
	"strings"
	"sync"
)

// Definition describes how a kind is recognized.
type Definition struct {
	Kind    Kind
	Trigger string
	// Anywhere matches the trigger anywhere in the text instead of at the start.
	Anywhere bool
	Help     string
}

// Match reports whether content triggers this definition.
func (d Definition) Match(content string) bool {
	if d.Anywhere {
		return strings.Contains(strings.ToLower(content), d.Trigger)
	}
	return MatchStart(content, d.Trigger)
}

var definitions = map[Kind]Definition{
	KindQueue: {
		Kind:    KindQueue,
		Trigger: "!queue",
		Help:    "!queue <youtube url> : Add a song to the queue. Songs will be played in order.",
	},
	KindSkip: {
		Kind:    KindSkip,
		Trigger: "!skip",
		Help:    "!skip: Skip a song. Please note: one song will be skipped per !skip command! Use carefully.",
	},
	KindClearQueue: {Kind: KindClearQueue, Trigger: "!clearqueue"},
	KindList: {
		Kind:    KindList,
		Trigger: "!list",
		Help:    "!list: List the songs currently in the queue.",
	},
	KindDumpQueue: {
		Kind:    KindDumpQueue,
		Trigger: "!dumpqueue",
		Help:    "!dumpqueue: List all queued songs with youtube URL included and then DELETES the queue. Useful for shutting down the bot.",
	},
	KindHelp:          {Kind: KindHelp, Trigger: "!help"},
	KindNeonLightShow: {Kind: KindNeonLightShow, Trigger: "!neonlightshow"},
	KindPlay:          {Kind: KindPlay, Trigger: "!play", Anywhere: true},
}

// Lookup returns the definition of kind.
func Lookup(kind Kind) (Definition, bool) {
	d, ok := definitions[kind]
	return d, ok
}

// DefaultKinds are enabled on every parser.
var DefaultKinds = []Kind{KindNeonLightShow, KindHelp}

// Parser matches message text against the enabled kinds in the order they
// were enabled.
type Parser struct {
	mu      sync.RWMutex
	enabled []Definition
}

// NewParser enables DefaultKinds followed by extra.
func NewParser(extra ...Kind) *Parser {
	p := &Parser{}
	for _, k := range append(append([]Kind{}, DefaultKinds...), extra...) {
		p.enable(k)
	}
	return p
}

func (p *Parser) enable(kind Kind) bool {
	def, ok := definitions[kind]
	if !ok {
		return false
	}
	for _, d := range p.enabled {
		if d.Kind == kind {
			return true
		}
	}
	p.enabled = append(p.enabled, def)
	return true
}

// RequestSupport enables every known kind and returns the unknown ones.
func (p *Parser) RequestSupport(kinds []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var unsupported []string
	for _, k := range kinds {
		if !p.enable(Kind(k)) {
			unsupported = append(unsupported, k)
		}
	}
	return unsupported
}

// Match returns the first enabled definition triggered by content.
func (p *Parser) Match(content string) (Definition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, d := range p.enabled {
		if d.Match(content) {
			return d, true
		}
	}
	return Definition{}, false
}

// Enabled lists the enabled kinds in match order.
func (p *Parser) Enabled() []Kind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Kind, len(p.enabled))
	for i, d := range p.enabled {
		out[i] = d.Kind
	}
	return out
}

// HelpText lists the help lines of enabled kinds.
func (p *Parser) HelpText() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lines := []string{"Commands with help text:"}
	for _, d := range p.enabled {
		if d.Help != "" {
			lines = append(lines, d.Help)
		}
	}
	return strings.Join(lines, "\n")
}
