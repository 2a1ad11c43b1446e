// Package command recognizes bot commands and room events in chat messages
// and converts them to and from their persisted form.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/media"
	"github.com/vovakirdan/wirechat-bot/internal/packet"
	"github.com/vovakirdan/wirechat-bot/internal/store"
)

// Kind is the persisted type discriminator of a command or event.
type Kind string

const (
	KindQueue         Kind = "command_queue"
	KindSkip          Kind = "command_skip"
	KindClearQueue    Kind = "command_clearqueue"
	KindList          Kind = "command_list"
	KindDumpQueue     Kind = "command_dumpqueue"
	KindHelp          Kind = "command_help"
	KindNeonLightShow Kind = "command_neonlightshow"
	// KindPlay is the "now playing" event posted by whoever plays the song.
	KindPlay Kind = "event_play"
)

const (
	// TopicCommands carries *Command values from the packet handler.
	TopicCommands bus.Topic = "commands"
	// TopicControl carries Control values bracketing a backlog replay.
	TopicControl bus.Topic = "commands.control"

	// ParserName is the name of the handler that turns raw frames into commands.
	ParserName = "packet"
)

// Control marks backlog boundaries on TopicControl.
type Control int

const (
	BacklogStart Control = iota + 1
	BacklogEnd
)

func (c Control) String() string {
	switch c {
	case BacklogStart:
		return "backlog_start"
	case BacklogEnd:
		return "backlog_end"
	default:
		return "unknown"
	}
}

// Command is one recognized message.
type Command struct {
	Kind       Kind
	UID        string
	Parent     string
	Timestamp  int64
	User       store.User
	Content    string
	Historical bool

	// Media is set once the referenced video has been resolved.
	Media *media.Info
	// Help is the help text attached to help commands.
	Help string
}

// New builds a command of def's kind from msg.
func New(def Definition, msg packet.Message) *Command {
	return &Command{
		Kind:       def.Kind,
		UID:        msg.UID,
		Parent:     msg.Parent,
		Timestamp:  msg.Timestamp,
		User:       store.User{ID: msg.UserID(), Name: msg.Sender.Name},
		Content:    msg.Content,
		Historical: msg.Historical,
	}
}

// NeedsMedia reports whether the command references a video.
func (c *Command) NeedsMedia() bool {
	return c.Kind == KindQueue || c.Kind == KindPlay
}

// Prepared reports whether the command is ready to be acted upon and stored.
func (c *Command) Prepared() bool {
	return !c.NeedsMedia() || c.Media != nil
}

// Prepare resolves the referenced video.
func (c *Command) Prepare(ctx context.Context, r media.Resolver) error {
	if c.Prepared() {
		return nil
	}
	link, err := media.ExtractLink(c.Content)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("prepare %s: no resolver", c.UID)
	}
	info, err := r.Resolve(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", c.UID, err)
	}
	c.Media = info
	return nil
}

// Duration is the media length, zero for commands without media.
func (c *Command) Duration() time.Duration {
	if c.Media == nil {
		return 0
	}
	return c.Media.Duration
}

// Remaining is how much of the media is left to play at now, never negative.
func (c *Command) Remaining(now time.Time) time.Duration {
	if c == nil {
		return 0
	}
	end := time.Unix(c.Timestamp, 0).Add(c.Duration())
	if !now.Before(end) {
		return 0
	}
	return end.Sub(now)
}

// SameMedia compares content identity, never uid.
func (c *Command) SameMedia(other *Command) bool {
	if c == nil || other == nil || c.Media == nil || other.Media == nil {
		return false
	}
	return c.Media.Same(*other.Media)
}

func (c *Command) String() string {
	if c.Media != nil {
		return fmt.Sprintf("%s(%s %s|%s [%s])", c.Kind, c.UID, c.Media.ID, c.Media.Title, media.FormatDuration(c.Media.Duration))
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.UID)
}

type recordPayload struct {
	Parent  string      `json:"parent,omitempty"`
	Content string      `json:"content"`
	Media   *media.Info `json:"media,omitempty"`
}

// Record converts the command to its stored form.
func (c *Command) Record() (store.Item, error) {
	payload, err := json.Marshal(recordPayload{Parent: c.Parent, Content: c.Content, Media: c.Media})
	if err != nil {
		return store.Item{}, fmt.Errorf("encode %s: %w", c.UID, err)
	}
	return store.Item{
		Type:      string(c.Kind),
		UID:       c.UID,
		Timestamp: c.Timestamp,
		User:      c.User,
		Payload:   payload,
	}, nil
}

// FromRecord restores a stored command. Restored commands are never historical.
func FromRecord(item store.Item) (*Command, error) {
	var p recordPayload
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.UID, err)
		}
	}
	return &Command{
		Kind:      Kind(item.Type),
		UID:       item.UID,
		Parent:    p.Parent,
		Timestamp: item.Timestamp,
		User:      item.User,
		Content:   p.Content,
		Media:     p.Media,
	}, nil
}

// MatchStart reports whether content begins with trigger, ignoring case.
func MatchStart(content, trigger string) bool {
	return strings.HasPrefix(strings.ToLower(content), trigger)
}
