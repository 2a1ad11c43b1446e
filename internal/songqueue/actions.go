package songqueue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-bot/internal/action"
	"github.com/vovakirdan/wirechat-bot/internal/command"
	"github.com/vovakirdan/wirechat-bot/internal/media"
	"github.com/vovakirdan/wirechat-bot/internal/proto"
)

const nothingQueued = "Nothing Queued"

// queuedNotification answers a queue command with the entry's position and
// estimated wait, evaluated when the frame is built.
type queuedNotification struct {
	action.Base
	song    *command.Command
	current *command.Command
	ahead   []*command.Command
}

func newQueuedNotification(song, current *command.Command, queue []*command.Command, now time.Time) queuedNotification {
	var ahead []*command.Command
	for _, q := range queue {
		if q.UID == song.UID {
			break
		}
		ahead = append(ahead, q)
	}
	return queuedNotification{
		Base:    action.Base{At: now, Parent: song.UID},
		song:    song,
		current: current,
		ahead:   ahead,
	}
}

// Position is 1-based.
func (n queuedNotification) Position() int { return len(n.ahead) + 1 }

// Wait is the current song's remainder plus everything queued ahead.
func (n queuedNotification) Wait(now time.Time) time.Duration {
	wait := n.current.Remaining(now)
	for _, q := range n.ahead {
		wait += q.Duration()
	}
	return wait
}

func (n queuedNotification) Text(now time.Time) string {
	title := n.song.Media.Display() + " queued"
	if pos := n.Position(); pos > 1 {
		return fmt.Sprintf("%s at position [%d] and will be played in %s", title, pos, media.FormatDuration(n.Wait(now)))
	}
	if n.current.Remaining(now) == 0 {
		return title + " first and will be played now."
	}
	return fmt.Sprintf("%s first and will be played in %s", title, media.FormatDuration(n.Wait(now)))
}

func (n queuedNotification) Frame(st action.State) (*proto.Frame, error) {
	return proto.NewFrame(proto.OutboundTypeSend, proto.SendData{Content: n.Text(st.Now), Parent: n.Parent})
}

// play announces the head of the queue and, informationally, the one behind it.
type play struct {
	action.Base
	song *command.Command
	next *command.Command
}

func newPlay(song, next *command.Command, now time.Time) play {
	return play{Base: action.Base{At: now}, song: song, next: next}
}

func songLine(c *command.Command) string {
	return fmt.Sprintf("%s (from %s)", c.Media.Display(), c.User.Name)
}

func (p play) Text() string {
	next := "Nothing"
	if p.next != nil {
		next = songLine(p.next)
	}
	return fmt.Sprintf("%s\n!play %s\nNext: %s", songLine(p.song), p.song.Media.PlayURL(), next)
}

func (p play) Frame(action.State) (*proto.Frame, error) {
	return proto.NewFrame(proto.OutboundTypeSend, proto.SendData{Content: p.Text(), Parent: p.Parent})
}

// listing renders the queue as a table of positions and waits.
type listing struct {
	action.Base
	current *command.Command
	queue   []*command.Command
}

func newListing(current *command.Command, queue []*command.Command, replyTo string, now time.Time) listing {
	return listing{
		Base:    action.Base{At: now, Parent: replyTo},
		current: current,
		queue:   append([]*command.Command(nil), queue...),
	}
}

func (l listing) Text(now time.Time) string {
	if len(l.queue) == 0 {
		return nothingQueued
	}
	waits := make([]string, len(l.queue))
	total := l.current.Remaining(now)
	waitWidth := len("wait time")
	for i, q := range l.queue {
		waits[i] = media.FormatDuration(total)
		waitWidth = max(waitWidth, len(waits[i]))
		total += q.Duration()
	}
	posWidth := len(strconv.Itoa(len(l.queue)))

	lines := []string{fmt.Sprintf("[%s][%s]", center("#", posWidth), center("wait time", waitWidth))}
	for i, q := range l.queue {
		lines = append(lines, fmt.Sprintf("[%s][%s] %s added by [%s]",
			center(strconv.Itoa(i+1), posWidth), center(waits[i], waitWidth), q.Media.Display(), q.User.Name))
	}
	return strings.Join(lines, "\n")
}

func (l listing) Frame(st action.State) (*proto.Frame, error) {
	return proto.NewFrame(proto.OutboundTypeSend, proto.SendData{Content: l.Text(st.Now), Parent: l.Parent})
}

// dump lists every queued song with a copyable play command. The scheduler
// clears the queue right after building it.
type dump struct {
	action.Base
	queue []*command.Command
}

func newDump(queue []*command.Command, replyTo string, now time.Time) dump {
	return dump{
		Base:  action.Base{At: now, Parent: replyTo},
		queue: append([]*command.Command(nil), queue...),
	}
}

func (d dump) Text() string {
	if len(d.queue) == 0 {
		return nothingQueued
	}
	lines := make([]string, len(d.queue))
	for i, q := range d.queue {
		lines[i] = fmt.Sprintf("%s added by @%s\n command(copy & paste w/ !): play %s", q.Media.Display(), q.User.Name, q.Media.PlayURL())
	}
	return strings.Join(lines, "\n")
}

func (d dump) Frame(action.State) (*proto.Frame, error) {
	return proto.NewFrame(proto.OutboundTypeSend, proto.SendData{Content: d.Text(), Parent: d.Parent})
}

func center(s string, width int) string {
	pad := width - len(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
