package command

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-bot/internal/action"
	"github.com/vovakirdan/wirechat-bot/internal/media"
	"github.com/vovakirdan/wirechat-bot/internal/packet"
	"github.com/vovakirdan/wirechat-bot/internal/proto"
)

func message(uid, content string, ts int64) packet.Message {
	return packet.Message{
		UID:       uid,
		Sender:    proto.Sender{ID: "agent:u1", Name: "alice"},
		Content:   content,
		Timestamp: ts,
	}
}

func TestParserDefaultsAndNegotiation(t *testing.T) {
	p := NewParser()
	if !reflect.DeepEqual(p.Enabled(), DefaultKinds) {
		t.Fatalf("defaults = %v", p.Enabled())
	}
	if _, ok := p.Match("!queue https://youtu.be/a"); ok {
		t.Fatal("queue should not match before it is requested")
	}

	unsupported := p.RequestSupport([]string{string(KindQueue), "command_chess", string(KindPlay)})
	if !reflect.DeepEqual(unsupported, []string{"command_chess"}) {
		t.Fatalf("unsupported = %v", unsupported)
	}

	tests := []struct {
		text string
		kind Kind
		ok   bool
	}{
		{"!queue https://youtu.be/a", KindQueue, true},
		{"!QUEUE https://youtu.be/a", KindQueue, true},
		{"please !queue https://youtu.be/a", "", false},
		{"\"Song\" (from bob)\n!play https://youtu.be/a", KindPlay, true},
		{"!help", KindHelp, true},
		{"!skip", "", false},
		{"hello", "", false},
	}
	for _, tt := range tests {
		def, ok := p.Match(tt.text)
		if ok != tt.ok || def.Kind != tt.kind {
			t.Fatalf("Match(%q) = %v %v, want %v %v", tt.text, def.Kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestHelpTextListsEnabledHelp(t *testing.T) {
	p := NewParser(KindQueue, KindList)
	help := p.HelpText()
	lines := strings.Split(help, "\n")
	if lines[0] != "Commands with help text:" || len(lines) != 3 {
		t.Fatalf("unexpected help %q", help)
	}
	if !strings.HasPrefix(lines[1], "!queue") || !strings.HasPrefix(lines[2], "!list") {
		t.Fatalf("unexpected help order %q", help)
	}
}

func TestPrepareAndRecord(t *testing.T) {
	resolver := media.Static{"abc": {Title: "Song A", Duration: 30 * time.Second}}
	def, _ := Lookup(KindQueue)

	cmd := New(def, message("m1", "!queue https://www.youtube.com/watch?v=abc", 100))
	if cmd.Prepared() {
		t.Fatal("queue command should start unprepared")
	}
	if err := cmd.Prepare(context.Background(), resolver); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if cmd.Media.ID != "abc" || cmd.User.ID != "u1" {
		t.Fatalf("unexpected command %+v", cmd)
	}

	item, err := cmd.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if item.Type != string(KindQueue) || item.UID != "m1" || item.Timestamp != 100 {
		t.Fatalf("unexpected record %+v", item)
	}
	back, err := FromRecord(item)
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if !back.SameMedia(cmd) || back.Duration() != 30*time.Second || back.User.Name != "alice" {
		t.Fatalf("restored command differs: %+v", back)
	}

	bad := New(def, message("m2", "!queue something", 100))
	if err := bad.Prepare(context.Background(), resolver); !errors.Is(err, media.ErrNoLink) {
		t.Fatalf("expected ErrNoLink, got %v", err)
	}
	unknown := New(def, message("m3", "!queue youtu.be/zzz", 100))
	if err := unknown.Prepare(context.Background(), resolver); !errors.Is(err, media.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemaining(t *testing.T) {
	c := &Command{Kind: KindPlay, Timestamp: 0, Media: &media.Info{ID: "a", Duration: 30 * time.Second}}
	if got := c.Remaining(time.Unix(5, 0)); got != 25*time.Second {
		t.Fatalf("remaining at 5s = %v", got)
	}
	if got := c.Remaining(time.Unix(40, 0)); got != 0 {
		t.Fatalf("remaining after end = %v", got)
	}
	var none *Command
	if none.Remaining(time.Unix(0, 0)) != 0 {
		t.Fatal("nil command has nothing remaining")
	}
}

func TestReplies(t *testing.T) {
	now := time.Unix(10, 0)
	def, _ := Lookup(KindQueue)
	unprepared := New(def, message("m1", "!queue nope", 1))
	replies := unprepared.Replies(now)
	if len(replies) != 1 || replies[0].ReplyTo() != "m1" {
		t.Fatalf("unexpected replies %+v", replies)
	}
	if r := replies[0].(action.Reply); !strings.HasPrefix(r.Text, "Sorry, I could not find a youtube url") {
		t.Fatalf("unexpected text %q", r.Text)
	}

	prepared := New(def, message("m2", "!queue youtu.be/a", 1))
	prepared.Media = &media.Info{ID: "a"}
	if len(prepared.Replies(now)) != 0 {
		t.Fatal("prepared queue commands reply through the scheduler only")
	}

	helpDef, _ := Lookup(KindHelp)
	help := New(helpDef, message("m3", "!help", 1))
	help.Help = NewParser().HelpText()
	if len(help.Replies(now)) != 1 {
		t.Fatal("help should reply")
	}

	neonDef, _ := Lookup(KindNeonLightShow)
	neon := New(neonDef, message("m4", "!neonlightshow", 1)).Replies(now)
	if len(neon) != 1 || !strings.HasSuffix(neon[0].(action.Reply).Text, ".gif") {
		t.Fatalf("unexpected neon replies %+v", neon)
	}
}
