package command

import (
	"math/rand"
	"time"

	"github.com/vovakirdan/wirechat-bot/internal/action"
)

const noLinkReply = "Sorry, I could not find a youtube url in your command. " +
	"I can't understand anything other than 'youtube.com/watch?v=...' and 'youtu.be/...' links."

var neonImages = []string{
	"http://i.imgur.com/eBZO67G.gif", "http://i.imgur.com/0bprD6k.gif", "http://i.imgur.com/van2j15.gif",
	"http://i.imgur.com/sYjX7Qv.gif", "http://i.imgur.com/sNm4j9n.gif", "http://i.imgur.com/uXSlR5b.gif",
	"http://i.imgur.com/hGSXbsa.gif", "http://i.imgur.com/UlpqRbK.gif", "http://i.imgur.com/Wmm7EZg.gif",
	"http://i.imgur.com/QdYSbbA.gif", "http://i.imgur.com/Zy5heqF.gif", "http://i.imgur.com/H4vsVkh.gif",
}

// Replies are the immediate responses a command produces, addressed to the
// message that carried it.
func (c *Command) Replies(now time.Time) []action.Action {
	base := action.Base{At: now, Parent: c.UID}
	switch c.Kind {
	case KindQueue:
		if !c.Prepared() {
			return []action.Action{action.Reply{Base: base, Text: noLinkReply}}
		}
	case KindHelp:
		if c.Help != "" {
			return []action.Action{action.Reply{Base: base, Text: c.Help}}
		}
	case KindNeonLightShow:
		return []action.Action{action.Reply{Base: base, Text: neonImages[rand.Intn(len(neonImages))]}}
	}
	return nil
}
