// Package action defines outbound actions and the unit that executes them
// over the live room connection.
package action

import (
	"errors"
	"time"

	"github.com/vovakirdan/wirechat-bot/internal/proto"
)

// ErrMalformed reports an action whose frame could not be produced.
// Such actions are dropped, never retried.
var ErrMalformed = errors.New("action: malformed frame")

// State is what an action sees when its frame is computed.
type State struct {
	Now time.Time
}

// Action is an outbound message. Frame is evaluated at send time, and again
// on every retry; returning a nil frame sends nothing.
type Action interface {
	Timestamp() time.Time
	ReplyTo() string
	Frame(st State) (*proto.Frame, error)
}

// Base carries the common action fields.
type Base struct {
	At     time.Time
	Parent string
}

func (b Base) Timestamp() time.Time { return b.At }
func (b Base) ReplyTo() string      { return b.Parent }

// Reply posts Text, as a reply when Parent is set.
type Reply struct {
	Base
	Text string
}

func (r Reply) Frame(State) (*proto.Frame, error) {
	if r.Text == "" {
		return nil, nil
	}
	return proto.NewFrame(proto.OutboundTypeSend, proto.SendData{Content: r.Text, Parent: r.Parent})
}

// Nick sets the bot's display name.
type Nick struct {
	Base
	Name string
}

func (n Nick) Frame(State) (*proto.Frame, error) {
	if n.Name == "" {
		return nil, errors.New("empty nick")
	}
	return proto.NewFrame(proto.OutboundTypeNick, proto.NickData{Name: n.Name})
}

// PingReply acknowledges a keepalive.
type PingReply struct {
	Base
	Time int64
}

func (p PingReply) Frame(State) (*proto.Frame, error) {
	return proto.NewFrame(proto.OutboundTypePingReply, proto.PingReplyData{Time: p.Time})
}

// Func adapts a function to an Action.
type Func struct {
	Base
	Build func(st State) (*proto.Frame, error)
}

func (f Func) Frame(st State) (*proto.Frame, error) {
	if f.Build == nil {
		return nil, nil
	}
	return f.Build(st)
}
