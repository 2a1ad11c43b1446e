package proto

import "encoding/json"

// Frame is the envelope exchanged with the room server in both directions.
// Outbound frames always carry an id assigned by the sender.
type Frame struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	InboundTypeSend     = "send-event"
	InboundTypeReply    = "send-reply"
	InboundTypeSnapshot = "snapshot-event"
	InboundTypePing     = "ping-event"

	OutboundTypeSend      = "send"
	OutboundTypeNick      = "nick"
	OutboundTypePingReply = "ping-reply"
)

// Sender identifies the author of a chat message.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageData is a single chat message as delivered by send-event, send-reply and snapshot logs.
type MessageData struct {
	ID      string `json:"id"`
	Parent  string `json:"parent,omitempty"`
	Time    int64  `json:"time"`
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}

// SnapshotData carries the room history replayed on join.
type SnapshotData struct {
	Log []MessageData `json:"log"`
}

// PingEventData is the server keepalive; Next announces the time of the following ping.
type PingEventData struct {
	Time int64 `json:"time"`
	Next int64 `json:"next"`
}

// SendData posts a message, optionally as a reply to Parent.
type SendData struct {
	Content string `json:"content"`
	Parent  string `json:"parent"`
}

// NickData sets the bot's display name.
type NickData struct {
	Name string `json:"name"`
}

// PingReplyData acknowledges a ping-event.
type PingReplyData struct {
	Time int64 `json:"time"`
}

// NewFrame marshals data into a frame of the given type.
func NewFrame(frameType string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: frameType, Data: raw}, nil
}
