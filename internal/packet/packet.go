// Package packet decodes inbound room frames into envelopes and chat messages.
package packet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-bot/internal/proto"
)

// ErrMalformed marks a frame that could not be decoded.
var ErrMalformed = errors.New("packet: malformed frame")

// Envelope is an immutable decoded frame.
type Envelope struct {
	Kind      string
	Payload   json.RawMessage
	Timestamp int64
}

// Message is one chat event. UID is server-assigned and unique.
type Message struct {
	UID        string
	Parent     string
	Sender     proto.Sender
	Content    string
	Timestamp  int64
	Historical bool
}

// UserID returns the stable part of the sender id ("agent:abc" -> "abc").
func (m Message) UserID() string {
	id := m.Sender.ID
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Batch is what the supervisor publishes on the raw topic: the messages of one frame.
type Batch struct {
	Historical bool
	Messages   []Message
}

// Ping is a decoded keepalive.
type Ping struct {
	Time int64
	Next int64
}

// Decode parses a raw frame. A frame without "data" uses the whole object as payload,
// and the timestamp falls back to now when data carries no "time".
func Decode(raw []byte, now time.Time) (*Envelope, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	env := &Envelope{Timestamp: now.Unix()}
	if rawType, ok := obj["type"]; ok {
		if err := json.Unmarshal(rawType, &env.Kind); err != nil {
			return nil, fmt.Errorf("%w: type: %v", ErrMalformed, err)
		}
	}

	data, ok := obj["data"]
	if !ok {
		env.Payload = json.RawMessage(bytes.Clone(raw))
		return env, nil
	}
	env.Payload = data

	var stamped struct {
		Time *json.Number `json:"time"`
	}
	// data may legitimately be a non-object; only objects carry a time.
	if err := json.Unmarshal(data, &stamped); err == nil && stamped.Time != nil {
		if ts, err := stamped.Time.Int64(); err == nil {
			env.Timestamp = ts
		} else if f, err := stamped.Time.Float64(); err == nil {
			env.Timestamp = int64(f)
		}
	}
	return env, nil
}

// IsKeepalive reports whether the envelope is a server ping.
func (e *Envelope) IsKeepalive() bool {
	return e.Kind == proto.InboundTypePing
}

// IsSnapshot reports whether the envelope replays room history.
func (e *Envelope) IsSnapshot() bool {
	return e.Kind == proto.InboundTypeSnapshot
}

// Ping decodes the keepalive payload.
func (e *Envelope) Ping() (Ping, error) {
	if !e.IsKeepalive() {
		return Ping{}, fmt.Errorf("packet: %q is not a ping", e.Kind)
	}
	var data proto.PingEventData
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return Ping{}, fmt.Errorf("%w: ping: %v", ErrMalformed, err)
	}
	return Ping{Time: data.Time, Next: data.Next}, nil
}

// Messages expands the envelope into chat messages in server order.
func (e *Envelope) Messages() ([]Message, error) {
	switch e.Kind {
	case proto.InboundTypeSend, proto.InboundTypeReply:
		var data proto.MessageData
		if err := json.Unmarshal(e.Payload, &data); err != nil {
			return nil, fmt.Errorf("%w: message: %v", ErrMalformed, err)
		}
		return []Message{fromData(data, false)}, nil
	case proto.InboundTypeSnapshot:
		var data proto.SnapshotData
		if err := json.Unmarshal(e.Payload, &data); err != nil {
			return nil, fmt.Errorf("%w: snapshot: %v", ErrMalformed, err)
		}
		out := make([]Message, 0, len(data.Log))
		for _, m := range data.Log {
			out = append(out, fromData(m, true))
		}
		return out, nil
	default:
		return nil, nil
	}
}

// Batch groups the envelope's messages for the raw topic.
func (e *Envelope) Batch() (*Batch, error) {
	msgs, err := e.Messages()
	if err != nil {
		return nil, err
	}
	return &Batch{Historical: e.IsSnapshot(), Messages: msgs}, nil
}

func fromData(d proto.MessageData, historical bool) Message {
	return Message{
		UID:        d.ID,
		Parent:     d.Parent,
		Sender:     d.Sender,
		Content:    d.Content,
		Timestamp:  d.Time,
		Historical: historical,
	}
}
