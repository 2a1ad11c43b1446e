package bot

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/command"
	"github.com/vovakirdan/wirechat-bot/internal/handler"
	"github.com/vovakirdan/wirechat-bot/internal/log"
)

// ReplyName is the reply handler's bus name.
const ReplyName = "reply"

// ReplyHandler sends each command's immediate replies, except during backlog.
type ReplyHandler struct {
	*handler.Loop

	clock     clock.Clock
	inBacklog bool
}

// NewReplyHandler builds the reply handler.
func NewReplyHandler(d Deps) *ReplyHandler {
	h := &ReplyHandler{
		Loop:  handler.NewLoop(ReplyName, d.InboxSize, log.Component(d.Logger, ReplyName)),
		clock: d.clock(),
	}
	h.Route(command.TopicCommands, h.handleCommand)
	h.Route(command.TopicControl, h.handleControl)
	h.OnSetup(func(context.Context) error {
		h.inBacklog = false
		return nil
	})
	h.OnError(func(bus.Topic, any, error) { d.Metrics.DispatchFailed(ReplyName) })
	return h
}

// Spec implements bus.Handler.
func (h *ReplyHandler) Spec() bus.Spec {
	return bus.Spec{
		Name:     ReplyName,
		Consumes: []bus.Topic{command.TopicCommands, command.TopicControl},
		Produces: []bus.Topic{bus.TopicAction},
		Requires: []string{command.ParserName},
	}
}

func (h *ReplyHandler) handleControl(_ context.Context, payload any) error {
	switch payload {
	case command.BacklogStart:
		h.inBacklog = true
	case command.BacklogEnd:
		h.inBacklog = false
	default:
		return fmt.Errorf("unexpected control %v", payload)
	}
	return nil
}

func (h *ReplyHandler) handleCommand(ctx context.Context, payload any) error {
	cmd, ok := payload.(*command.Command)
	if !ok {
		return fmt.Errorf("unexpected command payload %T", payload)
	}
	if h.inBacklog || cmd.Historical {
		return nil
	}
	for _, a := range cmd.Replies(h.clock.Now()) {
		if err := h.Emit(ctx, bus.TopicAction, a); err != nil {
			return err
		}
	}
	return nil
}
