// Package bot contains the handlers shared by every persona and the persona
// table used to assemble a bot on the bus.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/command"
	"github.com/vovakirdan/wirechat-bot/internal/handler"
	"github.com/vovakirdan/wirechat-bot/internal/log"
	"github.com/vovakirdan/wirechat-bot/internal/media"
	"github.com/vovakirdan/wirechat-bot/internal/metrics"
	"github.com/vovakirdan/wirechat-bot/internal/packet"
	"github.com/vovakirdan/wirechat-bot/internal/store"
)

// Deps are the collaborators handed to every handler factory.
type Deps struct {
	Store     store.Store
	Resolver  media.Resolver
	Clock     clock.Clock
	Logger    *zerolog.Logger
	Metrics   *metrics.Metrics
	InboxSize int
	PlayGrace time.Duration
}

func (d Deps) clock() clock.Clock {
	if d.Clock == nil {
		return clock.New()
	}
	return d.Clock
}

// PacketHandler turns raw batches into commands: it drops uids already
// stored, resolves media, persists prepared commands and publishes them.
type PacketHandler struct {
	*handler.Loop

	parser   *command.Parser
	store    store.Store
	resolver media.Resolver
	log      *zerolog.Logger
}

// NewPacketHandler builds the packet handler with the default kinds enabled.
func NewPacketHandler(d Deps) *PacketHandler {
	logger := log.Component(d.Logger, command.ParserName)
	h := &PacketHandler{
		Loop:     handler.NewLoop(command.ParserName, d.InboxSize, logger),
		parser:   command.NewParser(),
		store:    d.Store,
		resolver: d.Resolver,
		log:      logger,
	}
	h.Route(bus.TopicRaw, h.handleRaw)
	h.OnError(func(bus.Topic, any, error) { d.Metrics.DispatchFailed(command.ParserName) })
	return h
}

// Spec implements bus.Handler.
func (h *PacketHandler) Spec() bus.Spec {
	return bus.Spec{
		Name:     command.ParserName,
		Consumes: []bus.Topic{bus.TopicRaw},
		Produces: []bus.Topic{command.TopicCommands, command.TopicControl},
	}
}

// RequestSupport implements bus.Negotiator.
func (h *PacketHandler) RequestSupport(kinds []string) []string {
	return h.parser.RequestSupport(kinds)
}

// Parser exposes the enabled kinds.
func (h *PacketHandler) Parser() *command.Parser { return h.parser }

func (h *PacketHandler) handleRaw(ctx context.Context, payload any) error {
	batch, ok := payload.(*packet.Batch)
	if !ok {
		return fmt.Errorf("unexpected raw payload %T", payload)
	}

	if batch.Historical {
		if err := h.Emit(ctx, command.TopicControl, command.BacklogStart); err != nil {
			return err
		}
		defer func() {
			if err := h.Emit(ctx, command.TopicControl, command.BacklogEnd); err != nil {
				h.log.Error().Err(err).Msg("publish backlog end")
			}
		}()
	}

	for _, msg := range batch.Messages {
		if err := h.handleMessage(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			h.log.Error().Err(err).Str("uid", msg.UID).Msg("message dropped")
		}
		if h.Closing() {
			break
		}
	}
	return nil
}

func (h *PacketHandler) handleMessage(ctx context.Context, msg packet.Message) error {
	if h.store != nil {
		exists, err := h.store.Exists(ctx, msg.UID)
		if err != nil {
			return fmt.Errorf("check uid: %w", err)
		}
		if exists {
			if !msg.Historical {
				h.log.Debug().Str("uid", msg.UID).Msg("ignoring known message")
			}
			return nil
		}
	}

	def, ok := h.parser.Match(msg.Content)
	if !ok {
		return nil
	}
	cmd := command.New(def, msg)

	if err := cmd.Prepare(ctx, h.resolver); err != nil {
		h.log.Debug().Err(err).Str("uid", msg.UID).Str("kind", string(cmd.Kind)).Msg("failed to prepare")
	}
	if cmd.Prepared() && h.store != nil {
		item, err := cmd.Record()
		if err != nil {
			return err
		}
		if _, err := h.store.Insert(ctx, item); err != nil {
			return fmt.Errorf("store %s: %w", cmd.UID, err)
		}
	}
	if cmd.Kind == command.KindHelp {
		cmd.Help = h.parser.HelpText()
	}

	h.log.Debug().Str("uid", cmd.UID).Str("kind", string(cmd.Kind)).Bool("historical", cmd.Historical).Msg("command")
	return h.Emit(ctx, command.TopicCommands, cmd)
}
