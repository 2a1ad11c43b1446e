package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-bot/internal/action"
	"github.com/vovakirdan/wirechat-bot/internal/bot"
	"github.com/vovakirdan/wirechat-bot/internal/bus"
	"github.com/vovakirdan/wirechat-bot/internal/config"
	"github.com/vovakirdan/wirechat-bot/internal/log"
	"github.com/vovakirdan/wirechat-bot/internal/media"
	"github.com/vovakirdan/wirechat-bot/internal/metrics"
	"github.com/vovakirdan/wirechat-bot/internal/songqueue"
	"github.com/vovakirdan/wirechat-bot/internal/store"
	"github.com/vovakirdan/wirechat-bot/internal/store/sqlite"
	"github.com/vovakirdan/wirechat-bot/internal/supervisor"
	"github.com/vovakirdan/wirechat-bot/internal/transport"
	transporthttp "github.com/vovakirdan/wirechat-bot/internal/transport/http"
	"github.com/vovakirdan/wirechat-bot/internal/transport/ws"
)

// App wires the persona, the bus and the connection supervisor together.
type App struct {
	supervisor      *supervisor.Supervisor
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the bot described by cfg. Nothing connects until Run.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	persona, err := bot.Lookup(cfg.Persona)
	if err != nil {
		return nil, err
	}
	nick := cfg.Nick
	if nick == "" {
		nick = persona.Nick
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	m := metrics.New()
	b := bus.New(log.Component(logger, "bus"))
	deps := bot.Deps{
		Store:     st,
		Resolver:  newResolver(cfg.Media, logger),
		Logger:    logger,
		Metrics:   m,
		InboxSize: cfg.InboxSize,
		PlayGrace: cfg.PlayGrace,
	}
	if err := persona.Install(bus.NewBuilder(b), deps); err != nil {
		_ = st.Close()
		return nil, err
	}

	link := transport.NewLink()
	exec := action.NewExecutor(link, nil, cfg.InboxSize, log.Component(logger, "executor"), m)
	sup, err := supervisor.New(b, ws.Dialer{}, link, exec, supervisor.Options{
		URL:             cfg.RoomURL,
		StartupAttempts: cfg.ConnectAttempts,
		RetryDelay:      cfg.RetryDelay,
		MonitorInterval: cfg.MonitorInterval,
		KeepaliveMargin: cfg.KeepaliveMargin,
		ShutdownTimeout: cfg.ShutdownTimeout,
		OnConnect: func(ctx context.Context) error {
			return b.Publish(ctx, bus.TopicAction, action.Nick{Name: nick})
		},
		Logger:  log.Component(logger, "supervisor"),
		Metrics: m,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		supervisor:      sup,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}
	if cfg.OpsAddr != "" {
		opts := transporthttp.Options{
			Addr:       cfg.OpsAddr,
			Connection: sup,
			Actions:    exec,
			History:    st,
			Metrics:    m.Handler(),
		}
		if h, ok := b.Handler(songqueue.Name); ok {
			if q, ok := h.(transporthttp.Queue); ok {
				opts.Queue = q
			}
		}
		a.server = transporthttp.NewServer(opts, log.Component(logger, "ops"))
	}
	return a, nil
}

func newResolver(cfg config.MediaConfig, logger *zerolog.Logger) media.Resolver {
	if cfg.APIKey == "" {
		logger.Warn().Msg("no media api key configured, queued links will not resolve")
		return media.Static{}
	}
	return media.NewYouTube(cfg.APIURL, cfg.APIKey, cfg.Timeout)
}

// Run connects to the room and blocks until ctx is cancelled or the bot
// cannot continue. Shutdown is graceful in both cases.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.supervisor.Run(gctx)
	})

	if a.server != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", a.server.Addr).Msg("ops server listening")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
			defer cancel()

			a.log.Info().Msg("shutting down ops server")
			return a.server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
