// Package http serves the bot's operational endpoints.
package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-bot/internal/songqueue"
	"github.com/vovakirdan/wirechat-bot/internal/store"
	"github.com/vovakirdan/wirechat-bot/internal/supervisor"
)

const (
	readHeaderTimeout = 5 * time.Second
	// recentPlaysWindow bounds the play events listed on /status.
	recentPlaysWindow = time.Hour
)

// Connection is the view of the supervisor exposed on /status.
type Connection interface {
	State() supervisor.State
	Session() string
	Deadline() time.Time
}

// Queue is implemented by the song queue scheduler.
type Queue interface {
	Status() songqueue.Status
}

// Actions reports how many outbound actions wait for a connection.
type Actions interface {
	Pending() int
}

// History lists persisted items of one type.
type History interface {
	ListByType(ctx context.Context, itemType string, since int64) ([]store.Item, error)
}

// Options select what the server exposes. Nil fields are left out.
type Options struct {
	Addr       string
	Connection Connection
	Queue      Queue
	Actions    Actions
	History    History
	Metrics    stdhttp.Handler
}

// NewServer builds the ops HTTP server.
func NewServer(opts Options, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(opts, logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// NewRouter registers the ops routes.
func NewRouter(opts Options, logger *zerolog.Logger) *gin.Engine {
	return newRouter(opts, logger, time.Now)
}

func newRouter(opts Options, logger *zerolog.Logger, now func() time.Time) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	h := &handlers{
		conn:    opts.Connection,
		queue:   opts.Queue,
		actions: opts.Actions,
		history: opts.History,
		now:     now,
	}
	router.GET("/health", h.health)
	router.GET("/status", h.status)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return router
}
