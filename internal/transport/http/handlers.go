package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-bot/internal/command"
	"github.com/vovakirdan/wirechat-bot/internal/supervisor"
)

type handlers struct {
	conn    Connection
	queue   Queue
	actions Actions
	history History
	now     func() time.Time
}

// health reports 200 while connected and 503 otherwise.
// GET /health
func (h *handlers) health(c *gin.Context) {
	if h.conn != nil && h.conn.State() != supervisor.Connected {
		c.String(http.StatusServiceUnavailable, h.conn.State().String())
		return
	}
	c.String(http.StatusOK, "ok")
}

// GET /status
func (h *handlers) status(c *gin.Context) {
	resp := toStatusResponse(h.conn, h.queue)
	if h.actions != nil {
		n := h.actions.Pending()
		resp.PendingActions = &n
	}
	if h.history != nil {
		since := h.now().Add(-recentPlaysWindow).Unix()
		items, err := h.history.ListByType(c.Request.Context(), string(command.KindPlay), since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recent plays"})
			return
		}
		resp.RecentPlays = toPlays(items)
	}
	c.JSON(http.StatusOK, resp)
}
