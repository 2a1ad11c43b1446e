package http

import (
	"time"

	"github.com/vovakirdan/wirechat-bot/internal/command"
	"github.com/vovakirdan/wirechat-bot/internal/media"
	"github.com/vovakirdan/wirechat-bot/internal/store"
)

// StatusResponse is the /status body.
type StatusResponse struct {
	Connection     *ConnectionResponse `json:"connection,omitempty"`
	Queue          *QueueResponse      `json:"queue,omitempty"`
	PendingActions *int                `json:"pending_actions,omitempty"`
	RecentPlays    []EntryResponse     `json:"recent_plays,omitempty"`
}

type ConnectionResponse struct {
	State    string     `json:"state"`
	Session  string     `json:"session,omitempty"`
	Deadline *time.Time `json:"keepalive_deadline,omitempty"`
}

type QueueResponse struct {
	Current   *EntryResponse  `json:"current,omitempty"`
	Entries   []EntryResponse `json:"entries"`
	Expecting bool            `json:"expecting_play"`
	InBacklog bool            `json:"in_backlog"`
}

type EntryResponse struct {
	UID       string `json:"uid"`
	User      string `json:"user"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Title     string `json:"title,omitempty"`
	URL       string `json:"url,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

func toStatusResponse(conn Connection, queue Queue) StatusResponse {
	var resp StatusResponse
	if conn != nil {
		cr := &ConnectionResponse{State: conn.State().String(), Session: conn.Session()}
		if d := conn.Deadline(); !d.IsZero() {
			d = d.UTC()
			cr.Deadline = &d
		}
		resp.Connection = cr
	}
	if queue != nil {
		st := queue.Status()
		qr := &QueueResponse{
			Entries:   make([]EntryResponse, 0, len(st.Queue)),
			Expecting: st.Expecting,
			InBacklog: st.Backlog,
		}
		if st.Current != nil {
			e := toEntry(st.Current)
			qr.Current = &e
		}
		for _, cmd := range st.Queue {
			qr.Entries = append(qr.Entries, toEntry(cmd))
		}
		resp.Queue = qr
	}
	return resp
}

func toEntry(cmd *command.Command) EntryResponse {
	e := EntryResponse{UID: cmd.UID, User: cmd.User.Name, Timestamp: cmd.Timestamp}
	if cmd.Media != nil {
		e.Title = cmd.Media.Title
		e.URL = cmd.Media.PlayURL()
		e.Duration = media.FormatDuration(cmd.Duration())
	}
	return e
}

// toPlays maps stored play events, skipping records that no longer decode.
func toPlays(items []store.Item) []EntryResponse {
	plays := make([]EntryResponse, 0, len(items))
	for _, item := range items {
		cmd, err := command.FromRecord(item)
		if err != nil {
			continue
		}
		plays = append(plays, toEntry(cmd))
	}
	return plays
}
