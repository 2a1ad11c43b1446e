// replay_server is a minimal room server for trying the bot locally.
// It replays an optional history file as the join snapshot, sends
// keepalives, prints every frame the bot sends and turns stdin lines
// into chat messages.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-bot/internal/proto"
	"github.com/vovakirdan/wirechat-bot/internal/transport/ws"
)

type room struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	history []proto.MessageData
	nextID  atomic.Int64
}

func main() {
	addr := flag.String("addr", "localhost:8080", "listen address")
	historyPath := flag.String("history", "", "JSON file with a list of messages to replay on join")
	pingEvery := flag.Duration("ping", 30*time.Second, "keepalive interval")
	user := flag.String("user", "tester", "name used for stdin messages")
	flag.Parse()

	r := &room{conns: make(map[*websocket.Conn]struct{})}
	if *historyPath != "" {
		data, err := os.ReadFile(*historyPath)
		if err != nil {
			log.Fatalf("read history: %v", err)
		}
		if err := json.Unmarshal(data, &r.history); err != nil {
			log.Fatalf("parse history: %v", err)
		}
	}

	http.HandleFunc("/room/", func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			log.Printf("accept: %v", err)
			return
		}
		r.serve(req.Context(), conn, *pingEvery)
	})

	go r.readStdin(*user)

	log.Printf("listening on ws://%s/room/test/ws", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func (r *room) serve(ctx context.Context, conn *websocket.Conn, pingEvery time.Duration) {
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	r.mu.Lock()
	r.conns[conn] = struct{}{}
	snapshot := proto.SnapshotData{Log: append([]proto.MessageData(nil), r.history...)}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
	}()

	if err := r.send(ctx, conn, proto.InboundTypeSnapshot, snapshot); err != nil {
		log.Printf("snapshot: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				ping := proto.PingEventData{Time: now.Unix(), Next: now.Add(pingEvery).Unix()}
				if err := r.send(ctx, conn, proto.InboundTypePing, ping); err != nil {
					return
				}
			}
		}
	}()

	in := ws.Wrap(conn)
	for {
		raw, err := in.Read(ctx)
		if err != nil {
			log.Printf("client gone: %v", err)
			return
		}
		var frame proto.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("bad frame: %v", err)
			continue
		}
		fmt.Printf("<- %s %s %s\n", frame.ID, frame.Type, frame.Data)
		if frame.Type == proto.OutboundTypeSend {
			var data proto.SendData
			if err := json.Unmarshal(frame.Data, &data); err == nil {
				r.record(proto.MessageData{
					Parent:  data.Parent,
					Sender:  proto.Sender{ID: "bot:1", Name: "bot"},
					Content: data.Content,
				})
			}
		}
	}
}

func (r *room) send(ctx context.Context, conn *websocket.Conn, frameType string, data any) error {
	frame, err := proto.NewFrame(frameType, data)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, frame)
}

// record appends msg to the history and returns it with id and time filled in.
func (r *room) record(msg proto.MessageData) proto.MessageData {
	msg.ID = "m" + strconv.FormatInt(r.nextID.Add(1), 10)
	msg.Time = time.Now().Unix()
	r.mu.Lock()
	r.history = append(r.history, msg)
	r.mu.Unlock()
	return msg
}

func (r *room) readStdin(user string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		msg := r.record(proto.MessageData{
			Sender:  proto.Sender{ID: "agent:" + user, Name: user},
			Content: scanner.Text(),
		})

		r.mu.Lock()
		conns := make([]*websocket.Conn, 0, len(r.conns))
		for c := range r.conns {
			conns = append(conns, c)
		}
		r.mu.Unlock()

		for _, c := range conns {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.send(ctx, c, proto.InboundTypeSend, msg); err != nil {
				log.Printf("broadcast: %v", err)
			}
			cancel()
		}
	}
}
