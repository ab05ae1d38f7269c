package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopeer-io/adfleet/internal/hub/presence"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Admin tokens travel in the query string, so the origin adds nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the websocket form of a frame.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// writeFrame renders f in Server-Sent-Events framing.
func writeFrame(w io.Writer, f presence.Frame) error {
	if f.IsComment() {
		_, err := fmt.Fprintf(w, ": %s\n\n", f.Comment)
		return err
	}
	data, err := json.Marshal(f.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", f.Event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, data)
	return err
}

func startEventStream(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// pumpEvents drains q into an event stream until the client goes away,
// the stream is closed or the server shuts down. sub is closed on return.
func (s *Server) pumpEvents(w http.ResponseWriter, r *http.Request, q *presence.QueueStream, sub *presence.Subscription) {
	defer sub.Close()
	defer q.Close()

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		s.log.Error(err, "Response does not support streaming", "path", r.URL.Path)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case <-q.Done():
			return
		case f := <-q.Frames():
			if err := writeFrame(w, f); err != nil {
				s.log.Debug("Event stream write failed", "path", r.URL.Path, "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// serveEventStream attaches an SSE observer through attach.
func (s *Server) serveEventStream(w http.ResponseWriter, r *http.Request, attach func(presence.Stream) *presence.Subscription) {
	q := presence.NewQueueStream(s.opts.StreamQueue)
	startEventStream(w)
	s.pumpEvents(w, r, q, attach(q))
}

// serveWebSocket attaches a websocket observer through attach. Comment
// frames become pings.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, attach func(presence.Stream) *presence.Subscription) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "path", r.URL.Path, "error", err)
		return
	}
	defer conn.Close()

	q := presence.NewQueueStream(s.opts.StreamQueue)
	sub := attach(q)
	defer sub.Close()
	defer q.Close()

	// Observers never send data; the read loop only services pongs and close.
	go func() {
		defer q.Close()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}

	for {
		select {
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-q.Done():
			return
		case <-ticker.C:
			if err := ping(); err != nil {
				return
			}
		case f := <-q.Frames():
			if f.IsComment() {
				err = ping()
			} else {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err = conn.WriteJSON(envelope{Event: string(f.Event), Data: f.Data})
			}
			if err != nil {
				s.log.Debug("WebSocket write failed", "path", r.URL.Path, "error", err)
				return
			}
		}
	}
}
