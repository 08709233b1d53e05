package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"syncgate/internal/events"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// StreamMessage is one frame on the job stream.
type StreamMessage struct {
	Type  string        `json:"type"`
	Event *events.Event `json:"event,omitempty"`
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
	writeWait  = 10 * time.Second
)

// streamJobs upgrades to a websocket and forwards job events for the requested queues
// (?queue=, repeatable, default all) optionally narrowed to one job (?jobId=).
func (s *Server) streamJobs(w http.ResponseWriter, r *http.Request) {
	queues := r.URL.Query()["queue"]
	known := s.jobs.Queues()
	if len(queues) == 0 {
		queues = known
	}
	for _, q := range queues {
		if !slices.Contains(known, q) {
			writeProblem(w, http.StatusNotFound, "Not Found", "unknown queue "+q, r.URL.Path)
			return
		}
	}
	jobID := r.URL.Query().Get("jobId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	merged := make(chan events.Event, 64)
	subs := make(map[string]chan events.Event, len(queues))
	for _, q := range queues {
		ch := s.broker.Subscribe(q)
		subs[q] = ch
		go func(ch chan events.Event) {
			for evt := range ch {
				select {
				case merged <- evt:
				default:
				}
			}
		}(ch)
	}
	defer func() {
		for q, ch := range subs {
			s.broker.Unsubscribe(q, ch)
		}
	}()

	// Reader: handles pongs and notices the client going away.
	closed := make(chan struct{})
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(m StreamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m)
	}
	if err := write(StreamMessage{Type: "connection_ack"}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt := <-merged:
			if jobID != "" && evt.JobID != jobID {
				continue
			}
			if err := write(StreamMessage{Type: "event", Event: &evt}); err != nil {
				s.logger.Debug("stream write failed", zap.Error(err))
				return
			}
		}
	}
}

// DecodeStreamMessage parses a frame from the job stream.
func DecodeStreamMessage(b []byte) (StreamMessage, error) {
	var m StreamMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
