package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ride-simulator/internal/trip"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is one frame on the trip event stream. The first frame is
// always a snapshot; every later frame carries one event.
type StreamMessage struct {
	Kind  string         `json:"kind"`
	Trip  *trip.Snapshot `json:"trip,omitempty"`
	Event *trip.Event    `json:"event,omitempty"`
}

type streamer struct {
	trips Trips
	log   *slog.Logger
}

// Events handles GET /v1/trips/:id/events
func (s *streamer) Events(c *gin.Context) {
	id := c.Param("id")

	send := make(chan trip.Event, sendBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	snap, unsubscribe, err := s.trips.SubscribeWithSnapshot(id, func(ev trip.Event) {
		select {
		case send <- ev:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	if err != nil {
		respondError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "trip_id", id, "err", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go readPump(conn, gone)

	log := s.log.With("trip_id", id)
	log.Debug("stream opened")

	if err := writeJSON(conn, StreamMessage{Kind: "snapshot", Trip: &snap}); err != nil {
		return
	}
	if snap.Phase.Terminal() {
		closeStream(conn, websocket.CloseNormalClosure, "trip finished")
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-send:
			if err := writeJSON(conn, StreamMessage{Kind: "event", Event: &ev}); err != nil {
				log.Debug("stream write failed", "err", err)
				return
			}
			if ev.Type == trip.EventPhaseChanged && ev.Change != nil && ev.Change.To.Terminal() {
				closeStream(conn, websocket.CloseNormalClosure, "trip finished")
				return
			}
		case <-overflow:
			log.Warn("stream subscriber too slow, closing")
			closeStream(conn, websocket.ClosePolicyViolation, "subscriber too slow")
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			log.Debug("stream closed by peer")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// readPump discards client frames and keeps the pong deadline fresh.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
