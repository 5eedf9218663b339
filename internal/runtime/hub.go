package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-narrate/internal/protocol"
)

const (
	hubSendBuffer = 64
	hubWriteWait  = 5 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = hubPongWait * 9 / 10
)

// envelope is the websocket frame for one narration event.
type envelope struct {
	Subject string `json:"subject"`
	Event   any    `json:"event"`
}

// Hub fans narration events out to websocket clients. Emit never blocks:
// a client that falls behind loses events rather than stalling playback.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	initial  func() any
	logger   *slog.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(logger *slog.Logger, initial func() any) *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		initial: initial,
		logger:  logger.With(slog.String("component", "ws-hub")),
	}
}

// Emit implements playback.EventSink.
func (h *Hub) Emit(evt protocol.Event) {
	data, err := json.Marshal(envelope{Subject: evt.Subject(), Event: evt})
	if err != nil {
		h.logger.Warn("failed to encode event", slog.String("subject", evt.Subject()), slog.String("error", err.Error()))
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("dropping event for slow client", slog.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

// Len reports connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer)}

	if h.initial != nil {
		data, err := json.Marshal(envelope{Subject: protocol.SubjectSnapshot, Event: h.initial()})
		if err == nil {
			c.send <- data
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", slog.String("remote", conn.RemoteAddr().String()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(c)
	}()
	h.readLoop(c)

	h.remove(c)
	<-done
	_ = conn.Close()
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readLoop drains client frames so control messages are processed and a
// closed connection is noticed.
func (h *Hub) readLoop(c *hubClient) {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
