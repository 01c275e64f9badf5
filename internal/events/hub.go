// Package events fans engine notifications out to WebSocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer      = 64
	broadcastBuffer = 256
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
	maxMessageSize  = 4096
)

// Envelope is the frame every subscriber receives.
type Envelope struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type message struct {
	eventType string
	data      []byte
}

// Hub broadcasts emitted events to every connected client. The latest
// frame of each event type is replayed to clients as they connect, so a
// fresh subscriber sees current state without asking for it.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan message

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string][]byte
	order   []string

	done chan struct{}
	once sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		logger: logger.Named("events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameHostOrigin,
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, broadcastBuffer),
		clients:    make(map[*client]struct{}),
		latest:     make(map[string][]byte),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done or Stop is
// called.
func (h *Hub) Run(ctx context.Context) {
	defer h.cleanup()
	defer h.Stop()

	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Emit queues an event for broadcast. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Emit(eventType string, payload any) {
	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		h.logger.Warn("encode event", zap.String("type", eventType), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- message{eventType: eventType, data: data}:
	case <-h.done:
	default:
		h.logger.Warn("event queue full, dropping event", zap.String("type", eventType))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	for _, eventType := range h.order {
		select {
		case c.send <- h.latest[eventType]:
		default:
		}
	}
	h.logger.Debug("client connected", zap.Int("clients", len(h.clients)))
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Debug("client disconnected", zap.Int("clients", len(h.clients)))
}

func (h *Hub) deliver(msg message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, seen := h.latest[msg.eventType]; !seen {
		h.order = append(h.order, msg.eventType)
	}
	h.latest[msg.eventType] = msg.data

	for c := range h.clients {
		select {
		case c.send <- msg.data:
		default:
			// Slow consumer.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*client]struct{})
}

// readPump discards client frames and keeps the connection's deadlines
// alive. Control arrives over HTTP.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sameHostOrigin accepts clients without an Origin header (CLI tools) and
// browser pages served from the same host.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return parsed.Host == r.Host
}
