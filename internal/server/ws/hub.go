// Package ws streams controller events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API key middleware guards the handshake.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// subscribeMsg changes the kinds a client receives. Entries are event kinds
// or prefixes ending in "*", e.g. "position:*".
type subscribeMsg struct {
	Action string   `json:"action"`
	Kinds  []string `json:"kinds"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

type broadcastMsg struct {
	kind string
	data []byte
}

// Config carries what the hub sends a client on connect.
type Config struct {
	// Status returns the controller status sent as the first frame.
	Status func() any
}

// Hub fans events out to connected clients. A client whose buffer is full
// misses the frame.
type Hub struct {
	cfg        Config
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger

	mu sync.RWMutex
}

// NewHub creates a Hub. Call Run before serving connections.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Publish queues ev for every subscribed client. It has the events.Handler
// signature and never blocks.
func (h *Hub) Publish(_ context.Context, ev domain.Event) {
	data, err := json.Marshal(Message{Type: string(ev.Kind), Time: ev.Time, Payload: ev.Payload})
	if err != nil {
		h.logger.Warn("encode event failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{kind: string(ev.Kind), data: data}:
	default:
		h.logger.Warn("broadcast queue full, event dropped", slog.String("kind", string(ev.Kind)))
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.kind) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping frame for slow client", slog.String("kind", msg.kind))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and subscribes the client to every kind.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"*": true},
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

func (c *client) sendStatus() {
	if c.hub.cfg.Status == nil {
		return
	}
	data, err := json.Marshal(Message{Type: "status", Time: time.Now().UTC(), Payload: c.hub.cfg.Status()})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, k := range msg.Kinds {
			c.subs[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.subs, k)
		}
	case "only":
		c.subs = make(map[string]bool, len(msg.Kinds))
		for _, k := range msg.Kinds {
			c.subs[k] = true
		}
	}
}

func (c *client) isSubscribed(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matches(c.subs, kind)
}

// matches reports whether kind is in subs directly or through a "prefix*"
// entry.
func matches(subs map[string]bool, kind string) bool {
	if subs[kind] {
		return true
	}
	for s := range subs {
		if prefix, ok := strings.CutSuffix(s, "*"); ok && strings.HasPrefix(kind, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
