package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ReadHandler applies read receipts sent by websocket clients.
type ReadHandler interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Hub fans push events from the bus out to every connected websocket
// client. A client that cannot keep up is disconnected and must reload.
type Hub struct {
	bus        *bus.Bus
	reads      ReadHandler
	log        *zap.Logger
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub fed by the push events on b.
func NewHub(b *bus.Bus, reads ReadHandler, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		bus:        b,
		reads:      reads,
		log:        log,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run forwards push events until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	events, unsub := h.bus.Subscribe(bus.PushPrefix, sendBuffer)
	defer unsub()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case evt := <-events:
			ev, ok := evt.Payload.(model.Event)
			if !ok {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("encode push event", zap.Error(err))
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("dropping slow websocket client", zap.String("remote", c.remote))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// clientMessage is a frame sent by a websocket client.
type clientMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

func (h *Hub) handleClientMessage(ctx context.Context, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Warn("failed to parse client ws message", zap.Error(err))
		return
	}
	switch msg.Type {
	case "mark_read":
		if msg.ConversationID == "" || h.reads == nil {
			return
		}
		if err := h.reads.MarkRead(ctx, msg.ConversationID); err != nil {
			h.log.Warn("failed to handle mark_read", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		}
	}
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// ServeEvents upgrades GET /v1/events to a websocket carrying push events.
func (h *Hub) ServeEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		c := &wsClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer), remote: r.RemoteAddr}
		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()
			return
		}
		h.log.Debug("websocket client connected", zap.String("remote", c.remote))

		go c.writePump()
		go c.readPump(context.WithoutCancel(r.Context()))
	}
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handleClientMessage(ctx, raw)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
