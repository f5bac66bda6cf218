package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// Hub fans composite-score updates out to WebSocket clients. Slow clients
// get dropped messages, never a blocked broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	latest  map[string][]byte // last envelope per symbol, replayed on connect

	upgrader websocket.Upgrader

	// OnClientCountChange, when set, receives the client count after every
	// register/unregister (metrics gauge).
	OnClientCountChange func(count int)
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]bool),
		latest:  make(map[string][]byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Broadcast sends a score update to every connected client and records it
// as the symbol's latest for replay to new connections.
func (h *Hub) Broadcast(symbol string, score model.CompositeScore) {
	envelope, err := json.Marshal(map[string]interface{}{
		"type":   "score",
		"symbol": symbol,
		"score":  score,
		"ts":     time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.latest[symbol] = envelope
	for client := range h.clients {
		select {
		case client.send <- envelope:
		default:
			// client too slow, drop this update for it
		}
	}
	h.mu.Unlock()
}

// HandleWS upgrades the connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] ws upgrade failed: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 256)}
	client.hub = h

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	for _, envelope := range h.latest {
		select {
		case client.send <- envelope:
		default:
		}
	}
	h.mu.Unlock()

	log.Printf("[server] ws client connected (%d total)", count)
	if h.OnClientCountChange != nil {
		h.OnClientCountChange(count)
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	if h.OnClientCountChange != nil {
		h.OnClientCountChange(count)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages; it exists to notice disconnects and
// answer pings.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
