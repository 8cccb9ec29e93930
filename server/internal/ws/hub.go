package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Feed produces the messages of one stream. Initial may be called from many
// goroutines; Next is only called from Run.
type Feed interface {
	Initial() (any, error)
	Next() (any, error)
}

// Hub fans one Feed out to its connected clients.
type Hub struct {
	name     string
	feed     Feed
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}

	// onClients observes the client count after every change.
	onClients func(stream string, n int)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub named name that polls feed every interval.
func New(name string, feed Feed, interval time.Duration) *Hub {
	return &Hub{
		name:     name,
		feed:     feed,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Name returns the stream name given to New.
func (h *Hub) Name() string { return h.name }

// OnClients registers fn to observe client count changes. Call before serving.
func (h *Hub) OnClients(fn func(stream string, n int)) { h.onClients = fn }

// Run polls the feed every interval and broadcasts non-nil messages. It blocks
// until ctx is cancelled, then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.tick()
		}
	}
}

// ServeHTTP upgrades the connection, sends the feed's initial message and
// then relays broadcasts until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrader has already written the error response
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	// The initial message goes first, while c.send is still private to this
	// goroutine.
	if msg, err := h.feed.Initial(); err != nil {
		slog.Warn("ws: initial message", "stream", h.name, "err", err)
	} else if data, err := encode(msg); err == nil && data != nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) tick() {
	if h.Count() == 0 {
		// Still advance cursors so a later client is not flooded with backlog.
		_, _ = h.feed.Next()
		return
	}
	msg, err := h.feed.Next()
	if err != nil {
		slog.Warn("ws: next message", "stream", h.name, "err", err)
		return
	}
	data, err := encode(msg)
	if err != nil || data == nil {
		return
	}
	h.Broadcast(data)
}

// Broadcast queues data for every client, dropping clients that are full.
func (h *Hub) Broadcast(data []byte) {
	// Sends happen under the read lock: channels are only closed under the
	// write lock.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Debug("ws: dropping slow client", "stream", h.name)
		h.unregister(c)
	}
}

func encode(msg any) ([]byte, error) {
	if msg == nil {
		return nil, nil
	}
	return json.Marshal(msg)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.notify(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.notify(n)
	}
}

func (h *Hub) notify(n int) {
	if h.onClients != nil {
		h.onClients(h.name, n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.notify(0)
}

// writePump drains the send channel to the connection and sends pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
