package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/plaid"
)

const (
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

// HubOptions configure a Hub.
type HubOptions struct {
	// OriginPatterns are passed to the websocket handshake. Empty allows
	// only same-origin connections.
	OriginPatterns []string
	Logger         logging.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts event responses to every connected listener.
//
// A single goroutine owns registration and fan-out; each connection has
// its own write pump so a slow listener never blocks the others.
type Hub struct {
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *client
	unregister chan *websocket.Conn

	originPatterns []string
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewHub starts a hub. It runs until Shutdown.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:        make(map[*websocket.Conn]*client),
		broadcast:      make(chan []byte, 256),
		register:       make(chan *client, 32),
		unregister:     make(chan *websocket.Conn, 32),
		originPatterns: opts.OriginPatterns,
		logger:         logger.WithComponent("push_hub"),
		ctx:            ctx,
		cancel:         cancel,
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "Websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// Publish sends r to every listener. It reports false when the hub is
// shut down or its queue is full.
func (h *Hub) Publish(r *plaid.EventResponse) bool {
	data, err := json.Marshal(Message{Type: MessageTypeResponse, Response: r, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error(h.ctx, errors.NewInternalError(errors.ErrCodeInternalError, "marshal push message", err),
			"Dropping push message")
		return false
	}

	select {
	case <-h.ctx.Done():
		return false
	default:
	}
	select {
	case h.broadcast <- data:
		return true
	case <-h.ctx.Done():
		return false
	default:
		h.logger.Warn(h.ctx, nil, "Broadcast queue full, dropping push message")
		return false
	}
}

// Clients returns the number of connected listeners.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.cancel()

		h.clientsMutex.Lock()
		for conn := range h.clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		h.clients = make(map[*websocket.Conn]*client)
		h.clientsMutex.Unlock()

		h.logger.Info(ctx, "Push hub shut down")
	})
	return nil
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clientsMutex.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "Listener connected", "clients", total)

		case conn := <-h.unregister:
			h.remove(conn)

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(c.send)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug(h.ctx, "Listener disconnected", "clients", total)
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.clientsMutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMutex.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			go h.drop(c.conn)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// readPump discards client frames; it exists to notice disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c.conn)
	for {
		if _, _, err := c.conn.Read(h.ctx); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "Listener read ended", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "Push write failed", "error", err)
				h.drop(c.conn)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				h.drop(c.conn)
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}
