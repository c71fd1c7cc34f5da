package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

const wsWriteWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub streams decoded snapshots as JSON to connected WebSocket clients.
// Register, unregister and broadcast are serialised through Run.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan model.Snapshot
	done       chan struct{}
	mu         sync.RWMutex
	count      int
	log        logging.Logger
}

// NewHub returns a hub; call Run to start it.
func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan model.Snapshot, 16),
		done:       make(chan struct{}),
		log:        log.With(logging.String("component", "ws_hub")),
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.log.Debug(ctx, "websocket client connected", logging.String("remote", c.RemoteAddr().String()))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case snap := <-h.broadcast:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := c.WriteJSON(snap); err != nil {
					h.log.Debug(ctx, "dropping websocket client", logging.Err(err))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	delete(h.clients, c)
	_ = c.Close()
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
		return
	}

	// Clients only listen; reading detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
				return
			}
		}
	}()
}

func (h *Hub) Name() string { return "websocket" }

// Publish queues the snapshot for broadcast. A full queue drops the frame
// rather than stalling the simulation.
func (h *Hub) Publish(_ context.Context, f Frame) error {
	select {
	case h.broadcast <- f.Snapshot:
	case <-h.done:
	default:
	}
	return nil
}

// Close is a no-op; the hub stops with the context passed to Run.
func (h *Hub) Close() error { return nil }
