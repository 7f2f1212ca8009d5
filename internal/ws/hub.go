// Package ws streams engine events to the sidebar and settings UI over
// WebSocket: session snapshots, whitelist mutations, and filter refreshes.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/infrastructure/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	// The control API binds to loopback; the UI process is the only peer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one message pushed to connected UIs.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Event types.
const (
	EventSessionUpdated = "session_updated"
	EventSiteAdded      = "site_added"
	EventSiteRemoved    = "site_removed"
	EventFilterSwapped  = "filter_swapped"
	EventFocusRequested = "focus_requested"
)

// NewEvent builds a timestamped event.
func NewEvent(eventType string, payload interface{}) Event {
	return Event{Type: eventType, Payload: payload, Timestamp: time.Now().Unix()}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

// Hub fans engine events out to all connected clients. A slow client is
// disconnected rather than allowed to stall the rest.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	log     *logging.Logger
	closed  bool
}

// NewHub creates an event hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		clients: make(map[string]*client),
		log:     log,
	}
}

// Broadcast queues an event for every connected client.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.log.Warn("dropping slow event client", zap.String("client_id", c.id))
			go c.conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and serves events until the peer
// disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Event, sendBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[cl.id] = cl
	h.mu.Unlock()

	h.log.Debug("event client connected", zap.String("client_id", cl.id))

	go h.writePump(cl)
	h.readPump(cl)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl.id]; ok {
		delete(h.clients, cl.id)
		close(cl.send)
	}
	h.mu.Unlock()
}

// readPump drains the connection; clients only send pings.
func (h *Hub) readPump(cl *client) {
	defer func() {
		h.remove(cl)
		cl.conn.Close()
		h.log.Debug("event client disconnected", zap.String("client_id", cl.id))
	}()

	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case event, ok := <-cl.send:
			if !ok {
				cl.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
