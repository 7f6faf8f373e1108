// Package covpush is a push-style value-change channel for observers that
// are not BACnet devices: a websocket fan-out of every applied value
// change, independent of and in addition to BACnet COV subscriptions.
// Hub implements cov.Broadcaster structurally, so this package does not
// import cov; httpapi registers Hub's handler through its own PushHandler
// interface.
package covpush

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/covgateway/gateway/bacnetobj"
)

// pushMessage is the wire shape of one broadcast value change.
type pushMessage struct {
	Object      string               `json:"object"`
	Value       bacnetobj.Value      `json:"value"`
	StatusFlags bacnetobj.StatusFlags `json:"statusFlags"`
}

// client is one connected websocket observer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out broadcast value changes to every connected client. It is
// safe for concurrent use; Broadcast is called from the COV manager's
// notify path and must never block on a slow client.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub constructs a push hub. logger may be nil.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   logger.With("component", "covpush"),
		clients:  make(map[*client]struct{}),
	}
}

// Broadcast implements cov.Broadcaster. A client whose send buffer is
// full is treated the same way a full COV fanout queue is treated
// elsewhere in the pipeline: the message is dropped and logged rather
// than backing up the notify path.
func (h *Hub) Broadcast(key bacnetobj.ObjectKey, value bacnetobj.Value, flags bacnetobj.StatusFlags) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	payload, err := json.Marshal(pushMessage{Object: key.String(), Value: value, StatusFlags: flags})
	if err != nil {
		h.logger.Warn("failed to marshal push message", "object", key.String(), "error", err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("push client too slow, dropping message", "object", key.String())
		}
	}
}

// ServeHTTP upgrades the request to a websocket connection and registers
// it for broadcasts until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains c.send to the socket until it is closed by unregister
// or a write fails.
func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.unregister(c)
			return
		}
	}
}

// readLoop only exists to notice when the peer closes the connection;
// this channel carries no inbound messages.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Count returns the number of currently connected push clients, for
// /status reporting.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
