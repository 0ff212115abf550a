// Package ws implements the websocket adapter: a lossy, best-effort mirror
// of execution and trigger activity for a desktop UI to render live,
// alongside (never instead of) the durable postgres/event-bus path.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all websocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single websocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active websocket connections and broadcasts messages to
// every one of them. There is exactly one desktop client in the common
// case, but nothing here assumes that — a second window, or a future
// mobile companion app, just becomes another connection.
type Hub struct {
	mu          sync.RWMutex
	conns       map[*conn]struct{}
	allowOrigin string // allowed websocket origin, empty accepts any
}

// NewHub creates a new websocket hub with origin validation.
func NewHub(allowOrigin string) *Hub {
	return &Hub{
		conns:       make(map[*conn]struct{}),
		allowOrigin: allowOrigin,
	}
}

// HandleWS upgrades the request to a websocket connection and registers it
// with the hub until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if h.allowOrigin != "" {
		opts.OriginPatterns = []string{h.allowOrigin}
	}

	wsConn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: wsConn, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Read loop blocks the handler to keep r.Context() alive. Returning
	// from the handler would cancel the request context and immediately
	// tear down the hijacked connection.
	defer func() {
		h.remove(c)
		_ = wsConn.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		_, _, err := wsConn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// Publish implements port/eventbus.Publisher so Hub can sit alongside (or
// in place of) the NATS publisher as a UI event sink. subject becomes the
// message type; a failed broadcast is logged and swallowed, matching the
// port's best-effort contract.
func (h *Hub) Publish(ctx context.Context, subject string, payload []byte) error {
	h.Broadcast(ctx, Message{Type: subject, Payload: json.RawMessage(payload)})
	return nil
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
