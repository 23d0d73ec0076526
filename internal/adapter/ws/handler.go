// Package ws implements the WebSocket adapter that mirrors sync status to
// dashboards.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	originPatterns []string
	snapshot       func() any

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub accepting connections from originPatterns (host
// patterns as in websocket.AcceptOptions). snapshot, when set, is sent as a
// hello message to every new connection.
func NewHub(originPatterns []string, snapshot func() any) *Hub {
	return &Hub{
		originPatterns: originPatterns,
		snapshot:       snapshot,
		conns:          make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a read-only status stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel}

	if h.snapshot != nil {
		if err := h.write(ctx, c, EventHello, h.snapshot()); err != nil {
			slog.Debug("websocket hello failed", "error", err)
			cancel()
			_ = ws.Close(websocket.StatusInternalError, "hello failed")
			return
		}
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	// Clients never send; CloseRead drains control frames and ends ctx on disconnect.
	ctx = ws.CloseRead(ctx)
	go func() {
		<-ctx.Done()
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()
}

// Broadcast sends a message to all connected clients. Slow or broken
// clients are dropped.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.remove(c)
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) write(ctx context.Context, c *conn, eventType string, payload any) error {
	data, err := encode(eventType, payload)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
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
