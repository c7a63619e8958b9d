// Package stream serves chat sessions over WebSocket and fans frames out to
// every connection of a session.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const defaultWriteTimeout = 5 * time.Second

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Hub tracks the open connections of each chat session.
type Hub struct {
	mu           sync.RWMutex
	active       map[string]map[Conn]struct{}
	writeTimeout time.Duration
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active:       make(map[string]map[Conn]struct{}),
		writeTimeout: defaultWriteTimeout,
	}
}

// Register adds a connection to a session. A session may have several
// connections, for example the same tab reconnecting or a mirrored view.
func (h *Hub) Register(key string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[key]; !exists {
		h.active[key] = make(map[Conn]struct{})
	}
	h.active[key][conn] = struct{}{}
	slog.Info("Chat stream registered", "session_key", key, "connections", len(h.active[key]))
}

// Unregister removes a connection from a session.
func (h *Hub) Unregister(key string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[key]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.active, key)
	}
	slog.Info("Chat stream unregistered", "session_key", key)
}

// Count returns the number of connections of a session.
func (h *Hub) Count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[key])
}

// Broadcast sends v as a JSON text frame to every connection of a session.
// Failed writes are logged and do not stop delivery to the others.
func (h *Hub) Broadcast(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.active[key]))
	for c := range h.active[key] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		if err := c.Write(writeCtx, websocket.MessageText, data); err != nil {
			slog.Debug("Chat stream write failed", "session_key", key, "error", err)
		}
		cancel()
	}
	return nil
}

// CloseSession closes every connection of a session. It is used when the
// session is evicted.
func (h *Hub) CloseSession(key string) {
	h.mu.Lock()
	conns, ok := h.active[key]
	delete(h.active, key)
	h.mu.Unlock()

	if !ok {
		return
	}
	for c := range conns {
		_ = c.Close(websocket.StatusNormalClosure, "session expired")
	}
	slog.Info("Chat stream session closed", "session_key", key, "connections", len(conns))
}
