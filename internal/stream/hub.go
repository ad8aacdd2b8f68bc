// Package stream serves chat turns over WebSocket with per-provider progress.
package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/nomadeum/nomadeum/internal/domain"
	"github.com/nomadeum/nomadeum/internal/metrics"
)

// Hub tracks the active WebSocket connection of each user tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a user tab.
func (h *Hub) GetActive(key domain.Key) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sessions, ok := h.active[key.UserID]; ok {
		return sessions[key.SessionID]
	}
	return nil
}

// Register adds a connection, closing any older one of the same tab.
func (h *Hub) Register(key domain.Key, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[key.UserID]; !exists {
		h.active[key.UserID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[key.UserID][key.SessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
		metrics.ActiveStreams.Dec()
	}

	h.active[key.UserID][key.SessionID] = conn
	metrics.ActiveStreams.Inc()
	slog.Info("Chat stream registered", "user_id", key.UserID, "session_id", key.SessionID)
}

// Unregister removes conn if it is still the tab's active connection.
func (h *Hub) Unregister(key domain.Key, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[key.UserID]; ok {
		if current, exists := sessions[key.SessionID]; exists && current == conn {
			delete(sessions, key.SessionID)
			if len(sessions) == 0 {
				delete(h.active, key.UserID)
			}
			metrics.ActiveStreams.Dec()
			slog.Info("Chat stream unregistered", "user_id", key.UserID, "session_id", key.SessionID)
		}
	}
}

// CloseConversation terminates the stream of one tab, if any.
func (h *Hub) CloseConversation(key domain.Key) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[key.UserID]
	if !ok {
		return
	}
	conn, ok := sessions[key.SessionID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "conversation expired")
	delete(sessions, key.SessionID)
	if len(sessions) == 0 {
		delete(h.active, key.UserID)
	}
	metrics.ActiveStreams.Dec()
	slog.Info("Chat stream closed", "user_id", key.UserID, "session_id", key.SessionID)
}

// CloseAll terminates every stream. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, sessions := range h.active {
		for sid, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			metrics.ActiveStreams.Dec()
			slog.Debug("Chat stream closed", "user_id", userID, "session_id", sid)
		}
	}
	h.active = make(map[string]map[string]*websocket.Conn)
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.active {
		n += len(sessions)
	}
	return n
}
