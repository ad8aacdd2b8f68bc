package stream

import (
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nomadeum/nomadeum/internal/domain"
)

func TestHub_Register(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	key := domain.Key{UserID: "user123", SessionID: "tab-1"}

	hub.Register(key, conn)

	if active := hub.GetActive(key); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
	if hub.Count() != 1 {
		t.Errorf("Expected 1 active stream, got %d", hub.Count())
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	key := domain.Key{UserID: "user123", SessionID: "tab-1"}

	hub.Register(key, conn)
	hub.Unregister(key, conn)

	if active := hub.GetActive(key); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
	if hub.Count() != 0 {
		t.Errorf("Expected no active streams, got %d", hub.Count())
	}
}

func TestHub_UnregisterStale(t *testing.T) {
	hub := NewHub()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}
	tab1 := domain.Key{UserID: "user123", SessionID: "tab-1"}
	tab2 := domain.Key{UserID: "user123", SessionID: "tab-2"}

	hub.Register(tab1, conn1)

	// Another tab should remain active when stale unregister happens.
	hub.Register(tab2, conn2)

	hub.Unregister(tab1, conn1)

	if active := hub.GetActive(tab2); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestHub_UnregisterIgnoresOtherConn(t *testing.T) {
	hub := NewHub()
	current := &websocket.Conn{}
	key := domain.Key{UserID: "user123", SessionID: "tab-1"}

	hub.Register(key, current)
	hub.Unregister(key, &websocket.Conn{})

	if active := hub.GetActive(key); active != current {
		t.Errorf("Expected connection %v, got %v", current, active)
	}
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := NewHub()
	userID := "concurrentUser"

	go func() {
		for i := 0; i < 1000; i++ {
			hub.Register(domain.Key{UserID: userID, SessionID: "tab-" + strconv.Itoa(i)}, &websocket.Conn{})
		}
	}()

	go func() {
		for i := 0; i < 1000; i++ {
			hub.GetActive(domain.Key{UserID: userID, SessionID: "tab-" + strconv.Itoa(i)})
		}
	}()

	time.Sleep(100 * time.Millisecond)
}

func TestHub_CloseConversationUnknownKey(t *testing.T) {
	hub := NewHub()
	hub.CloseConversation(domain.Key{UserID: "nobody", SessionID: "tab-1"})
	if hub.Count() != 0 {
		t.Errorf("Expected no active streams, got %d", hub.Count())
	}
}
