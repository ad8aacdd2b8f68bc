package store

import (
	"context"
	"sync"
	"time"

	"github.com/nomadeum/nomadeum/internal/domain"
)

// MemoryStore implements Repository in process memory. State is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation // by id
	byKey         map[domain.Key]string
	messages      map[string][]domain.Message
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*domain.Conversation),
		byKey:         make(map[domain.Key]string),
		messages:      make(map[string][]domain.Message),
	}
}

// GetConversation retrieves the conversation of a user's tab.
func (m *MemoryStore) GetConversation(_ context.Context, userID, sessionID string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[domain.Key{UserID: userID, SessionID: sessionID}]
	if !ok {
		return nil, nil
	}
	conv := *m.conversations[id]
	return &conv, nil
}

// UpsertConversation creates or updates a conversation record.
func (m *MemoryStore) UpsertConversation(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *conv
	m.conversations[conv.ID] = &stored
	m.byKey[conv.Key()] = conv.ID
	return nil
}

// AppendMessages adds messages to the end of a conversation.
func (m *MemoryStore) AppendMessages(_ context.Context, conversationID string, msgs ...domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		msg.ConversationID = conversationID
		m.messages[conversationID] = append(m.messages[conversationID], msg)
	}
	if conv, ok := m.conversations[conversationID]; ok {
		conv.UpdatedAt = time.Now()
	}
	return nil
}

// ListMessages returns a conversation's messages in insertion order.
func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// DeleteConversation removes a conversation and its messages.
func (m *MemoryStore) DeleteConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.conversations[conversationID]; ok {
		delete(m.byKey, conv.Key())
	}
	delete(m.conversations, conversationID)
	delete(m.messages, conversationID)
	return nil
}

// GetExpiredConversations returns conversations idle for longer than ttl.
func (m *MemoryStore) GetExpiredConversations(_ context.Context, ttl time.Duration) ([]*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var expired []*domain.Conversation
	for _, conv := range m.conversations {
		if conv.Expired(ttl, now) {
			c := *conv
			expired = append(expired, &c)
		}
	}
	return expired, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
