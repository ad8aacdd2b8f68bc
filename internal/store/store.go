// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/nomadeum/nomadeum/internal/domain"
)

// Repository defines the interface for persisting conversations and their messages.
type Repository interface {
	// GetConversation retrieves the conversation of a user's tab.
	// It returns nil, nil when none exists.
	GetConversation(ctx context.Context, userID, sessionID string) (*domain.Conversation, error)

	// UpsertConversation creates or updates a conversation record.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// AppendMessages adds messages to the end of a conversation.
	AppendMessages(ctx context.Context, conversationID string, msgs ...domain.Message) error

	// ListMessages returns a conversation's messages in insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// DeleteConversation removes a conversation and its messages.
	DeleteConversation(ctx context.Context, conversationID string) error

	// GetExpiredConversations returns conversations idle for longer than ttl.
	GetExpiredConversations(ctx context.Context, ttl time.Duration) ([]*domain.Conversation, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
