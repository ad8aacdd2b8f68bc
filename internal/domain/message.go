package domain

import (
	"time"
)

// Role is the chat role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat entry in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Source         Source    `json:"ai_source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Attachment is a file forwarded to the providers alongside a message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// LastFrom returns the content of the latest message from source within
// msgs, or an empty string.
func LastFrom(msgs []Message, source Source) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Source == source {
			return msgs[i].Content
		}
	}
	return ""
}

// Tail returns the last n messages.
func Tail(msgs []Message, n int) []Message {
	if n >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
