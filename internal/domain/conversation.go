package domain

import (
	"time"
)

// Conversation holds the chat state of one browser tab (or chat) of a user.
type Conversation struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Mode       Mode      `json:"mode"`
	SelectedAI Source    `json:"selected_ai"`
	DebateOpen bool      `json:"debate_open"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key addresses a conversation by owner and tab.
type Key struct {
	UserID    string
	SessionID string
}

// Key returns the addressing key of the conversation.
func (c *Conversation) Key() Key {
	return Key{UserID: c.UserID, SessionID: c.SessionID}
}

// Expired reports whether the conversation has been idle longer than ttl.
func (c *Conversation) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(c.UpdatedAt) > ttl
}
