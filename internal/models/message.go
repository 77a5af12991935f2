package models

import (
	"time"

	"github.com/lib/pq"
)

// Message represents a message inside a conversation.
type Message struct {
	ID             string         `db:"id" json:"id"`
	ConversationID string         `db:"conversation_id" json:"conversation_id"`
	SenderID       string         `db:"sender_id" json:"sender_id"`
	Body           string         `db:"body" json:"body"`
	Image          string         `db:"image" json:"image,omitempty"`
	SeenBy         pq.StringArray `db:"seen_by" json:"seen_by"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// SeenByUser reports whether the user already appears in the seen set.
func (m Message) SeenByUser(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}

// MessagePatch carries the mutable message fields for an update.
type MessagePatch struct {
	Body  *string `json:"body,omitempty"`
	Image *string `json:"image,omitempty"`
}

// SeenCursor tracks the latest message a user has acknowledged in a
// conversation. It only advances.
type SeenCursor struct {
	UserID         string    `db:"user_id" json:"user_id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	MessageID      string    `db:"message_id" json:"message_id"`
	MessageAt      time.Time `db:"message_at" json:"message_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
