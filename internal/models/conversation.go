package models

import (
	"time"

	"github.com/lib/pq"
)

// Conversation represents a direct or group conversation.
// A direct conversation has exactly two members.
type Conversation struct {
	ID            string         `db:"id" json:"id"`
	Name          string         `db:"name" json:"name,omitempty"`
	IsGroup       bool           `db:"is_group" json:"is_group"`
	MemberIDs     pq.StringArray `db:"member_ids" json:"member_ids"`
	LastMessageAt time.Time      `db:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`

	// LastMessage is populated on list snapshots and conversation:update
	// events so list views can render previews without a second fetch.
	LastMessage *Message `json:"last_message,omitempty"`
}

// HasMember reports whether the user belongs to the conversation.
func (c Conversation) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
