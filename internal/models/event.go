package models

import "encoding/json"

// Event types carried on bus channels. Conversation channels carry the
// message events; user channels carry the conversation events.
const (
	EventMessageNew         = "messages:new"
	EventMessageUpdate      = "message:update"
	EventConversationNew    = "conversation:new"
	EventConversationUpdate = "conversation:update"
	EventConversationRemove = "conversation:remove"
)

// Event is the wire envelope delivered to channel subscribers.
type Event struct {
	Type    string          `json:"event_type"`
	Payload json.RawMessage `json:"payload"`
}

// ConversationRemoved is the payload of a conversation:remove event.
type ConversationRemoved struct {
	ID string `json:"id"`
}
