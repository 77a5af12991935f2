package sync

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"messenger-service/internal/bus"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

var (
	ErrNotMember      = errors.New("not a conversation member")
	ErrNotSender      = errors.New("only the sender can update a message")
	ErrInvalidMembers = errors.New("invalid member set")
)

// Engine mediates between the store and the bus. Every mutating operation
// persists first and publishes only after the durable commit; a failed
// write never produces an event.
type Engine struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	users         repositories.UserRepository
	seen          *SeenTracker
	bus           bus.Bus
}

// NewEngine builds the engine and its seen tracker.
func NewEngine(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	users repositories.UserRepository,
	cursors repositories.SeenRepository,
	b bus.Bus,
) *Engine {
	return &Engine{
		conversations: conversations,
		messages:      messages,
		users:         users,
		seen:          NewSeenTracker(messages, cursors, b),
		bus:           b,
	}
}

// SendMessage validates membership, persists the message with the sender
// seeded into its seen set, then publishes messages:new on the
// conversation channel and conversation:update on every member's user
// channel. A client-supplied UUID is kept so optimistic local entries
// reconcile by id; anything else is replaced server-side.
func (e *Engine) SendMessage(ctx context.Context, conversationID, senderID, messageID, body, image string) (models.Message, error) {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.HasMember(senderID) {
		return models.Message{}, ErrNotMember
	}

	if _, err := uuid.Parse(messageID); err != nil {
		messageID = uuid.NewString()
	}

	msg, err := e.messages.CreateMessage(ctx, messageID, conversationID, senderID, body, image)
	if err != nil {
		return models.Message{}, err
	}

	e.publish(ctx, bus.ConversationChannel(conversationID), models.EventMessageNew, msg)

	conv.LastMessage = &msg
	conv.LastMessageAt = msg.CreatedAt
	for _, member := range conv.MemberIDs {
		e.publish(ctx, bus.UserChannel(member), models.EventConversationUpdate, conv)
	}
	return msg, nil
}

// UpdateMessage persists the patch and publishes message:update carrying
// the full updated message, so views replace by id instead of merging.
func (e *Engine) UpdateMessage(ctx context.Context, messageID, callerID string, patch models.MessagePatch) (models.Message, error) {
	msg, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != callerID {
		return models.Message{}, ErrNotSender
	}

	updated, err := e.messages.UpdateMessage(ctx, messageID, patch)
	if err != nil {
		return models.Message{}, err
	}

	e.publish(ctx, bus.ConversationChannel(updated.ConversationID), models.EventMessageUpdate, updated)
	return updated, nil
}

// CreateConversation creates a group conversation, or returns the
// existing direct conversation for the pair instead of a duplicate.
// conversation:new is published on each member's user channel only when a
// conversation was actually created.
func (e *Engine) CreateConversation(ctx context.Context, creatorID string, memberIDs []string, isGroup bool, name string) (models.Conversation, error) {
	if isGroup {
		if name == "" || len(memberIDs) < 2 {
			return models.Conversation{}, ErrInvalidMembers
		}
	} else if len(memberIDs) != 1 || memberIDs[0] == creatorID {
		return models.Conversation{}, ErrInvalidMembers
	}

	all := append([]string{creatorID}, memberIDs...)
	ok, err := e.users.AllExist(ctx, all)
	if err != nil {
		return models.Conversation{}, err
	}
	if !ok {
		return models.Conversation{}, repositories.ErrUserNotFound
	}

	if !isGroup {
		conv, created, err := e.conversations.GetOrCreateDirectConversation(ctx, creatorID, memberIDs[0])
		if err != nil {
			return models.Conversation{}, err
		}
		if created {
			for _, member := range conv.MemberIDs {
				e.publish(ctx, bus.UserChannel(member), models.EventConversationNew, conv)
			}
		}
		return conv, nil
	}

	conv, err := e.conversations.CreateGroupConversation(ctx, name, all)
	if err != nil {
		return models.Conversation{}, err
	}
	for _, member := range conv.MemberIDs {
		e.publish(ctx, bus.UserChannel(member), models.EventConversationNew, conv)
	}
	return conv, nil
}

// DeleteConversation removes the conversation and tells every member's
// list view to drop it.
func (e *Engine) DeleteConversation(ctx context.Context, conversationID, callerID string) error {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(callerID) {
		return ErrNotMember
	}

	if err := e.conversations.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	removed := models.ConversationRemoved{ID: conversationID}
	for _, member := range conv.MemberIDs {
		e.publish(ctx, bus.UserChannel(member), models.EventConversationRemove, removed)
	}
	return nil
}

// MarkSeen records that the user has viewed the conversation. Delegates
// to the seen tracker; when the tracker published an update, the acker's
// own list view also gets a conversation:update so unread badges clear.
func (e *Engine) MarkSeen(ctx context.Context, conversationID, userID string) (models.Message, bool, error) {
	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, false, err
	}
	if !conv.HasMember(userID) {
		return models.Message{}, false, ErrNotMember
	}

	latest, published, err := e.seen.MarkSeen(ctx, conversationID, userID)
	if err != nil {
		return models.Message{}, false, err
	}
	if published {
		conv.LastMessage = &latest
		conv.LastMessageAt = latest.CreatedAt
		e.publish(ctx, bus.UserChannel(userID), models.EventConversationUpdate, conv)
	}
	return latest, published, nil
}

// publish is fire-and-forget: the write already committed, so a failed
// publish is accepted as eventual-consistency loss recovered by the next
// snapshot fetch.
func (e *Engine) publish(ctx context.Context, channel, eventType string, payload any) {
	if err := e.bus.Publish(ctx, channel, eventType, payload); err != nil {
		log.Printf("sync: publish %s on %s failed: %v", eventType, channel, err)
	}
}
