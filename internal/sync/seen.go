package sync

import (
	"context"
	"errors"
	"log"

	"messenger-service/internal/bus"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// SeenTracker converts "user viewed the conversation" into a durable,
// de-duplicated state change, publishing only when something actually
// advanced. Repeated view events (window refocus, reopen) are no-ops.
type SeenTracker struct {
	messages repositories.MessageRepository
	cursors  repositories.SeenRepository
	bus      bus.Bus
}

// NewSeenTracker constructs a SeenTracker.
func NewSeenTracker(messages repositories.MessageRepository, cursors repositories.SeenRepository, b bus.Bus) *SeenTracker {
	return &SeenTracker{messages: messages, cursors: cursors, bus: b}
}

// MarkSeen advances the user's cursor to the conversation's latest
// message. Returns the latest message and whether a message:update event
// was published.
//
// The cursor read short-circuits repeated calls without any write. The
// guarded upsert is the concurrency gate: of two concurrent calls for the
// same (user, conversation), exactly one advances, and the cursor never
// regresses. The seen set itself is a monotonic set-addition.
func (t *SeenTracker) MarkSeen(ctx context.Context, conversationID, userID string) (models.Message, bool, error) {
	latest, err := t.messages.GetLatestMessage(ctx, conversationID)
	if errors.Is(err, repositories.ErrNoMessages) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, err
	}

	cursor, err := t.cursors.GetCursor(ctx, conversationID, userID)
	if err == nil && !cursor.MessageAt.Before(latest.CreatedAt) {
		return latest, false, nil
	}
	if err != nil && !errors.Is(err, repositories.ErrCursorNotFound) {
		return models.Message{}, false, err
	}

	// Set-addition before the cursor: AddSeen is idempotent, so failing
	// here leaves the cursor behind and the whole call retryable. The
	// reverse order would let an advanced cursor short-circuit the retry
	// with the user missing from the seen set.
	alreadySeen := latest.SeenByUser(userID)
	if !alreadySeen {
		if err := t.messages.AddSeen(ctx, latest.ID, userID); err != nil {
			return models.Message{}, false, err
		}
		latest.SeenBy = append(latest.SeenBy, userID)
	}

	advanced, err := t.cursors.AdvanceCursor(ctx, models.SeenCursor{
		ConversationID: conversationID,
		UserID:         userID,
		MessageID:      latest.ID,
		MessageAt:      latest.CreatedAt,
	})
	if err != nil {
		return models.Message{}, false, err
	}

	// The sender is seeded into the seen set at creation; catching their
	// cursor up does not change the set, so nothing is published. A lost
	// advance race means the winning call publishes instead.
	if !advanced || alreadySeen {
		return latest, false, nil
	}

	if err := t.bus.Publish(ctx, bus.ConversationChannel(conversationID), models.EventMessageUpdate, latest); err != nil {
		log.Printf("sync: seen publish on %s failed: %v", conversationID, err)
	}
	return latest, true, nil
}
