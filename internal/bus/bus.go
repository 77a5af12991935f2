package bus

import (
	"context"
	"sync"

	"messenger-service/internal/models"
)

// Bus is a topic publish/subscribe transport addressed by channel name.
// Publish is fire-and-forget: delivery only reaches currently-subscribed
// listeners, and a channel with no subscribers is a silent no-op. Events
// published to one channel from a single publisher reach every subscriber
// in publish order; there is no cross-channel ordering.
type Bus interface {
	Publish(ctx context.Context, channel, eventType string, payload any) error
	Subscribe(channel string) (*Subscription, error)
}

// Subscription is a cancelable event stream for one channel. C is closed
// after Cancel. Once Cancel returns, no newly-published event is delivered;
// an event already in flight at call time may still arrive.
type Subscription struct {
	C      <-chan models.Event
	cancel func()
	once   sync.Once
}

// Cancel unsubscribes and releases the subscription. Safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// NewSubscription wraps an event stream and its teardown func. Bus
// implementations and test doubles build subscriptions through this.
func NewSubscription(c <-chan models.Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// ConversationChannel names the channel carrying message events for a
// conversation.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// UserChannel names the channel carrying conversation-list events for a
// user.
func UserChannel(userID string) string {
	return "user:" + userID
}
