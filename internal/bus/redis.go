package bus

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// Redis implements Bus over Redis pub/sub so multiple service instances
// share one logical channel namespace.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish sends the event envelope to the Redis channel.
func (b *Redis) Publish(ctx context.Context, channel, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(models.Event{Type: eventType, Payload: body})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, envelope).Err(); err != nil {
		return err
	}
	observability.IncBusPublish(eventType)
	return nil
}

// Subscribe opens a Redis subscription on the channel. The first receive
// confirms the subscription before Subscribe returns, so events published
// afterwards are not missed.
func (b *Redis) Subscribe(channel string) (*Subscription, error) {
	pubsub := b.client.Subscribe(context.Background(), channel)
	if _, err := pubsub.Receive(context.Background()); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan models.Event)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("bus: malformed event on %s dropped: %v", channel, err)
					observability.IncReconcileDropped("malformed")
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	return NewSubscription(out, func() {
		close(done)
		_ = pubsub.Close()
	}), nil
}
