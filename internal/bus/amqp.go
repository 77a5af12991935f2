package bus

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"messenger-service/internal/observability"
)

// Publisher mirrors bus events to an external broker for out-of-process
// consumers (audit, push-notification workers).
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// MirrorEnvelope is the JSON body mirrored to the exchange.
type MirrorEnvelope struct {
	Channel    string          `json:"channel"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt string          `json:"occurred_at"`
}

// Mirror decorates a Bus: every successful local publish is also sent to
// the external publisher. Mirror failures are counted and logged, never
// surfaced; the local bus remains the source of delivery.
type Mirror struct {
	inner     Bus
	publisher Publisher
}

// NewMirror wraps inner so its events are mirrored through publisher.
func NewMirror(inner Bus, publisher Publisher) *Mirror {
	return &Mirror{inner: inner, publisher: publisher}
}

// Publish publishes locally first, then mirrors.
func (m *Mirror) Publish(ctx context.Context, channel, eventType string, payload any) error {
	if err := m.inner.Publish(ctx, channel, eventType, payload); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	envelope := MirrorEnvelope{
		Channel:    channel,
		EventType:  eventType,
		Payload:    body,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := m.publisher.Publish(ctx, routingKey(channel), envelope); err != nil {
		log.Printf("bus mirror publish failed channel=%s: %v", channel, err)
	}
	return nil
}

// Subscribe delegates to the local bus.
func (m *Mirror) Subscribe(channel string) (*Subscription, error) {
	return m.inner.Subscribe(channel)
}

// routingKey maps a channel name to an AMQP topic routing key.
func routingKey(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// NewPublisher builds an AMQP publisher or a noop publisher when AMQP is
// disabled.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Printf("rabbitmq disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	log.Printf("rabbitmq connected exchange=%s", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	log.Printf("rabbitmq noop publish routing_key=%s", routingKey)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}
