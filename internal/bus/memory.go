package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// Memory is the in-process Bus implementation. It keeps an explicit
// per-channel registry of subscribers guarded by a lock; subscribe and
// unsubscribe are the only mutators.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]map[string]*subscriber
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]map[string]*subscriber)}
}

// subscriber buffers events in an unbounded queue between the publisher
// and the delivery channel so a slow consumer never blocks Publish and no
// event is dropped while subscribed.
type subscriber struct {
	mu     sync.Mutex
	queue  []models.Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
	out    chan models.Event
}

func (s *subscriber) enqueue(ev models.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// Publish marshals the payload and fans it out to every current subscriber
// of the channel. No subscribers is not an error.
func (m *Memory) Publish(ctx context.Context, channel, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := models.Event{Type: eventType, Payload: body}

	m.mu.RLock()
	subs := m.channels[channel]
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(ev)
	}
	observability.IncBusPublish(eventType)
	return nil
}

// Subscribe registers a subscriber on the channel and starts its delivery
// pump.
func (m *Memory) Subscribe(channel string) (*Subscription, error) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan models.Event),
	}
	subID := uuid.NewString()

	m.mu.Lock()
	if _, ok := m.channels[channel]; !ok {
		m.channels[channel] = make(map[string]*subscriber)
	}
	m.channels[channel][subID] = s
	m.mu.Unlock()

	go s.pump()

	return NewSubscription(s.out, func() { m.unsubscribe(channel, subID) }), nil
}

func (m *Memory) unsubscribe(channel, subID string) {
	m.mu.Lock()
	subs := m.channels[channel]
	s, ok := subs[subID]
	if ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// Close cancels every subscription.
func (m *Memory) Close() {
	m.mu.Lock()
	channels := m.channels
	m.channels = make(map[string]map[string]*subscriber)
	m.mu.Unlock()

	for _, subs := range channels {
		for _, s := range subs {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			close(s.done)
		}
	}
}
