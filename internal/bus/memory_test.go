package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

type testPayload struct {
	N int `json:"n"`
}

func receiveOne(t *testing.T, sub *Subscription) models.Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func TestMemoryPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := NewMemory()
	err := b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: 1})
	require.NoError(t, err)
}

func TestMemoryDeliversToSubscriber(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: 7}))

	ev := receiveOne(t, sub)
	assert.Equal(t, models.EventMessageNew, ev.Type)

	var got testPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, 7, got.N)
}

func TestMemoryPerChannelOrdering(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)
	defer sub.Cancel()

	const total = 100
	for i := 0; i < total; i++ {
		require.NoError(t, b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: i}))
	}

	for i := 0; i < total; i++ {
		ev := receiveOne(t, sub)
		var got testPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &got))
		require.Equal(t, i, got.N)
	}
}

func TestMemorySlowSubscriberLosesNothing(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)
	defer sub.Cancel()

	// Publish far more than any channel buffer before reading a thing.
	const total = 5000
	for i := 0; i < total; i++ {
		require.NoError(t, b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: i}))
	}

	for i := 0; i < total; i++ {
		ev := receiveOne(t, sub)
		var got testPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &got))
		require.Equal(t, i, got.N)
	}
}

func TestMemoryFanOut(t *testing.T) {
	b := NewMemory()
	subA, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)
	defer subA.Cancel()
	subB, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)
	defer subB.Cancel()

	require.NoError(t, b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: 1}))

	assert.Equal(t, models.EventMessageNew, receiveOne(t, subA).Type)
	assert.Equal(t, models.EventMessageNew, receiveOne(t, subB).Type)
}

func TestMemoryChannelsAreIsolated(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, b.Publish(context.Background(), "conversation:c2", models.EventMessageNew, testPayload{N: 1}))
	require.NoError(t, b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: 2}))

	ev := receiveOne(t, sub)
	var got testPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, 2, got.N)
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)

	sub.Cancel()

	// Published after Cancel returned: must never be delivered.
	require.NoError(t, b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: 1}))

	for range sub.C {
		t.Fatal("received event after cancel")
	}
}

func TestMemoryCancelIsIdempotent(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()
}

func TestMemoryConcurrentPublishAndCancel(t *testing.T) {
	b := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, err := b.Subscribe("conversation:c1")
		require.NoError(t, err)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for range sub.C {
			}
		}()
		go func() {
			defer wg.Done()
			sub.Cancel()
		}()
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Publish(context.Background(), "conversation:c1", models.EventMessageNew, testPayload{N: i}))
	}
	wg.Wait()
}

func TestMemoryClose(t *testing.T) {
	b := NewMemory()
	sub, err := b.Subscribe("conversation:c1")
	require.NoError(t, err)

	b.Close()

	for range sub.C {
		t.Fatal("received event after close")
	}
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "conversation:c1", ConversationChannel("c1"))
	assert.Equal(t, "user:u1", UserChannel("u1"))
}
