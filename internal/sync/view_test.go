package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

func messageEvent(t *testing.T, eventType string, msg models.Message) models.Event {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return models.Event{Type: eventType, Payload: body}
}

func conversationEvent(t *testing.T, eventType string, conv models.Conversation) models.Event {
	t.Helper()
	body, err := json.Marshal(conv)
	require.NoError(t, err)
	return models.Event{Type: eventType, Payload: body}
}

func TestConversationViewAppendsNewMessages(t *testing.T) {
	view := NewConversationView()
	view.ApplySnapshot(nil)

	m1 := models.Message{ID: "m1", Body: "hi"}
	m2 := models.Message{ID: "m2", Body: "there"}
	assert.True(t, view.Apply(messageEvent(t, models.EventMessageNew, m1)))
	assert.True(t, view.Apply(messageEvent(t, models.EventMessageNew, m2)))

	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestConversationViewDuplicateDeliveryIsIdempotent(t *testing.T) {
	view := NewConversationView()
	view.ApplySnapshot(nil)

	m1 := models.Message{ID: "m1", Body: "hi"}
	ev := messageEvent(t, models.EventMessageNew, m1)
	assert.True(t, view.Apply(ev))
	assert.False(t, view.Apply(ev))

	msgs := view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestConversationViewBuffersEventsUntilSnapshot(t *testing.T) {
	view := NewConversationView()

	// m1 arrives over the bus before the snapshot fetch, which also
	// contains it, completes.
	m1 := models.Message{ID: "m1", Body: "hi"}
	m2 := models.Message{ID: "m2", Body: "there"}
	assert.False(t, view.Apply(messageEvent(t, models.EventMessageNew, m1)))
	assert.False(t, view.Apply(messageEvent(t, models.EventMessageNew, m2)))

	view.ApplySnapshot([]models.Message{m1})

	msgs := view.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestConversationViewUpdateReplacesEntireEntry(t *testing.T) {
	view := NewConversationView()
	view.ApplySnapshot([]models.Message{{ID: "m1", Body: "hi", SeenBy: []string{"a"}}})

	updated := models.Message{ID: "m1", Body: "hi", SeenBy: []string{"a", "b"}}
	assert.True(t, view.Apply(messageEvent(t, models.EventMessageUpdate, updated)))

	msgs := view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"a", "b"}, []string(msgs[0].SeenBy))
}

func TestConversationViewUpdateForUnknownIDIsDropped(t *testing.T) {
	view := NewConversationView()
	view.ApplySnapshot(nil)

	assert.False(t, view.Apply(messageEvent(t, models.EventMessageUpdate, models.Message{ID: "ghost"})))
	assert.Empty(t, view.Messages())
}

func TestConversationViewMalformedEventIsDropped(t *testing.T) {
	view := NewConversationView()
	view.ApplySnapshot([]models.Message{{ID: "m1"}})

	assert.False(t, view.Apply(models.Event{Type: models.EventMessageNew, Payload: []byte(`{not json`)}))
	assert.False(t, view.Apply(models.Event{Type: models.EventMessageNew, Payload: []byte(`{"body":"no id"}`)}))
	assert.False(t, view.Apply(models.Event{Type: "bogus:event", Payload: []byte(`{}`)}))

	require.Len(t, view.Messages(), 1)
}

func TestConversationViewPendingEntryIsReplacedNotDuplicated(t *testing.T) {
	view := NewConversationView()
	view.ApplySnapshot(nil)

	view.AddPending(models.Message{ID: "m1", Body: "hi", SenderID: "a"})
	require.Len(t, view.Messages(), 1)

	confirmed := models.Message{ID: "m1", Body: "hi", SenderID: "a", SeenBy: []string{"a"}}
	assert.True(t, view.Apply(messageEvent(t, models.EventMessageNew, confirmed)))

	msgs := view.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"a"}, []string(msgs[0].SeenBy))

	// A second delivery of the same confirmation is now a duplicate.
	assert.False(t, view.Apply(messageEvent(t, models.EventMessageNew, confirmed)))
	require.Len(t, view.Messages(), 1)
}

func TestListViewInsertsNewConversationFirst(t *testing.T) {
	view := NewListView()
	view.ApplySnapshot([]models.Conversation{{ID: "c1"}})

	assert.True(t, view.Apply(conversationEvent(t, models.EventConversationNew, models.Conversation{ID: "c2"})))

	convs := view.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "c1", convs[1].ID)
}

func TestListViewUpdateMovesActiveConversationToFront(t *testing.T) {
	base := time.Now()
	view := NewListView()
	view.ApplySnapshot([]models.Conversation{
		{ID: "c1", LastMessageAt: base.Add(time.Hour)},
		{ID: "c2", LastMessageAt: base},
	})

	updated := models.Conversation{ID: "c2", LastMessageAt: base.Add(2 * time.Hour)}
	assert.True(t, view.Apply(conversationEvent(t, models.EventConversationUpdate, updated)))

	convs := view.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "c1", convs[1].ID)
}

func TestListViewUpdateForUnknownConversationIsDropped(t *testing.T) {
	view := NewListView()
	view.ApplySnapshot(nil)

	assert.False(t, view.Apply(conversationEvent(t, models.EventConversationUpdate, models.Conversation{ID: "ghost"})))
	assert.Empty(t, view.Conversations())
}

func TestListViewRemoveDeletesEntry(t *testing.T) {
	view := NewListView()
	view.ApplySnapshot([]models.Conversation{{ID: "c1"}, {ID: "c2"}})

	body, err := json.Marshal(models.ConversationRemoved{ID: "c1"})
	require.NoError(t, err)
	assert.True(t, view.Apply(models.Event{Type: models.EventConversationRemove, Payload: body}))

	convs := view.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "c2", convs[0].ID)

	// Removing it again is a no-op.
	assert.False(t, view.Apply(models.Event{Type: models.EventConversationRemove, Payload: body}))
}

func TestListViewBuffersEventsUntilSnapshot(t *testing.T) {
	view := NewListView()

	c2 := models.Conversation{ID: "c2"}
	assert.False(t, view.Apply(conversationEvent(t, models.EventConversationNew, c2)))

	view.ApplySnapshot([]models.Conversation{{ID: "c1"}})

	convs := view.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
}
