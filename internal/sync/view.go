package sync

import (
	"encoding/json"
	"log"
	"sync"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// ConversationView is a client session's live projection of one open
// conversation: an ordered message sequence plus an id index so dedup and
// replace are constant-time and "at most one entry per id" holds
// structurally. Events arriving before the snapshot is applied are
// buffered and replayed in arrival order; anything already present in the
// snapshot is discarded.
//
// Apply is synchronous and mutates only local state. Malformed events are
// logged and dropped, never fatal.
type ConversationView struct {
	mu          sync.Mutex
	messages    []models.Message
	index       map[string]int
	pending     map[string]struct{}
	snapshotted bool
	buffer      []models.Event
}

// NewConversationView creates an empty view awaiting its snapshot.
func NewConversationView() *ConversationView {
	return &ConversationView{
		index:   make(map[string]int),
		pending: make(map[string]struct{}),
	}
}

// ApplySnapshot seeds the view from the store's point-in-time read, then
// replays events buffered during the load.
func (v *ConversationView) ApplySnapshot(msgs []models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.messages = make([]models.Message, 0, len(msgs))
	v.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		if _, ok := v.index[m.ID]; ok {
			continue
		}
		v.index[m.ID] = len(v.messages)
		v.messages = append(v.messages, m)
	}
	v.snapshotted = true

	buffered := v.buffer
	v.buffer = nil
	for _, ev := range buffered {
		v.applyLocked(ev)
	}
}

// Apply reconciles one incoming event. Returns whether local state
// changed.
func (v *ConversationView) Apply(ev models.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.snapshotted {
		v.buffer = append(v.buffer, ev)
		return false
	}
	return v.applyLocked(ev)
}

func (v *ConversationView) applyLocked(ev models.Event) bool {
	switch ev.Type {
	case models.EventMessageNew:
		msg, ok := decodeMessage(ev)
		if !ok {
			return false
		}
		if pos, exists := v.index[msg.ID]; exists {
			if _, isPending := v.pending[msg.ID]; isPending {
				v.messages[pos] = msg
				delete(v.pending, msg.ID)
				return true
			}
			observability.IncReconcileDropped("duplicate")
			return false
		}
		v.index[msg.ID] = len(v.messages)
		v.messages = append(v.messages, msg)
		return true

	case models.EventMessageUpdate:
		msg, ok := decodeMessage(ev)
		if !ok {
			return false
		}
		pos, exists := v.index[msg.ID]
		if !exists {
			observability.IncReconcileDropped("unknown_id")
			return false
		}
		v.messages[pos] = msg
		return true

	default:
		observability.IncReconcileDropped("unexpected_type")
		return false
	}
}

// AddPending inserts an optimistic local entry tagged as pending. The
// entry is replaced in place, not duplicated, when the confirming
// messages:new for the same id arrives.
func (v *ConversationView) AddPending(msg models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.index[msg.ID]; ok {
		return
	}
	v.index[msg.ID] = len(v.messages)
	v.messages = append(v.messages, msg)
	v.pending[msg.ID] = struct{}{}
}

// Messages returns a copy of the current ordered sequence.
func (v *ConversationView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// ListView is a client session's projection of its conversation list,
// ordered most-recent first. Same snapshot/buffer/replay lifecycle as
// ConversationView.
type ListView struct {
	mu            sync.Mutex
	conversations []models.Conversation
	index         map[string]int
	snapshotted   bool
	buffer        []models.Event
}

// NewListView creates an empty list view awaiting its snapshot.
func NewListView() *ListView {
	return &ListView{index: make(map[string]int)}
}

// ApplySnapshot seeds the view and replays buffered events.
func (v *ListView) ApplySnapshot(convs []models.Conversation) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.conversations = make([]models.Conversation, 0, len(convs))
	v.index = make(map[string]int, len(convs))
	for _, c := range convs {
		if _, ok := v.index[c.ID]; ok {
			continue
		}
		v.index[c.ID] = len(v.conversations)
		v.conversations = append(v.conversations, c)
	}
	v.snapshotted = true

	buffered := v.buffer
	v.buffer = nil
	for _, ev := range buffered {
		v.applyLocked(ev)
	}
}

// Apply reconciles one incoming user-channel event.
func (v *ListView) Apply(ev models.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.snapshotted {
		v.buffer = append(v.buffer, ev)
		return false
	}
	return v.applyLocked(ev)
}

func (v *ListView) applyLocked(ev models.Event) bool {
	switch ev.Type {
	case models.EventConversationNew:
		conv, ok := decodeConversation(ev)
		if !ok {
			return false
		}
		if pos, exists := v.index[conv.ID]; exists {
			v.conversations[pos] = conv
			observability.IncReconcileDropped("duplicate")
			return true
		}
		v.insertFront(conv)
		return true

	case models.EventConversationUpdate:
		conv, ok := decodeConversation(ev)
		if !ok {
			return false
		}
		pos, exists := v.index[conv.ID]
		if !exists {
			observability.IncReconcileDropped("unknown_id")
			return false
		}
		moved := conv.LastMessageAt.After(v.conversations[pos].LastMessageAt)
		v.conversations[pos] = conv
		if moved {
			v.removeAt(pos)
			v.insertFront(conv)
		}
		return true

	case models.EventConversationRemove:
		var removed models.ConversationRemoved
		if err := json.Unmarshal(ev.Payload, &removed); err != nil || removed.ID == "" {
			log.Printf("view: dropping malformed %s event: %v", ev.Type, err)
			observability.IncReconcileDropped("malformed")
			return false
		}
		pos, exists := v.index[removed.ID]
		if !exists {
			observability.IncReconcileDropped("unknown_id")
			return false
		}
		v.removeAt(pos)
		delete(v.index, removed.ID)
		return true

	default:
		observability.IncReconcileDropped("unexpected_type")
		return false
	}
}

func (v *ListView) insertFront(conv models.Conversation) {
	v.conversations = append([]models.Conversation{conv}, v.conversations...)
	for i, c := range v.conversations {
		v.index[c.ID] = i
	}
}

func (v *ListView) removeAt(pos int) {
	v.conversations = append(v.conversations[:pos], v.conversations[pos+1:]...)
	for i := pos; i < len(v.conversations); i++ {
		v.index[v.conversations[i].ID] = i
	}
}

// Conversations returns a copy of the current ordered sequence.
func (v *ListView) Conversations() []models.Conversation {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.Conversation, len(v.conversations))
	copy(out, v.conversations)
	return out
}

func decodeMessage(ev models.Event) (models.Message, bool) {
	var msg models.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil || msg.ID == "" {
		log.Printf("view: dropping malformed %s event: %v", ev.Type, err)
		observability.IncReconcileDropped("malformed")
		return models.Message{}, false
	}
	return msg, true
}

func decodeConversation(ev models.Event) (models.Conversation, bool) {
	var conv models.Conversation
	if err := json.Unmarshal(ev.Payload, &conv); err != nil || conv.ID == "" {
		log.Printf("view: dropping malformed %s event: %v", ev.Type, err)
		observability.IncReconcileDropped("malformed")
		return models.Conversation{}, false
	}
	return conv, true
}
