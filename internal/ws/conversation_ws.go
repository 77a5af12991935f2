package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/bus"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
	"messenger-service/internal/sync"
)

// snapshotEvent is the first frame of every socket: the point-in-time
// state the live events are applied on top of.
const snapshotEvent = "snapshot"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConversationSocketHandler serves live conversation views. Each socket
// owns one ConversationView: subscribe, snapshot, then stream reconciled
// events until the client goes away.
type ConversationSocketHandler struct {
	bus           bus.Bus
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	engine        *sync.Engine
	secret        []byte
}

// NewConversationSocketHandler constructs a ConversationSocketHandler.
func NewConversationSocketHandler(b bus.Bus, conversations repositories.ConversationRepository, messages repositories.MessageRepository, engine *sync.Engine, secret []byte) *ConversationSocketHandler {
	return &ConversationSocketHandler{
		bus:           b,
		conversations: conversations,
		messages:      messages,
		engine:        engine,
		secret:        secret,
	}
}

// Handle upgrades the connection and runs the session view.
func (h *ConversationSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := authenticate(c, h.secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.conversations.IsMember(ctx, conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	// Subscribe before the snapshot load so nothing published in between
	// is missed; the gap is covered by the subscription queue and the
	// view's dedup against the snapshot.
	sub, err := h.bus.Subscribe(bus.ConversationChannel(conversationID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Cancel()
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	observability.IncWSActive("conversation")
	observability.IncWSEvent("conversation", "ws_connect")

	go h.stream(context.WithoutCancel(ctx), conn, sub, conversationID, userID)
	go readLoop(conn, sub, "conversation", info)
}

func (h *ConversationSocketHandler) stream(ctx context.Context, conn *websocket.Conn, sub *bus.Subscription, conversationID, userID string) {
	view := sync.NewConversationView()

	msgs, err := h.messages.ListMessages(ctx, conversationID)
	if err != nil {
		log.Printf("ws: snapshot load failed conversation=%s: %v", conversationID, err)
		sub.Cancel()
		conn.Close()
		return
	}
	view.ApplySnapshot(msgs)

	snapshot, err := json.Marshal(view.Messages())
	if err != nil {
		sub.Cancel()
		conn.Close()
		return
	}
	if err := conn.WriteJSON(models.Event{Type: snapshotEvent, Payload: snapshot}); err != nil {
		sub.Cancel()
		conn.Close()
		return
	}

	// Opening a conversation acknowledges its latest message.
	h.markSeen(ctx, conversationID, userID)

	for ev := range sub.C {
		if !view.Apply(ev) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("websocket write error: %v", err)
			observability.IncWSEvent("conversation", "ws_error")
			sub.Cancel()
			conn.Close()
			return
		}
		// An open conversation acknowledges every message someone else
		// sends into it, not just the one visible at open.
		if ev.Type == models.EventMessageNew {
			var msg models.Message
			if json.Unmarshal(ev.Payload, &msg) == nil && msg.SenderID != userID {
				h.markSeen(ctx, conversationID, userID)
			}
		}
	}
}

func (h *ConversationSocketHandler) markSeen(ctx context.Context, conversationID, userID string) {
	if _, _, err := h.engine.MarkSeen(ctx, conversationID, userID); err != nil {
		log.Printf("ws: mark seen failed conversation=%s user=%s: %v", conversationID, userID, err)
	}
}

// readLoop drains client frames to detect disconnects and tears the
// session down exactly once.
func readLoop(conn *websocket.Conn, sub *bus.Subscription, kind string, info ConnInfo) {
	defer func() {
		sub.Cancel()
		conn.Close()
		observability.DecWSActive(kind)
		observability.IncWSEvent(kind, "ws_disconnect")
		log.Printf("ws disconnect kind=%s conn_id=%s user=%s device=%s ip=%s request_id=%s trace_id=%s duration_ms=%d",
			kind, info.ConnID, info.UserID, info.DeviceID, info.IP, info.RequestID, info.TraceID,
			time.Since(info.ConnectedAt).Milliseconds())
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(kind, "ws_error")
			}
			return
		}
	}
}
