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

// FeedSocketHandler serves live conversation-list views over the caller's
// user channel.
type FeedSocketHandler struct {
	bus           bus.Bus
	conversations repositories.ConversationRepository
	secret        []byte
}

// NewFeedSocketHandler constructs a FeedSocketHandler.
func NewFeedSocketHandler(b bus.Bus, conversations repositories.ConversationRepository, secret []byte) *FeedSocketHandler {
	return &FeedSocketHandler{bus: b, conversations: conversations, secret: secret}
}

// Handle upgrades the connection and runs the list view session.
func (h *FeedSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := authenticate(c, h.secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	sub, err := h.bus.Subscribe(bus.UserChannel(userID))
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
	observability.IncWSActive("feed")
	observability.IncWSEvent("feed", "ws_connect")

	go h.stream(context.WithoutCancel(ctx), conn, sub, userID)
	go readLoop(conn, sub, "feed", info)
}

func (h *FeedSocketHandler) stream(ctx context.Context, conn *websocket.Conn, sub *bus.Subscription, userID string) {
	view := sync.NewListView()

	convs, err := h.conversations.ListConversations(ctx, userID)
	if err != nil {
		log.Printf("ws: snapshot load failed user=%s: %v", userID, err)
		sub.Cancel()
		conn.Close()
		return
	}
	view.ApplySnapshot(convs)

	snapshot, err := json.Marshal(view.Conversations())
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

	for ev := range sub.C {
		if !view.Apply(ev) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("websocket write error: %v", err)
			observability.IncWSEvent("feed", "ws_error")
			sub.Cancel()
			conn.Close()
			return
		}
	}
}
