package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/sync"
)

// MessageHandler manages message endpoints.
type MessageHandler struct {
	engine        *sync.Engine
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(engine *sync.Engine, conversations repositories.ConversationRepository, messages repositories.MessageRepository) *MessageHandler {
	return &MessageHandler{engine: engine, conversations: conversations, messages: messages}
}

// List returns the snapshot a conversation view starts from.
func (h *MessageHandler) List(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	member, err := h.conversations.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Post stores a message and publishes it to all open sessions. The client
// may supply its own UUID so its optimistic pending entry reconciles with
// the confirmed event.
func (h *MessageHandler) Post(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	var req struct {
		ID    string `json:"id"`
		Body  string `json:"body"`
		Image string `json:"image"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Body == "" && req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body or image required"})
		return
	}

	msg, err := h.engine.SendMessage(c.Request.Context(), conversationID, userID, req.ID, req.Body, req.Image)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": "failed to store message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Patch updates a message's content; the full updated message is
// published so views replace rather than merge.
func (h *MessageHandler) Patch(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.GetString("userID")

	var patch models.MessagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if patch.Body == nil && patch.Image == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty patch"})
		return
	}

	msg, err := h.engine.UpdateMessage(c.Request.Context(), messageID, userID, patch)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": "could not update message"})
		return
	}

	c.JSON(http.StatusOK, msg)
}
