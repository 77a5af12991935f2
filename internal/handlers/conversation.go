package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/repositories"
	"messenger-service/internal/sync"
)

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	engine        *sync.Engine
	conversations repositories.ConversationRepository
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(engine *sync.Engine, conversations repositories.ConversationRepository) *ConversationHandler {
	return &ConversationHandler{engine: engine, conversations: conversations}
}

// Create starts a direct conversation (idempotent by membership) or a
// named group.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req struct {
		MemberIDs []string `json:"member_ids" binding:"required"`
		IsGroup   bool     `json:"is_group"`
		Name      string   `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	conv, err := h.engine.CreateConversation(c.Request.Context(), userID, req.MemberIDs, req.IsGroup, req.Name)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// List returns the snapshot a conversation-list view starts from.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetString("userID")

	convs, err := h.conversations.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// Get returns a single conversation the caller belongs to.
func (h *ConversationHandler) Get(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	conv, err := h.conversations.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasMember(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// Delete removes a conversation for all members.
func (h *ConversationHandler) Delete(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	if err := h.engine.DeleteConversation(c.Request.Context(), conversationID, userID); err != nil {
		c.JSON(statusFromError(err), gin.H{"error": "could not delete conversation"})
		return
	}

	c.Status(http.StatusNoContent)
}

// MarkSeen acknowledges the conversation's latest message for the caller.
func (h *ConversationHandler) MarkSeen(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	latest, _, err := h.engine.MarkSeen(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(statusFromError(err), gin.H{"error": "could not mark seen"})
		return
	}
	if latest.ID == "" {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, latest)
}
