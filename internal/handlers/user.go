package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/repositories"
)

// UserHandler serves the user directory used to start conversations.
type UserHandler struct {
	users repositories.UserRepository
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(users repositories.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// List returns every user except the caller.
func (h *UserHandler) List(c *gin.Context) {
	userID := c.GetString("userID")

	users, err := h.users.ListOthers(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
