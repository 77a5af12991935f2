package handlers

import (
	"errors"
	"net/http"

	"messenger-service/internal/repositories"
	"messenger-service/internal/sync"
)

// statusFromError maps store and engine errors onto HTTP statuses.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound),
		errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, sync.ErrNotMember),
		errors.Is(err, sync.ErrNotSender):
		return http.StatusForbidden
	case errors.Is(err, sync.ErrInvalidMembers):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
