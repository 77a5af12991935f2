package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository exposes the user directory.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListOthers(ctx context.Context, userID string) ([]models.User, error)
	AllExist(ctx context.Context, userIDs []string) (bool, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, name, email, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListOthers returns every user except the caller, newest first.
func (r *UserRepo) ListOthers(ctx context.Context, userID string) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT id, name, email, created_at FROM users WHERE id<>$1 ORDER BY created_at DESC`, userID)
	return users, err
}

// AllExist reports whether every id has a user row.
func (r *UserRepo) AllExist(ctx context.Context, userIDs []string) (bool, error) {
	if len(userIDs) == 0 {
		return true, nil
	}
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(DISTINCT id) FROM users WHERE id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return false, err
	}
	unique := map[string]struct{}{}
	for _, id := range userIDs {
		unique[id] = struct{}{}
	}
	return count == len(unique), nil
}
