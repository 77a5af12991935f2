package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var ErrCursorNotFound = errors.New("seen cursor not found")

// SeenRepository persists per-(user, conversation) seen cursors.
type SeenRepository interface {
	GetCursor(ctx context.Context, conversationID, userID string) (models.SeenCursor, error)
	AdvanceCursor(ctx context.Context, cursor models.SeenCursor) (bool, error)
}

// SeenRepo is a sqlx implementation of SeenRepository.
type SeenRepo struct {
	db *sqlx.DB
}

// NewSeenRepo constructs a SeenRepo.
func NewSeenRepo(db *sqlx.DB) *SeenRepo {
	return &SeenRepo{db: db}
}

// GetCursor fetches the cursor for the pair.
func (r *SeenRepo) GetCursor(ctx context.Context, conversationID, userID string) (models.SeenCursor, error) {
	var cursor models.SeenCursor
	err := r.db.GetContext(ctx, &cursor,
		`SELECT conversation_id, user_id, message_id, message_at, updated_at
         FROM seen_cursors WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SeenCursor{}, ErrCursorNotFound
	}
	return cursor, err
}

// AdvanceCursor upserts the cursor, guarded so it only moves forward.
// Returns false when an equal or newer cursor is already in place, which
// makes concurrent advances safe: the cursor never regresses.
func (r *SeenRepo) AdvanceCursor(ctx context.Context, cursor models.SeenCursor) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO seen_cursors (conversation_id, user_id, message_id, message_at, updated_at)
         VALUES ($1, $2, $3, $4, NOW())
         ON CONFLICT (conversation_id, user_id) DO UPDATE
           SET message_id = EXCLUDED.message_id,
               message_at = EXCLUDED.message_at,
               updated_at = NOW()
           WHERE seen_cursors.message_at < EXCLUDED.message_at`,
		cursor.ConversationID, cursor.UserID, cursor.MessageID, cursor.MessageAt)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
