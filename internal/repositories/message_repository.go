package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNoMessages      = errors.New("conversation has no messages")
)

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, id, conversationID, senderID, body, image string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	UpdateMessage(ctx context.Context, messageID string, patch models.MessagePatch) (models.Message, error)
	GetLatestMessage(ctx context.Context, conversationID string) (models.Message, error)
	AddSeen(ctx context.Context, messageID, userID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.body, m.image, m.created_at,
    COALESCE((SELECT array_agg(s.user_id ORDER BY s.seen_at)
       FROM message_seen s WHERE s.message_id = m.id), '{}') AS seen_by`

// CreateMessage stores a message with the sender seeded into its seen set
// and bumps the conversation's activity timestamp, all in one transaction.
func (r *MessageRepo) CreateMessage(ctx context.Context, id, conversationID, senderID, body, image string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, image) VALUES ($1, $2, $3, $4, $5)
         RETURNING id, conversation_id, sender_id, body, image, created_at`,
		id, conversationID, senderID, body, image).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &msg.Image, &msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_seen (message_id, user_id) VALUES ($1, $2)`, msg.ID, senderID); err != nil {
		return models.Message{}, err
	}
	if err := touchLastMessage(ctx, tx, conversationID, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}

	msg.SeenBy = []string{senderID}
	return msg, nil
}

// ListMessages returns the conversation's messages oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages m
         WHERE m.conversation_id=$1
         ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	return msgs, err
}

// GetMessage retrieves a single message with its seen set.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessage applies the patch and returns the full updated message.
func (r *MessageRepo) UpdateMessage(ctx context.Context, messageID string, patch models.MessagePatch) (models.Message, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET body = COALESCE($2, body), image = COALESCE($3, image) WHERE id=$1`,
		messageID, patch.Body, patch.Image)
	if err != nil {
		return models.Message{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.Message{}, err
	}
	if count == 0 {
		return models.Message{}, ErrMessageNotFound
	}
	return r.GetMessage(ctx, messageID)
}

// GetLatestMessage returns the most recent message of the conversation.
func (r *MessageRepo) GetLatestMessage(ctx context.Context, conversationID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages m
         WHERE m.conversation_id=$1
         ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNoMessages
	}
	return msg, err
}

// AddSeen adds the user to the message's seen set. The set only grows;
// repeated adds are no-ops.
func (r *MessageRepo) AddSeen(ctx context.Context, messageID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_seen (message_id, user_id) VALUES ($1, $2)
         ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	return err
}
