package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreateDirectConversation(ctx context.Context, userID, otherID string) (models.Conversation, bool, error)
	CreateGroupConversation(ctx context.Context, name string, memberIDs []string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `c.id, c.name, c.is_group, c.last_message_at, c.created_at,
    (SELECT array_agg(m.user_id ORDER BY m.position)
       FROM conversation_members m WHERE m.conversation_id = c.id) AS member_ids`

// GetOrCreateDirectConversation returns the existing two-member
// conversation for the pair or creates it. The sorted member pair forms a
// unique key, so concurrent calls converge on one row. The second return
// reports whether a new conversation was created.
func (r *ConversationRepo) GetOrCreateDirectConversation(ctx context.Context, userID, otherID string) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, errors.New("cannot create conversation with self")
	}
	pair := []string{userID, otherID}
	sort.Strings(pair)
	directKey := pair[0] + "|" + pair[1]

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (id, is_group, direct_key) VALUES ($1, FALSE, $2)
         ON CONFLICT (direct_key) DO NOTHING RETURNING id`,
		uuid.NewString(), directKey).Scan(&id)
	created := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	if created {
		for i, member := range pair {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conversation_members (conversation_id, user_id, position) VALUES ($1, $2, $3)`,
				id, member, i); err != nil {
				return models.Conversation{}, false, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}

	var conv models.Conversation
	if err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.direct_key=$1`, directKey); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

// CreateGroupConversation persists a named group with the given ordered
// members.
func (r *ConversationRepo) CreateGroupConversation(ctx context.Context, name string, memberIDs []string) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, name, is_group) VALUES ($1, $2, TRUE)`, id, name); err != nil {
		return models.Conversation{}, err
	}
	for i, member := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, position) VALUES ($1, $2, $3)`,
			id, member, i); err != nil {
			return models.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}

	return r.GetConversation(ctx, id)
}

// GetConversation fetches a conversation with its member ids.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListConversations returns the user's conversations, most recent
// activity first, each with its latest message when one exists.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT `+conversationColumns+`
         FROM conversations c
         JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id=$1
         ORDER BY c.last_message_at DESC`, userID)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		var msg models.Message
		err := r.db.GetContext(ctx, &msg,
			`SELECT `+messageColumns+` FROM messages m
             WHERE m.conversation_id=$1
             ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, convs[i].ID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		convs[i].LastMessage = &msg
	}
	return convs, nil
}

// IsMember checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// DeleteConversation removes the conversation and, via cascade, its
// members, messages, and cursors.
func (r *ConversationRepo) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// touchLastMessage keeps list ordering in sync with message activity.
func touchLastMessage(ctx context.Context, tx *sqlx.Tx, conversationID string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at=$2 WHERE id=$1 AND last_message_at < $2`,
		conversationID, at)
	return err
}
