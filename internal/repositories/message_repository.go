package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger-sync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_topic, account, sender_address, sent, content,
        content_type, content_kind, content_fallback, status, referenced_message_id, reactions`

// MessageRepository defines interactions for message rows.
type MessageRepository interface {
	UpsertMessages(ctx context.Context, msgs []models.Message) error
	GetMessage(ctx context.Context, id string) (models.Message, error)
	ListMessages(ctx context.Context, topic string) ([]models.Message, error)
	CountMessages(ctx context.Context, topic string) (int, error)
	ListMessagesToSend(ctx context.Context, account string) ([]models.Message, error)
	UpdateMessageID(ctx context.Context, oldID, newID string, sent time.Time) error
	SetMessageStatus(ctx context.Context, id string, status models.MessageStatus) error
	MergeReaction(ctx context.Context, targetID, reactionID string, reaction models.StoredReaction) error
	ReassignMessages(ctx context.Context, oldTopic, newTopic string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// UpsertMessages inserts or updates rows keyed by id. The reaction map is
// preserved on conflict since it is merged through MergeReaction.
func (r *MessageRepo) UpsertMessages(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	query := `INSERT INTO messages (` + messageColumns + `)
        VALUES (:id, :conversation_topic, :account, :sender_address, :sent, :content,
                :content_type, :content_kind, :content_fallback, :status, :referenced_message_id, :reactions)
        ON CONFLICT (id) DO UPDATE SET
            conversation_topic = EXCLUDED.conversation_topic,
            sender_address = EXCLUDED.sender_address,
            sent = EXCLUDED.sent,
            content = EXCLUDED.content,
            content_type = EXCLUDED.content_type,
            content_kind = EXCLUDED.content_kind,
            content_fallback = EXCLUDED.content_fallback,
            status = EXCLUDED.status,
            referenced_message_id = EXCLUDED.referenced_message_id`
	for _, msg := range msgs {
		if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
			return err
		}
	}
	return nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, id string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns the ordered message sequence of a conversation.
func (r *MessageRepo) ListMessages(ctx context.Context, topic string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_topic=$1 ORDER BY sent ASC`, topic)
	return msgs, err
}

// CountMessages counts the messages of a conversation.
func (r *MessageRepo) CountMessages(ctx context.Context, topic string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE conversation_topic=$1`, topic)
	return count, err
}

// ListMessagesToSend returns the send queue: messages still in sending status
// belonging to non-pending conversations, oldest first.
func (r *MessageRepo) ListMessagesToSend(ctx context.Context, account string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT m.id, m.conversation_topic, m.account, m.sender_address,
            m.sent, m.content, m.content_type, m.content_kind, m.content_fallback, m.status,
            m.referenced_message_id, m.reactions
        FROM messages m
        INNER JOIN conversations c ON c.topic = m.conversation_topic
        WHERE m.account=$1 AND m.status=$2 AND c.pending=FALSE
        ORDER BY m.sent ASC`, account, models.StatusSending)
	return msgs, err
}

// UpdateMessageID rewrites a row's id and sent timestamp in place once the
// protocol confirms the send and returns the canonical values.
func (r *MessageRepo) UpdateMessageID(ctx context.Context, oldID, newID string, sent time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET id=$1, sent=$2 WHERE id=$3`, newID, sent, oldID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SetMessageStatus updates the delivery status of a message.
func (r *MessageRepo) SetMessageStatus(ctx context.Context, id string, status models.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MergeReaction merges one reaction event into the target message's reaction
// map, last write wins per reaction message id.
func (r *MessageRepo) MergeReaction(ctx context.Context, targetID, reactionID string, reaction models.StoredReaction) error {
	payload, err := json.Marshal(reaction)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages
        SET reactions = COALESCE(reactions, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb)
        WHERE id=$1`, targetID, reactionID, payload)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ReassignMessages moves all messages from one topic to another; used when a
// duplicate conversation is merged into the surviving one.
func (r *MessageRepo) ReassignMessages(ctx context.Context, oldTopic, newTopic string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET conversation_topic=$1 WHERE conversation_topic=$2`,
		newTopic, oldTopic)
	return err
}
