package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger-sync/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// maxBindParameters caps the number of bound parameters per statement for the
// raw batch paths (the backing store rejects statements above its ceiling).
const maxBindParameters = 1000

const conversationColumns = `topic, account, peer_address, group_members, is_group, created_at,
        context_id, context_metadata, read_until, pending, version, spam_score,
        peer_display_name, profile_refreshed_at`

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	UpsertConversations(ctx context.Context, convs []models.Conversation) error
	GetConversation(ctx context.Context, topic string) (models.Conversation, error)
	FindByPeer(ctx context.Context, account, peerAddress, contextID string, pending bool) (models.Conversation, error)
	ListConversations(ctx context.Context, account string) ([]models.Conversation, error)
	ListPendingConversations(ctx context.Context, account string) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, topic string) error
	DeletePendingWithoutMessages(ctx context.Context, account string) ([]string, error)
	PromoteConversation(ctx context.Context, oldTopic, newTopic, version string) error
	UpdateReadUntil(ctx context.Context, topic string, readUntil time.Time, force bool) error
	SetPeerProfile(ctx context.Context, topic, displayName string, refreshedAt time.Time) error
	UpdateSpamScores(ctx context.Context, scores map[string]int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// UpsertConversations inserts or updates rows keyed by topic. Protocol-owned
// columns are overwritten; locally derived columns (read watermark, spam
// score, resolved profile) are preserved on conflict.
func (r *ConversationRepo) UpsertConversations(ctx context.Context, convs []models.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	query := `INSERT INTO conversations (` + conversationColumns + `)
        VALUES (:topic, :account, :peer_address, :group_members, :is_group, :created_at,
                :context_id, :context_metadata, :read_until, :pending, :version, :spam_score,
                :peer_display_name, :profile_refreshed_at)
        ON CONFLICT (topic) DO UPDATE SET
            peer_address = EXCLUDED.peer_address,
            group_members = EXCLUDED.group_members,
            is_group = EXCLUDED.is_group,
            created_at = EXCLUDED.created_at,
            context_id = EXCLUDED.context_id,
            context_metadata = EXCLUDED.context_metadata,
            pending = EXCLUDED.pending,
            version = EXCLUDED.version,
            read_until = GREATEST(conversations.read_until, EXCLUDED.read_until)`
	for _, conv := range convs {
		if _, err := r.db.NamedExecContext(ctx, query, conv); err != nil {
			return err
		}
	}
	return nil
}

// GetConversation fetches one conversation by topic.
func (r *ConversationRepo) GetConversation(ctx context.Context, topic string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE topic=$1`, topic)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// FindByPeer locates the 1:1 conversation for a (peer, context) pair in the
// requested pending state.
func (r *ConversationRepo) FindByPeer(ctx context.Context, account, peerAddress, contextID string, pending bool) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations
        WHERE account=$1 AND peer_address=$2 AND context_id=$3 AND pending=$4 AND is_group=FALSE`,
		account, peerAddress, contextID, pending)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListConversations returns all conversations for an account.
func (r *ConversationRepo) ListConversations(ctx context.Context, account string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT `+conversationColumns+` FROM conversations
        WHERE account=$1 ORDER BY created_at DESC`, account)
	return convs, err
}

// ListPendingConversations returns pending conversations for an account.
func (r *ConversationRepo) ListPendingConversations(ctx context.Context, account string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs, `SELECT `+conversationColumns+` FROM conversations
        WHERE account=$1 AND pending=TRUE ORDER BY created_at ASC`, account)
	return convs, err
}

// DeleteConversation removes a conversation row (messages cascade).
func (r *ConversationRepo) DeleteConversation(ctx context.Context, topic string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE topic=$1`, topic)
	return err
}

// DeletePendingWithoutMessages garbage-collects abandoned pending
// conversations and returns the removed topics.
func (r *ConversationRepo) DeletePendingWithoutMessages(ctx context.Context, account string) ([]string, error) {
	var topics []string
	err := r.db.SelectContext(ctx, &topics, `DELETE FROM conversations c
        WHERE c.account=$1 AND c.pending=TRUE
        AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.conversation_topic = c.topic)
        RETURNING c.topic`, account)
	return topics, err
}

// PromoteConversation rewrites a pending conversation's topic to the
// protocol-assigned one and clears the pending flag. Message rows follow via
// the FK cascade.
func (r *ConversationRepo) PromoteConversation(ctx context.Context, oldTopic, newTopic, version string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations
        SET topic=$1, pending=FALSE, version=$2 WHERE topic=$3 AND pending=TRUE`, newTopic, version, oldTopic)
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

// UpdateReadUntil advances the read watermark. It only moves forward unless
// force is set.
func (r *ConversationRepo) UpdateReadUntil(ctx context.Context, topic string, readUntil time.Time, force bool) error {
	if force {
		_, err := r.db.ExecContext(ctx, `UPDATE conversations SET read_until=$1 WHERE topic=$2`, readUntil, topic)
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE conversations
        SET read_until=GREATEST(read_until, $1) WHERE topic=$2`, readUntil, topic)
	return err
}

// SetPeerProfile stores the resolved display name for the peer.
func (r *ConversationRepo) SetPeerProfile(ctx context.Context, topic, displayName string, refreshedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations
        SET peer_display_name=$1, profile_refreshed_at=$2 WHERE topic=$3`, displayName, refreshedAt, topic)
	return err
}

// UpdateSpamScores persists computed scores with a raw parameterized batch
// update, chunked to stay under the bound-parameter ceiling.
func (r *ConversationRepo) UpdateSpamScores(ctx context.Context, scores map[string]int) error {
	if len(scores) == 0 {
		return nil
	}
	topics := make([]string, 0, len(scores))
	for topic := range scores {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	chunk := maxBindParameters / 2
	for start := 0; start < len(topics); start += chunk {
		end := start + chunk
		if end > len(topics) {
			end = len(topics)
		}
		var sb strings.Builder
		sb.WriteString(`UPDATE conversations AS c SET spam_score = v.score::int FROM (VALUES `)
		args := make([]interface{}, 0, (end-start)*2)
		for i, topic := range topics[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "($%d, $%d)", len(args)+1, len(args)+2)
			args = append(args, topic, scores[topic])
		}
		sb.WriteString(`) AS v(topic, score) WHERE c.topic = v.topic`)
		if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}
