package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ConversationVersionLegacy marks conversations created on the legacy (v1)
// protocol surface; they are hidden unless explicitly consented.
const ConversationVersionLegacy = "v1"

// JSONMap is a string map persisted as a JSONB column.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("jsonmap: unsupported scan source")
	}
	return json.Unmarshal(b, m)
}

// Conversation is a local row for a protocol conversation. While pending, the
// topic is a locally generated UUID; the protocol assigns the real topic when
// the first message is dispatched.
type Conversation struct {
	Topic              string         `db:"topic" json:"topic"`
	Account            string         `db:"account" json:"account"`
	PeerAddress        string         `db:"peer_address" json:"peer_address,omitempty"`
	GroupMembers       pq.StringArray `db:"group_members" json:"group_members,omitempty"`
	IsGroup            bool           `db:"is_group" json:"is_group"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	ContextID          string         `db:"context_id" json:"context_id,omitempty"`
	ContextMetadata    JSONMap        `db:"context_metadata" json:"context_metadata,omitempty"`
	ReadUntil          time.Time      `db:"read_until" json:"read_until"`
	Pending            bool           `db:"pending" json:"pending"`
	Version            string         `db:"version" json:"version,omitempty"`
	SpamScore          *int           `db:"spam_score" json:"spam_score,omitempty"`
	PeerDisplayName    string         `db:"peer_display_name" json:"peer_display_name,omitempty"`
	ProfileRefreshedAt time.Time      `db:"profile_refreshed_at" json:"-"`
}

// NewPendingConversation builds a local-only conversation for a chat the user
// started before any message has been dispatched.
func NewPendingConversation(account, peerAddress, contextID string, metadata map[string]string) Conversation {
	return Conversation{
		Topic:           uuid.NewString(),
		Account:         account,
		PeerAddress:     peerAddress,
		CreatedAt:       time.Now().UTC(),
		ContextID:       contextID,
		ContextMetadata: metadata,
		Pending:         true,
	}
}

// PeerKey identifies the logical 1:1 thread: at most one non-pending
// conversation may exist per (peer address, context id) pair.
func (c Conversation) PeerKey() string {
	return c.PeerAddress + "|" + c.ContextID
}
