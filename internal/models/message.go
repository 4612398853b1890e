package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MessageStatus tracks the outbound lifecycle of a message. sending -> sent
// (or error) is terminal for a given id; inbound messages arrive as sent.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusPrepared  MessageStatus = "prepared"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusError     MessageStatus = "error"
	StatusSeen      MessageStatus = "seen"
)

// ContentKind is the closed set of message content kinds, resolved once at
// ingestion from the protocol's content-type string and carried as a typed
// variant from then on.
type ContentKind string

const (
	KindText                 ContentKind = "text"
	KindAttachment           ContentKind = "attachment"
	KindRemoteAttachment     ContentKind = "remote_attachment"
	KindReaction             ContentKind = "reaction"
	KindReply                ContentKind = "reply"
	KindGroupUpdated         ContentKind = "group_updated"
	KindTransactionReference ContentKind = "transaction_reference"
	KindReadReceipt          ContentKind = "read_receipt"
	KindUnknown              ContentKind = "unknown"
)

// Protocol content-type vocabulary. Identifiers carry a trailing version
// segment (e.g. "chat/text:1.0"), so matching is by prefix.
const (
	ContentTypeText                 = "chat/text"
	ContentTypeAttachment           = "chat/attachment"
	ContentTypeRemoteAttachment     = "chat/remote-attachment"
	ContentTypeReaction             = "chat/reaction"
	ContentTypeReply                = "chat/reply"
	ContentTypeGroupUpdated         = "chat/group-updated"
	ContentTypeTransactionReference = "chat/transaction-reference"
	ContentTypeReadReceipt          = "chat/read-receipt"
)

var kindByPrefix = []struct {
	prefix string
	kind   ContentKind
}{
	// remote-attachment before attachment: prefix matching, longest stem wins.
	{ContentTypeRemoteAttachment, KindRemoteAttachment},
	{ContentTypeAttachment, KindAttachment},
	{ContentTypeText, KindText},
	{ContentTypeReaction, KindReaction},
	{ContentTypeReply, KindReply},
	{ContentTypeGroupUpdated, KindGroupUpdated},
	{ContentTypeTransactionReference, KindTransactionReference},
	{ContentTypeReadReceipt, KindReadReceipt},
}

// ResolveContentKind maps a raw protocol content-type string to its kind.
func ResolveContentKind(contentType string) ContentKind {
	for _, entry := range kindByPrefix {
		if strings.HasPrefix(contentType, entry.prefix) {
			return entry.kind
		}
	}
	return KindUnknown
}

// Reaction is the decoded payload of a reaction-type message.
type Reaction struct {
	Reference string `json:"reference"`
	Action    string `json:"action"`
	Content   string `json:"content"`
	Schema    string `json:"schema,omitempty"`
}

const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// StoredReaction is a reaction event attached to its target message, keyed in
// the target's reaction map by the reaction message's own id.
type StoredReaction struct {
	SenderAddress string    `json:"sender_address"`
	Content       string    `json:"content"`
	Action        string    `json:"action"`
	Schema        string    `json:"schema,omitempty"`
	Sent          time.Time `json:"sent"`
}

// ReactionMap is persisted as a JSONB column; merge is last-write-wins per
// reaction message id, add/remove is resolved at render time.
type ReactionMap map[string]StoredReaction

func (m ReactionMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *ReactionMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("reactionmap: unsupported scan source")
	}
	return json.Unmarshal(b, m)
}

// Message is a local row for a protocol message. While status is sending the
// id is a locally generated UUID; the protocol-confirmed send rewrites it.
type Message struct {
	ID                  string        `db:"id" json:"id"`
	ConversationTopic   string        `db:"conversation_topic" json:"conversation_topic"`
	Account             string        `db:"account" json:"account"`
	SenderAddress       string        `db:"sender_address" json:"sender_address"`
	Sent                time.Time     `db:"sent" json:"sent"`
	Content             string        `db:"content" json:"content"`
	ContentType         string        `db:"content_type" json:"content_type"`
	Kind                ContentKind   `db:"content_kind" json:"content_kind"`
	ContentFallback     string        `db:"content_fallback" json:"content_fallback,omitempty"`
	Status              MessageStatus `db:"status" json:"status"`
	ReferencedMessageID string        `db:"referenced_message_id" json:"referenced_message_id,omitempty"`
	Reactions           ReactionMap   `db:"reactions" json:"reactions,omitempty"`
}

// FromMe reports whether the message was sent by the given account.
func (m Message) FromMe(account string) bool {
	return strings.EqualFold(m.SenderAddress, account)
}
