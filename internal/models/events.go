package models

// Store event types broadcast to UI subscribers over websockets.
const (
	EventConversationUpserted = "conversation_upserted"
	EventConversationRemoved  = "conversation_removed"
	EventMessageUpserted      = "message_upserted"
	EventMessageIDChanged     = "message_id_changed"
	EventMessageStatus        = "message_status"
)

// StoreEvent mirrors a reactive-store mutation. An id change carries the old
// id so UI list reconciliation can match the renamed row.
type StoreEvent struct {
	Type         string        `json:"type"`
	Account      string        `json:"account"`
	Topic        string        `json:"topic,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	MessageID    string        `json:"message_id,omitempty"`
	OldMessageID string        `json:"old_message_id,omitempty"`
	Status       MessageStatus `json:"status,omitempty"`
}
