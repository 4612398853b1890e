// Package state holds the per-account in-memory projection the UI reads.
// Mutations are synchronous replace-by-key operations; persistence happens
// out-of-band in the repositories, which are authoritative on restart.
package state

import (
	"sort"
	"sync"

	"messenger-sync/internal/models"
	"messenger-sync/internal/protocol"
)

// TopicStatus flags topics the UI must never surface.
type TopicStatus string

const (
	TopicStatusDeleted TopicStatus = "deleted"
	TopicStatusBlocked TopicStatus = "blocked"
)

// AccountStore is the reactive projection for one logged-in account.
type AccountStore struct {
	account string

	mu                 sync.RWMutex
	conversations      map[string]models.Conversation
	messages           map[string]map[string]models.Message
	peerConsent        map[string]protocol.ConsentState
	topicStatus        map[string]TopicStatus
	attachmentsLoading map[string]bool
}

// NewAccountStore constructs an empty store for the account.
func NewAccountStore(account string) *AccountStore {
	return &AccountStore{
		account:            account,
		conversations:      make(map[string]models.Conversation),
		messages:           make(map[string]map[string]models.Message),
		peerConsent:        make(map[string]protocol.ConsentState),
		topicStatus:        make(map[string]TopicStatus),
		attachmentsLoading: make(map[string]bool),
	}
}

// Account returns the owning account address.
func (s *AccountStore) Account() string { return s.account }

// SetConversations replaces conversations by topic.
func (s *AccountStore) SetConversations(convs []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range convs {
		s.conversations[conv.Topic] = conv
	}
}

// Conversation returns one conversation by topic.
func (s *AccountStore) Conversation(topic string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[topic]
	return conv, ok
}

// Conversations returns a snapshot sorted newest first.
func (s *AccountStore) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	convs := make([]models.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		convs = append(convs, conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs
}

// RemoveConversation drops a conversation and its messages.
func (s *AccountStore) RemoveConversation(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, topic)
	delete(s.messages, topic)
}

// RenameConversation rekeys a conversation (and its messages) from the old
// topic to the conversation's topic; used when a pending conversation is
// promoted to its protocol topic.
func (s *AccountStore) RenameConversation(oldTopic string, conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, oldTopic)
	s.conversations[conv.Topic] = conv
	if msgs, ok := s.messages[oldTopic]; ok {
		delete(s.messages, oldTopic)
		dst := s.messages[conv.Topic]
		if dst == nil {
			dst = make(map[string]models.Message, len(msgs))
			s.messages[conv.Topic] = dst
		}
		for id, msg := range msgs {
			msg.ConversationTopic = conv.Topic
			dst[id] = msg
		}
	}
}

// UpsertMessages replaces messages by id under the topic.
func (s *AccountStore) UpsertMessages(topic string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.messages[topic]
	if byID == nil {
		byID = make(map[string]models.Message, len(msgs))
		s.messages[topic] = byID
	}
	for _, msg := range msgs {
		byID[msg.ID] = msg
	}
}

// Message returns one message.
func (s *AccountStore) Message(topic, id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[topic][id]
	return msg, ok
}

// Messages returns a snapshot of the topic's messages ordered by sent time.
func (s *AccountStore) Messages(topic string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.messages[topic]
	msgs := make([]models.Message, 0, len(byID))
	for _, msg := range byID {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Sent.Equal(msgs[j].Sent) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Sent.Before(msgs[j].Sent)
	})
	return msgs
}

// ReplaceMessageID swaps a message's key after id renumbering.
func (s *AccountStore) ReplaceMessageID(topic, oldID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.messages[topic]
	if byID == nil {
		byID = make(map[string]models.Message, 1)
		s.messages[topic] = byID
	}
	delete(byID, oldID)
	byID[msg.ID] = msg
	if loading, ok := s.attachmentsLoading[oldID]; ok {
		delete(s.attachmentsLoading, oldID)
		s.attachmentsLoading[msg.ID] = loading
	}
}

// SetMessageStatus updates one message's status in place.
func (s *AccountStore) SetMessageStatus(topic, id string, status models.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[topic][id]
	if !ok {
		return false
	}
	msg.Status = status
	s.messages[topic][id] = msg
	return true
}

// MergeReaction mirrors a persisted reaction merge into the projection.
func (s *AccountStore) MergeReaction(topic, targetID, reactionID string, reaction models.StoredReaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[topic][targetID]
	if !ok {
		return false
	}
	if msg.Reactions == nil {
		msg.Reactions = make(models.ReactionMap, 1)
	} else {
		merged := make(models.ReactionMap, len(msg.Reactions)+1)
		for id, r := range msg.Reactions {
			merged[id] = r
		}
		msg.Reactions = merged
	}
	msg.Reactions[reactionID] = reaction
	s.messages[topic][targetID] = msg
	return true
}

// SetPeerConsent records the consent state for a peer address.
func (s *AccountStore) SetPeerConsent(peerAddress string, consent protocol.ConsentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerConsent[peerAddress] = consent
}

// PeerConsent returns a snapshot of the consent map.
func (s *AccountStore) PeerConsent() map[string]protocol.ConsentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]protocol.ConsentState, len(s.peerConsent))
	for addr, consent := range s.peerConsent {
		out[addr] = consent
	}
	return out
}

// SetTopicStatus flags a topic as deleted or blocked.
func (s *AccountStore) SetTopicStatus(topic string, status TopicStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicStatus[topic] = status
}

// TopicStatuses returns a snapshot of the per-topic status map.
func (s *AccountStore) TopicStatuses() map[string]TopicStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TopicStatus, len(s.topicStatus))
	for topic, status := range s.topicStatus {
		out[topic] = status
	}
	return out
}

// SetAttachmentLoading tracks in-flight attachment downloads by message id;
// side state the list projection reads.
func (s *AccountStore) SetAttachmentLoading(messageID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loading {
		s.attachmentsLoading[messageID] = true
	} else {
		delete(s.attachmentsLoading, messageID)
	}
}

// AttachmentLoading returns a snapshot of the attachment-loading side map.
func (s *AccountStore) AttachmentLoading() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.attachmentsLoading))
	for id, loading := range s.attachmentsLoading {
		out[id] = loading
	}
	return out
}
