package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	grpcclient "messenger-sync/internal/grpc"
	"messenger-sync/internal/models"
	"messenger-sync/internal/repositories"
	"messenger-sync/internal/syncengine"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) UpsertConversations(ctx context.Context, convs []models.Conversation) error {
	args := m.Called(ctx, convs)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, topic string) (models.Conversation, error) {
	args := m.Called(ctx, topic)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) FindByPeer(ctx context.Context, account, peerAddress, contextID string, pending bool) (models.Conversation, error) {
	args := m.Called(ctx, account, peerAddress, contextID, pending)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context, account string) ([]models.Conversation, error) {
	args := m.Called(ctx, account)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) ListPendingConversations(ctx context.Context, account string) ([]models.Conversation, error) {
	args := m.Called(ctx, account)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) DeleteConversation(ctx context.Context, topic string) error {
	args := m.Called(ctx, topic)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) DeletePendingWithoutMessages(ctx context.Context, account string) ([]string, error) {
	args := m.Called(ctx, account)
	var topics []string
	if val := args.Get(0); val != nil {
		topics = val.([]string)
	}
	return topics, args.Error(1)
}

func (m *ConversationRepositoryMock) PromoteConversation(ctx context.Context, oldTopic, newTopic, version string) error {
	args := m.Called(ctx, oldTopic, newTopic, version)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) UpdateReadUntil(ctx context.Context, topic string, readUntil time.Time, force bool) error {
	args := m.Called(ctx, topic, readUntil, force)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetPeerProfile(ctx context.Context, topic, displayName string, refreshedAt time.Time) error {
	args := m.Called(ctx, topic, displayName, refreshedAt)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) UpdateSpamScores(ctx context.Context, scores map[string]int) error {
	args := m.Called(ctx, scores)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) UpsertMessages(ctx context.Context, msgs []models.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, id string) (models.Message, error) {
	args := m.Called(ctx, id)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, topic string) ([]models.Message, error) {
	args := m.Called(ctx, topic)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CountMessages(ctx context.Context, topic string) (int, error) {
	args := m.Called(ctx, topic)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListMessagesToSend(ctx context.Context, account string) ([]models.Message, error) {
	args := m.Called(ctx, account)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateMessageID(ctx context.Context, oldID, newID string, sent time.Time) error {
	args := m.Called(ctx, oldID, newID, sent)
	return args.Error(0)
}

func (m *MessageRepositoryMock) SetMessageStatus(ctx context.Context, id string, status models.MessageStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MergeReaction(ctx context.Context, targetID, reactionID string, reaction models.StoredReaction) error {
	args := m.Called(ctx, targetID, reactionID, reaction)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ReassignMessages(ctx context.Context, oldTopic, newTopic string) error {
	args := m.Called(ctx, oldTopic, newTopic)
	return args.Error(0)
}

type ProfileResolverMock struct {
	mock.Mock
}

func (m *ProfileResolverMock) BulkProfiles(ctx context.Context, addresses []string) (map[string]grpcclient.Profile, error) {
	args := m.Called(ctx, addresses)
	var profiles map[string]grpcclient.Profile
	if val := args.Get(0); val != nil {
		profiles = val.(map[string]grpcclient.Profile)
	}
	return profiles, args.Error(1)
}

func (m *ProfileResolverMock) SenderReputation(ctx context.Context, addresses []string) (map[string]int, error) {
	args := m.Called(ctx, addresses)
	var scores map[string]int
	if val := args.Get(0); val != nil {
		scores = val.(map[string]int)
	}
	return scores, args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastStoreEvent(account string, evt models.StoreEvent) {
	m.Called(account, evt)
}

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
	_ syncengine.ProfileResolver          = (*ProfileResolverMock)(nil)
	_ syncengine.Broadcaster              = (*BroadcasterMock)(nil)
)
