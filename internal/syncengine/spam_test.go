package syncengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-sync/internal/models"
)

func TestComputeSpamScoresLinkInOpeningMessage(t *testing.T) {
	f := newEngineFixture(t)

	conv := models.Conversation{Topic: "/chat/dm-1", Account: account, PeerAddress: "0xPEER"}
	f.store.SetConversations([]models.Conversation{conv})

	f.convRepo.On("ListConversations", mock.Anything, account).
		Return([]models.Conversation{conv}, nil).Once()
	f.profiles.On("SenderReputation", mock.Anything, []string{"0xPEER"}).
		Return(map[string]int{"0xPEER": 0}, nil).Once()
	f.msgRepo.On("ListMessages", mock.Anything, "/chat/dm-1").
		Return([]models.Message{{
			ID: "0x1", ConversationTopic: "/chat/dm-1", Account: account,
			SenderAddress: "0xPEER", Kind: models.KindText,
			Content: "claim your prize at https://spam.example",
		}}, nil).Once()
	f.convRepo.On("UpdateSpamScores", mock.Anything, map[string]int{"/chat/dm-1": 1}).
		Return(nil).Once()

	require.NoError(t, f.engine.ComputeConversationsSpamScores(context.Background(), account))

	updated, ok := f.store.Conversation("/chat/dm-1")
	require.True(t, ok)
	require.NotNil(t, updated.SpamScore)
	assert.Equal(t, 1, *updated.SpamScore)
	f.convRepo.AssertExpectations(t)
	f.profiles.AssertExpectations(t)
}

func TestComputeSpamScoresSkipsScoredAndPending(t *testing.T) {
	f := newEngineFixture(t)

	score := 0
	scored := models.Conversation{Topic: "/chat/dm-1", Account: account, PeerAddress: "0xA", SpamScore: &score}
	pending := models.Conversation{Topic: "local-uuid", Account: account, PeerAddress: "0xB", Pending: true}

	f.convRepo.On("ListConversations", mock.Anything, account).
		Return([]models.Conversation{scored, pending}, nil).Once()

	require.NoError(t, f.engine.ComputeConversationsSpamScores(context.Background(), account))

	f.profiles.AssertNotCalled(t, "SenderReputation", mock.Anything, mock.Anything)
	f.convRepo.AssertNotCalled(t, "UpdateSpamScores", mock.Anything, mock.Anything)
}

func TestComputeSpamScoresUserRepliedFirst(t *testing.T) {
	f := newEngineFixture(t)

	conv := models.Conversation{Topic: "/chat/dm-1", Account: account, PeerAddress: "0xPEER"}
	f.convRepo.On("ListConversations", mock.Anything, account).
		Return([]models.Conversation{conv}, nil).Once()
	f.profiles.On("SenderReputation", mock.Anything, []string{"0xPEER"}).
		Return(map[string]int{"0xPEER": 0}, nil).Once()
	f.msgRepo.On("ListMessages", mock.Anything, "/chat/dm-1").
		Return([]models.Message{{
			ID: "0x1", ConversationTopic: "/chat/dm-1", Account: account,
			SenderAddress: account, Kind: models.KindText,
			Content: "hey, check https://example.com",
		}}, nil).Once()
	f.convRepo.On("UpdateSpamScores", mock.Anything, map[string]int{"/chat/dm-1": 0}).
		Return(nil).Once()

	require.NoError(t, f.engine.ComputeConversationsSpamScores(context.Background(), account))
	f.convRepo.AssertExpectations(t)
}
