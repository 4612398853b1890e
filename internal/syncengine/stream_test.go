package syncengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	grpcclient "messenger-sync/internal/grpc"
	"messenger-sync/internal/mocks"
	"messenger-sync/internal/models"
	"messenger-sync/internal/protocol"
	"messenger-sync/internal/repositories"
	"messenger-sync/internal/state"
	"messenger-sync/internal/syncengine"
)

func TestAttachAccountPumpsStreamEvents(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	profiles := new(mocks.ProfileResolverMock)
	registry := state.NewRegistry()
	engine := syncengine.NewEngine(convRepo, msgRepo, profiles, registry, nil, nil, nil, time.Hour)

	convRepo.On("ListConversations", mock.Anything, account).Return(nil, nil)
	convRepo.On("FindByPeer", mock.Anything, account, "0xPEER", "", true).
		Return(nil, repositories.ErrConversationNotFound)
	convRepo.On("FindByPeer", mock.Anything, account, "0xPEER", "", false).
		Return(nil, repositories.ErrConversationNotFound)
	convRepo.On("UpsertConversations", mock.Anything, mock.Anything).Return(nil)
	msgRepo.On("UpsertMessages", mock.Anything, mock.Anything).Return(nil)
	profiles.On("BulkProfiles", mock.Anything, mock.Anything).
		Return(map[string]grpcclient.Profile{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.AttachAccount(ctx, protocol.LoopbackFactory{}, account))

	client, ok := registry.Client(account)
	require.True(t, ok)
	loopback, ok := client.(*protocol.LoopbackClient)
	require.True(t, ok)
	store, ok := registry.Store(account)
	require.True(t, ok)

	// Saves are idempotent, so re-injecting while polling sidesteps the race
	// with the pumps subscribing.
	require.Eventually(t, func() bool {
		loopback.Announce(protoConv("/chat/dm-9", "0xPEER"))
		_, ok := store.Conversation("/chat/dm-9")
		return ok
	}, 2*time.Second, 20*time.Millisecond, "announced conversation reaches the store")

	require.Eventually(t, func() bool {
		loopback.Deliver(protocol.Message{
			ID:            "0xm1",
			Topic:         "/chat/dm-9",
			SenderAddress: "0xPEER",
			Sent:          time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			Content:       "hi",
			ContentType:   models.ContentTypeText,
		})
		_, ok := store.Message("/chat/dm-9", "0xm1")
		return ok
	}, 2*time.Second, 20*time.Millisecond, "delivered message reaches the store")
}

type recordingFactory struct {
	clients []*protocol.LoopbackClient
}

func (f *recordingFactory) NewClient(_ context.Context, account string) (protocol.Client, error) {
	client := protocol.NewLoopbackClient(account)
	f.clients = append(f.clients, client)
	return client, nil
}

func TestAttachAccountRejectsDuplicate(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	profiles := new(mocks.ProfileResolverMock)
	registry := state.NewRegistry()
	engine := syncengine.NewEngine(convRepo, msgRepo, profiles, registry, nil, nil, nil, time.Hour)

	convRepo.On("ListConversations", mock.Anything, account).Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := &recordingFactory{}
	require.NoError(t, engine.AttachAccount(ctx, factory, account))

	err := engine.AttachAccount(ctx, factory, account)
	require.ErrorIs(t, err, state.ErrAccountExists)

	// The losing client is closed right away; the winner stays usable and
	// is the one logout tears down.
	require.Len(t, factory.clients, 2)
	_, err = factory.clients[1].Send(ctx, "/chat/dm-1", "hi", models.ContentTypeText, "")
	require.Error(t, err)
	_, err = factory.clients[0].Send(ctx, "/chat/dm-1", "hi", models.ContentTypeText, "")
	require.NoError(t, err)

	require.NoError(t, registry.RemoveAccount(account))
	_, err = factory.clients[0].Send(ctx, "/chat/dm-1", "hi", models.ContentTypeText, "")
	require.Error(t, err)
}
