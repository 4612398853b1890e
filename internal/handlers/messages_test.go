package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-sync/internal/models"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("account", testAccount)
		c.Next()
	})
	r.GET("/conversations/:topic/messages", handler.GetMessages)
	r.POST("/conversations/:topic/messages", handler.PostMessage)
	r.POST("/conversations/:topic/messages/:message_id/reactions", handler.PostReaction)
	return r
}

func TestGetMessagesProjectsList(t *testing.T) {
	f := newHandlerFixture()
	router := setupMessageRouter(NewMessageHandler(f.engine, f.registry, nil))

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f.store.SetConversations([]models.Conversation{{Topic: "t1", Account: testAccount, PeerAddress: "0xPEER"}})
	f.store.UpsertMessages("t1", []models.Message{
		{ID: "0x1", ConversationTopic: "t1", SenderAddress: "0xPEER", Sent: base, Kind: models.KindText, Status: models.StatusDelivered,
			Reactions: models.ReactionMap{"0xr": {SenderAddress: testAccount, Content: "🔥", Action: models.ReactionAdded, Sent: base.Add(time.Minute)}}},
		{ID: "0x2", ConversationTopic: "t1", SenderAddress: "0xPEER", Sent: base.Add(time.Minute), Kind: models.KindText, Status: models.StatusDelivered},
		{ID: "0xr", ConversationTopic: "t1", SenderAddress: testAccount, Sent: base.Add(time.Minute), Kind: models.KindReaction},
	})

	req := httptest.NewRequest(http.MethodGet, "/conversations/t1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []struct {
			ID                  string `json:"id"`
			DateChange          bool   `json:"date_change"`
			HasNextInSeries     bool   `json:"has_next_in_series"`
			HasPreviousInSeries bool   `json:"has_previous_in_series"`
			ReactionRollup      []struct {
				Emoji       string `json:"emoji"`
				Count       int    `json:"count"`
				UserReacted bool   `json:"user_reacted"`
			} `json:"reaction_rollup"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	require.Len(t, resp.Messages, 2, "the raw reaction row is not rendered")
	assert.True(t, resp.Messages[0].DateChange)
	assert.True(t, resp.Messages[0].HasNextInSeries)
	assert.True(t, resp.Messages[1].HasPreviousInSeries)
	require.Len(t, resp.Messages[0].ReactionRollup, 1)
	assert.Equal(t, "🔥", resp.Messages[0].ReactionRollup[0].Emoji)
	assert.Equal(t, 1, resp.Messages[0].ReactionRollup[0].Count)
	assert.True(t, resp.Messages[0].ReactionRollup[0].UserReacted)
}

func TestGetMessagesUnknownConversation(t *testing.T) {
	f := newHandlerFixture()
	router := setupMessageRouter(NewMessageHandler(f.engine, f.registry, nil))

	req := httptest.NewRequest(http.MethodGet, "/conversations/missing/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageQueuesOptimistically(t *testing.T) {
	f := newHandlerFixture()
	router := setupMessageRouter(NewMessageHandler(f.engine, f.registry, nil))

	f.store.SetConversations([]models.Conversation{{Topic: "t1", Account: testAccount, PeerAddress: "0xPEER"}})
	f.convRepo.On("GetConversation", mock.Anything, "t1").
		Return(models.Conversation{Topic: "t1", Account: testAccount}, nil).Once()
	f.msgRepo.On("UpsertMessages", mock.Anything, mock.Anything).Return(nil).Once()

	body := bytes.NewBufferString(`{"content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/t1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NoError(t, uuid.Validate(resp.Message.ID), "optimistic messages carry a local uuid id")
	assert.Equal(t, models.StatusSending, resp.Message.Status)
	assert.Equal(t, models.KindText, resp.Message.Kind)

	_, ok := f.store.Message("t1", resp.Message.ID)
	assert.True(t, ok)
	f.msgRepo.AssertExpectations(t)
}

func TestPostMessageValidationError(t *testing.T) {
	f := newHandlerFixture()
	router := setupMessageRouter(NewMessageHandler(f.engine, f.registry, nil))

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/t1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostReactionQueuesAndMirrors(t *testing.T) {
	f := newHandlerFixture()
	router := setupMessageRouter(NewMessageHandler(f.engine, f.registry, nil))

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	f.store.SetConversations([]models.Conversation{{Topic: "t1", Account: testAccount, PeerAddress: "0xPEER"}})
	f.store.UpsertMessages("t1", []models.Message{
		{ID: "0xtarget", ConversationTopic: "t1", SenderAddress: "0xPEER", Sent: base, Kind: models.KindText},
	})
	f.convRepo.On("GetConversation", mock.Anything, "t1").
		Return(models.Conversation{Topic: "t1", Account: testAccount}, nil).Once()
	f.msgRepo.On("UpsertMessages", mock.Anything, mock.Anything).Return(nil).Once()
	f.msgRepo.On("MergeReaction", mock.Anything, "0xtarget", mock.Anything, mock.Anything).Return(nil).Once()

	body := bytes.NewBufferString(`{"action":"added","content":"👍"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/t1/messages/0xtarget/reactions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	target, ok := f.store.Message("t1", "0xtarget")
	require.True(t, ok)
	require.Len(t, target.Reactions, 1, "own reaction settles locally without the round trip")
	for _, reaction := range target.Reactions {
		assert.Equal(t, testAccount, reaction.SenderAddress)
		assert.Equal(t, "👍", reaction.Content)
	}
	f.msgRepo.AssertExpectations(t)
}

func TestPostReactionRejectsUnsettledTarget(t *testing.T) {
	f := newHandlerFixture()
	router := setupMessageRouter(NewMessageHandler(f.engine, f.registry, nil))

	localID := uuid.NewString()
	body := bytes.NewBufferString(`{"action":"added","content":"👍"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/t1/messages/"+localID+"/reactions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	f.msgRepo.AssertNotCalled(t, "UpsertMessages", mock.Anything, mock.Anything)
}

func TestPostReactionRejectsUnknownAction(t *testing.T) {
	f := newHandlerFixture()
	router := setupMessageRouter(NewMessageHandler(f.engine, f.registry, nil))

	body := bytes.NewBufferString(`{"action":"toggled","content":"👍"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/t1/messages/0xtarget/reactions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
