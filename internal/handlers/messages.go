package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messenger-sync/internal/models"
	"messenger-sync/internal/projection"
	"messenger-sync/internal/state"
	"messenger-sync/internal/syncengine"
	"messenger-sync/internal/telemetry"
)

// MessageHandler manages message endpoints.
type MessageHandler struct {
	engine   *syncengine.Engine
	registry *state.Registry
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(engine *syncengine.Engine, registry *state.Registry, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{engine: engine, registry: registry, audit: audit}
}

type messageItem struct {
	projection.ListItem
	ReactionRollup []projection.ReactionRollup `json:"reaction_rollup,omitempty"`
}

// GetMessages returns the rendered message list for a conversation: filtered,
// grouped into series, with date markers and reaction rollups.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	account := accountFromContext(c)
	store, ok := h.registry.Store(account)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not registered"})
		return
	}
	topic := c.Param("topic")
	if _, ok := store.Conversation(topic); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	items := projection.BuildList(account, store.Messages(topic), store.AttachmentLoading())
	responses := make([]messageItem, 0, len(items))
	for _, item := range items {
		responses = append(responses, messageItem{
			ListItem:       item,
			ReactionRollup: projection.RollupReactions(item.Reactions, account),
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": responses})
}

// PostMessage queues an outbound message. It returns immediately with the
// optimistic local row; dispatch happens on the next flush.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content             string `json:"content" binding:"required"`
		ContentType         string `json:"content_type"`
		ReferencedMessageID string `json:"referenced_message_id"`
		AttachmentPath      string `json:"attachment_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ContentType == "" {
		req.ContentType = models.ContentTypeText
	}

	account := accountFromContext(c)
	msg, err := h.engine.SendMessage(c.Request.Context(), account, c.Param("topic"), req.Content, req.ContentType, syncengine.SendOptions{
		ReferencedMessageID: req.ReferencedMessageID,
		AttachmentPath:      req.AttachmentPath,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue message"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

// PostReaction queues a reaction to a message and mirrors it locally so the
// UI settles without waiting for the round trip.
func (h *MessageHandler) PostReaction(c *gin.Context) {
	var req struct {
		Action  string `json:"action" binding:"required"`
		Content string `json:"content" binding:"required"`
		Schema  string `json:"schema"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Action != models.ReactionAdded && req.Action != models.ReactionRemoved {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid action"})
		return
	}

	account := accountFromContext(c)
	topic := c.Param("topic")
	targetID := c.Param("message_id")
	if targetID == "" || uuid.Validate(targetID) == nil {
		// Reactions target settled messages only; optimistic local ids are
		// still UUID-shaped.
		c.JSON(http.StatusConflict, gin.H{"error": "message not settled yet"})
		return
	}

	payload, err := json.Marshal(models.Reaction{
		Reference: targetID,
		Action:    req.Action,
		Content:   req.Content,
		Schema:    req.Schema,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not encode reaction"})
		return
	}

	msg, err := h.engine.SendMessage(c.Request.Context(), account, topic, string(payload), models.ContentTypeReaction, syncengine.SendOptions{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue reaction"})
		return
	}

	if err := h.engine.MirrorOwnReaction(c.Request.Context(), account, topic, targetID, msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record reaction"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}
