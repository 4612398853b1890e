package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messenger-sync/internal/models"
	"messenger-sync/internal/protocol"
	"messenger-sync/internal/state"
	"messenger-sync/internal/syncengine"
	"messenger-sync/internal/telemetry"
)

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	engine   *syncengine.Engine
	registry *state.Registry
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(engine *syncengine.Engine, registry *state.Registry, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{engine: engine, registry: registry, audit: audit}
}

type conversationResponse struct {
	models.Conversation
	Inbox       bool            `json:"inbox"`
	UnreadCount int             `json:"unread_count"`
	LastMessage *models.Message `json:"last_message,omitempty"`
}

// ListConversations returns the displayed conversations for the account,
// partitioned by box: inbox, requests, or all.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	account := accountFromContext(c)
	store, ok := h.registry.Store(account)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not registered"})
		return
	}

	box := c.DefaultQuery("box", "inbox")
	if box != "inbox" && box != "requests" && box != "all" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid box"})
		return
	}

	consent := store.PeerConsent()
	topicStatus := store.TopicStatuses()

	responses := make([]conversationResponse, 0)
	for _, conv := range store.Conversations() {
		if !syncengine.ConversationShouldBeDisplayed(conv, consent, topicStatus) {
			continue
		}
		inbox := syncengine.ConversationShouldBeInInbox(conv, consent)
		switch box {
		case "inbox":
			if !inbox {
				continue
			}
		case "requests":
			if inbox {
				continue
			}
		}

		resp := conversationResponse{Conversation: conv, Inbox: inbox}
		msgs := store.Messages(conv.Topic)
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Kind != models.KindReaction && msgs[i].Kind != models.KindReadReceipt {
				msg := msgs[i]
				resp.LastMessage = &msg
				break
			}
		}
		for _, msg := range msgs {
			if msg.Kind == models.KindReaction || msg.Kind == models.KindReadReceipt {
				continue
			}
			if !msg.FromMe(account) && msg.Sent.After(conv.ReadUntil) {
				resp.UnreadCount++
			}
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// StartConversation creates (or returns) a local conversation for a peer. It
// stays pending until the first message is dispatched.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		PeerAddress string            `json:"peer_address" binding:"required"`
		ContextID   string            `json:"context_id"`
		Metadata    map[string]string `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account := accountFromContext(c)
	conv, err := h.engine.StartConversation(c.Request.Context(), account, req.PeerAddress, req.ContextID, req.Metadata)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start conversation"})
		return
	}
	h.audit.Emit(c.Request.Context(), "INFO", "conversation started", requestIDFromContext(c), account)

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// MarkRead advances the conversation's read watermark.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	var req struct {
		ReadUntil time.Time `json:"read_until" binding:"required"`
		Force     bool      `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account := accountFromContext(c)
	topic := c.Param("topic")
	if err := h.engine.MarkReadUntil(c.Request.Context(), account, topic, req.ReadUntil, req.Force); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update read watermark"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetConsent records an allow or deny decision for the conversation's peer.
func (h *ConversationHandler) SetConsent(c *gin.Context) {
	var req struct {
		State string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	consent := protocol.ConsentState(req.State)
	if consent != protocol.ConsentAllowed && consent != protocol.ConsentDenied {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid consent state"})
		return
	}

	account := accountFromContext(c)
	store, _ := h.registry.Store(account)
	conv, ok := store.Conversation(c.Param("topic"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err := h.engine.SetConsent(c.Request.Context(), account, conv.PeerAddress, consent); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not propagate consent"})
		return
	}
	h.audit.Emit(c.Request.Context(), "INFO", "consent "+req.State, requestIDFromContext(c), account)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetTopicStatus hides a conversation locally: deleted or blocked.
func (h *ConversationHandler) SetTopicStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := state.TopicStatus(req.Status)
	if status != state.TopicStatusDeleted && status != state.TopicStatusBlocked {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	account := accountFromContext(c)
	store, _ := h.registry.Store(account)
	if _, ok := store.Conversation(c.Param("topic")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	store.SetTopicStatus(c.Param("topic"), status)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CleanupPending drops pending conversations without queued messages.
func (h *ConversationHandler) CleanupPending(c *gin.Context) {
	account := accountFromContext(c)
	if err := h.engine.CleanupPendingConversations(c.Request.Context(), account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
