// Package syncengine reconciles the protocol stream with the local store and
// the per-account reactive state, and drives the outbound send queue.
package syncengine

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"messenger-sync/internal/attachments"
	grpcclient "messenger-sync/internal/grpc"
	"messenger-sync/internal/models"
	"messenger-sync/internal/protocol"
	"messenger-sync/internal/repositories"
	"messenger-sync/internal/state"
	"messenger-sync/internal/telemetry"
)

// ProfileResolver resolves peer display profiles and sender reputation.
type ProfileResolver interface {
	BulkProfiles(ctx context.Context, addresses []string) (map[string]grpcclient.Profile, error)
	SenderReputation(ctx context.Context, addresses []string) (map[string]int, error)
}

// Broadcaster pushes store events to UI subscribers.
type Broadcaster interface {
	BroadcastStoreEvent(account string, evt models.StoreEvent)
}

type Engine struct {
	convRepo    repositories.ConversationRepository
	msgRepo     repositories.MessageRepository
	profiles    ProfileResolver
	registry    *state.Registry
	broadcaster Broadcaster
	attachments *attachments.Store
	audit       *telemetry.AuditEmitter

	profileTTL     time.Duration
	profileLimiter *rate.Limiter

	// flusherKick is installed by NewFlusher; a buffered nudge channel so
	// sends do not wait for the next tick.
	flusherKick chan struct{}
}

func NewEngine(
	convRepo repositories.ConversationRepository,
	msgRepo repositories.MessageRepository,
	profiles ProfileResolver,
	registry *state.Registry,
	broadcaster Broadcaster,
	attachmentStore *attachments.Store,
	audit *telemetry.AuditEmitter,
	profileTTL time.Duration,
) *Engine {
	if profileTTL <= 0 {
		profileTTL = 24 * time.Hour
	}
	return &Engine{
		convRepo:       convRepo,
		msgRepo:        msgRepo,
		profiles:       profiles,
		registry:       registry,
		broadcaster:    broadcaster,
		attachments:    attachmentStore,
		audit:          audit,
		profileTTL:     profileTTL,
		profileLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (e *Engine) broadcast(account string, evt models.StoreEvent) {
	if e.broadcaster == nil {
		return
	}
	evt.Account = account
	e.broadcaster.BroadcastStoreEvent(account, evt)
}

func mapConversation(account string, conv protocol.Conversation) models.Conversation {
	return models.Conversation{
		Topic:           conv.Topic,
		Account:         account,
		PeerAddress:     conv.PeerAddress,
		GroupMembers:    conv.GroupMembers,
		IsGroup:         conv.IsGroup,
		CreatedAt:       conv.CreatedAt,
		ContextID:       conv.ContextID,
		ContextMetadata: conv.ContextMetadata,
		Version:         conv.Version,
	}
}

func mapMessage(account string, msg protocol.Message) models.Message {
	status := models.StatusDelivered
	if strings.EqualFold(msg.SenderAddress, account) {
		status = models.StatusSent
	}
	return models.Message{
		ID:                  msg.ID,
		ConversationTopic:   msg.Topic,
		Account:             account,
		SenderAddress:       msg.SenderAddress,
		Sent:                msg.Sent,
		Content:             msg.Content,
		ContentType:         msg.ContentType,
		Kind:                models.ResolveContentKind(msg.ContentType),
		ContentFallback:     msg.ContentFallback,
		Status:              status,
		ReferencedMessageID: msg.ReferencedMessageID,
	}
}
