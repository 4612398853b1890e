package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"messenger-sync/internal/models"
	"messenger-sync/internal/observability"
	"messenger-sync/internal/protocol"
	"messenger-sync/internal/repositories"
	"messenger-sync/internal/state"
)

// SaveMessages reconciles a protocol message batch into the store. Reactions
// merge into their target instead of landing as rows; messages for unknown
// topics and malformed reactions are logged and skipped without failing the
// batch.
func (e *Engine) SaveMessages(ctx context.Context, account string, incoming []protocol.Message) error {
	if len(incoming) == 0 {
		return nil
	}
	observability.IncSyncBatch("messages")
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > observability.SlowOperationThreshold {
			observability.IncSlowOperation("save_messages")
			log.Printf("message sync: slow batch n=%d took=%s", len(incoming), elapsed)
		}
	}()

	store, ok := e.registry.Store(account)
	if !ok {
		return state.ErrAccountNotFound
	}

	toUpsert := make([]models.Message, 0, len(incoming))
	for _, raw := range incoming {
		msg := mapMessage(account, raw)

		if !e.topicKnown(ctx, store, msg.ConversationTopic) {
			observability.IncSyncItemError("messages")
			log.Printf("message sync: unknown topic=%s id=%s, skipping", msg.ConversationTopic, msg.ID)
			continue
		}

		if msg.Kind == models.KindReaction {
			if err := e.saveReaction(ctx, account, store, msg); err != nil {
				observability.IncSyncItemError("reactions")
				log.Printf("message sync: reaction id=%s dropped: %v", msg.ID, err)
			}
			continue
		}

		toUpsert = append(toUpsert, msg)
	}

	if len(toUpsert) > 0 {
		if err := e.msgRepo.UpsertMessages(ctx, toUpsert); err != nil {
			return fmt.Errorf("persist messages: %w", err)
		}
		observability.AddSyncItemsSaved("messages", len(toUpsert))

		for i := range toUpsert {
			msg := toUpsert[i]
			if existing, ok := store.Message(msg.ConversationTopic, msg.ID); ok {
				msg.Reactions = existing.Reactions
			}
			store.UpsertMessages(msg.ConversationTopic, []models.Message{msg})
			e.broadcast(account, models.StoreEvent{
				Type:    models.EventMessageUpserted,
				Topic:   msg.ConversationTopic,
				Message: &msg,
			})
		}
	}
	return nil
}

// saveReaction merges one reaction message into its target's reaction map.
// The map is keyed by the reaction message's own id, so replays overwrite
// themselves and the newest event per sender wins at render time.
func (e *Engine) saveReaction(ctx context.Context, account string, store *state.AccountStore, msg models.Message) error {
	var payload models.Reaction
	if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.Reference == "" {
		return errors.New("missing target reference")
	}
	if payload.Action != models.ReactionAdded && payload.Action != models.ReactionRemoved {
		return fmt.Errorf("unknown action %q", payload.Action)
	}

	stored := models.StoredReaction{
		SenderAddress: msg.SenderAddress,
		Content:       payload.Content,
		Action:        payload.Action,
		Schema:        payload.Schema,
		Sent:          msg.Sent,
	}
	if err := e.msgRepo.MergeReaction(ctx, payload.Reference, msg.ID, stored); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return fmt.Errorf("target %s not stored", payload.Reference)
		}
		return fmt.Errorf("merge: %w", err)
	}

	if store.MergeReaction(msg.ConversationTopic, payload.Reference, msg.ID, stored) {
		if target, ok := store.Message(msg.ConversationTopic, payload.Reference); ok {
			e.broadcast(account, models.StoreEvent{
				Type:    models.EventMessageUpserted,
				Topic:   msg.ConversationTopic,
				Message: &target,
			})
		}
	}
	return nil
}

// MirrorOwnReaction merges a just-queued outbound reaction into its target's
// reaction map so the sender's UI settles before the dispatch round trip.
func (e *Engine) MirrorOwnReaction(ctx context.Context, account, topic, targetID string, reactionMsg models.Message) error {
	var payload models.Reaction
	if err := json.Unmarshal([]byte(reactionMsg.Content), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	stored := models.StoredReaction{
		SenderAddress: account,
		Content:       payload.Content,
		Action:        payload.Action,
		Schema:        payload.Schema,
		Sent:          reactionMsg.Sent,
	}
	if err := e.msgRepo.MergeReaction(ctx, targetID, reactionMsg.ID, stored); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	store, ok := e.registry.Store(account)
	if !ok {
		return nil
	}
	if store.MergeReaction(topic, targetID, reactionMsg.ID, stored) {
		if target, found := store.Message(topic, targetID); found {
			e.broadcast(account, models.StoreEvent{
				Type:    models.EventMessageUpserted,
				Topic:   topic,
				Message: &target,
			})
		}
	}
	return nil
}

// UpdateMessageID renumbers an optimistic message to its protocol-assigned id
// and timestamp, carrying the cached attachment folder along.
func (e *Engine) UpdateMessageID(ctx context.Context, account, topic, oldID string, receipt protocol.SendReceipt) error {
	if err := e.msgRepo.UpdateMessageID(ctx, oldID, receipt.ID, receipt.Sent); err != nil {
		return fmt.Errorf("renumber %s: %w", oldID, err)
	}
	if e.attachments != nil {
		if err := e.attachments.Relocate(oldID, receipt.ID); err != nil {
			log.Printf("attachment relocate %s -> %s failed: %v", oldID, receipt.ID, err)
		}
	}

	store, ok := e.registry.Store(account)
	if !ok {
		return nil
	}
	if msg, found := store.Message(topic, oldID); found {
		msg.ID = receipt.ID
		msg.Sent = receipt.Sent
		store.ReplaceMessageID(topic, oldID, msg)
	}
	e.broadcast(account, models.StoreEvent{
		Type:         models.EventMessageIDChanged,
		Topic:        topic,
		MessageID:    receipt.ID,
		OldMessageID: oldID,
	})
	return nil
}

// MarkMessageAsSent settles an optimistic message after the protocol accepted
// it.
func (e *Engine) MarkMessageAsSent(ctx context.Context, account, topic, id string) error {
	if err := e.msgRepo.SetMessageStatus(ctx, id, models.StatusSent); err != nil {
		return fmt.Errorf("mark sent %s: %w", id, err)
	}
	if store, ok := e.registry.Store(account); ok {
		store.SetMessageStatus(topic, id, models.StatusSent)
	}
	e.broadcast(account, models.StoreEvent{
		Type:      models.EventMessageStatus,
		Topic:     topic,
		MessageID: id,
		Status:    models.StatusSent,
	})
	return nil
}

// MarkReadUntil advances the conversation's read watermark. The watermark
// only moves forward unless force rewinds it.
func (e *Engine) MarkReadUntil(ctx context.Context, account, topic string, readUntil time.Time, force bool) error {
	if err := e.convRepo.UpdateReadUntil(ctx, topic, readUntil, force); err != nil {
		return fmt.Errorf("read watermark %s: %w", topic, err)
	}
	store, ok := e.registry.Store(account)
	if !ok {
		return nil
	}
	conv, found := store.Conversation(topic)
	if !found {
		return nil
	}
	if force || readUntil.After(conv.ReadUntil) {
		conv.ReadUntil = readUntil
		store.SetConversations([]models.Conversation{conv})
		e.broadcast(account, models.StoreEvent{
			Type:         models.EventConversationUpserted,
			Topic:        topic,
			Conversation: &conv,
		})
	}
	return nil
}

// topicKnown checks the reactive store first, then the backing store, for the
// message's conversation.
func (e *Engine) topicKnown(ctx context.Context, store *state.AccountStore, topic string) bool {
	if _, ok := store.Conversation(topic); ok {
		return true
	}
	_, err := e.convRepo.GetConversation(ctx, topic)
	return err == nil
}
