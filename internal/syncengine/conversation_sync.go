package syncengine

import (
	"context"
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

// SaveConversations reconciles a protocol conversation batch into the store.
// A batch item either upgrades a matching pending conversation in place,
// merges into an existing conversation for the same peer, or is inserted as
// new. Per-item failures are logged and skipped; the batch keeps going.
func (e *Engine) SaveConversations(ctx context.Context, account string, incoming []protocol.Conversation) error {
	if len(incoming) == 0 {
		return nil
	}
	observability.IncSyncBatch("conversations")
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > observability.SlowOperationThreshold {
			observability.IncSlowOperation("save_conversations")
			log.Printf("conversation sync: slow batch n=%d took=%s", len(incoming), elapsed)
		}
	}()

	store, ok := e.registry.Store(account)
	if !ok {
		return state.ErrAccountNotFound
	}

	toUpsert := make([]models.Conversation, 0, len(incoming))
	for _, raw := range incoming {
		conv := mapConversation(account, raw)
		merged, err := e.reconcileConversation(ctx, store, conv)
		if err != nil {
			observability.IncSyncItemError("conversations")
			log.Printf("conversation sync: skipping topic=%s: %v", conv.Topic, err)
			continue
		}
		toUpsert = append(toUpsert, merged)
	}
	if len(toUpsert) == 0 {
		return nil
	}

	if err := e.convRepo.UpsertConversations(ctx, toUpsert); err != nil {
		return fmt.Errorf("persist conversations: %w", err)
	}
	observability.AddSyncItemsSaved("conversations", len(toUpsert))

	for i := range toUpsert {
		conv := toUpsert[i]
		if existing, ok := store.Conversation(conv.Topic); ok {
			// Keep locally derived fields the upsert preserves in the store.
			conv.ReadUntil = existing.ReadUntil
			conv.SpamScore = existing.SpamScore
			if conv.PeerDisplayName == "" {
				conv.PeerDisplayName = existing.PeerDisplayName
				conv.ProfileRefreshedAt = existing.ProfileRefreshedAt
			}
		}
		store.SetConversations([]models.Conversation{conv})
		e.broadcast(account, models.StoreEvent{
			Type:         models.EventConversationUpserted,
			Topic:        conv.Topic,
			Conversation: &conv,
		})
	}

	e.refreshPeerProfiles(ctx, account, store, toUpsert)
	return nil
}

// reconcileConversation resolves the incoming conversation against local
// state before the batch upsert. Groups never merge; 1:1 conversations are
// unique per (peer address, context id).
func (e *Engine) reconcileConversation(ctx context.Context, store *state.AccountStore, conv models.Conversation) (models.Conversation, error) {
	if conv.IsGroup {
		return conv, nil
	}

	// A pending conversation for the same peer upgrades in place: the topic
	// is rewritten and its queued messages follow it.
	pending, err := e.convRepo.FindByPeer(ctx, conv.Account, conv.PeerAddress, conv.ContextID, true)
	switch {
	case err == nil && pending.Topic != conv.Topic:
		if err := e.convRepo.PromoteConversation(ctx, pending.Topic, conv.Topic, conv.Version); err != nil {
			return conv, fmt.Errorf("promote pending %s: %w", pending.Topic, err)
		}
		store.RenameConversation(pending.Topic, conv)
		e.broadcast(conv.Account, models.StoreEvent{
			Type:  models.EventConversationRemoved,
			Topic: pending.Topic,
		})
		log.Printf("conversation sync: pending %s upgraded to %s", pending.Topic, conv.Topic)
		conv.ReadUntil = pending.ReadUntil
		return conv, nil
	case err != nil && !errors.Is(err, repositories.ErrConversationNotFound):
		return conv, fmt.Errorf("lookup pending peer: %w", err)
	}

	// A settled conversation for the same peer under a different topic is a
	// duplicate; its messages move under the incoming topic and the stale row
	// is dropped.
	existing, err := e.convRepo.FindByPeer(ctx, conv.Account, conv.PeerAddress, conv.ContextID, false)
	switch {
	case err == nil && existing.Topic != conv.Topic:
		if err := e.msgRepo.ReassignMessages(ctx, existing.Topic, conv.Topic); err != nil {
			return conv, fmt.Errorf("merge duplicate %s: %w", existing.Topic, err)
		}
		if err := e.convRepo.DeleteConversation(ctx, existing.Topic); err != nil {
			return conv, fmt.Errorf("drop duplicate %s: %w", existing.Topic, err)
		}
		store.RenameConversation(existing.Topic, conv)
		e.broadcast(conv.Account, models.StoreEvent{
			Type:  models.EventConversationRemoved,
			Topic: existing.Topic,
		})
		log.Printf("conversation sync: duplicate %s merged into %s", existing.Topic, conv.Topic)
		conv.ReadUntil = existing.ReadUntil
		conv.SpamScore = existing.SpamScore
		return conv, nil
	case err != nil && !errors.Is(err, repositories.ErrConversationNotFound):
		return conv, fmt.Errorf("lookup settled peer: %w", err)
	}

	return conv, nil
}

// CleanupPendingConversations removes pending conversations that never got a
// message queued. The UI calls this when a draft chat screen is abandoned,
// and the flusher sweeps periodically in case it never does.
func (e *Engine) CleanupPendingConversations(ctx context.Context, account string) error {
	topics, err := e.convRepo.DeletePendingWithoutMessages(ctx, account)
	if err != nil {
		return fmt.Errorf("cleanup pending: %w", err)
	}
	store, ok := e.registry.Store(account)
	if !ok {
		return nil
	}
	for _, topic := range topics {
		store.RemoveConversation(topic)
		e.broadcast(account, models.StoreEvent{
			Type:  models.EventConversationRemoved,
			Topic: topic,
		})
	}
	return nil
}

// refreshPeerProfiles resolves display names for peers whose profile is
// missing or older than the TTL. Resolution is best effort and rate limited;
// failures never fail the sync batch.
func (e *Engine) refreshPeerProfiles(ctx context.Context, account string, store *state.AccountStore, convs []models.Conversation) {
	if e.profiles == nil {
		return
	}

	cutoff := time.Now().Add(-e.profileTTL)
	stale := make(map[string][]string)
	for _, conv := range convs {
		if conv.IsGroup || conv.PeerAddress == "" {
			continue
		}
		if conv.PeerDisplayName != "" && conv.ProfileRefreshedAt.After(cutoff) {
			continue
		}
		stale[conv.PeerAddress] = append(stale[conv.PeerAddress], conv.Topic)
	}
	if len(stale) == 0 {
		return
	}
	if !e.profileLimiter.Allow() {
		return
	}

	addresses := make([]string, 0, len(stale))
	for addr := range stale {
		addresses = append(addresses, addr)
	}
	profiles, err := e.profiles.BulkProfiles(ctx, addresses)
	if err != nil {
		log.Printf("profile refresh failed for %d peers: %v", len(addresses), err)
		return
	}

	now := time.Now().UTC()
	for addr, topics := range stale {
		profile, ok := profiles[addr]
		if !ok || profile.DisplayName == "" {
			continue
		}
		for _, topic := range topics {
			if err := e.convRepo.SetPeerProfile(ctx, topic, profile.DisplayName, now); err != nil {
				log.Printf("profile persist failed topic=%s: %v", topic, err)
				continue
			}
			if conv, ok := store.Conversation(topic); ok {
				conv.PeerDisplayName = profile.DisplayName
				conv.ProfileRefreshedAt = now
				store.SetConversations([]models.Conversation{conv})
				e.broadcast(account, models.StoreEvent{
					Type:         models.EventConversationUpserted,
					Topic:        topic,
					Conversation: &conv,
				})
			}
		}
	}
}

// ConversationShouldBeDisplayed reports whether a conversation belongs in the
// UI at all: locally deleted or blocked topics are hidden, denied peers are
// hidden, and legacy-surface conversations are hidden unless the peer was
// explicitly allowed.
func ConversationShouldBeDisplayed(conv models.Conversation, consent map[string]protocol.ConsentState, topicStatus map[string]state.TopicStatus) bool {
	switch topicStatus[conv.Topic] {
	case state.TopicStatusDeleted, state.TopicStatusBlocked:
		return false
	}
	peerConsent := consent[consentKey(conv)]
	if peerConsent == protocol.ConsentDenied {
		return false
	}
	if conv.Version == models.ConversationVersionLegacy && peerConsent != protocol.ConsentAllowed {
		return false
	}
	return true
}

// ConversationShouldBeInInbox partitions displayed conversations between the
// inbox and the requests box. Unknown-consent conversations stay out of the
// inbox until a spam score is known and clean.
func ConversationShouldBeInInbox(conv models.Conversation, consent map[string]protocol.ConsentState) bool {
	switch consent[consentKey(conv)] {
	case protocol.ConsentAllowed:
		return true
	case protocol.ConsentDenied:
		return false
	}
	if conv.Pending {
		// The user started it; it is theirs regardless of consent records.
		return true
	}
	return conv.SpamScore != nil && *conv.SpamScore < 1
}

func consentKey(conv models.Conversation) string {
	if conv.IsGroup {
		return conv.Topic
	}
	return conv.PeerAddress
}
