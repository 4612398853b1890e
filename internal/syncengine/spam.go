package syncengine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"messenger-sync/internal/models"
	"messenger-sync/internal/observability"
)

// ComputeConversationsSpamScores scores unscored conversations so the inbox
// partition can settle. The base score is the peer's sender reputation; a link
// in the opening message from the peer adds one. Scores below one count as
// clean. Already-scored conversations are left alone.
func (e *Engine) ComputeConversationsSpamScores(ctx context.Context, account string) error {
	if e.profiles == nil {
		return nil
	}

	convs, err := e.convRepo.ListConversations(ctx, account)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	unscored := make([]models.Conversation, 0, len(convs))
	addresses := make([]string, 0, len(convs))
	seen := make(map[string]bool)
	for _, conv := range convs {
		if conv.IsGroup || conv.Pending || conv.SpamScore != nil || conv.PeerAddress == "" {
			continue
		}
		unscored = append(unscored, conv)
		if !seen[conv.PeerAddress] {
			seen[conv.PeerAddress] = true
			addresses = append(addresses, conv.PeerAddress)
		}
	}
	if len(unscored) == 0 {
		return nil
	}

	reputation, err := e.profiles.SenderReputation(ctx, addresses)
	if err != nil {
		return fmt.Errorf("sender reputation: %w", err)
	}

	scores := make(map[string]int, len(unscored))
	for _, conv := range unscored {
		score, ok := reputation[conv.PeerAddress]
		if !ok {
			continue
		}
		if e.firstPeerMessageHasLink(ctx, conv) {
			score++
		}
		scores[conv.Topic] = score
	}
	if len(scores) == 0 {
		return nil
	}

	if err := e.convRepo.UpdateSpamScores(ctx, scores); err != nil {
		return fmt.Errorf("persist spam scores: %w", err)
	}
	observability.AddSyncItemsSaved("spam_scores", len(scores))

	store, ok := e.registry.Store(account)
	if !ok {
		return nil
	}
	for topic, score := range scores {
		conv, ok := store.Conversation(topic)
		if !ok {
			continue
		}
		s := score
		conv.SpamScore = &s
		store.SetConversations([]models.Conversation{conv})
		e.broadcast(account, models.StoreEvent{
			Type:         models.EventConversationUpserted,
			Topic:        topic,
			Conversation: &conv,
		})
	}
	return nil
}

// firstPeerMessageHasLink checks whether the conversation opens with a peer
// message carrying a URL, the usual shape of cold spam.
func (e *Engine) firstPeerMessageHasLink(ctx context.Context, conv models.Conversation) bool {
	msgs, err := e.msgRepo.ListMessages(ctx, conv.Topic)
	if err != nil {
		log.Printf("spam scoring: list messages topic=%s: %v", conv.Topic, err)
		return false
	}
	for _, msg := range msgs {
		if msg.FromMe(conv.Account) {
			// The user replied first or started the thread; not cold spam.
			return false
		}
		if msg.Kind != models.KindText {
			continue
		}
		content := strings.ToLower(msg.Content)
		return strings.Contains(content, "http://") || strings.Contains(content, "https://")
	}
	return false
}
