package projection

import (
	"sort"

	"messenger-sync/internal/models"
)

// ReactionRollup is the displayed aggregate for one emoji on one message.
type ReactionRollup struct {
	Emoji       string   `json:"emoji"`
	Count       int      `json:"count"`
	Reactors    []string `json:"reactors"`
	UserReacted bool     `json:"user_reacted"`
}

type reactionEvent struct {
	id       string
	reaction models.StoredReaction
}

// RollupReactions reduces raw reaction events to the displayed aggregates:
// only the chronologically last action per (sender, emoji) counts, and a
// final "removed" contributes nothing.
func RollupReactions(reactions models.ReactionMap, account string) []ReactionRollup {
	if len(reactions) == 0 {
		return nil
	}

	events := make([]reactionEvent, 0, len(reactions))
	for id, reaction := range reactions {
		events = append(events, reactionEvent{id: id, reaction: reaction})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].reaction.Sent.Equal(events[j].reaction.Sent) {
			return events[i].id > events[j].id
		}
		return events[i].reaction.Sent.After(events[j].reaction.Sent)
	})

	type senderEmoji struct{ sender, emoji string }
	latest := make(map[senderEmoji]models.StoredReaction, len(events))
	for _, ev := range events {
		key := senderEmoji{sender: ev.reaction.SenderAddress, emoji: ev.reaction.Content}
		if _, seen := latest[key]; !seen {
			latest[key] = ev.reaction
		}
	}

	byEmoji := make(map[string]*ReactionRollup)
	for key, reaction := range latest {
		if reaction.Action == models.ReactionRemoved {
			continue
		}
		rollup := byEmoji[key.emoji]
		if rollup == nil {
			rollup = &ReactionRollup{Emoji: key.emoji}
			byEmoji[key.emoji] = rollup
		}
		rollup.Count++
		rollup.Reactors = append(rollup.Reactors, key.sender)
		if key.sender == account {
			rollup.UserReacted = true
		}
	}

	rollups := make([]ReactionRollup, 0, len(byEmoji))
	for _, rollup := range byEmoji {
		sort.Strings(rollup.Reactors)
		rollups = append(rollups, *rollup)
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].Emoji < rollups[j].Emoji })
	return rollups
}
