package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-sync/internal/models"
)

func TestRollupReactionsEmpty(t *testing.T) {
	assert.Nil(t, RollupReactions(nil, me))
	assert.Nil(t, RollupReactions(models.ReactionMap{}, me))
}

func TestRollupReactionsCountsAndReactors(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rollups := RollupReactions(models.ReactionMap{
		"0x1": {SenderAddress: peer, Content: "👍", Action: models.ReactionAdded, Sent: base},
		"0x2": {SenderAddress: me, Content: "👍", Action: models.ReactionAdded, Sent: base.Add(time.Second)},
		"0x3": {SenderAddress: peer, Content: "❤️", Action: models.ReactionAdded, Sent: base.Add(2 * time.Second)},
	}, me)

	require.Len(t, rollups, 2)
	thumbs := rollups[1]
	if rollups[0].Emoji == "👍" {
		thumbs = rollups[0]
	}
	assert.Equal(t, 2, thumbs.Count)
	assert.True(t, thumbs.UserReacted)
	assert.ElementsMatch(t, []string{me, peer}, thumbs.Reactors)
}

func TestRollupReactionsAddThenRemoveCancels(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rollups := RollupReactions(models.ReactionMap{
		"0x1": {SenderAddress: peer, Content: "👍", Action: models.ReactionAdded, Sent: base},
		"0x2": {SenderAddress: peer, Content: "👍", Action: models.ReactionRemoved, Sent: base.Add(time.Minute)},
	}, me)

	assert.Empty(t, rollups)
}

func TestRollupReactionsRemoveThenReAdd(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rollups := RollupReactions(models.ReactionMap{
		"0x1": {SenderAddress: peer, Content: "👍", Action: models.ReactionAdded, Sent: base},
		"0x2": {SenderAddress: peer, Content: "👍", Action: models.ReactionRemoved, Sent: base.Add(time.Minute)},
		"0x3": {SenderAddress: peer, Content: "👍", Action: models.ReactionAdded, Sent: base.Add(2 * time.Minute)},
	}, me)

	require.Len(t, rollups, 1)
	assert.Equal(t, 1, rollups[0].Count)
	assert.False(t, rollups[0].UserReacted)
}
