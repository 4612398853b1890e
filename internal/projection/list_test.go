package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-sync/internal/models"
)

const (
	me   = "0xME"
	peer = "0xPEER"
)

func textMsg(id, sender string, sent time.Time) models.Message {
	return models.Message{
		ID:            id,
		SenderAddress: sender,
		Sent:          sent,
		Content:       "hi",
		ContentType:   models.ContentTypeText + ":1.0",
		Kind:          models.KindText,
		Status:        models.StatusDelivered,
	}
}

func TestBuildListFirstItemAlwaysMarksDateChange(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	items := BuildList(me, []models.Message{textMsg("0xa", peer, base)}, nil)

	require.Len(t, items, 1)
	assert.True(t, items[0].DateChange)
	assert.False(t, items[0].FromMe)
}

func TestBuildListDateChangeOnDayBoundary(t *testing.T) {
	day1 := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC)
	items := BuildList(me, []models.Message{
		textMsg("0xa", peer, day1),
		textMsg("0xb", peer, day2),
	}, nil)

	require.Len(t, items, 2)
	assert.True(t, items[1].DateChange)
	assert.False(t, items[1].HasPreviousInSeries, "a day boundary breaks the series")
}

func TestBuildListSeriesGrouping(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	items := BuildList(me, []models.Message{
		textMsg("0xa", peer, base),
		textMsg("0xb", peer, base.Add(time.Minute)),
		textMsg("0xc", me, base.Add(2*time.Minute)),
	}, nil)

	require.Len(t, items, 3)
	assert.False(t, items[0].HasPreviousInSeries)
	assert.True(t, items[0].HasNextInSeries)
	assert.True(t, items[1].HasPreviousInSeries)
	assert.False(t, items[1].HasNextInSeries, "sender change ends the series")
	assert.False(t, items[2].HasPreviousInSeries)
}

func TestBuildListGroupUpdatedNeverJoinsSeries(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	update := textMsg("0xb", peer, base.Add(time.Minute))
	update.Kind = models.KindGroupUpdated
	items := BuildList(me, []models.Message{
		textMsg("0xa", peer, base),
		update,
		textMsg("0xc", peer, base.Add(2*time.Minute)),
	}, nil)

	require.Len(t, items, 3)
	assert.False(t, items[0].HasNextInSeries)
	assert.False(t, items[1].HasPreviousInSeries)
	assert.False(t, items[1].HasNextInSeries)
	assert.False(t, items[2].HasPreviousInSeries)
}

func TestBuildListLatestSettledFlags(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sentMsg := textMsg("0xb", me, base.Add(time.Minute))
	sentMsg.Status = models.StatusSent
	queued := textMsg("163e23b1-4f66-4b62-8fa4-9a793d1ca17e", me, base.Add(2*time.Minute))
	queued.Status = models.StatusSending

	items := BuildList(me, []models.Message{
		textMsg("0xa", peer, base),
		sentMsg,
		queued,
	}, nil)

	require.Len(t, items, 3)
	assert.True(t, items[0].IsLatestSettledFromPeer)
	assert.True(t, items[1].IsLatestSettledFromMe)
	assert.False(t, items[2].IsLatestSettledFromMe, "a still-sending message is not settled")
}

func TestBuildListFiltersReactionsAndReceipts(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	reaction := textMsg("0xb", peer, base.Add(time.Minute))
	reaction.Kind = models.KindReaction
	receipt := textMsg("0xc", peer, base.Add(2*time.Minute))
	receipt.Kind = models.KindReadReceipt

	items := BuildList(me, []models.Message{textMsg("0xa", peer, base), reaction, receipt}, nil)

	require.Len(t, items, 1)
	assert.Equal(t, "0xa", items[0].ID)
}

func TestBuildListHidesAttachmentPlaceholders(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	placeholder := textMsg("163e23b1-4f66-4b62-8fa4-9a793d1ca17e", me, base)
	placeholder.Kind = models.KindAttachment
	settled := textMsg("0xd2", me, base.Add(time.Minute))
	settled.Kind = models.KindAttachment

	items := BuildList(me, []models.Message{placeholder, settled}, map[string]bool{"0xd2": true})

	require.Len(t, items, 1)
	assert.Equal(t, "0xd2", items[0].ID)
	assert.True(t, items[0].IsLoadingAttachment)
}
