// Package projection derives render-ready display state from the reactive
// store. Everything here is a pure function recomputed on every pass; none of
// these flags are ever persisted.
package projection

import (
	"time"

	"github.com/google/uuid"

	"messenger-sync/internal/models"
)

// ListItem is a message decorated with per-render display flags.
type ListItem struct {
	models.Message
	FromMe                  bool `json:"from_me"`
	HasPreviousInSeries     bool `json:"has_previous_in_series"`
	HasNextInSeries         bool `json:"has_next_in_series"`
	DateChange              bool `json:"date_change"`
	IsLatestSettledFromMe   bool `json:"is_latest_settled_from_me"`
	IsLatestSettledFromPeer bool `json:"is_latest_settled_from_peer"`
	IsLoadingAttachment     bool `json:"is_loading_attachment"`
}

// BuildList filters and decorates the ordered (oldest first) message sequence
// of a conversation for rendering.
func BuildList(account string, msgs []models.Message, attachmentsLoading map[string]bool) []ListItem {
	items := make([]ListItem, 0, len(msgs))
	for _, msg := range msgs {
		if !displayable(msg) {
			continue
		}
		items = append(items, ListItem{
			Message:             msg,
			FromMe:              msg.FromMe(account),
			IsLoadingAttachment: attachmentsLoading[msg.ID],
		})
	}

	for i := range items {
		if i == 0 {
			items[i].DateChange = true
			continue
		}
		prev := &items[i-1]
		cur := &items[i]
		sameDay := sameCalendarDay(prev.Sent, cur.Sent)
		cur.DateChange = !sameDay
		if sameDay && prev.SenderAddress == cur.SenderAddress &&
			prev.Kind != models.KindGroupUpdated && cur.Kind != models.KindGroupUpdated {
			cur.HasPreviousInSeries = true
			prev.HasNextInSeries = true
		}
	}

	// Walking newest to oldest: the first settled own message and the first
	// peer message carry the delivery/read chrome.
	foundMine, foundPeer := false, false
	for i := len(items) - 1; i >= 0 && !(foundMine && foundPeer); i-- {
		if items[i].FromMe {
			if !foundMine && items[i].Status != models.StatusSending && items[i].Status != models.StatusPrepared {
				items[i].IsLatestSettledFromMe = true
				foundMine = true
			}
		} else if !foundPeer {
			items[i].IsLatestSettledFromPeer = true
			foundPeer = true
		}
	}
	return items
}

func displayable(msg models.Message) bool {
	switch msg.Kind {
	case models.KindReaction, models.KindReadReceipt:
		return false
	case models.KindAttachment:
		// A UUID-shaped id means the attachment row is still the locally
		// synthesized placeholder; the media preview renders it instead.
		return !isPlaceholderID(msg.ID)
	default:
		return true
	}
}

func isPlaceholderID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
