package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger-sync/internal/models"
	"messenger-sync/internal/observability"
)

const wsEventsRoutingPrefix = "sync.ws."

// wsEvent shapes a push-connection lifecycle event for the bus.
func wsEvent(name string, info ConnInfo, reason string) observability.EventEnvelope {
	var duration int64
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	return observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Account:   info.Account,
		WS: &observability.WSEventPayload{
			Event:      name,
			ConnID:     info.ConnID,
			DurationMS: duration,
			Reason:     reason,
		},
		Identity: &observability.IdentityPayload{
			Account:  info.Account,
			DeviceID: info.DeviceID,
			IP:       info.IP,
		},
	}
}

// client wraps a subscriber connection with a write mutex; gorilla allows at
// most one concurrent writer per connection.
type client struct {
	mu sync.Mutex
}

// Hub maintains active websocket rooms, one per account.
type Hub struct {
	rooms    map[string]map[*websocket.Conn]*client
	connInfo map[string]map[*websocket.Conn]ConnInfo
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*websocket.Conn]*client),
		connInfo: make(map[string]map[*websocket.Conn]ConnInfo),
	}
}

// AddClient registers a websocket connection to an account room.
func (h *Hub) AddClient(account string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[account]; !ok {
		h.rooms[account] = make(map[*websocket.Conn]*client)
	}
	h.rooms[account][conn] = &client{}
	if _, ok := h.connInfo[account]; !ok {
		h.connInfo[account] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[account][conn] = info
}

// RemoveClient removes a websocket connection from an account room.
func (h *Hub) RemoveClient(account string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[account]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, account)
		}
	}
	if infos, ok := h.connInfo[account]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, account)
		}
	}
}

// BroadcastStoreEvent pushes a store mutation to every subscriber of the
// account.
func (h *Hub) BroadcastStoreEvent(account string, evt models.StoreEvent) {
	type subscriber struct {
		conn   *websocket.Conn
		client *client
	}

	// Snapshot under the lock; writes happen outside it so a slow conn
	// cannot stall AddClient/RemoveClient.
	h.mu.RLock()
	subs := make([]subscriber, 0, len(h.rooms[account]))
	for conn, cl := range h.rooms[account] {
		subs = append(subs, subscriber{conn: conn, client: cl})
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	payload, _ := json.Marshal(evt)
	for _, sub := range subs {
		sub.client.mu.Lock()
		err := sub.conn.WriteMessage(websocket.TextMessage, payload)
		sub.client.mu.Unlock()
		if err != nil {
			log.Printf("websocket write error: %v", err)
			sub.conn.Close()
			h.publishWSError(account, sub.conn, err)
			h.RemoveClient(account, sub.conn)
		}
	}
	observability.IncWSEvent(evt.Type)
}

func (h *Hub) publishWSError(account string, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(account, conn)
	if !ok {
		return
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsEventsRoutingPrefix+"error",
		wsEvent("ws_error", info, err.Error()), headers)
	observability.IncWSEvent("ws_error")
}

func (h *Hub) getConnInfo(account string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[account]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
