package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"messenger-sync/internal/models"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient("0xME", nil, ConnInfo{ConnID: "c1", Account: "0xME"})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected account room to be created")
	}
	if _, ok := hub.getConnInfo("0xME", nil); !ok {
		t.Fatalf("expected conn info to be tracked")
	}

	hub.RemoveClient("0xME", nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected account room to be removed")
	}
	if len(hub.connInfo) != 0 {
		t.Fatalf("expected conn info to be dropped")
	}
}

func TestHubRoomsAreIsolatedPerAccount(t *testing.T) {
	hub := NewHub()

	hub.AddClient("0xA", nil, ConnInfo{ConnID: "c1", Account: "0xA"})
	hub.AddClient("0xB", nil, ConnInfo{ConnID: "c2", Account: "0xB"})
	if len(hub.rooms) != 2 {
		t.Fatalf("expected one room per account")
	}

	hub.RemoveClient("0xA", nil)
	if _, ok := hub.rooms["0xB"]; !ok {
		t.Fatalf("expected other account room to survive")
	}
}

func TestWSEventEnvelopeShape(t *testing.T) {
	info := ConnInfo{
		ConnID:      "c1",
		Account:     "0xME",
		DeviceID:    "dev-7",
		IP:          "10.0.0.2",
		ConnectedAt: time.Now().Add(-time.Second),
	}
	evt := wsEvent("ws_error", info, "write timeout")

	if evt.EventName != "ws_error" || evt.Account != "0xME" {
		t.Fatalf("unexpected envelope header: %+v", evt)
	}
	if evt.WS == nil || evt.WS.ConnID != "c1" || evt.WS.Reason != "write timeout" {
		t.Fatalf("unexpected ws payload: %+v", evt.WS)
	}
	if evt.WS.DurationMS < 900 {
		t.Fatalf("duration not derived from connect time: %d", evt.WS.DurationMS)
	}
	if evt.Identity == nil || evt.Identity.DeviceID != "dev-7" || evt.Identity.IP != "10.0.0.2" {
		t.Fatalf("unexpected identity payload: %+v", evt.Identity)
	}
}

func TestHubConcurrentBroadcastsStayFramed(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.AddClient("0xME", conn, ConnInfo{ConnID: "c1", Account: "0xME"})
	}))
	defer srv.Close()

	dialed, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer dialed.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		registered := len(hub.rooms["0xME"]) == 1
		hub.mu.RUnlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.BroadcastStoreEvent("0xME", models.StoreEvent{
				Type:  models.EventMessageUpserted,
				Topic: "/chat/dm-1",
			})
		}()
	}
	wg.Wait()

	dialed.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 4; i++ {
		_, payload, err := dialed.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		var evt models.StoreEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			t.Fatalf("frame %d is not a store event: %v", i, err)
		}
		if evt.Type != models.EventMessageUpserted {
			t.Fatalf("frame %d: unexpected event %q", i, evt.Type)
		}
	}
}
