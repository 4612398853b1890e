package ws

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-sync/internal/observability"
	"messenger-sync/internal/state"
)

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// AccountWebSocketHandler streams store events for one account to the UI.
type AccountWebSocketHandler struct {
	hub      *Hub
	registry *state.Registry
}

// NewAccountWebSocketHandler constructs an AccountWebSocketHandler.
func NewAccountWebSocketHandler(hub *Hub, registry *state.Registry) *AccountWebSocketHandler {
	return &AccountWebSocketHandler{hub: hub, registry: registry}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client in the account
// room.
func (h *AccountWebSocketHandler) Handle(c *gin.Context) {
	account := c.Param("account")
	if account == "" {
		account = observability.AccountFromRequest(c.Request)
	}
	if account == "" {
		account = h.registry.Current()
	}
	if _, ok := h.registry.Store(account); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not registered"})
		return
	}

	ctx, span := otel.Tracer("messenger-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		Account:     account,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(account, conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, wsEventsRoutingPrefix+"connect",
		wsEvent("ws_connect", info, ""), observability.BuildHeaders(requestID, traceID))

	// Keep connection alive and clean on close
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(account, conn)
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			_ = observability.PublishEvent(ctx, wsEventsRoutingPrefix+"disconnect",
				wsEvent("ws_disconnect", info, closeReason), observability.BuildHeaders(requestID, traceID))
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
				}
				return
			}
		}
	}()
}
