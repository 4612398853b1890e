package observability

import "time"

// EventEnvelope is the wire shape of messenger-sync bus events.
type EventEnvelope struct {
	EventType string           `json:"event_type"`
	EventName string           `json:"event_name"`
	Account   string           `json:"account,omitempty"`
	EmittedAt time.Time        `json:"emitted_at"`
	WS        *WSEventPayload  `json:"ws,omitempty"`
	Identity  *IdentityPayload `json:"identity,omitempty"`
}

// WSEventPayload describes a lifecycle event on a push connection.
type WSEventPayload struct {
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

// IdentityPayload identifies the device behind an event.
type IdentityPayload struct {
	Account  string `json:"account"`
	DeviceID string `json:"device_id,omitempty"`
	IP       string `json:"ip,omitempty"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
