package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for websocket messages this module actually emits.
// Event bus activity arrives under a dynamic "event.<event_type>" subject
// (see engine/eventbus.Bus) rather than a fixed constant, since the event
// type itself is data.
const (
	EventExecutionDisplay = "execution.display"
	EventConnectorHealth  = "connector.health"
)

// ExecutionDisplayEvent carries one chunk of streamed stdout/display text
// from a running CLI agent process. Mirrors the payload shape
// executor.Engine.publishDisplay marshals by hand.
type ExecutionDisplayEvent struct {
	ExecutionID string `json:"execution_id"`
	Text        string `json:"text"`
}

// ConnectorHealthEvent is broadcast after an on-demand connector
// healthcheck completes, so a desktop client watching the hub sees the
// result without polling the HTTP endpoint that triggered it.
type ConnectorHealthEvent struct {
	CredentialID string `json:"credential_id"`
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BroadcastEvent marshals a typed event and broadcasts it under eventType.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
