package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/devsync/internal/port/broadcast"
)

// EventHello carries the current run status to a newly connected client.
const EventHello = "sync.hello"

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals a typed event and broadcasts it.
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

func encode(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: eventType, Payload: data})
}
