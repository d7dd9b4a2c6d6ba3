package ws

import (
	"encoding/json"
	"time"

	"log/slog"
)

// Broadcaster wraps a Hub with named-event envelopes addressed to one user.
// Marshal failures are logged and swallowed; event delivery is never fatal
// to the caller.
type Broadcaster struct {
	hub *Hub
	log *slog.Logger
}

// NewBroadcaster builds a Broadcaster over the given hub.
func NewBroadcaster(hub *Hub, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, log: logger}
}

// DeliverToUser wraps the payload in an event envelope and hands it to the
// user's active sessions.
func (b *Broadcaster) DeliverToUser(userID, event string, payload any) {
	data, err := json.Marshal(map[string]any{
		"event": event,
		"data":  payload,
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		b.log.Warn("marshal event payload failed", "event", event, "error", err)
		return
	}
	b.hub.Broadcast(userID, data)
}
