package ws

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"marketplace-messaging/internal/observability"
)

const wsRoutingKey = "ws_events.messages"

// Hub tracks the open messaging connections.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Add registers a connected client.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Remove unregisters c and reports whether it was registered.
func (h *Hub) Remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connections lists the open connections, oldest first.
func (h *Hub) Connections() []ConnInfo {
	h.mu.RLock()
	infos := make([]ConnInfo, 0, len(h.clients))
	for c := range h.clients {
		infos = append(infos, c.info)
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// CloseAll asks every client to close; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	log.Printf("websocket error conn_id=%s user_id=%s: %v", info.ConnID, info.UserID, err)
	publishLifecycle(context.Background(), "ws_error", info, err.Error())
	observability.IncWSEvent("ws_error")
}

func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	var duration int64
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
				"deep_link":   info.DeepLink,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"role":      info.Role,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}
