package ws

import (
	"time"

	"marketplace-messaging/internal/models"
)

type ConnInfo struct {
	ConnID      string      `json:"conn_id"`
	UserID      string      `json:"user_id"`
	Role        models.Role `json:"role"`
	DeviceID    string      `json:"device_id,omitempty"`
	IP          string      `json:"ip,omitempty"`
	RequestID   string      `json:"request_id,omitempty"`
	TraceID     string      `json:"trace_id,omitempty"`
	DeepLink    string      `json:"deep_link,omitempty"`
	ConnectedAt time.Time   `json:"connected_at"`
}
