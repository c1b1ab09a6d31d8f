package telemetry

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"marketplace-messaging/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter publishes audit log envelopes for notable messaging actions.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level        string            `json:"level"`
	Text         string            `json:"text"`
	Conversation string            `json:"conversation,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// LogFields summarises the envelope for the noop publisher's log line.
func (e AuditEnvelope) LogFields() string {
	return fmt.Sprintf("event_type=%s user_id=%s conversation=%s text=%q", e.EventType, e.UserID, e.Payload.Conversation, e.Payload.Text)
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit is safe on a nil emitter.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID, userID string, fields map[string]string) {
	e.emit(ctx, "audit_log", requestID, userID, AuditPayload{Level: level, Text: text, Fields: fields})
}

// MessageFailed records an optimistic send that the store rejected. The
// message body is not recorded, only its length.
func (e *AuditEmitter) MessageFailed(ctx context.Context, requestID, connID string, placeholder models.Message) {
	e.emit(ctx, "message_send_failed", requestID, placeholder.SenderID, AuditPayload{
		Level:        "warn",
		Text:         "message send failed",
		Conversation: placeholder.Parent.String(),
		Fields: map[string]string{
			"conn_id":        connID,
			"temp_id":        placeholder.ID,
			"content_length": strconv.Itoa(len(placeholder.Content)),
		},
	})
}

func (e *AuditEmitter) emit(ctx context.Context, eventType, requestID, userID string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: event_type=%s level=%s request_id=%s user_id=%s conversation=%s text=%q",
		eventType, payload.Level, requestID, userID, payload.Conversation, payload.Text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed event_type=%s: %v", eventType, err)
	}
}
