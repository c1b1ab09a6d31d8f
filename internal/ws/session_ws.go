package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"marketplace-messaging/internal/messaging"
	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/observability"
	"marketplace-messaging/internal/repositories"
	"marketplace-messaging/internal/telemetry"
)

// Command is a client request on the messaging socket.
type Command struct {
	Type    string  `json:"type"`
	Kind    string  `json:"kind,omitempty"`
	ID      string  `json:"id,omitempty"`
	Content *string `json:"content,omitempty"`
}

const (
	CommandSelect  = "select"
	CommandBack    = "back"
	CommandDraft   = "draft"
	CommandSend    = "send"
	CommandRefresh = "refresh"
)

// SessionHandler serves the messaging websocket: one messaging session per connection.
type SessionHandler struct {
	hub        *Hub
	aggregator *messaging.Aggregator
	store      repositories.MessageRepository
	subscriber messaging.Subscriber
	audit      *telemetry.AuditEmitter
}

// NewSessionHandler constructs a SessionHandler. audit may be nil.
func NewSessionHandler(hub *Hub, aggregator *messaging.Aggregator, store repositories.MessageRepository, subscriber messaging.Subscriber, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{hub: hub, aggregator: aggregator, store: store, subscriber: subscriber, audit: audit}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs a session. The proposalId and
// contractId query parameters deep-link into a conversation.
func (h *SessionHandler) Handle(c *gin.Context) {
	viewer, ok := middleware.ViewerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}

	ctx, span := otel.Tracer("marketplace-messaging/ws").Start(c.Request.Context(), "ws.handshake")
	span.SetAttributes(attribute.String("user.id", viewer.ID), attribute.String("user.role", string(viewer.Role)))
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageSize)

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      viewer.ID,
		Role:        viewer.Role,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		DeepLink:    observability.DeepLinkFromRequest(c.Request, models.KindContract.QueryParam(), models.KindNegotiation.QueryParam()),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	client.onEvent = func(evt messaging.Event) { h.observe(info, evt) }
	session := messaging.NewSession(viewer, h.aggregator, h.store, h.subscriber, client.Enqueue)

	h.hub.Add(client)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(ctx, "ws_connect", info, "")

	go client.writePump(h.hub)
	go h.run(client, session, c.Request.URL.Query())
}

func (h *SessionHandler) run(client *Client, session *messaging.Session, query url.Values) {
	ctx, cancel := context.WithCancel(context.Background())
	var closeReason string
	defer func() {
		cancel()
		session.Close()
		client.Close()
		if h.hub.Remove(client) {
			observability.DecWSActive()
		}
		observability.IncWSEvent("ws_disconnect")
		publishLifecycle(context.Background(), "ws_disconnect", client.info, closeReason)
	}()

	conn := client.conn
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := session.Start(ctx, query); err != nil {
		log.Printf("messaging session start conn_id=%s: %v", client.info.ConnID, err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.publishWSError(client.info, err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			client.Enqueue(messaging.Event{Type: messaging.EventError, Error: "invalid command"})
			continue
		}
		h.dispatch(ctx, client, session, cmd)
	}
}

func (h *SessionHandler) dispatch(ctx context.Context, client *Client, session *messaging.Session, cmd Command) {
	switch cmd.Type {
	case CommandSelect:
		kind, err := models.ParseConversationKind(cmd.Kind)
		if err != nil || cmd.ID == "" {
			client.Enqueue(messaging.Event{Type: messaging.EventError, Error: "invalid conversation"})
			return
		}
		err = session.Select(ctx, models.ConversationKey{Kind: kind, ID: cmd.ID})
		if errors.Is(err, messaging.ErrConversationNotFound) {
			client.Enqueue(messaging.Event{Type: messaging.EventError, Error: "conversation not found"})
		}
	case CommandBack:
		session.Back()
	case CommandDraft:
		if cmd.Content != nil {
			session.SetDraft(*cmd.Content)
		}
	case CommandSend:
		// Sends do not block the read loop.
		go func() {
			var err error
			if cmd.Content != nil {
				_, err = session.SendText(ctx, *cmd.Content)
			} else {
				_, err = session.Send(ctx)
			}
			switch {
			case errors.Is(err, messaging.ErrEmptyMessage):
				client.Enqueue(messaging.Event{Type: messaging.EventError, Error: "message is empty"})
			case errors.Is(err, messaging.ErrNoConversation):
				client.Enqueue(messaging.Event{Type: messaging.EventError, Error: "no conversation selected"})
			}
		}()
	case CommandRefresh:
		session.RefreshConversations(ctx)
	default:
		client.Enqueue(messaging.Event{Type: messaging.EventError, Error: "unknown command"})
	}
}

func (h *SessionHandler) observe(info ConnInfo, evt messaging.Event) {
	observability.IncWSEvent(string(evt.Type))
	if evt.Type != messaging.EventMessageFailed || evt.Message == nil {
		return
	}
	h.audit.MessageFailed(context.Background(), info.RequestID, info.ConnID, *evt.Message)
}
