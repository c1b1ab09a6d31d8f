package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-messaging/internal/messaging"
	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/mocks"
	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/realtime"
	"marketplace-messaging/internal/telemetry"
)

var negKey = models.ConversationKey{Kind: models.KindNegotiation, ID: "neg-1"}

type testServer struct {
	url      string
	hub      *Hub
	convs    *mocks.ConversationRepositoryMock
	store    *mocks.MessageRepositoryMock
	broker   *realtime.Broker
	verifier *middleware.TokenVerifier
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		hub:      NewHub(),
		convs:    new(mocks.ConversationRepositoryMock),
		store:    new(mocks.MessageRepositoryMock),
		broker:   realtime.NewBroker(),
		verifier: middleware.NewTokenVerifier("secret", "messaging"),
	}
	handler := NewSessionHandler(ts.hub, messaging.NewAggregator(ts.convs, nil), ts.store, ts.broker, nil)

	r := gin.New()
	r.GET("/ws/messages", middleware.AuthMiddleware(ts.verifier), handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/messages"

	ts.convs.On("ListNegotiations", mock.Anything, "app-1").Return([]models.Negotiation{{
		ID: "neg-1", JobID: "job-1", ApplicantID: "app-1", Status: models.NegotiationPending,
		CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), JobTitle: "Logo design",
	}}, nil)
	ts.convs.On("ListContracts", mock.Anything, "app-1").Return([]models.Contract{}, nil)
	return ts
}

func (ts *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	token, err := ts.verifier.Issue(models.Viewer{ID: "app-1", Role: models.RoleApplicant}, time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(ts.url+"?token="+token+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ messaging.EventType) messaging.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var evt messaging.Event
		require.NoError(t, conn.ReadJSON(&evt))
		if evt.Type == typ {
			return evt
		}
	}
}

func TestSessionSocketDeepLinkAndSend(t *testing.T) {
	ts := setupServer(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ts.store.On("ListMessages", mock.Anything, negKey).Return([]models.Message{
		{ID: "m-1", Parent: negKey, SenderID: "admin-1", Content: "Welcome", CreatedAt: created},
	}, nil)
	ts.store.On("CreateMessage", mock.Anything, negKey, "app-1", "Hello").Return(models.Message{
		ID: "m-42", Parent: negKey, SenderID: "app-1", Content: "Hello", CreatedAt: created.Add(time.Minute),
	}, nil)

	conn := ts.dial(t, "&proposalId=neg-1")

	list := readUntil(t, conn, messaging.EventConversations)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, negKey, list.Conversations[0].Key)

	transcript := readUntil(t, conn, messaging.EventTranscript)
	require.Len(t, transcript.Messages, 1)
	assert.Equal(t, "m-1", transcript.Messages[0].ID)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandSend, Content: strPtr("Hello")}))

	pending := readUntil(t, conn, messaging.EventMessagePending)
	require.NotNil(t, pending.Message)
	assert.True(t, pending.Message.IsPending())

	confirmed := readUntil(t, conn, messaging.EventMessageConfirmed)
	assert.Equal(t, pending.Message.ID, confirmed.TempID)
	assert.Equal(t, "m-42", confirmed.Message.ID)
	assert.Equal(t, 1, ts.hub.Count())
}

func TestSessionSocketPushReachesTranscript(t *testing.T) {
	ts := setupServer(t)
	ts.store.On("ListMessages", mock.Anything, negKey).Return([]models.Message{}, nil)

	conn := ts.dial(t, "&proposalId=neg-1")
	readUntil(t, conn, messaging.EventTranscript)
	require.Eventually(t, func() bool { return ts.broker.Len() == 1 }, time.Second, 10*time.Millisecond)

	proposalID := "neg-1"
	ts.broker.Publish(realtime.InsertEvent{Table: messaging.MessagesTable, Record: models.MessageRow{
		ID: "m-7", ProposalID: &proposalID, SenderID: "admin-1", Content: "ping", CreatedAt: time.Now(),
	}})

	evt := readUntil(t, conn, messaging.EventTranscript)
	require.Len(t, evt.Messages, 1)
	assert.Equal(t, "m-7", evt.Messages[0].ID)
}

func TestSessionSocketCommandErrors(t *testing.T) {
	ts := setupServer(t)
	conn := ts.dial(t, "")
	readUntil(t, conn, messaging.EventConversations)

	require.NoError(t, conn.WriteJSON(Command{Type: "archive"}))
	evt := readUntil(t, conn, messaging.EventError)
	assert.Equal(t, "unknown command", evt.Error)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandSelect, Kind: "contract", ID: "c-9"}))
	evt = readUntil(t, conn, messaging.EventError)
	assert.Equal(t, "conversation not found", evt.Error)

	require.NoError(t, conn.WriteJSON(Command{Type: CommandSend, Content: strPtr("Hello")}))
	evt = readUntil(t, conn, messaging.EventError)
	assert.Equal(t, "no conversation selected", evt.Error)
	ts.store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionSocketCloseReleasesSession(t *testing.T) {
	ts := setupServer(t)
	conn := ts.dial(t, "")
	readUntil(t, conn, messaging.EventConversations)
	require.Equal(t, 1, ts.hub.Count())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool {
		return ts.hub.Count() == 0 && ts.broker.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionSocketRequiresToken(t *testing.T) {
	ts := setupServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(ts.url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func strPtr(s string) *string {
	return &s
}

func TestObserveAuditsFailedSendWithConversation(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.logs", mock.AnythingOfType("telemetry.AuditEnvelope")).Return(nil).Once()
	h := &SessionHandler{audit: telemetry.NewAuditEmitter(pub, "audit.logs", "marketplace-messaging", "test")}
	info := ConnInfo{ConnID: "conn-1", UserID: "app-1", RequestID: "req-1"}
	placeholder := models.Message{ID: "temp-a", Parent: negKey, SenderID: "app-1", Content: "Hello"}

	h.observe(info, messaging.Event{Type: messaging.EventMessagePending, Message: &placeholder})
	h.observe(info, messaging.Event{Type: messaging.EventMessageFailed, TempID: "temp-a", Message: &placeholder})

	pub.AssertExpectations(t)
	env := pub.Calls[0].Arguments.Get(2).(telemetry.AuditEnvelope)
	assert.Equal(t, "negotiation:neg-1", env.Payload.Conversation)
	assert.Equal(t, "temp-a", env.Payload.Fields["temp_id"])
	assert.Equal(t, "conn-1", env.Payload.Fields["conn_id"])
	assert.Equal(t, "req-1", env.RequestID)
}
