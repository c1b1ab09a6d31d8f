package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-messaging/internal/messaging"
	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/mocks"
	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/repositories"
)

var (
	applicant = models.Viewer{ID: "app-1", Role: models.RoleApplicant}
	admin     = models.Viewer{ID: "admin-1", Role: models.RoleAdmin}
	negKey    = models.ConversationKey{Kind: models.KindNegotiation, ID: "neg-1"}
)

func withViewer(viewer models.Viewer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ViewerKey, viewer)
		c.Set(middleware.UserIDKey, viewer.ID)
		c.Next()
	}
}

func setupConversationRouter(handler *ConversationHandler, viewer models.Viewer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withViewer(viewer))
	r.GET("/conversations", handler.ListConversations)
	r.GET("/conversations/:kind/:id/messages", handler.GetMessages)
	r.POST("/conversations/:kind/:id/messages", handler.PostMessage)
	return r
}

func TestListConversationsSuccess(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	lookup := new(mocks.ProfileLookupMock)
	handler := NewConversationHandler(messaging.NewAggregator(convs, lookup), nil)
	router := setupConversationRouter(handler, applicant)

	convs.On("ListNegotiations", mock.Anything, "app-1").Return([]models.Negotiation{{ID: "neg-1", ApplicantID: "app-1", JobTitle: "Logo"}}, nil).Once()
	convs.On("ListContracts", mock.Anything, "app-1").Return([]models.Contract{{ID: "c-1", ApplicantID: "app-1", CreatedAt: time.Now()}}, nil).Once()
	lookup.On("GetAdmin", mock.Anything).Return(models.Profile{ID: "admin-1", FullName: "Dana"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, models.KindContract, resp.Conversations[0].Key.Kind)
	assert.Equal(t, "Dana", resp.Conversations[1].Counterpart.FullName)

	convs.AssertExpectations(t)
	lookup.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(messaging.NewAggregator(convs, nil), nil)
	router := setupConversationRouter(handler, admin)

	convs.On("ListNegotiations", mock.Anything, "").Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	convs.AssertExpectations(t)
}

func TestGetMessagesSuccess(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(messaging.NewAggregator(convs, nil), messages)
	router := setupConversationRouter(handler, applicant)

	convs.On("GetConversation", mock.Anything, negKey).Return(models.Conversation{Key: negKey, ApplicantID: "app-1"}, nil).Once()
	messages.On("ListMessages", mock.Anything, negKey).Return([]models.Message{{ID: "m-1", Parent: negKey}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/proposal/neg-1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "m-1", resp.Messages[0].ID)
	messages.AssertExpectations(t)
}

func TestGetMessagesHidesForeignConversation(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(messaging.NewAggregator(convs, nil), messages)
	router := setupConversationRouter(handler, applicant)

	convs.On("GetConversation", mock.Anything, negKey).Return(models.Conversation{Key: negKey, ApplicantID: "app-2"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/negotiation/neg-1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	messages.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything)
}

func TestGetMessagesUnknownConversation(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(messaging.NewAggregator(convs, nil), nil)
	router := setupConversationRouter(handler, admin)

	key := models.ConversationKey{Kind: models.KindContract, ID: "c-9"}
	convs.On("GetConversation", mock.Anything, key).Return(nil, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/contract/c-9/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessagesInvalidKind(t *testing.T) {
	handler := NewConversationHandler(messaging.NewAggregator(new(mocks.ConversationRepositoryMock), nil), nil)
	router := setupConversationRouter(handler, admin)

	req := httptest.NewRequest(http.MethodGet, "/conversations/group/1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageSuccess(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(messaging.NewAggregator(convs, nil), messages)
	router := setupConversationRouter(handler, applicant)

	convs.On("GetConversation", mock.Anything, negKey).Return(models.Conversation{Key: negKey, ApplicantID: "app-1"}, nil).Once()
	messages.On("CreateMessage", mock.Anything, negKey, "app-1", "Hello").Return(models.Message{ID: "m-42", Parent: negKey, Content: "Hello"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/proposal/neg-1/messages", bytes.NewBufferString(`{"content":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"m-42"`)
	messages.AssertExpectations(t)
}

func TestPostMessageRejectsBlank(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(messaging.NewAggregator(new(mocks.ConversationRepositoryMock), nil), messages)
	router := setupConversationRouter(handler, applicant)

	req := httptest.NewRequest(http.MethodPost, "/conversations/proposal/neg-1/messages", bytes.NewBufferString(`{"content":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messages.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageStoreError(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	handler := NewConversationHandler(messaging.NewAggregator(convs, nil), messages)
	router := setupConversationRouter(handler, admin)

	convs.On("GetConversation", mock.Anything, negKey).Return(models.Conversation{Key: negKey, ApplicantID: "app-1"}, nil).Once()
	messages.On("CreateMessage", mock.Anything, negKey, "admin-1", "Hi").Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/negotiation/neg-1/messages", bytes.NewBufferString(`{"content":"Hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
