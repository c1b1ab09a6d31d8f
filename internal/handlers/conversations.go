package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-messaging/internal/messaging"
	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/observability"
	"marketplace-messaging/internal/repositories"
)

// ConversationHandler serves the conversation list and message history.
type ConversationHandler struct {
	aggregator *messaging.Aggregator
	messages   repositories.MessageRepository
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(aggregator *messaging.Aggregator, messages repositories.MessageRepository) *ConversationHandler {
	return &ConversationHandler{aggregator: aggregator, messages: messages}
}

// ListConversations returns the negotiations and contracts visible to the caller.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	viewer, ok := middleware.ViewerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}

	list, err := h.aggregator.Load(c.Request.Context(), viewer)
	if err != nil {
		log.Printf("list conversations user_id=%s: %v", viewer.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	resp := gin.H{"conversations": list}
	if err := h.aggregator.ResolveCounterparts(c.Request.Context(), viewer, list); err != nil {
		log.Printf("resolve profiles user_id=%s: %v", viewer.ID, err)
		resp["warning"] = "failed to load profiles"
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessages returns the ordered messages of one conversation.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	viewer, key, ok := h.authorize(c)
	if !ok {
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), key)
	if err != nil {
		log.Printf("list messages conversation=%s user_id=%s: %v", key, viewer.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message in a conversation.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	viewer, key, ok := h.authorize(c)
	if !ok {
		return
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), key, viewer.ID, req.Content)
	if err != nil {
		observability.IncMessageSent("failed")
		log.Printf("create message conversation=%s user_id=%s: %v", key, viewer.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		return
	}
	observability.IncMessageSent("confirmed")
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *ConversationHandler) authorize(c *gin.Context) (models.Viewer, models.ConversationKey, bool) {
	viewer, ok := middleware.ViewerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return models.Viewer{}, models.ConversationKey{}, false
	}

	kind, err := models.ParseConversationKind(c.Param("kind"))
	if err != nil || c.Param("id") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation"})
		return models.Viewer{}, models.ConversationKey{}, false
	}
	key := models.ConversationKey{Kind: kind, ID: c.Param("id")}

	if _, err := h.aggregator.Get(c.Request.Context(), viewer, key); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return models.Viewer{}, models.ConversationKey{}, false
		}
		log.Printf("get conversation %s: %v", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return models.Viewer{}, models.ConversationKey{}, false
	}
	return viewer, key, true
}
