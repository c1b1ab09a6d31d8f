package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/models"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.UserIDKey); id != "" {
		return id
	}
	return c.GetHeader("X-User-ID")
}

// conversationFields tags audit fields with the conversation an action lands in.
func conversationFields(key models.ConversationKey, fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["conversation"] = key.String()
	return out
}
