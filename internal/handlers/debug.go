package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/telemetry"
	"marketplace-messaging/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, hub *ws.Hub, verifier *middleware.TokenVerifier, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "info", "audit test", requestIDFromContext(c), userIDFromContext(c), nil)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"count": hub.Count(), "sessions": hub.Connections()})
	})

	// Issues a short-lived token for local testing of the websocket.
	router.POST("/debug/token", func(c *gin.Context) {
		var req struct {
			UserID string      `json:"user_id" binding:"required"`
			Role   models.Role `json:"role" binding:"required,oneof=admin applicant"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := verifier.Issue(models.Viewer{ID: req.UserID, Role: req.Role}, time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})
}
