package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/models"
	"github.com/taskfi-labs/agent-escrow/services/escrow-gateway/services"
)

// NotificationHandler serves buffered task-completion notifications
type NotificationHandler struct {
	eventService *services.EventService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(eventService *services.EventService) *NotificationHandler {
	return &NotificationHandler{
		eventService: eventService,
	}
}

// GetNotifications drains and returns pending completion notifications
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	notifications := h.eventService.Drain()
	if notifications == nil {
		notifications = []models.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"notifications": notifications,
		"count":         len(notifications),
	})
}
