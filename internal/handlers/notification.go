// internal/handlers/notification.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/license-desk/internal/services"
	"github.com/javajoker/license-desk/internal/utils"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
	auditService        *services.AuditService
}

func NewNotificationHandler(notificationService *services.NotificationService, auditService *services.AuditService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		auditService:        auditService,
	}
}

// GET /notifications
func (h *NotificationHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	unreadOnly := c.Query("unread") == "true"
	notifications, total, err := h.notificationService.List(c.Request.Context(), actor.ID, unreadOnly, params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(notifications, total, params))
}

// PUT /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), actor.ID, id); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"id": id, "read": true})
}

// GET /audit/:entity/:id
func (h *NotificationHandler) AuditTrail(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	logs, err := h.auditService.ListForEntity(c.Request.Context(), c.Param("entity"), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, logs)
}
