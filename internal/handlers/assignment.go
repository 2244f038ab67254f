// internal/handlers/assignment.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/license-desk/internal/i18n"
	"github.com/javajoker/license-desk/internal/services"
	"github.com/javajoker/license-desk/internal/utils"
)

type AssignmentHandler struct {
	assignmentService *services.AssignmentService
}

func NewAssignmentHandler(assignmentService *services.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{
		assignmentService: assignmentService,
	}
}

// POST /assignments/manual
func (h *AssignmentHandler) ManualAssign(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req services.ManualAssignRequest
	if !bindJSON(c, &req) {
		return
	}

	assignment, err := h.assignmentService.ManualAssign(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeyLicenseAssigned),
		"assignment": assignment,
	})
}

// POST /assignments/auto
func (h *AssignmentHandler) AutoAssign(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req services.AutoAssignRequest
	if !bindJSON(c, &req) {
		return
	}

	assignment, err := h.assignmentService.AutoAssign(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeyLicenseAssigned),
		"assignment": assignment,
	})
}

// PUT /assignments/:id/confirm
func (h *AssignmentHandler) ConfirmReceipt(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	assignment, err := h.assignmentService.ConfirmReceipt(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeyReceiptConfirmed),
		"assignment": assignment,
	})
}

// GET /assignments/mine
func (h *AssignmentHandler) ListMine(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	assignments, total, err := h.assignmentService.ListMine(c.Request.Context(), actor, params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(assignments, total, params))
}
