// internal/handlers/request.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/license-desk/internal/i18n"
	"github.com/javajoker/license-desk/internal/services"
	"github.com/javajoker/license-desk/internal/utils"
)

type RequestHandler struct {
	requestService  *services.RequestService
	approvalService *services.ApprovalService
	licenseService  *services.LicenseService
}

func NewRequestHandler(requestService *services.RequestService, approvalService *services.ApprovalService, licenseService *services.LicenseService) *RequestHandler {
	return &RequestHandler{
		requestService:  requestService,
		approvalService: approvalService,
		licenseService:  licenseService,
	}
}

// POST /requests
func (h *RequestHandler) SubmitRequest(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req services.SubmitRequestInput
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.requestService.SubmitRequest(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyRequestSubmitted),
		"request":  result.Request,
		"warnings": result.Warnings,
	})
}

// GET /requests/mine
func (h *RequestHandler) ListMine(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	requests, total, err := h.requestService.ListMine(c.Request.Context(), actor, services.RequestSearchParams{
		PaginationParams: params,
		Status:           c.Query("status"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(requests, total, params))
}

// GET /requests/:id
func (h *RequestHandler) GetRequest(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	request, err := h.requestService.GetRequest(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, request)
}

// GET /approvals/pending
func (h *RequestHandler) PendingApprovals(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	items, total, err := h.approvalService.PendingForApprover(c.Request.Context(), actor, params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(items, total, params))
}

// PUT /requests/items/:itemId/approvals/:approvalId
func (h *RequestHandler) DecideApproval(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}
	approvalID, ok := parseIDParam(c, "approvalId")
	if !ok {
		return
	}

	var req services.ApprovalDecisionRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.approvalService.ProcessApprovalDecision(c.Request.Context(), actor, itemID, approvalID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":         i18n.T(lang, i18n.KeyApprovalRecorded),
		"approval":        result.Approval,
		"item_status":     result.ItemStatus,
		"request_status":  result.RequestStatus,
		"request_changed": result.RequestChanged,
	})
}

// POST /requests/items/:itemId/approvals
func (h *RequestHandler) AddApprover(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}

	var req services.AddApproverRequest
	if !bindJSON(c, &req) {
		return
	}

	approval, err := h.approvalService.AddApprover(c.Request.Context(), actor, itemID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyApproverAdded),
		"approval": approval,
	})
}

// GET /requests/items/:itemId/supply
func (h *RequestHandler) ItemSupply(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}
	itemID, ok := parseIDParam(c, "itemId")
	if !ok {
		return
	}

	report, err := h.licenseService.NeedsPurchase(c.Request.Context(), itemID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, report)
}
