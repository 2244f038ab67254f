// internal/handlers/license.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/license-desk/internal/i18n"
	"github.com/javajoker/license-desk/internal/services"
	"github.com/javajoker/license-desk/internal/utils"
)

type LicenseHandler struct {
	licenseService *services.LicenseService
}

func NewLicenseHandler(licenseService *services.LicenseService) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
	}
}

// POST /licenses
func (h *LicenseHandler) CreateLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req services.CreateLicenseRequest
	if !bindJSON(c, &req) {
		return
	}

	license, err := h.licenseService.CreateLicense(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseCreated),
		"license": license,
	})
}

// GET /licenses
func (h *LicenseHandler) ListLicenses(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	licenses, total, err := h.licenseService.ListLicenses(c.Request.Context(), services.LicenseSearchParams{
		PaginationParams: params,
		Owner:            c.Query("owner"),
		Status:           c.Query("status"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(licenses, total, params))
}

// GET /licenses/:id
func (h *LicenseHandler) GetLicense(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	license, err := h.licenseService.GetLicense(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, license)
}

// PUT /licenses/:id/seats
func (h *LicenseHandler) SetSeats(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.SetSeatsRequest
	if !bindJSON(c, &req) {
		return
	}

	license, err := h.licenseService.SetSeats(c.Request.Context(), actor, id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseUpdated),
		"license": license,
	})
}

// POST /licenses/:id/keys
func (h *LicenseHandler) AddKeys(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.AddKeysRequest
	if !bindJSON(c, &req) {
		return
	}

	keys, err := h.licenseService.AddKeys(c.Request.Context(), actor, id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyKeysAdded),
		"count":   len(keys),
	})
}
