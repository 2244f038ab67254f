// internal/handlers/procurement.go
package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/license-desk/internal/i18n"
	"github.com/javajoker/license-desk/internal/services"
	"github.com/javajoker/license-desk/internal/utils"
)

type ProcurementHandler struct {
	procurementService *services.ProcurementService
}

func NewProcurementHandler(procurementService *services.ProcurementService) *ProcurementHandler {
	return &ProcurementHandler{
		procurementService: procurementService,
	}
}

// POST /procurements
func (h *ProcurementHandler) CreateProcurement(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req services.CreateProcurementRequest
	if !bindJSON(c, &req) {
		return
	}

	procurement, err := h.procurementService.CreateProcurement(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyProcurementCreated),
		"procurement": procurement,
	})
}

// GET /procurements/:id
func (h *ProcurementHandler) GetProcurement(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	procurement, err := h.procurementService.GetProcurement(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, procurement)
}

// PUT /procurements/:id/decision
func (h *ProcurementHandler) DecideProcurement(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.DecideProcurementRequest
	if !bindJSON(c, &req) {
		return
	}

	procurement, err := h.procurementService.DecideProcurement(c.Request.Context(), actor, id, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyProcurementDecided),
		"procurement": procurement,
	})
}

// POST /procurements/:id/proof
func (h *ProcurementHandler) UploadProof(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "files"), err.Error())
		return
	}

	headers := form.File["files"]
	files := make([]services.ProofFile, 0, len(headers))
	var opened []io.Closer
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "files"), err.Error())
			return
		}
		opened = append(opened, file)
		files = append(files, services.ProofFile{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		})
	}

	procurement, err := h.procurementService.UploadProof(c.Request.Context(), actor, id, files)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyProofUploaded),
		"procurement": procurement,
	})
}

// PUT /procurements/:id/accept
func (h *ProcurementHandler) AcceptProof(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	procurement, err := h.procurementService.AcceptProof(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyProofAccepted),
		"procurement": procurement,
	})
}
