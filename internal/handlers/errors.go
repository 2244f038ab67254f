// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-desk/internal/i18n"
	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/policy"
	"github.com/javajoker/license-desk/internal/services"
	"github.com/javajoker/license-desk/internal/utils"
)

// respondError writes err as an error envelope. Workflow errors keep their
// code and message; anything else is logged and hidden behind INTERNAL_ERROR.
func respondError(c *gin.Context, err error) {
	var wfErr *services.WorkflowError
	if !errors.As(err, &wfErr) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("Request failed")
		utils.InternalErrorResponse(c, "")
		return
	}

	status := statusForKind(wfErr)
	if wfErr.Kind == services.KindIntegrity {
		logrus.WithError(err).WithField("code", wfErr.Code).Warn("Integrity fault")
	}

	var details interface{}
	if len(wfErr.Details) > 0 {
		details = wfErr.Details
	}
	utils.ErrorResponse(c, status, wfErr.Code, localizedMessage(c, wfErr), details)
}

func statusForKind(err *services.WorkflowError) int {
	switch err.Kind {
	case services.KindAuthorization:
		if err.Code == services.ErrUnauthorized.Code || err.Code == services.ErrInvalidCredentials.Code {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case services.KindConflict:
		return http.StatusConflict
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// localizedMessage keeps the detailed English message and translates the
// error code for every other language.
func localizedMessage(c *gin.Context, err *services.WorkflowError) string {
	lang := utils.GetLangFromContext(c)
	if lang == "en" {
		return err.Message
	}
	if text, ok := i18n.Lookup(lang, i18n.ErrorKey(err.Code)); ok {
		return text
	}
	return err.Message
}

// actorFromContext builds the workflow actor from the authenticated claims.
func actorFromContext(c *gin.Context) (*policy.Actor, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		return nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, false
	}
	role, _ := utils.GetRoleFromContext(c)

	return policy.NewActor(userID, models.Role(role), utils.GetDepartmentFromContext(c)), true
}

// requireActor aborts with 401 when no authenticated actor is present.
func requireActor(c *gin.Context) (*policy.Actor, bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return nil, false
	}
	return actor, true
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}
