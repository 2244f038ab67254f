// internal/services/errors.go
package services

import (
	"fmt"
)

type ErrorKind string

const (
	KindAuthorization ErrorKind = "authorization"
	KindConflict      ErrorKind = "conflict"
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindIntegrity     ErrorKind = "integrity"
)

// WorkflowError is a business-rule failure. Two errors match under errors.Is
// when their codes are equal, so detailed variants still match the sentinel.
type WorkflowError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]string
}

func (e *WorkflowError) Error() string {
	return e.Message
}

func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e carrying a formatted message.
func (e *WorkflowError) Withf(format string, args ...interface{}) *WorkflowError {
	return &WorkflowError{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

func newWorkflowError(kind ErrorKind, code, message string) *WorkflowError {
	return &WorkflowError{Kind: kind, Code: code, Message: message}
}

// Authorization errors
var (
	ErrUnauthorized       = newWorkflowError(KindAuthorization, "UNAUTHORIZED", "authentication required")
	ErrForbidden          = newWorkflowError(KindAuthorization, "FORBIDDEN", "you do not have permission to perform this action")
	ErrNotAuthorized      = newWorkflowError(KindAuthorization, "NOT_AUTHORIZED", "you are not the user this record is assigned to")
	ErrCannotSelfAssign   = newWorkflowError(KindAuthorization, "CANNOT_SELF_ASSIGN", "you cannot auto-assign a license to yourself")
	ErrInvalidCredentials = newWorkflowError(KindAuthorization, "INVALID_CREDENTIALS", "invalid email or password")
)

// State-conflict errors
var (
	ErrAlreadyProcessed     = newWorkflowError(KindConflict, "ALREADY_PROCESSED", "this approval has already been processed")
	ErrAlreadyDecided       = newWorkflowError(KindConflict, "ALREADY_DECIDED", "this procurement request has already been decided")
	ErrNoSeatsAvailable     = newWorkflowError(KindConflict, "NO_SEATS_AVAILABLE", "no seats are available for this license")
	ErrNoAvailableKeys      = newWorkflowError(KindConflict, "NO_AVAILABLE_KEYS", "no available keys for this license")
	ErrDuplicateProcurement = newWorkflowError(KindConflict, "DUPLICATE_PROCUREMENT", "a procurement request already exists for this item")
	ErrDuplicateApprover    = newWorkflowError(KindConflict, "DUPLICATE_APPROVER", "this user is already an approver for the item")
	ErrAlreadyConfirmed     = newWorkflowError(KindConflict, "ALREADY_CONFIRMED", "this assignment has already been confirmed")
	ErrAlreadyAssigned      = newWorkflowError(KindConflict, "ALREADY_ASSIGNED", "this item already has an active assignment")
	ErrInvalidState         = newWorkflowError(KindConflict, "INVALID_STATE", "the record is not in a state that allows this action")
	ErrLicenseExpired       = newWorkflowError(KindConflict, "LICENSE_EXPIRED", "the license has expired")
)

// Validation errors
var (
	ErrValidation          = newWorkflowError(KindValidation, "VALIDATION_ERROR", "request validation failed")
	ErrSeatsBelowUsage     = newWorkflowError(KindValidation, "SEATS_BELOW_USAGE", "cannot reduce seats below currently used seats")
	ErrKeysExceedSeats     = newWorkflowError(KindValidation, "KEYS_EXCEED_SEATS", "adding these keys would exceed the license's total seats")
	ErrTooManyAttachments  = newWorkflowError(KindValidation, "TOO_MANY_ATTACHMENTS", "too many proof files")
	ErrInvalidFile         = newWorkflowError(KindValidation, "INVALID_FILE", "the uploaded file is not acceptable")
	ErrAssignmentMismatch  = newWorkflowError(KindValidation, "ASSIGNMENT_TYPE_MISMATCH", "exactly one of license key or seat link must be supplied, matching the license type")
	ErrJustificationNeeded = newWorkflowError(KindValidation, "JUSTIFICATION_REQUIRED", "a justification is required")
	ErrReasonRequired      = newWorkflowError(KindValidation, "REASON_REQUIRED", "a reason is required when denying")
)

// Not-found errors
var (
	ErrKeyNotFound         = newWorkflowError(KindNotFound, "KEY_NOT_FOUND", "license key not found or no longer available")
	ErrUserNotFound        = newWorkflowError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrRequestNotFound     = newWorkflowError(KindNotFound, "REQUEST_NOT_FOUND", "request not found")
	ErrItemNotFound        = newWorkflowError(KindNotFound, "ITEM_NOT_FOUND", "request item not found")
	ErrApprovalNotFound    = newWorkflowError(KindNotFound, "APPROVAL_NOT_FOUND", "approval not found")
	ErrLicenseNotFound     = newWorkflowError(KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	ErrProcurementNotFound = newWorkflowError(KindNotFound, "PROCUREMENT_NOT_FOUND", "procurement request not found")
	ErrAssignmentNotFound  = newWorkflowError(KindNotFound, "ASSIGNMENT_NOT_FOUND", "assignment not found")
	ErrNotificationMissing = newWorkflowError(KindNotFound, "NOTIFICATION_NOT_FOUND", "notification not found")
)

// Integrity faults
var (
	ErrParentRequestMissing = newWorkflowError(KindIntegrity, "PARENT_REQUEST_MISSING", "the parent request of this item is missing")
)

// validationError wraps validator output into ErrValidation with per-field details.
func validationError(details map[string]string) *WorkflowError {
	return &WorkflowError{
		Kind:    KindValidation,
		Code:    ErrValidation.Code,
		Message: ErrValidation.Message,
		Details: details,
	}
}
