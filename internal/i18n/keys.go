// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthLoginSuccess       = "auth.login_success"
	KeyAccessDenied           = "auth.access_denied"

	// Requests
	KeyRequestSubmitted   = "request.submitted"
	KeyApprovalRecorded   = "approval.recorded"
	KeyApproverAdded      = "approval.approver_added"
	KeyProcurementCreated = "procurement.created"
	KeyProcurementDecided = "procurement.decided"
	KeyProofUploaded      = "procurement.proof_uploaded"
	KeyProofAccepted      = "procurement.proof_accepted"
	KeyLicenseAssigned    = "assignment.assigned"
	KeyReceiptConfirmed   = "assignment.confirmed"
	KeyLicenseCreated     = "license.created"
	KeyLicenseUpdated     = "license.updated"
	KeyKeysAdded          = "license.keys_added"
	KeyUserCreated        = "user.created"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// File Upload
	KeyFileInvalidType = "file.invalid_type"
	KeyFileTooLarge    = "file.too_large"

	// Rate limiting
	KeyRateLimited = "rate.limited"
)

// ErrorKey is the catalog key translating a workflow error code.
func ErrorKey(code string) string {
	return "error." + code
}
