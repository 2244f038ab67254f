// internal/utils/validator.go
package utils

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/javajoker/license-desk/internal/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("strong_password", validateStrongPassword)
	validate.RegisterValidation("approval_decision", validateApprovalDecision)
	validate.RegisterValidation("procurement_decision", validateProcurementDecision)
	validate.RegisterValidation("license_type", validateLicenseType)
	validate.RegisterValidation("role", validateRole)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateStrongPassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()

	if len(password) < 8 {
		return false
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	return hasUpper && hasLower && hasNumber && hasSpecial
}

func validateApprovalDecision(fl validator.FieldLevel) bool {
	switch models.ApprovalStatus(fl.Field().String()) {
	case models.ApprovalStatusApproved, models.ApprovalStatusDenied:
		return true
	}
	return false
}

func validateProcurementDecision(fl validator.FieldLevel) bool {
	switch models.ProcurementStatus(fl.Field().String()) {
	case models.ProcurementStatusApproved, models.ProcurementStatusRejected:
		return true
	}
	return false
}

func validateLicenseType(fl validator.FieldLevel) bool {
	switch models.LicenseType(fl.Field().String()) {
	case models.LicenseTypeSeatBased, models.LicenseTypeKeyBased:
		return true
	}
	return false
}

func validateRole(fl validator.FieldLevel) bool {
	return models.Role(fl.Field().String()).Valid()
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// GetValidationErrors flattens validator output. Any other error yields nil.
func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return e.Field() + " must be at least " + e.Param() + unit(e)
	case "max":
		return e.Field() + " must be at most " + e.Param() + unit(e)
	case "strong_password":
		return "Password must contain at least 8 characters with uppercase, lowercase, number, and special character"
	case "oneof":
		return e.Field() + " must be one of " + e.Param()
	case "gt":
		return e.Field() + " must be greater than " + e.Param()
	case "gte":
		return e.Field() + " must be at least " + e.Param()
	case "approval_decision":
		return "Decision must be APPROVED or DENIED"
	case "procurement_decision":
		return "Decision must be APPROVED or REJECTED"
	case "license_type":
		return "Type must be SEAT_BASED or KEY_BASED"
	case "role":
		return "Role must be one of EMPLOYEE, MANAGER, TEAM_LEAD, ADMIN, ACCOUNT_OWNER"
	default:
		return e.Field() + " is invalid"
	}
}

// ValidationDetails is GetValidationErrors keyed by field.
func ValidationDetails(err error) map[string]string {
	details := make(map[string]string)
	for _, e := range GetValidationErrors(err) {
		details[e.Field] = e.Message
	}
	if len(details) == 0 && err != nil {
		details["request"] = err.Error()
	}
	return details
}

func unit(e validator.FieldError) string {
	switch e.Kind() {
	case reflect.Slice, reflect.Array:
		return " items"
	case reflect.String:
		return " characters"
	default:
		return ""
	}
}
