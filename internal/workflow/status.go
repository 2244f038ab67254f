// internal/workflow/status.go
package workflow

import (
	"time"

	"github.com/javajoker/license-desk/internal/models"
)

// ItemStatus aggregates the decisions recorded on one request item.
// A single denial is terminal for the item.
func ItemStatus(approvals []models.ApprovalStatus) models.ItemStatus {
	if len(approvals) == 0 {
		return models.ItemStatusPending
	}

	approved := 0
	for _, status := range approvals {
		switch status {
		case models.ApprovalStatusDenied:
			return models.ItemStatusDenied
		case models.ApprovalStatusApproved:
			approved++
		}
	}

	if approved == len(approvals) {
		return models.ItemStatusApproved
	}
	return models.ItemStatusReviewing
}

// RequestStatus derives the parent request status from its items. Rules
// are evaluated in order; a partially denied request still moves to
// ASSIGNING so the remaining items can be handed out.
func RequestStatus(items []models.ItemStatus) models.RequestStatus {
	if len(items) == 0 {
		return models.RequestStatusPending
	}

	counts := make(map[models.ItemStatus]int, len(items))
	for _, status := range items {
		counts[status]++
	}
	all := func(status models.ItemStatus) bool { return counts[status] == len(items) }

	switch {
	case counts[models.ItemStatusDenied] > 0:
		return models.RequestStatusAssigning
	case all(models.ItemStatusApproved):
		return models.RequestStatusAssigning
	case all(models.ItemStatusPending):
		return models.RequestStatusPending
	case counts[models.ItemStatusApproved] > 0:
		return models.RequestStatusAssigning
	case all(models.ItemStatusFulfilled):
		return models.RequestStatusFulfilled
	case counts[models.ItemStatusAssigning] > 0 || counts[models.ItemStatusFulfilled] > 0:
		return models.RequestStatusAssigning
	default:
		return models.RequestStatusReviewing
	}
}

// LicenseStatus derives availability. Expiry wins over a full license.
func LicenseStatus(totalSeats int, assigned int64, expiry *time.Time, now time.Time) models.LicenseStatus {
	if expiry != nil && expiry.Before(now) {
		return models.LicenseStatusExpired
	}
	if assigned >= int64(totalSeats) {
		return models.LicenseStatusFull
	}
	return models.LicenseStatusAvailable
}

// Assignable reports whether an item may receive supply: either it was
// approved, or it came back from procurement with every approval intact.
func Assignable(status models.ItemStatus, reenteredAt *time.Time, approvals []models.ApprovalStatus) bool {
	switch status {
	case models.ItemStatusApproved:
		return true
	case models.ItemStatusPending:
		if reenteredAt == nil {
			return false
		}
		for _, approval := range approvals {
			if approval != models.ApprovalStatusApproved {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// AvailableSupply is the number of units an assignment could still consume.
func AvailableSupply(licenseType models.LicenseType, totalSeats int, assigned, activeKeys int64) int64 {
	free := int64(totalSeats) - assigned
	if free < 0 {
		free = 0
	}
	if licenseType == models.LicenseTypeKeyBased && activeKeys < free {
		return activeKeys
	}
	return free
}
