// internal/workflow/status_test.go
package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/javajoker/license-desk/internal/models"
)

const (
	aPending  = models.ApprovalStatusPending
	aApproved = models.ApprovalStatusApproved
	aDenied   = models.ApprovalStatusDenied
)

func TestItemStatus(t *testing.T) {
	tests := []struct {
		name      string
		approvals []models.ApprovalStatus
		want      models.ItemStatus
	}{
		{"no approvals", nil, models.ItemStatusPending},
		{"all pending", []models.ApprovalStatus{aPending, aPending, aPending}, models.ItemStatusReviewing},
		{"partially approved", []models.ApprovalStatus{aApproved, aApproved, aPending}, models.ItemStatusReviewing},
		{"all approved", []models.ApprovalStatus{aApproved, aApproved, aApproved}, models.ItemStatusApproved},
		{"single denial short-circuits", []models.ApprovalStatus{aPending, aDenied, aPending}, models.ItemStatusDenied},
		{"denial among approvals", []models.ApprovalStatus{aApproved, aApproved, aDenied}, models.ItemStatusDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ItemStatus(tt.approvals))
		})
	}
}

func TestRequestStatus(t *testing.T) {
	const (
		pending    = models.ItemStatusPending
		reviewing  = models.ItemStatusReviewing
		approved   = models.ItemStatusApproved
		denied     = models.ItemStatusDenied
		purchasing = models.ItemStatusPurchasing
		assigning  = models.ItemStatusAssigning
		fulfilled  = models.ItemStatusFulfilled
	)

	tests := []struct {
		name  string
		items []models.ItemStatus
		want  models.RequestStatus
	}{
		{"all pending", []models.ItemStatus{pending, pending}, models.RequestStatusPending},
		{"reviewing", []models.ItemStatus{reviewing, pending}, models.RequestStatusReviewing},
		{"any denied", []models.ItemStatus{denied, reviewing}, models.RequestStatusAssigning},
		{"all denied", []models.ItemStatus{denied}, models.RequestStatusAssigning},
		{"all approved", []models.ItemStatus{approved, approved}, models.RequestStatusAssigning},
		{"some approved", []models.ItemStatus{approved, reviewing}, models.RequestStatusAssigning},
		{"purchasing only", []models.ItemStatus{purchasing}, models.RequestStatusReviewing},
		{"purchasing with pending", []models.ItemStatus{purchasing, pending}, models.RequestStatusReviewing},
		{"assigning", []models.ItemStatus{assigning, reviewing}, models.RequestStatusAssigning},
		{"partly fulfilled", []models.ItemStatus{fulfilled, assigning}, models.RequestStatusAssigning},
		{"all fulfilled", []models.ItemStatus{fulfilled, fulfilled}, models.RequestStatusFulfilled},
		{"fulfilled with denied sibling", []models.ItemStatus{fulfilled, denied}, models.RequestStatusAssigning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequestStatus(tt.items))
		})
	}
}

func TestRequestStatusIsIdempotent(t *testing.T) {
	items := []models.ItemStatus{models.ItemStatusApproved, models.ItemStatusReviewing, models.ItemStatusPending}
	first := RequestStatus(items)
	assert.Equal(t, first, RequestStatus(items))
}

func TestLicenseStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.AddDate(1, 0, 0)

	assert.Equal(t, models.LicenseStatusAvailable, LicenseStatus(5, 4, &future, now))
	assert.Equal(t, models.LicenseStatusFull, LicenseStatus(5, 5, &future, now))
	assert.Equal(t, models.LicenseStatusFull, LicenseStatus(0, 0, nil, now))
	assert.Equal(t, models.LicenseStatusExpired, LicenseStatus(5, 5, &past, now))
	assert.Equal(t, models.LicenseStatusExpired, LicenseStatus(5, 1, &past, now))
}

func TestAssignable(t *testing.T) {
	reentered := time.Now()

	assert.True(t, Assignable(models.ItemStatusApproved, nil, nil))
	assert.False(t, Assignable(models.ItemStatusPending, nil, []models.ApprovalStatus{aApproved}))
	assert.True(t, Assignable(models.ItemStatusPending, &reentered, []models.ApprovalStatus{aApproved, aApproved}))
	assert.False(t, Assignable(models.ItemStatusPending, &reentered, []models.ApprovalStatus{aApproved, aPending}))
	assert.False(t, Assignable(models.ItemStatusReviewing, &reentered, nil))
	assert.False(t, Assignable(models.ItemStatusAssigning, nil, nil))
	assert.False(t, Assignable(models.ItemStatusDenied, nil, nil))
}

func TestAvailableSupply(t *testing.T) {
	assert.Equal(t, int64(2), AvailableSupply(models.LicenseTypeSeatBased, 5, 3, 0))
	assert.Equal(t, int64(0), AvailableSupply(models.LicenseTypeSeatBased, 3, 3, 0))
	assert.Equal(t, int64(0), AvailableSupply(models.LicenseTypeSeatBased, 2, 3, 0))
	assert.Equal(t, int64(1), AvailableSupply(models.LicenseTypeKeyBased, 5, 3, 1))
	assert.Equal(t, int64(2), AvailableSupply(models.LicenseTypeKeyBased, 5, 3, 4))
	assert.Equal(t, int64(0), AvailableSupply(models.LicenseTypeKeyBased, 5, 0, 0))
}
