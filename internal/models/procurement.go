// internal/models/procurement.go
package models

import (
	"github.com/google/uuid"
)

type ProcurementRequest struct {
	BaseModel
	RequestItemID     uuid.UUID         `json:"request_item_id" gorm:"type:uuid;not null;uniqueIndex"`
	ItemName          string            `json:"item_name" gorm:"size:255;not null"`
	Vendor            string            `json:"vendor" gorm:"size:255"`
	Price             float64           `json:"price" gorm:"type:decimal(12,2);not null"`
	Quantity          int               `json:"quantity" gorm:"not null"`
	TotalCost         float64           `json:"total_cost" gorm:"type:decimal(12,2);not null"`
	Status            ProcurementStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	PurchaseStatus    PurchaseStatus    `json:"purchase_status" gorm:"type:varchar(20);not null;index"`
	RequestedByID     uuid.UUID         `json:"requested_by_id" gorm:"type:uuid;not null"`
	FinanceApproverID *uuid.UUID        `json:"finance_approver_id" gorm:"type:uuid"`
	ApprovedByID      *uuid.UUID        `json:"approved_by_id" gorm:"type:uuid"`
	Remarks           string            `json:"remarks,omitempty" gorm:"type:text"`
	RejectionReason   string            `json:"rejection_reason,omitempty" gorm:"type:text"`

	// Relationships
	RequestItem RequestItem             `json:"request_item,omitempty" gorm:"foreignKey:RequestItemID"`
	Attachments []ProcurementAttachment `json:"attachments,omitempty" gorm:"foreignKey:ProcurementRequestID"`
}

type ProcurementAttachment struct {
	BaseModel
	ProcurementRequestID uuid.UUID `json:"procurement_request_id" gorm:"type:uuid;not null;index"`
	FileName             string    `json:"file_name" gorm:"size:255;not null"`
	ContentType          string    `json:"content_type" gorm:"size:100;not null"`
	Size                 int64     `json:"size"`
	StorageKey           string    `json:"storage_key" gorm:"size:500;not null"`
	URL                  string    `json:"url" gorm:"size:1000;not null"`
	UploadedByID         uuid.UUID `json:"uploaded_by_id" gorm:"type:uuid;not null"`
}
