// internal/models/request.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type Request struct {
	BaseModel
	RequestorID    uuid.UUID     `json:"requestor_id" gorm:"type:uuid;not null;index"`
	RequestedForID *uuid.UUID    `json:"requested_for_id" gorm:"type:uuid;index"`
	Status         RequestStatus `json:"status" gorm:"type:varchar(20);not null;index"`

	// Relationships
	Requestor    User          `json:"requestor,omitempty" gorm:"foreignKey:RequestorID"`
	RequestedFor *User         `json:"requested_for,omitempty" gorm:"foreignKey:RequestedForID"`
	Items        []RequestItem `json:"items,omitempty" gorm:"foreignKey:RequestID"`
}

// TargetUserID is the user a fulfilled request is handed to.
func (r *Request) TargetUserID() uuid.UUID {
	if r.RequestedForID != nil {
		return *r.RequestedForID
	}
	return r.RequestorID
}

type RequestItem struct {
	BaseModel
	RequestID            uuid.UUID  `json:"request_id" gorm:"type:uuid;not null;index"`
	Type                 ItemType   `json:"type" gorm:"type:varchar(20);not null"`
	LicenseID            *uuid.UUID `json:"license_id" gorm:"type:uuid;index"`
	RequestedLicenseName string     `json:"requested_license_name,omitempty" gorm:"size:255"`
	RequestedVendor      string     `json:"requested_vendor,omitempty" gorm:"size:255"`
	Justification        string     `json:"justification" gorm:"type:text;not null"`
	Status               ItemStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	// ReenteredAt marks an item that came back from procurement and awaits
	// assignment without new approvals.
	ReenteredAt *time.Time `json:"reentered_at"`

	// Relationships
	License     *License            `json:"license,omitempty" gorm:"foreignKey:LicenseID"`
	Approvals   []Approval          `json:"approvals,omitempty" gorm:"foreignKey:RequestItemID"`
	Assignments []Assignment        `json:"assignments,omitempty" gorm:"foreignKey:RequestItemID"`
	Procurement *ProcurementRequest `json:"procurement,omitempty" gorm:"foreignKey:RequestItemID"`
}

// DisplayName is the license name shown in notifications.
func (i *RequestItem) DisplayName() (name, vendor string) {
	if i.License != nil {
		return i.License.Name, i.License.Vendor
	}
	return i.RequestedLicenseName, i.RequestedVendor
}

type Approval struct {
	BaseModel
	RequestItemID uuid.UUID      `json:"request_item_id" gorm:"type:uuid;not null;uniqueIndex:ux_approvals_item_approver"`
	ApproverID    uuid.UUID      `json:"approver_id" gorm:"type:uuid;not null;uniqueIndex:ux_approvals_item_approver;index"`
	Level         ApprovalLevel  `json:"level" gorm:"type:varchar(20);not null"`
	Status        ApprovalStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Reason        *string        `json:"reason" gorm:"type:text"`
	ApprovedAt    *time.Time     `json:"approved_at"`

	// Relationships
	Approver User `json:"approver,omitempty" gorm:"foreignKey:ApproverID"`
}
