// internal/models/license.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type License struct {
	BaseModel
	Name       string        `json:"name" gorm:"size:255;not null;index"`
	Vendor     string        `json:"vendor" gorm:"size:255"`
	TotalSeats int           `json:"total_seats" gorm:"not null"`
	Cost       float64       `json:"cost" gorm:"type:decimal(12,2)"`
	Owner      string        `json:"owner" gorm:"size:50;not null;index"`
	Type       LicenseType   `json:"type" gorm:"type:varchar(20);not null"`
	ExpiryDate *time.Time    `json:"expiry_date"`
	Status     LicenseStatus `json:"status" gorm:"type:varchar(20);not null;index"`

	// Relationships
	Keys []LicenseKey `json:"keys,omitempty" gorm:"foreignKey:LicenseID"`
}

// LicenseKey is one unit of supply. Key-based licenses carry Key, seat-based
// ones carry SeatLink.
type LicenseKey struct {
	BaseModel
	LicenseID uuid.UUID  `json:"license_id" gorm:"type:uuid;not null;index"`
	Key       *string    `json:"key,omitempty" gorm:"type:text"`
	SeatLink  *string    `json:"seat_link,omitempty" gorm:"type:text"`
	Status    KeyStatus  `json:"status" gorm:"type:varchar(20);not null;index"`
	AddedByID *uuid.UUID `json:"added_by_id" gorm:"type:uuid"`
}

type Assignment struct {
	BaseModel
	UserID        uuid.UUID        `json:"user_id" gorm:"type:uuid;not null;index"`
	LicenseKeyID  uuid.UUID        `json:"license_key_id" gorm:"type:uuid;not null;index"`
	RequestItemID uuid.UUID        `json:"request_item_id" gorm:"type:uuid;not null;index"`
	AssignedByID  uuid.UUID        `json:"assigned_by_id" gorm:"type:uuid;not null"`
	Status        AssignmentStatus `json:"status" gorm:"type:varchar(20);not null"`
	AssignedAt    time.Time        `json:"assigned_at"`
	ConfirmedAt   *time.Time       `json:"confirmed_at"`

	// Relationships
	LicenseKey LicenseKey `json:"license_key,omitempty" gorm:"foreignKey:LicenseKeyID"`
}
