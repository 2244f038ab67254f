// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns the primary key in the application so ids are known
// before the insert and do not depend on a database extension.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(raw, j)
}

// Enums
type Role string

const (
	RoleEmployee     Role = "EMPLOYEE"
	RoleManager      Role = "MANAGER"
	RoleTeamLead     Role = "TEAM_LEAD"
	RoleAdmin        Role = "ADMIN"
	RoleAccountOwner Role = "ACCOUNT_OWNER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleTeamLead, RoleAdmin, RoleAccountOwner:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusReviewing RequestStatus = "REVIEWING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusAssigning RequestStatus = "ASSIGNING"
	RequestStatusDenied    RequestStatus = "DENIED"
	RequestStatusFulfilled RequestStatus = "FULFILLED"
)

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusReviewing  ItemStatus = "REVIEWING"
	ItemStatusApproved   ItemStatus = "APPROVED"
	ItemStatusDenied     ItemStatus = "DENIED"
	ItemStatusPurchasing ItemStatus = "PURCHASING"
	ItemStatusAssigning  ItemStatus = "ASSIGNING"
	ItemStatusFulfilled  ItemStatus = "FULFILLED"
)

type ItemType string

const (
	ItemTypeLicense ItemType = "LICENSE"
	ItemTypeOther   ItemType = "OTHER"
)

type ApprovalLevel string

const (
	ApprovalLevelITSG    ApprovalLevel = "ITSG"
	ApprovalLevelManager ApprovalLevel = "MANAGER"
	ApprovalLevelOwner   ApprovalLevel = "OWNER"
)

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusDenied   ApprovalStatus = "DENIED"
)

type LicenseType string

const (
	LicenseTypeSeatBased LicenseType = "SEAT_BASED"
	LicenseTypeKeyBased  LicenseType = "KEY_BASED"
)

type LicenseStatus string

const (
	LicenseStatusAvailable LicenseStatus = "AVAILABLE"
	LicenseStatusFull      LicenseStatus = "FULL"
	LicenseStatusExpired   LicenseStatus = "EXPIRED"
)

type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "ACTIVE"
	KeyStatusAssigned KeyStatus = "ASSIGNED"
	KeyStatusInactive KeyStatus = "INACTIVE"
	KeyStatusRevoked  KeyStatus = "REVOKED"
)

type AssignmentStatus string

const (
	AssignmentStatusActive AssignmentStatus = "ACTIVE"
)

type ProcurementStatus string

const (
	ProcurementStatusPending   ProcurementStatus = "PENDING"
	ProcurementStatusApproved  ProcurementStatus = "APPROVED"
	ProcurementStatusRejected  ProcurementStatus = "REJECTED"
	ProcurementStatusCompleted ProcurementStatus = "COMPLETED"
)

type PurchaseStatus string

const (
	PurchaseStatusNotStarted PurchaseStatus = "NOT_STARTED"
	PurchaseStatusInProgress PurchaseStatus = "IN_PROGRESS"
	PurchaseStatusPurchased  PurchaseStatus = "PURCHASED"
	PurchaseStatusCompleted  PurchaseStatus = "COMPLETED"
	PurchaseStatusClosed     PurchaseStatus = "CLOSED"
)

type OutboxKind string

const (
	OutboxKindNotification OutboxKind = "notification"
	OutboxKindAudit        OutboxKind = "audit"
)
