// internal/models/audit.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	BaseModel
	ActorID     *uuid.UUID `json:"actor_id" gorm:"type:uuid;index"`
	Entity      string     `json:"entity" gorm:"size:50;not null;index:idx_audit_logs_entity"`
	EntityID    uuid.UUID  `json:"entity_id" gorm:"type:uuid;not null;index:idx_audit_logs_entity"`
	Action      string     `json:"action" gorm:"size:100;not null;index"`
	Description string     `json:"description" gorm:"type:text"`
	Changes     JSONB      `json:"changes" gorm:"type:jsonb"`
}

type Notification struct {
	BaseModel
	UserID  uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	Type    string     `json:"type" gorm:"type:varchar(50);not null;index"`
	Payload JSONB      `json:"payload" gorm:"type:jsonb"`
	URL     string     `json:"url" gorm:"size:500"`
	ReadAt  *time.Time `json:"read_at"`
}

// OutboxEvent is a side effect recorded in the same transaction as the
// business change that caused it and delivered after commit.
type OutboxEvent struct {
	BaseModel
	Kind        OutboxKind `json:"kind" gorm:"type:varchar(20);not null;index"`
	Payload     JSONB      `json:"payload" gorm:"type:jsonb;not null"`
	Attempts    int        `json:"attempts" gorm:"not null"`
	LastError   string     `json:"last_error,omitempty" gorm:"type:text"`
	Published   bool       `json:"published" gorm:"not null;index"`
	PublishedAt *time.Time `json:"published_at"`
}
