// internal/services/audit_service.go
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
)

// Audit entities
const (
	AuditEntityRequest     = "request"
	AuditEntityRequestItem = "request_item"
	AuditEntityApproval    = "approval"
	AuditEntityProcurement = "procurement"
	AuditEntityLicense     = "license"
	AuditEntityAssignment  = "assignment"
	AuditEntityUser        = "user"
)

// AuditEntry is one immutable audit record.
type AuditEntry struct {
	ActorID     *uuid.UUID             `json:"actor_id,omitempty"`
	Entity      string                 `json:"entity"`
	EntityID    uuid.UUID              `json:"entity_id"`
	Action      string                 `json:"action"`
	Description string                 `json:"description"`
	Changes     map[string]interface{} `json:"changes,omitempty"`
}

// AuditService is the audit recorder. Log never fails the caller: errors
// are logged and reported back only so the outbox can count the attempt.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

func (s *AuditService) Log(ctx context.Context, tx *gorm.DB, entry AuditEntry) error {
	if tx == nil {
		tx = s.db.WithContext(ctx)
	}

	auditLog := &models.AuditLog{
		ActorID:     entry.ActorID,
		Entity:      entry.Entity,
		EntityID:    entry.EntityID,
		Action:      entry.Action,
		Description: entry.Description,
		Changes:     models.JSONB(entry.Changes),
	}

	if err := tx.Create(auditLog).Error; err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"entity":    entry.Entity,
			"entity_id": entry.EntityID,
			"action":    entry.Action,
		}).Warn("Failed to write audit log")
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *AuditService) ListForEntity(ctx context.Context, entity string, entityID uuid.UUID) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	if err := s.db.WithContext(ctx).
		Where("entity = ? AND entity_id = ?", entity, entityID).
		Order("created_at ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}
