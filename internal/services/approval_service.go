// internal/services/approval_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/policy"
	"github.com/javajoker/license-desk/internal/utils"
)

// ApprovalService records approver decisions and aggregates them into item
// and request status.
type ApprovalService struct {
	workflowCore
}

type ApprovalDecisionRequest struct {
	Decision string `json:"decision" validate:"required,approval_decision"`
	Reason   string `json:"reason,omitempty" validate:"max=1000"`
}

type AddApproverRequest struct {
	ApproverID uuid.UUID `json:"approver_id" validate:"required"`
	Level      string    `json:"level" validate:"required,oneof=ITSG MANAGER OWNER"`
}

type DecisionResult struct {
	Approval       *models.Approval     `json:"approval"`
	ItemStatus     models.ItemStatus    `json:"item_status"`
	RequestStatus  models.RequestStatus `json:"request_status"`
	RequestChanged bool                 `json:"request_changed"`
}

func NewApprovalService(deps WorkflowDeps) *ApprovalService {
	return &ApprovalService{workflowCore: newWorkflowCore(deps)}
}

// ProcessApprovalDecision applies one approver's decision and recomputes the
// item and its parent request in the same transaction.
func (s *ApprovalService) ProcessApprovalDecision(ctx context.Context, actor *policy.Actor, itemID, approvalID uuid.UUID, req *ApprovalDecisionRequest) (*DecisionResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}
	decision := models.ApprovalStatus(req.Decision)
	reason := strings.TrimSpace(req.Reason)
	if decision == models.ApprovalStatusDenied && reason == "" {
		return nil, ErrReasonRequired
	}

	result := &DecisionResult{}
	err := s.transact(ctx, func(tx *gorm.DB) error {
		item, err := lockItem(tx, itemID)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				return ErrApprovalNotFound
			}
			return err
		}

		var approval models.Approval
		if err := tx.First(&approval, "id = ? AND request_item_id = ?", approvalID, itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApprovalNotFound
			}
			return fmt.Errorf("failed to load approval: %w", err)
		}

		if approval.ApproverID != actor.ID {
			return ErrNotAuthorized.Withf("approval %s is assigned to another approver", approval.ID)
		}
		if approval.Status != models.ApprovalStatusPending {
			return ErrAlreadyProcessed
		}

		now := s.now()
		updates := map[string]interface{}{
			"status":      decision,
			"approved_at": now,
		}
		if reason != "" {
			updates["reason"] = reason
		}
		update := tx.Model(&models.Approval{}).
			Where("id = ? AND status = ?", approval.ID, models.ApprovalStatusPending).
			Updates(updates)
		if update.Error != nil {
			return fmt.Errorf("failed to update approval: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			return ErrAlreadyProcessed
		}
		approval.Status = decision
		approval.ApprovedAt = &now
		if reason != "" {
			approval.Reason = &reason
		}

		if err := s.recomputeItem(tx, item); err != nil {
			return err
		}

		change, err := s.recomputeParent(tx, item.RequestID, actor, reason)
		if err != nil {
			return err
		}

		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityApproval,
			EntityID:    approval.ID,
			Action:      string(decision),
			Description: fmt.Sprintf("%s approval %s", approval.Level, strings.ToLower(string(decision))),
			Changes: map[string]interface{}{
				"request_item_id": item.ID,
				"reason":          reason,
				"item_status":     item.Status,
			},
		})

		result.Approval = &approval
		result.ItemStatus = item.Status
		result.RequestStatus = change.Request.Status
		result.RequestChanged = change.Changed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ApprovalDecision(string(decision))
	return result, nil
}

// AddApprover attaches another approver to an undecided item.
func (s *ApprovalService) AddApprover(ctx context.Context, actor *policy.Actor, itemID uuid.UUID, req *AddApproverRequest) (*models.Approval, error) {
	if err := s.authorize(actor, policy.Resource{Object: policy.ObjectApproval}, policy.ActionApprovalAdd); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}

	var approval models.Approval
	err := s.transact(ctx, func(tx *gorm.DB) error {
		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemStatusPending && item.Status != models.ItemStatusReviewing {
			return ErrInvalidState.Withf("approvers can only be added while the item is PENDING or REVIEWING, not %s", item.Status)
		}

		for _, existing := range item.Approvals {
			if existing.ApproverID == req.ApproverID {
				return ErrDuplicateApprover
			}
		}

		approver, err := s.directory.findUser(tx, req.ApproverID)
		if err != nil {
			return err
		}

		approval = models.Approval{
			RequestItemID: item.ID,
			ApproverID:    approver.ID,
			Level:         models.ApprovalLevel(req.Level),
			Status:        models.ApprovalStatusPending,
		}
		if err := tx.Create(&approval).Error; err != nil {
			return fmt.Errorf("failed to create approval: %w", err)
		}
		approval.Approver = *approver

		name, vendor := item.DisplayName()
		s.outbox.Notify(tx, NotificationMessage{
			UserID: approver.ID,
			Type:   NotificationApprovalRequested,
			Payload: map[string]interface{}{
				"request_id":      item.RequestID,
				"request_item_id": item.ID,
				"approval_id":     approval.ID,
				"level":           approval.Level,
				"license_name":    name,
				"vendor":          vendor,
			},
			URL: fmt.Sprintf("/approvals/%s", approval.ID),
		})
		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityApproval,
			EntityID:    approval.ID,
			Action:      "APPROVER_ADDED",
			Description: fmt.Sprintf("%s added as %s approver", approver.Name, approval.Level),
			Changes:     map[string]interface{}{"request_item_id": item.ID, "approver_id": approver.ID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &approval, nil
}

// PendingForApprover lists the items waiting on the actor's decision.
func (s *ApprovalService) PendingForApprover(ctx context.Context, actor *policy.Actor, params utils.PaginationParams) ([]models.RequestItem, int64, error) {
	if err := requireActor(actor); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.RequestItem{}).
		Joins("JOIN approvals ON approvals.request_item_id = request_items.id AND approvals.deleted_at IS NULL").
		Where("approvals.approver_id = ? AND approvals.status = ?", actor.ID, models.ApprovalStatusPending).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count pending approvals: %w", err)
	}

	var items []models.RequestItem
	if err := utils.ApplyPagination(query.Order("request_items.created_at ASC"), params).
		Preload("License").
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	return items, total, nil
}
