// internal/services/assignment_service.go
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
	"github.com/javajoker/license-desk/internal/workflow"
)

const (
	AssignModeManual = "manual"
	AssignModeAuto   = "auto"
)

// AssignmentService hands license supply to the user a request is for.
type AssignmentService struct {
	workflowCore
}

type ManualAssignRequest struct {
	RequestItemID uuid.UUID  `json:"request_item_id" validate:"required"`
	Type          string     `json:"type" validate:"required,license_type"`
	LicenseKeyID  *uuid.UUID `json:"license_key_id,omitempty"`
	SeatLink      string     `json:"seat_link,omitempty" validate:"max=2000"`
}

type AutoAssignRequest struct {
	RequestItemID uuid.UUID `json:"request_item_id" validate:"required"`
}

// assignTarget is the locked state an allocation works against.
type assignTarget struct {
	item    *models.RequestItem
	request *models.Request
	license *models.License
	userID  uuid.UUID
}

func NewAssignmentService(deps WorkflowDeps) *AssignmentService {
	return &AssignmentService{workflowCore: newWorkflowCore(deps)}
}

// ManualAssign consumes the given key of a key-based license, or records the
// given seat link of a seat-based one.
func (s *AssignmentService) ManualAssign(ctx context.Context, actor *policy.Actor, req *ManualAssignRequest) (*models.Assignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}
	licenseType := models.LicenseType(req.Type)
	seatLink := strings.TrimSpace(req.SeatLink)
	switch licenseType {
	case models.LicenseTypeKeyBased:
		if req.LicenseKeyID == nil || seatLink != "" {
			return nil, ErrAssignmentMismatch
		}
	case models.LicenseTypeSeatBased:
		if req.LicenseKeyID != nil || seatLink == "" {
			return nil, ErrAssignmentMismatch
		}
	}

	var assignment *models.Assignment
	err := s.transact(ctx, func(tx *gorm.DB) error {
		target, err := s.prepare(tx, actor, req.RequestItemID)
		if err != nil {
			return err
		}
		if target.license.Type != licenseType {
			return ErrAssignmentMismatch.Withf("license %s is %s, not %s", target.license.Name, target.license.Type, licenseType)
		}

		var key *models.LicenseKey
		if licenseType == models.LicenseTypeKeyBased {
			key, err = consumeKey(tx, target.license.ID, *req.LicenseKeyID)
		} else {
			key, err = s.createSeat(tx, actor, target.license.ID, seatLink)
		}
		if err != nil {
			return err
		}

		assignment, err = s.complete(tx, actor, target, key, AssignModeManual)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Assignment(AssignModeManual)
	return assignment, nil
}

// AutoAssign consumes the oldest available key of the item's license. The
// caller may not auto-assign to themself.
func (s *AssignmentService) AutoAssign(ctx context.Context, actor *policy.Actor, req *AutoAssignRequest) (*models.Assignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}

	var assignment *models.Assignment
	err := s.transact(ctx, func(tx *gorm.DB) error {
		target, err := s.prepare(tx, actor, req.RequestItemID)
		if err != nil {
			return err
		}
		if target.userID == actor.ID {
			return ErrCannotSelfAssign
		}

		var candidate models.LicenseKey
		err = tx.Where("license_id = ? AND status = ?", target.license.ID, models.KeyStatusActive).
			Order("created_at ASC").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoAvailableKeys
			}
			return fmt.Errorf("failed to find available key: %w", err)
		}

		key, err := consumeKey(tx, target.license.ID, candidate.ID)
		if err != nil {
			return err
		}

		assignment, err = s.complete(tx, actor, target, key, AssignModeAuto)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Assignment(AssignModeAuto)
	return assignment, nil
}

// prepare loads and locks everything an allocation needs and checks every
// precondition shared by both assignment paths.
func (s *AssignmentService) prepare(tx *gorm.DB, actor *policy.Actor, itemID uuid.UUID) (*assignTarget, error) {
	item, err := loadItem(tx, itemID)
	if err != nil {
		return nil, err
	}
	if item.LicenseID == nil {
		return nil, ErrInvalidState.Withf("request item %s is not linked to a license", item.ID)
	}

	license, err := lockLicense(tx, *item.LicenseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, policy.Resource{Object: policy.ObjectAssignment, OwnerDepartment: license.Owner}, policy.ActionAssign); err != nil {
		return nil, err
	}

	approvals := make([]models.ApprovalStatus, 0, len(item.Approvals))
	for _, approval := range item.Approvals {
		approvals = append(approvals, approval.Status)
	}
	if !workflow.Assignable(item.Status, item.ReenteredAt, approvals) {
		return nil, ErrInvalidState.Withf("request item must be APPROVED before assignment, not %s", item.Status)
	}

	var active int64
	if err := tx.Model(&models.Assignment{}).
		Where("request_item_id = ? AND status = ?", item.ID, models.AssignmentStatusActive).
		Count(&active).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing assignment: %w", err)
	}
	if active > 0 {
		return nil, ErrAlreadyAssigned
	}

	if license.ExpiryDate != nil && license.ExpiryDate.Before(s.now()) {
		return nil, ErrLicenseExpired
	}
	assigned, err := countKeys(tx, license.ID, models.KeyStatusAssigned)
	if err != nil {
		return nil, err
	}
	if assigned >= int64(license.TotalSeats) {
		return nil, ErrNoSeatsAvailable.Withf("all %d seats of %s are in use", license.TotalSeats, license.Name)
	}

	request, err := loadRequest(tx, item.RequestID)
	if err != nil {
		return nil, err
	}

	return &assignTarget{
		item:    item,
		request: request,
		license: license,
		userID:  request.TargetUserID(),
	}, nil
}

// consumeKey flips an ACTIVE key to ASSIGNED, failing when another
// transaction took it first.
func consumeKey(tx *gorm.DB, licenseID, keyID uuid.UUID) (*models.LicenseKey, error) {
	result := tx.Model(&models.LicenseKey{}).
		Where("id = ? AND license_id = ? AND status = ?", keyID, licenseID, models.KeyStatusActive).
		Update("status", models.KeyStatusAssigned)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to assign license key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrKeyNotFound
	}

	var key models.LicenseKey
	if err := tx.First(&key, "id = ?", keyID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload license key: %w", err)
	}
	return &key, nil
}

func (s *AssignmentService) createSeat(tx *gorm.DB, actor *policy.Actor, licenseID uuid.UUID, seatLink string) (*models.LicenseKey, error) {
	key := &models.LicenseKey{
		LicenseID: licenseID,
		SeatLink:  &seatLink,
		Status:    models.KeyStatusAssigned,
		AddedByID: actorRef(actor),
	}
	if err := tx.Create(key).Error; err != nil {
		return nil, fmt.Errorf("failed to create seat: %w", err)
	}
	return key, nil
}

// complete records the assignment and cascades status to the item, license
// and request.
func (s *AssignmentService) complete(tx *gorm.DB, actor *policy.Actor, target *assignTarget, key *models.LicenseKey, mode string) (*models.Assignment, error) {
	assignment := &models.Assignment{
		UserID:        target.userID,
		LicenseKeyID:  key.ID,
		RequestItemID: target.item.ID,
		AssignedByID:  actor.ID,
		Status:        models.AssignmentStatusActive,
		AssignedAt:    s.now(),
	}
	if err := tx.Create(assignment).Error; err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}
	assignment.LicenseKey = *key

	if err := transitionItem(tx, target.item, models.ItemStatusAssigning, models.ItemStatusApproved, models.ItemStatusPending); err != nil {
		return nil, err
	}
	if err := s.refreshLicenseStatus(tx, target.license); err != nil {
		return nil, err
	}
	if _, err := s.recomputeParent(tx, target.item.RequestID, actor, ""); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"assignment_id":   assignment.ID,
		"request_id":      target.request.ID,
		"request_item_id": target.item.ID,
		"license_name":    target.license.Name,
		"vendor":          target.license.Vendor,
		"mode":            mode,
	}
	url := fmt.Sprintf("/assignments/%s", assignment.ID)
	recipients := []uuid.UUID{target.userID}
	seen := map[uuid.UUID]bool{target.userID: true}
	for _, approval := range target.item.Approvals {
		if !seen[approval.ApproverID] {
			seen[approval.ApproverID] = true
			recipients = append(recipients, approval.ApproverID)
		}
	}
	for _, recipient := range recipients {
		s.outbox.Notify(tx, NotificationMessage{UserID: recipient, Type: NotificationLicenseAssigned, Payload: payload, URL: url})
	}

	s.outbox.Audit(tx, AuditEntry{
		ActorID:     actorRef(actor),
		Entity:      AuditEntityAssignment,
		EntityID:    assignment.ID,
		Action:      "ASSIGNED",
		Description: fmt.Sprintf("%s assigned (%s)", target.license.Name, mode),
		Changes: map[string]interface{}{
			"license_key_id":  key.ID,
			"request_item_id": target.item.ID,
			"user_id":         target.userID,
		},
	})

	return assignment, nil
}

// ConfirmReceipt is the recipient acknowledging the license. The request is
// fulfilled when no sibling item is left unfulfilled.
func (s *AssignmentService) ConfirmReceipt(ctx context.Context, actor *policy.Actor, assignmentID uuid.UUID) (*models.Assignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var assignment models.Assignment
	err := s.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Preload("LicenseKey").First(&assignment, "id = ?", assignmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssignmentNotFound
			}
			return fmt.Errorf("failed to load assignment: %w", err)
		}
		if assignment.UserID != actor.ID {
			return ErrNotAuthorized.Withf("assignment %s belongs to another user", assignment.ID)
		}

		item, err := loadItem(tx, assignment.RequestItemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemStatusAssigning {
			return ErrAlreadyConfirmed
		}

		now := s.now()
		if err := tx.Model(&models.Assignment{}).
			Where("id = ? AND confirmed_at IS NULL", assignment.ID).
			Update("confirmed_at", now).Error; err != nil {
			return fmt.Errorf("failed to confirm assignment: %w", err)
		}
		assignment.ConfirmedAt = &now

		if err := transitionItem(tx, item, models.ItemStatusFulfilled, models.ItemStatusAssigning); err != nil {
			if errors.Is(err, ErrInvalidState) {
				return ErrAlreadyConfirmed
			}
			return err
		}

		request, err := loadRequest(tx, item.RequestID)
		if err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.RequestItem{}).
			Where("request_id = ? AND status <> ?", item.RequestID, models.ItemStatusFulfilled).
			Count(&remaining).Error; err != nil {
			return fmt.Errorf("failed to count open items: %w", err)
		}
		if remaining == 0 {
			result := tx.Model(&models.Request{}).
				Where("id = ? AND status <> ?", request.ID, models.RequestStatusFulfilled).
				Update("status", models.RequestStatusFulfilled)
			if result.Error != nil {
				return fmt.Errorf("failed to fulfil request: %w", result.Error)
			}
			if result.RowsAffected > 0 {
				previous := request.Status
				request.Status = models.RequestStatusFulfilled
				s.notifyRequestParties(tx, request, NotificationRequestStatusChanged, map[string]interface{}{
					"request_id":      request.ID,
					"previous_status": previous,
					"status":          request.Status,
				})
				s.outbox.Audit(tx, AuditEntry{
					ActorID:     actorRef(actor),
					Entity:      AuditEntityRequest,
					EntityID:    request.ID,
					Action:      "FULFILLED",
					Description: "All request items fulfilled",
					Changes:     map[string]interface{}{"from": previous, "to": request.Status},
				})
			}
		}

		recipients, err := s.confirmationRecipients(tx, item)
		if err != nil {
			return err
		}
		name, vendor := item.DisplayName()
		payload := map[string]interface{}{
			"assignment_id":   assignment.ID,
			"request_id":      item.RequestID,
			"request_item_id": item.ID,
			"license_name":    name,
			"vendor":          vendor,
			"confirmed_by":    actor.ID,
		}
		url := fmt.Sprintf("/assignments/%s", assignment.ID)
		for _, recipient := range recipients {
			s.outbox.Notify(tx, NotificationMessage{UserID: recipient, Type: NotificationAssignmentConfirmed, Payload: payload, URL: url})
		}
		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityAssignment,
			EntityID:    assignment.ID,
			Action:      "CONFIRMED",
			Description: "Receipt confirmed",
			Changes:     map[string]interface{}{"request_item_id": item.ID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &assignment, nil
}

// confirmationRecipients are the ITSG staff plus, for licenses owned
// elsewhere, the owner department's team lead.
func (s *AssignmentService) confirmationRecipients(tx *gorm.DB, item *models.RequestItem) ([]uuid.UUID, error) {
	staff, err := s.directory.ITSGStaff(tx)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(staff)+1)
	recipients := make([]uuid.UUID, 0, len(staff)+1)
	for _, user := range staff {
		if !seen[user.ID] {
			seen[user.ID] = true
			recipients = append(recipients, user.ID)
		}
	}

	if item.License != nil && !s.isITSG(item.License.Owner) {
		lead, err := s.directory.DepartmentLead(tx, item.License.Owner)
		switch {
		case err == nil:
			if !seen[lead.ID] {
				recipients = append(recipients, lead.ID)
			}
		case errors.Is(err, ErrUserNotFound):
		default:
			return nil, err
		}
	}

	return recipients, nil
}

// ListMine returns the actor's assignments, newest first.
func (s *AssignmentService) ListMine(ctx context.Context, actor *policy.Actor, params utils.PaginationParams) ([]models.Assignment, int64, error) {
	if err := requireActor(actor); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.Assignment{}).
		Where("user_id = ?", actor.ID).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count assignments: %w", err)
	}

	var assignments []models.Assignment
	if err := utils.ApplyPagination(query.Order("assigned_at DESC"), params).
		Preload("LicenseKey").
		Find(&assignments).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list assignments: %w", err)
	}

	return assignments, total, nil
}
