// internal/services/request_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/policy"
	"github.com/javajoker/license-desk/internal/utils"
)

// RequestService creates requests and the approval chain of every item.
type RequestService struct {
	workflowCore
}

type SubmitRequestItem struct {
	Type                 models.ItemType `json:"type" validate:"required,oneof=LICENSE OTHER"`
	LicenseID            *uuid.UUID      `json:"license_id,omitempty" validate:"required_if=Type LICENSE"`
	RequestedLicenseName string          `json:"requested_license_name,omitempty" validate:"required_if=Type OTHER,max=255"`
	RequestedVendor      string          `json:"requested_vendor,omitempty" validate:"max=255"`
	Justification        string          `json:"justification" validate:"max=2000"`
}

type SubmitRequestInput struct {
	RequestedForID *uuid.UUID          `json:"requested_for_id,omitempty"`
	Items          []SubmitRequestItem `json:"items" validate:"required,min=1,dive"`
}

// SubmitResult carries the created request and every integrity warning raised
// while building its approval chain.
type SubmitResult struct {
	Request  *models.Request `json:"request"`
	Warnings []string        `json:"warnings"`
}

type RequestSearchParams struct {
	utils.PaginationParams
	Status string
}

type approverSlot struct {
	user  *models.User
	level models.ApprovalLevel
}

func NewRequestService(deps WorkflowDeps) *RequestService {
	return &RequestService{workflowCore: newWorkflowCore(deps)}
}

func (s *RequestService) SubmitRequest(ctx context.Context, actor *policy.Actor, req *SubmitRequestInput) (*SubmitResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}
	if len(req.Items) > s.cfg.MaxItemsPerRequest {
		return nil, validationError(map[string]string{
			"items": fmt.Sprintf("A request may contain at most %d items", s.cfg.MaxItemsPerRequest),
		})
	}
	for i := range req.Items {
		req.Items[i].Justification = strings.TrimSpace(req.Items[i].Justification)
		req.Items[i].RequestedLicenseName = strings.TrimSpace(req.Items[i].RequestedLicenseName)
		if req.Items[i].Justification == "" {
			return nil, ErrJustificationNeeded.Withf("item %d needs a justification", i+1)
		}
	}
	if req.RequestedForID != nil && *req.RequestedForID == actor.ID {
		req.RequestedForID = nil
	}

	result := &SubmitResult{Warnings: []string{}}
	err := s.transact(ctx, func(tx *gorm.DB) error {
		requestor, err := s.directory.findUser(tx, actor.ID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if req.RequestedForID != nil {
			if _, err := s.directory.findUser(tx, *req.RequestedForID); err != nil {
				return err
			}
		}

		request := &models.Request{
			RequestorID:    requestor.ID,
			RequestedForID: req.RequestedForID,
			Status:         models.RequestStatusPending,
		}
		if err := tx.Create(request).Error; err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		itsgLead, err := s.optionalUser(s.directory.DepartmentLead(tx, s.cfg.ITSGDepartment))
		if err != nil {
			return err
		}
		if itsgLead == nil {
			result.warn(request.ID, "No ITSG team lead found; ITSG approvals were not created")
		}

		var manager *models.User
		if requestor.Role != models.RoleManager {
			if requestor.ManagerID == nil {
				result.warn(request.ID, "Requestor has no manager; MANAGER approvals were not created")
			} else {
				manager, err = s.optionalUser(s.directory.findUser(tx, *requestor.ManagerID))
				if err != nil {
					return err
				}
				if manager == nil {
					result.warn(request.ID, "Requestor's manager no longer exists; MANAGER approvals were not created")
				}
			}
		}

		ownerLeads := make(map[string]*models.User)
		for i, input := range req.Items {
			item := models.RequestItem{
				RequestID:            request.ID,
				Type:                 input.Type,
				RequestedLicenseName: input.RequestedLicenseName,
				RequestedVendor:      strings.TrimSpace(input.RequestedVendor),
				Justification:        input.Justification,
				Status:               models.ItemStatusPending,
			}

			var license *models.License
			if input.Type == models.ItemTypeLicense {
				license = &models.License{}
				if err := tx.First(license, "id = ?", *input.LicenseID).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return ErrLicenseNotFound.Withf("license for item %d not found", i+1)
					}
					return fmt.Errorf("failed to load license: %w", err)
				}
				item.LicenseID = &license.ID
			}

			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("failed to create request item: %w", err)
			}
			item.License = license

			slots := []approverSlot{}
			if itsgLead != nil {
				slots = append(slots, approverSlot{itsgLead, models.ApprovalLevelITSG})
			}
			if manager != nil {
				slots = append(slots, approverSlot{manager, models.ApprovalLevelManager})
			}
			if license != nil && !s.isITSG(license.Owner) {
				lead, seen := ownerLeads[license.Owner]
				if !seen {
					lead, err = s.optionalUser(s.directory.DepartmentLead(tx, license.Owner))
					if err != nil {
						return err
					}
					ownerLeads[license.Owner] = lead
					if lead == nil {
						result.warn(request.ID, fmt.Sprintf("No team lead found for owner department %s; OWNER approvals were not created", license.Owner))
					}
				}
				if lead != nil {
					slots = append(slots, approverSlot{lead, models.ApprovalLevelOwner})
				}
			}

			approvals, err := s.createApprovals(tx, &item, slots)
			if err != nil {
				return err
			}
			if len(approvals) == 0 {
				result.warn(request.ID, fmt.Sprintf("Item %d has no approvers", i+1))
			}
			item.Approvals = approvals
			request.Items = append(request.Items, item)
		}

		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityRequest,
			EntityID:    request.ID,
			Action:      "CREATED",
			Description: fmt.Sprintf("Request submitted with %d item(s)", len(request.Items)),
			Changes:     map[string]interface{}{"warnings": result.Warnings},
		})

		request.Requestor = *requestor
		result.Request = request
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// createApprovals adds one PENDING approval per distinct approver and asks
// each of them for a decision.
func (s *RequestService) createApprovals(tx *gorm.DB, item *models.RequestItem, slots []approverSlot) ([]models.Approval, error) {
	seen := make(map[uuid.UUID]bool, len(slots))
	approvals := make([]models.Approval, 0, len(slots))
	name, vendor := item.DisplayName()

	for _, slot := range slots {
		if seen[slot.user.ID] {
			continue
		}
		seen[slot.user.ID] = true

		approval := models.Approval{
			RequestItemID: item.ID,
			ApproverID:    slot.user.ID,
			Level:         slot.level,
			Status:        models.ApprovalStatusPending,
		}
		if err := tx.Create(&approval).Error; err != nil {
			return nil, fmt.Errorf("failed to create approval: %w", err)
		}
		approval.Approver = *slot.user
		approvals = append(approvals, approval)

		s.outbox.Notify(tx, NotificationMessage{
			UserID: slot.user.ID,
			Type:   NotificationApprovalRequested,
			Payload: map[string]interface{}{
				"request_id":      item.RequestID,
				"request_item_id": item.ID,
				"approval_id":     approval.ID,
				"level":           slot.level,
				"license_name":    name,
				"vendor":          vendor,
			},
			URL: fmt.Sprintf("/approvals/%s", approval.ID),
		})
	}

	return approvals, nil
}

// optionalUser turns a directory miss into a nil user.
func (s *RequestService) optionalUser(user *models.User, err error) (*models.User, error) {
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *SubmitResult) warn(requestID uuid.UUID, warning string) {
	logrus.WithField("request_id", requestID).Warn(warning)
	r.Warnings = append(r.Warnings, warning)
}

// GetRequest returns a request with its items, approvals and assignments.
// Participants always see it; others need the request view capability.
func (s *RequestService) GetRequest(ctx context.Context, actor *policy.Actor, requestID uuid.UUID) (*models.Request, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var request models.Request
	err := s.db.WithContext(ctx).
		Preload("Requestor").
		Preload("RequestedFor").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Items.License").
		Preload("Items.Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Items.Approvals.Approver").
		Preload("Items.Assignments").
		Preload("Items.Procurement").
		Preload("Items.Procurement.Attachments").
		First(&request, "id = ?", requestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	if isParticipant(&request, actor.ID) {
		return &request, nil
	}
	if err := s.authorize(actor, policy.Resource{Object: policy.ObjectRequest}, policy.ActionRequestView); err != nil {
		return nil, err
	}
	return &request, nil
}

// ListMine lists the requests the actor made or that were made for them.
func (s *RequestService) ListMine(ctx context.Context, actor *policy.Actor, params RequestSearchParams) ([]models.Request, int64, error) {
	if err := requireActor(actor); err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.Request{}).
		Where("requestor_id = ? OR requested_for_id = ?", actor.ID, actor.ID)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	var requests []models.Request
	query = utils.ApplySort(query, params.PaginationParams, []string{"created_at", "updated_at", "status"})
	if err := utils.ApplyPagination(query, params.PaginationParams).
		Preload("Items").
		Preload("Items.License").
		Find(&requests).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}

	return requests, total, nil
}

func isParticipant(request *models.Request, userID uuid.UUID) bool {
	if request.RequestorID == userID {
		return true
	}
	if request.RequestedForID != nil && *request.RequestedForID == userID {
		return true
	}
	for _, item := range request.Items {
		for _, approval := range item.Approvals {
			if approval.ApproverID == userID {
				return true
			}
		}
	}
	return false
}
