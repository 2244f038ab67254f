// internal/services/procurement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/policy"
	"github.com/javajoker/license-desk/internal/utils"
)

// ProcurementService diverts an approved item without supply through a
// purchase cycle and hands it back to assignment once supply exists.
type ProcurementService struct {
	workflowCore
	store FileStore
}

type CreateProcurementRequest struct {
	RequestItemID     uuid.UUID  `json:"request_item_id" validate:"required"`
	ItemName          string     `json:"item_name" validate:"required,max=255"`
	Vendor            string     `json:"vendor,omitempty" validate:"max=255"`
	Price             float64    `json:"price" validate:"gte=0"`
	Quantity          int        `json:"quantity" validate:"required,gt=0,max=10000"`
	FinanceApproverID *uuid.UUID `json:"finance_approver_id,omitempty"`
	Remarks           string     `json:"remarks,omitempty" validate:"max=2000"`
}

type DecideProcurementRequest struct {
	Decision string `json:"decision" validate:"required,procurement_decision"`
	Remarks  string `json:"remarks,omitempty" validate:"max=2000"`
}

// ProofFile is one uploaded proof-of-purchase document.
type ProofFile struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func NewProcurementService(deps WorkflowDeps, store FileStore) *ProcurementService {
	return &ProcurementService{
		workflowCore: newWorkflowCore(deps),
		store:        store,
	}
}

var procurementResource = policy.Resource{Object: policy.ObjectProcurement}

func loadProcurement(tx *gorm.DB, procurementID uuid.UUID) (*models.ProcurementRequest, error) {
	var procurement models.ProcurementRequest
	if err := tx.Preload("Attachments").First(&procurement, "id = ?", procurementID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProcurementNotFound
		}
		return nil, fmt.Errorf("failed to load procurement request: %w", err)
	}
	return &procurement, nil
}

// CreateProcurement opens a procurement request for an approved item and
// moves the item to PURCHASING.
func (s *ProcurementService) CreateProcurement(ctx context.Context, actor *policy.Actor, req *CreateProcurementRequest) (*models.ProcurementRequest, error) {
	if err := s.authorize(actor, procurementResource, policy.ActionProcurementCreate); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}

	var procurement *models.ProcurementRequest
	err := s.transact(ctx, func(tx *gorm.DB) error {
		item, err := loadItem(tx, req.RequestItemID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(item.Justification) == "" {
			return ErrJustificationNeeded
		}

		var existing int64
		if err := tx.Model(&models.ProcurementRequest{}).
			Where("request_item_id = ?", item.ID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check existing procurement: %w", err)
		}
		if existing > 0 {
			return ErrDuplicateProcurement
		}
		if item.Status != models.ItemStatusApproved {
			return ErrInvalidState.Withf("procurement can only be created for an APPROVED item, not %s", item.Status)
		}

		request, err := loadRequest(tx, item.RequestID)
		if err != nil {
			return err
		}

		var finance *models.User
		if req.FinanceApproverID != nil {
			finance, err = s.directory.findUser(tx, *req.FinanceApproverID)
			if err != nil {
				return err
			}
		} else {
			finance, err = s.directory.FinanceManager(tx)
			if err != nil {
				if !errors.Is(err, ErrUserNotFound) {
					return err
				}
				logrus.WithField("request_item_id", item.ID).Warn("No finance manager found to notify about procurement")
				finance = nil
			}
		}

		procurement = &models.ProcurementRequest{
			RequestItemID:  item.ID,
			ItemName:       strings.TrimSpace(req.ItemName),
			Vendor:         strings.TrimSpace(req.Vendor),
			Price:          req.Price,
			Quantity:       req.Quantity,
			TotalCost:      req.Price * float64(req.Quantity),
			Status:         models.ProcurementStatusPending,
			PurchaseStatus: models.PurchaseStatusNotStarted,
			RequestedByID:  actor.ID,
			Remarks:        strings.TrimSpace(req.Remarks),
		}
		if finance != nil {
			procurement.FinanceApproverID = &finance.ID
		}
		if err := tx.Create(procurement).Error; err != nil {
			return fmt.Errorf("failed to create procurement request: %w", err)
		}

		if err := transitionItem(tx, item, models.ItemStatusPurchasing, models.ItemStatusApproved); err != nil {
			return err
		}
		if _, err := s.recomputeParent(tx, item.RequestID, actor, ""); err != nil {
			return err
		}

		payload := map[string]interface{}{
			"procurement_id":  procurement.ID,
			"request_id":      item.RequestID,
			"request_item_id": item.ID,
			"item_name":       procurement.ItemName,
			"quantity":        procurement.Quantity,
			"total_cost":      procurement.TotalCost,
		}
		url := fmt.Sprintf("/procurements/%s", procurement.ID)
		msgs := []NotificationMessage{{UserID: request.RequestorID, Type: NotificationProcurementCreated, Payload: payload, URL: url}}
		if finance != nil && finance.ID != request.RequestorID {
			msgs = append(msgs, NotificationMessage{UserID: finance.ID, Type: NotificationProcurementCreated, Payload: payload, URL: url})
		}
		s.outbox.Notify(tx, msgs...)
		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityProcurement,
			EntityID:    procurement.ID,
			Action:      "CREATED",
			Description: fmt.Sprintf("Procurement of %d x %s requested", procurement.Quantity, procurement.ItemName),
			Changes: map[string]interface{}{
				"request_item_id": item.ID,
				"total_cost":      procurement.TotalCost,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ProcurementTransition("created")
	return procurement, nil
}

// DecideProcurement records finance's decision. A rejection denies the item
// and recomputes its request.
func (s *ProcurementService) DecideProcurement(ctx context.Context, actor *policy.Actor, procurementID uuid.UUID, req *DecideProcurementRequest) (*models.ProcurementRequest, error) {
	if err := s.authorize(actor, procurementResource, policy.ActionProcurementDecide); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}
	decision := models.ProcurementStatus(req.Decision)
	remarks := strings.TrimSpace(req.Remarks)

	var procurement *models.ProcurementRequest
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var err error
		procurement, err = loadProcurement(tx, procurementID)
		if err != nil {
			return err
		}
		if procurement.Status != models.ProcurementStatusPending {
			return ErrAlreadyDecided
		}

		purchaseStatus := models.PurchaseStatusInProgress
		updates := map[string]interface{}{
			"status":         decision,
			"approved_by_id": actor.ID,
		}
		if decision == models.ProcurementStatusRejected {
			purchaseStatus = models.PurchaseStatusClosed
			updates["rejection_reason"] = remarks
		} else if remarks != "" {
			updates["remarks"] = remarks
		}
		updates["purchase_status"] = purchaseStatus

		result := tx.Model(&models.ProcurementRequest{}).
			Where("id = ? AND status = ?", procurement.ID, models.ProcurementStatusPending).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update procurement request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyDecided
		}
		procurement.Status = decision
		procurement.PurchaseStatus = purchaseStatus
		approver := actor.ID
		procurement.ApprovedByID = &approver
		if decision == models.ProcurementStatusRejected {
			procurement.RejectionReason = remarks
		} else if remarks != "" {
			procurement.Remarks = remarks
		}

		item, err := loadItem(tx, procurement.RequestItemID)
		if err != nil {
			return err
		}
		if decision == models.ProcurementStatusRejected {
			if err := transitionItem(tx, item, models.ItemStatusDenied, models.ItemStatusPurchasing); err != nil {
				return err
			}
			if _, err := s.recomputeParent(tx, item.RequestID, actor, remarks); err != nil {
				return err
			}
		}

		request, err := loadRequest(tx, item.RequestID)
		if err != nil {
			return err
		}
		payload := map[string]interface{}{
			"procurement_id":  procurement.ID,
			"request_item_id": item.ID,
			"decision":        decision,
			"remarks":         remarks,
		}
		url := fmt.Sprintf("/procurements/%s", procurement.ID)
		msgs := []NotificationMessage{{UserID: request.RequestorID, Type: NotificationProcurementDecided, Payload: payload, URL: url}}
		if procurement.RequestedByID != request.RequestorID {
			msgs = append(msgs, NotificationMessage{UserID: procurement.RequestedByID, Type: NotificationProcurementDecided, Payload: payload, URL: url})
		}
		s.outbox.Notify(tx, msgs...)
		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityProcurement,
			EntityID:    procurement.ID,
			Action:      string(decision),
			Description: fmt.Sprintf("Procurement %s", strings.ToLower(string(decision))),
			Changes: map[string]interface{}{
				"purchase_status": purchaseStatus,
				"remarks":         remarks,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ProcurementTransition(strings.ToLower(string(decision)))
	return procurement, nil
}

// UploadProof stores proof-of-purchase files and marks the purchase done.
// Stored objects are removed again when the transaction does not commit.
func (s *ProcurementService) UploadProof(ctx context.Context, actor *policy.Actor, procurementID uuid.UUID, files []ProofFile) (*models.ProcurementRequest, error) {
	if err := s.authorize(actor, procurementResource, policy.ActionProcurementUpload); err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, validationError(map[string]string{"files": "At least one file is required"})
	}
	if len(files) > s.cfg.MaxProofFiles {
		return nil, ErrTooManyAttachments.Withf("at most %d proof files may be uploaded", s.cfg.MaxProofFiles)
	}
	options := ProofUploadOptions(s.cfg.MaxProofSizeMB)
	for _, file := range files {
		if err := ValidateUpload(file.FileName, file.ContentType, file.Size, options); err != nil {
			return nil, err
		}
	}

	var stored []string
	var procurement *models.ProcurementRequest
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var err error
		procurement, err = loadProcurement(tx, procurementID)
		if err != nil {
			return err
		}
		if procurement.Status != models.ProcurementStatusApproved || procurement.PurchaseStatus != models.PurchaseStatusInProgress {
			return ErrInvalidState.Withf("proof can only be uploaded for an approved purchase in progress (status %s, purchase %s)",
				procurement.Status, procurement.PurchaseStatus)
		}
		if len(procurement.Attachments)+len(files) > s.cfg.MaxProofFiles {
			return ErrTooManyAttachments.Withf("a procurement may hold at most %d proof files, %d already attached",
				s.cfg.MaxProofFiles, len(procurement.Attachments))
		}

		folder := fmt.Sprintf("%s/%s", options.Folder, procurement.ID)
		for _, file := range files {
			key := generateFileKey(file.FileName, folder)
			url, err := s.store.Upload(ctx, key, file.ContentType, file.Body, file.Size)
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", file.FileName, err)
			}
			stored = append(stored, key)

			attachment := models.ProcurementAttachment{
				ProcurementRequestID: procurement.ID,
				FileName:             file.FileName,
				ContentType:          file.ContentType,
				Size:                 file.Size,
				StorageKey:           key,
				URL:                  url,
				UploadedByID:         actor.ID,
			}
			if err := tx.Create(&attachment).Error; err != nil {
				return fmt.Errorf("failed to create attachment: %w", err)
			}
			procurement.Attachments = append(procurement.Attachments, attachment)
		}

		result := tx.Model(&models.ProcurementRequest{}).
			Where("id = ? AND purchase_status = ?", procurement.ID, models.PurchaseStatusInProgress).
			Update("purchase_status", models.PurchaseStatusPurchased)
		if result.Error != nil {
			return fmt.Errorf("failed to update purchase status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvalidState.Withf("procurement %s changed concurrently", procurement.ID)
		}
		procurement.PurchaseStatus = models.PurchaseStatusPurchased

		recipients, err := s.proofRecipients(tx, procurement, actor.ID)
		if err != nil {
			return err
		}
		payload := map[string]interface{}{
			"procurement_id": procurement.ID,
			"item_name":      procurement.ItemName,
			"files":          len(files),
		}
		url := fmt.Sprintf("/procurements/%s", procurement.ID)
		for _, recipient := range recipients {
			s.outbox.Notify(tx, NotificationMessage{UserID: recipient, Type: NotificationProofUploaded, Payload: payload, URL: url})
		}
		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityProcurement,
			EntityID:    procurement.ID,
			Action:      "PROOF_UPLOADED",
			Description: fmt.Sprintf("%d proof file(s) uploaded", len(files)),
			Changes:     map[string]interface{}{"storage_keys": stored},
		})
		return nil
	})
	if err != nil {
		s.discard(stored)
		return nil, err
	}

	s.metrics.ProcurementTransition("purchased")
	return procurement, nil
}

// proofRecipients are the deciding approver and the finance co-admins,
// without the uploader.
func (s *ProcurementService) proofRecipients(tx *gorm.DB, procurement *models.ProcurementRequest, uploader uuid.UUID) ([]uuid.UUID, error) {
	admins, err := s.directory.DepartmentAdmins(tx, s.cfg.FinanceDepartment)
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{uploader: true}
	var recipients []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			recipients = append(recipients, id)
		}
	}
	if procurement.ApprovedByID != nil {
		add(*procurement.ApprovedByID)
	}
	for _, admin := range admins {
		add(admin.ID)
	}
	return recipients, nil
}

func (s *ProcurementService) discard(keys []string) {
	for _, key := range keys {
		// The request context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.store.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithField("storage_key", key).Warn("Failed to delete orphaned proof file")
		}
		cancel()
	}
}

// AcceptProof finalizes a purchase: it adds the procured seats to the linked
// license, or creates and links a new license for an unlisted item, then
// returns the item to PENDING awaiting assignment.
func (s *ProcurementService) AcceptProof(ctx context.Context, actor *policy.Actor, procurementID uuid.UUID) (*models.ProcurementRequest, error) {
	if err := s.authorize(actor, procurementResource, policy.ActionProcurementAccept); err != nil {
		return nil, err
	}

	var procurement *models.ProcurementRequest
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var err error
		procurement, err = loadProcurement(tx, procurementID)
		if err != nil {
			return err
		}
		if procurement.PurchaseStatus != models.PurchaseStatusPurchased {
			return ErrInvalidState.Withf("proof can only be accepted once the purchase is PURCHASED, not %s", procurement.PurchaseStatus)
		}

		item, err := loadItem(tx, procurement.RequestItemID)
		if err != nil {
			return err
		}
		request, err := loadRequest(tx, item.RequestID)
		if err != nil {
			return err
		}

		now := s.now()
		itemUpdates := map[string]interface{}{
			"status":       models.ItemStatusPending,
			"reentered_at": now,
		}

		var license *models.License
		if item.Type == models.ItemTypeLicense && item.LicenseID != nil {
			license, err = s.replenishLicense(tx, actor, *item.LicenseID, procurement)
			if err != nil {
				return err
			}
			s.outbox.Audit(tx, AuditEntry{
				ActorID:     actorRef(actor),
				Entity:      AuditEntityRequest,
				EntityID:    request.ID,
				Action:      "PROCUREMENT_COMPLETED",
				Description: fmt.Sprintf("Procured %d seat(s) of %s for item %s", procurement.Quantity, license.Name, item.ID),
				Changes:     map[string]interface{}{"procurement_id": procurement.ID, "license_id": license.ID},
			})
		} else {
			license, err = s.createProcuredLicense(tx, actor, item, procurement, now)
			if err != nil {
				return err
			}
			itemUpdates["type"] = models.ItemTypeLicense
			itemUpdates["license_id"] = license.ID
			s.outbox.Audit(tx, AuditEntry{
				ActorID:     actorRef(actor),
				Entity:      AuditEntityRequestItem,
				EntityID:    item.ID,
				Action:      "RELINKED",
				Description: fmt.Sprintf("Item linked to procured license %s", license.Name),
				Changes: map[string]interface{}{
					"type":       map[string]interface{}{"from": item.Type, "to": models.ItemTypeLicense},
					"license_id": license.ID,
				},
			})
		}

		result := tx.Model(&models.ProcurementRequest{}).
			Where("id = ? AND purchase_status = ?", procurement.ID, models.PurchaseStatusPurchased).
			Updates(map[string]interface{}{
				"status":          models.ProcurementStatusCompleted,
				"purchase_status": models.PurchaseStatusCompleted,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to complete procurement request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvalidState.Withf("procurement %s changed concurrently", procurement.ID)
		}
		procurement.Status = models.ProcurementStatusCompleted
		procurement.PurchaseStatus = models.PurchaseStatusCompleted

		if err := transitionItemWith(tx, item, itemUpdates, models.ItemStatusPending, models.ItemStatusPurchasing); err != nil {
			return err
		}
		if _, err := s.recomputeParent(tx, item.RequestID, actor, ""); err != nil {
			return err
		}

		s.notifyRequestParties(tx, request, NotificationProcurementCompleted, map[string]interface{}{
			"procurement_id":  procurement.ID,
			"request_item_id": item.ID,
			"license_id":      license.ID,
			"license_name":    license.Name,
			"quantity":        procurement.Quantity,
		})
		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityProcurement,
			EntityID:    procurement.ID,
			Action:      "COMPLETED",
			Description: "Proof of purchase accepted",
			Changes:     map[string]interface{}{"license_id": license.ID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ProcurementTransition("completed")
	return procurement, nil
}

func (s *ProcurementService) replenishLicense(tx *gorm.DB, actor *policy.Actor, licenseID uuid.UUID, procurement *models.ProcurementRequest) (*models.License, error) {
	license, err := lockLicense(tx, licenseID)
	if err != nil {
		return nil, err
	}

	previousSeats := license.TotalSeats
	license.TotalSeats += procurement.Quantity
	license.Cost += procurement.TotalCost
	if err := tx.Model(&models.License{}).Where("id = ?", license.ID).Updates(map[string]interface{}{
		"total_seats": license.TotalSeats,
		"cost":        license.Cost,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update license seats: %w", err)
	}
	if err := s.refreshLicenseStatus(tx, license); err != nil {
		return nil, err
	}

	s.outbox.Audit(tx, AuditEntry{
		ActorID:     actorRef(actor),
		Entity:      AuditEntityLicense,
		EntityID:    license.ID,
		Action:      "SEATS_PROCURED",
		Description: fmt.Sprintf("Total seats increased from %d to %d", previousSeats, license.TotalSeats),
		Changes: map[string]interface{}{
			"total_seats":    map[string]interface{}{"from": previousSeats, "to": license.TotalSeats},
			"procurement_id": procurement.ID,
		},
	})
	return license, nil
}

func (s *ProcurementService) createProcuredLicense(tx *gorm.DB, actor *policy.Actor, item *models.RequestItem, procurement *models.ProcurementRequest, now time.Time) (*models.License, error) {
	name := procurement.ItemName
	if name == "" {
		name = item.RequestedLicenseName
	}
	vendor := procurement.Vendor
	if vendor == "" {
		vendor = item.RequestedVendor
	}
	expiry := now.AddDate(s.cfg.ProcuredLicenseYears, 0, 0)

	license := &models.License{
		Name:       name,
		Vendor:     vendor,
		TotalSeats: procurement.Quantity,
		Cost:       procurement.TotalCost,
		Owner:      s.cfg.ITSGDepartment,
		Type:       models.LicenseTypeSeatBased,
		ExpiryDate: &expiry,
		Status:     models.LicenseStatusAvailable,
	}
	if err := tx.Create(license).Error; err != nil {
		return nil, fmt.Errorf("failed to create license: %w", err)
	}

	s.outbox.Audit(tx, AuditEntry{
		ActorID:     actorRef(actor),
		Entity:      AuditEntityLicense,
		EntityID:    license.ID,
		Action:      "CREATED",
		Description: fmt.Sprintf("License %s created from procurement", license.Name),
		Changes: map[string]interface{}{
			"total_seats":    license.TotalSeats,
			"procurement_id": procurement.ID,
		},
	})
	return license, nil
}

// GetProcurement returns a procurement request with its attachments.
func (s *ProcurementService) GetProcurement(ctx context.Context, actor *policy.Actor, procurementID uuid.UUID) (*models.ProcurementRequest, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	procurement, err := loadProcurement(s.db.WithContext(ctx), procurementID)
	if err != nil {
		return nil, err
	}
	if procurement.RequestedByID == actor.ID ||
		(procurement.FinanceApproverID != nil && *procurement.FinanceApproverID == actor.ID) {
		return procurement, nil
	}
	if err := s.authorize(actor, policy.Resource{Object: policy.ObjectRequest}, policy.ActionRequestView); err != nil {
		return nil, err
	}
	return procurement, nil
}
