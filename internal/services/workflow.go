// internal/services/workflow.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/database"
	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/policy"
	"github.com/javajoker/license-desk/internal/workflow"
)

// WorkflowDeps are the collaborators shared by the approval, procurement and
// assignment engines.
type WorkflowDeps struct {
	DB        *gorm.DB
	Policy    *policy.Evaluator
	Outbox    *OutboxService
	Directory *UserService
	Metrics   *Metrics
	Config    config.WorkflowConfig
	Now       func() time.Time
}

type workflowCore struct {
	db        *gorm.DB
	policy    *policy.Evaluator
	outbox    *OutboxService
	directory *UserService
	metrics   *Metrics
	cfg       config.WorkflowConfig
	now       func() time.Time
}

func newWorkflowCore(deps WorkflowDeps) workflowCore {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return workflowCore{
		db:        deps.DB,
		policy:    deps.Policy,
		outbox:    deps.Outbox,
		directory: deps.Directory,
		metrics:   deps.Metrics,
		cfg:       deps.Config,
		now:       func() time.Time { return now().UTC() },
	}
}

// transact runs fn in one transaction and wakes the outbox dispatcher once
// the transaction has committed.
func (c *workflowCore) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if err := database.WithTransaction(ctx, c.db, fn); err != nil {
		return err
	}
	c.outbox.Kick()
	return nil
}

func (c *workflowCore) authorize(actor *policy.Actor, res policy.Resource, action string) error {
	return authorize(c.policy, actor, res, action)
}

func (c *workflowCore) isITSG(department string) bool {
	return policy.NormalizeDepartment(department) == policy.NormalizeDepartment(c.cfg.ITSGDepartment)
}

func requireActor(actor *policy.Actor) error {
	if !actor.Valid() {
		return ErrUnauthorized
	}
	return nil
}

func authorize(evaluator *policy.Evaluator, actor *policy.Actor, res policy.Resource, action string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if err := evaluator.Authorize(actor, res, action); err != nil {
		if errors.Is(err, policy.ErrDenied) {
			return ErrForbidden
		}
		return err
	}
	return nil
}

func actorRef(actor *policy.Actor) *uuid.UUID {
	if actor == nil {
		return nil
	}
	id := actor.ID
	return &id
}

// loadItem reads a request item with its license and approvals.
func loadItem(tx *gorm.DB, itemID uuid.UUID) (*models.RequestItem, error) {
	var item models.RequestItem
	err := tx.Preload("License").
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&item, "id = ?", itemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load request item: %w", err)
	}
	return &item, nil
}

// forUpdate adds FOR UPDATE to the next query on Postgres. SQLite has no
// row locks; its writers are already serialized.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// lockItem holds the item row until the transaction ends, so decisions on
// sibling approvals aggregate one after the other, then loads the item.
func lockItem(tx *gorm.DB, itemID uuid.UUID) (*models.RequestItem, error) {
	var locked models.RequestItem
	if err := forUpdate(tx).Select("id").First(&locked, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to lock request item: %w", err)
	}
	return loadItem(tx, itemID)
}

// lockRequest holds the parent row; preloads do not inherit the lock.
func lockRequest(tx *gorm.DB, requestID uuid.UUID) error {
	var locked models.Request
	if err := forUpdate(tx).Select("id").First(&locked, "id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithField("request_id", requestID).Warn("Parent request missing for request item")
			return ErrParentRequestMissing
		}
		return fmt.Errorf("failed to lock request: %w", err)
	}
	return nil
}

// lockLicense takes the row lock every seat or key change goes through.
func lockLicense(tx *gorm.DB, licenseID uuid.UUID) (*models.License, error) {
	var license models.License
	err := forUpdate(tx).First(&license, "id = ?", licenseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to lock license: %w", err)
	}
	return &license, nil
}

func countKeys(tx *gorm.DB, licenseID uuid.UUID, statuses ...models.KeyStatus) (int64, error) {
	var count int64
	err := tx.Model(&models.LicenseKey{}).
		Where("license_id = ? AND status IN ?", licenseID, statuses).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count license keys: %w", err)
	}
	return count, nil
}

// refreshLicenseStatus writes the derived status of license when it changed.
func (c *workflowCore) refreshLicenseStatus(tx *gorm.DB, license *models.License) error {
	assigned, err := countKeys(tx, license.ID, models.KeyStatusAssigned)
	if err != nil {
		return err
	}

	status := workflow.LicenseStatus(license.TotalSeats, assigned, license.ExpiryDate, c.now())
	if status == license.Status {
		return nil
	}

	if err := tx.Model(&models.License{}).Where("id = ?", license.ID).Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update license status: %w", err)
	}
	license.Status = status
	return nil
}

// transitionItem moves an item from one of the expected statuses to next.
// It fails with ErrInvalidState when another transaction moved it first.
func transitionItem(tx *gorm.DB, item *models.RequestItem, next models.ItemStatus, expected ...models.ItemStatus) error {
	return transitionItemWith(tx, item, map[string]interface{}{"status": next}, next, expected...)
}

func transitionItemWith(tx *gorm.DB, item *models.RequestItem, updates map[string]interface{}, next models.ItemStatus, expected ...models.ItemStatus) error {
	result := tx.Model(&models.RequestItem{}).
		Where("id = ? AND status IN ?", item.ID, expected).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update request item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidState.Withf("request item %s is no longer %s", item.ID, joinStatuses(expected))
	}
	item.Status = next
	return nil
}

// recomputeItem re-derives an undecided item's status from its approvals.
func (c *workflowCore) recomputeItem(tx *gorm.DB, item *models.RequestItem) error {
	switch item.Status {
	case models.ItemStatusPending, models.ItemStatusReviewing, models.ItemStatusApproved:
	default:
		return nil
	}

	var statuses []models.ApprovalStatus
	if err := tx.Model(&models.Approval{}).
		Where("request_item_id = ?", item.ID).
		Pluck("status", &statuses).Error; err != nil {
		return fmt.Errorf("failed to load approvals: %w", err)
	}

	next := workflow.ItemStatus(statuses)
	if next == item.Status {
		return nil
	}
	return transitionItem(tx, item, next, item.Status)
}

// parentChange describes what a parent recompute did.
type parentChange struct {
	Request  *models.Request
	Previous models.RequestStatus
	Changed  bool
}

// recomputeParent re-derives the request status from all of its items and
// notifies the requestor and recipient only when the status changed.
func (c *workflowCore) recomputeParent(tx *gorm.DB, requestID uuid.UUID, actor *policy.Actor, reason string) (*parentChange, error) {
	if err := lockRequest(tx, requestID); err != nil {
		return nil, err
	}

	var request models.Request
	err := tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Items.License").
		First(&request, "id = ?", requestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithField("request_id", requestID).Warn("Parent request missing for request item")
			return nil, ErrParentRequestMissing
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	statuses := make([]models.ItemStatus, 0, len(request.Items))
	for _, item := range request.Items {
		statuses = append(statuses, item.Status)
	}

	change := &parentChange{Request: &request, Previous: request.Status}
	next := workflow.RequestStatus(statuses)
	if next == request.Status {
		return change, nil
	}

	result := tx.Model(&models.Request{}).
		Where("id = ? AND status = ?", request.ID, request.Status).
		Update("status", next)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update request status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInvalidState.Withf("request %s changed concurrently", request.ID)
	}

	request.Status = next
	change.Changed = true

	c.notifyRequestParties(tx, &request, NotificationRequestStatusChanged, map[string]interface{}{
		"request_id":      request.ID,
		"previous_status": change.Previous,
		"status":          next,
		"reason":          reason,
		"licenses":        licenseSummary(request.Items),
	})
	c.outbox.Audit(tx, AuditEntry{
		ActorID:     actorRef(actor),
		Entity:      AuditEntityRequest,
		EntityID:    request.ID,
		Action:      "STATUS_CHANGED",
		Description: fmt.Sprintf("Request status changed from %s to %s", change.Previous, next),
		Changes:     map[string]interface{}{"from": change.Previous, "to": next},
	})

	return change, nil
}

// notifyRequestParties notifies the requestor and, when different, the user
// the request was made for.
func (c *workflowCore) notifyRequestParties(tx *gorm.DB, request *models.Request, notificationType string, payload map[string]interface{}) {
	url := fmt.Sprintf("/requests/%s", request.ID)
	msgs := []NotificationMessage{{UserID: request.RequestorID, Type: notificationType, Payload: payload, URL: url}}
	if request.RequestedForID != nil && *request.RequestedForID != request.RequestorID {
		msgs = append(msgs, NotificationMessage{UserID: *request.RequestedForID, Type: notificationType, Payload: payload, URL: url})
	}
	c.outbox.Notify(tx, msgs...)
}

func loadRequest(tx *gorm.DB, requestID uuid.UUID) (*models.Request, error) {
	var request models.Request
	if err := tx.First(&request, "id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParentRequestMissing
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return &request, nil
}

// licenseSummary joins the license names and vendors of items for display.
func licenseSummary(items []models.RequestItem) string {
	parts := make([]string, 0, len(items))
	for i := range items {
		name, vendor := items[i].DisplayName()
		switch {
		case name == "":
			continue
		case vendor != "":
			parts = append(parts, fmt.Sprintf("%s (%s)", name, vendor))
		default:
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

func joinStatuses(statuses []models.ItemStatus) string {
	parts := make([]string, len(statuses))
	for i, status := range statuses {
		parts[i] = string(status)
	}
	return strings.Join(parts, " or ")
}
