// internal/services/license_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/policy"
	"github.com/javajoker/license-desk/internal/utils"
	"github.com/javajoker/license-desk/internal/workflow"
)

// LicenseService administers licenses and their keys and answers supply
// questions for the assignment and procurement flows.
type LicenseService struct {
	workflowCore
}

type CreateLicenseRequest struct {
	Name       string     `json:"name" validate:"required,max=255"`
	Vendor     string     `json:"vendor,omitempty" validate:"max=255"`
	TotalSeats int        `json:"total_seats" validate:"gte=0"`
	Cost       float64    `json:"cost" validate:"gte=0"`
	Owner      string     `json:"owner" validate:"required,max=50"`
	Type       string     `json:"type" validate:"required,license_type"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

type SetSeatsRequest struct {
	TotalSeats int `json:"total_seats" validate:"gte=0"`
}

type AddKeysRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=500,dive,required,max=1000"`
}

type LicenseSearchParams struct {
	utils.PaginationParams
	Owner  string
	Status string
}

// SupplyReport tells whether an item can be served from existing supply.
type SupplyReport struct {
	RequestItemID uuid.UUID            `json:"request_item_id"`
	LicenseID     *uuid.UUID           `json:"license_id"`
	LicenseType   models.LicenseType   `json:"license_type,omitempty"`
	LicenseStatus models.LicenseStatus `json:"license_status,omitempty"`
	TotalSeats    int                  `json:"total_seats"`
	AssignedSeats int64                `json:"assigned_seats"`
	ActiveKeys    int64                `json:"active_keys"`
	Available     int64                `json:"available"`
	NeedsPurchase bool                 `json:"needs_purchase"`
}

func NewLicenseService(deps WorkflowDeps) *LicenseService {
	return &LicenseService{workflowCore: newWorkflowCore(deps)}
}

func licenseResource(owner string) policy.Resource {
	return policy.Resource{Object: policy.ObjectLicense, OwnerDepartment: owner}
}

func (s *LicenseService) CreateLicense(ctx context.Context, actor *policy.Actor, req *CreateLicenseRequest) (*models.License, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}

	owner := strings.TrimSpace(req.Owner)
	if err := s.authorize(actor, licenseResource(owner), policy.ActionLicenseManage); err != nil {
		return nil, err
	}

	license := &models.License{
		Name:       strings.TrimSpace(req.Name),
		Vendor:     strings.TrimSpace(req.Vendor),
		TotalSeats: req.TotalSeats,
		Cost:       req.Cost,
		Owner:      owner,
		Type:       models.LicenseType(req.Type),
		ExpiryDate: req.ExpiryDate,
	}
	license.Status = workflow.LicenseStatus(license.TotalSeats, 0, license.ExpiryDate, s.now())

	err := s.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(license).Error; err != nil {
			return fmt.Errorf("failed to create license: %w", err)
		}
		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityLicense,
			EntityID:    license.ID,
			Action:      "CREATED",
			Description: fmt.Sprintf("License %s created", license.Name),
			Changes: map[string]interface{}{
				"type":        license.Type,
				"total_seats": license.TotalSeats,
				"owner":       license.Owner,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return license, nil
}

func (s *LicenseService) GetLicense(ctx context.Context, licenseID uuid.UUID) (*models.License, error) {
	var license models.License
	if err := s.db.WithContext(ctx).First(&license, "id = ?", licenseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	return &license, nil
}

func (s *LicenseService) ListLicenses(ctx context.Context, params LicenseSearchParams) ([]models.License, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.License{})
	if params.Owner != "" {
		query = query.Where("owner = ?", params.Owner)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Search != "" {
		pattern := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(vendor) LIKE ?", pattern, pattern)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count licenses: %w", err)
	}

	var licenses []models.License
	query = utils.ApplySort(query, params.PaginationParams, []string{"created_at", "name", "vendor", "expiry_date"})
	if err := utils.ApplyPagination(query, params.PaginationParams).Find(&licenses).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list licenses: %w", err)
	}

	return licenses, total, nil
}

// SetSeats changes the seat count. It never drops below the seats in use.
func (s *LicenseService) SetSeats(ctx context.Context, actor *policy.Actor, licenseID uuid.UUID, req *SetSeatsRequest) (*models.License, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}

	var license *models.License
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var err error
		license, err = lockLicense(tx, licenseID)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, licenseResource(license.Owner), policy.ActionLicenseManage); err != nil {
			return err
		}

		assigned, err := countKeys(tx, license.ID, models.KeyStatusAssigned)
		if err != nil {
			return err
		}
		if int64(req.TotalSeats) < assigned {
			return ErrSeatsBelowUsage.Withf("Cannot reduce seats below currently used seats (%d)", assigned)
		}
		if license.Type == models.LicenseTypeKeyBased {
			keys, err := countKeys(tx, license.ID, models.KeyStatusActive, models.KeyStatusAssigned, models.KeyStatusInactive)
			if err != nil {
				return err
			}
			if int64(req.TotalSeats) < keys {
				return ErrKeysExceedSeats.Withf("Cannot reduce seats below the %d keys already registered", keys)
			}
		}

		previous := license.TotalSeats
		if err := tx.Model(&models.License{}).Where("id = ?", license.ID).Update("total_seats", req.TotalSeats).Error; err != nil {
			return fmt.Errorf("failed to update license seats: %w", err)
		}
		license.TotalSeats = req.TotalSeats
		if err := s.refreshLicenseStatus(tx, license); err != nil {
			return err
		}

		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityLicense,
			EntityID:    license.ID,
			Action:      "SEATS_UPDATED",
			Description: fmt.Sprintf("Total seats changed from %d to %d", previous, license.TotalSeats),
			Changes:     map[string]interface{}{"from": previous, "to": license.TotalSeats},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return license, nil
}

// AddKeys registers new ACTIVE keys on a key-based license. Non-revoked keys
// may not outnumber the license's seats.
func (s *LicenseService) AddKeys(ctx context.Context, actor *policy.Actor, licenseID uuid.UUID, req *AddKeysRequest) ([]models.LicenseKey, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}

	var keys []models.LicenseKey
	err := s.transact(ctx, func(tx *gorm.DB) error {
		license, err := lockLicense(tx, licenseID)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, licenseResource(license.Owner), policy.ActionLicenseManage); err != nil {
			return err
		}
		if license.Type != models.LicenseTypeKeyBased {
			return ErrAssignmentMismatch.Withf("keys can only be added to a KEY_BASED license")
		}

		existing, err := countKeys(tx, license.ID, models.KeyStatusActive, models.KeyStatusAssigned, models.KeyStatusInactive)
		if err != nil {
			return err
		}
		if existing+int64(len(req.Keys)) > int64(license.TotalSeats) {
			return ErrKeysExceedSeats.Withf("adding %d keys to %d existing would exceed the %d total seats",
				len(req.Keys), existing, license.TotalSeats)
		}

		for _, raw := range req.Keys {
			value := strings.TrimSpace(raw)
			keys = append(keys, models.LicenseKey{
				LicenseID: license.ID,
				Key:       &value,
				Status:    models.KeyStatusActive,
				AddedByID: actorRef(actor),
			})
		}
		if err := tx.Create(&keys).Error; err != nil {
			return fmt.Errorf("failed to add license keys: %w", err)
		}
		if err := s.refreshLicenseStatus(tx, license); err != nil {
			return err
		}

		s.outbox.Audit(tx, AuditEntry{
			ActorID:     actorRef(actor),
			Entity:      AuditEntityLicense,
			EntityID:    license.ID,
			Action:      "KEYS_ADDED",
			Description: fmt.Sprintf("%d key(s) added", len(keys)),
			Changes:     map[string]interface{}{"count": len(keys)},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

// NeedsPurchase reports the supply left for an item's license. Callers use
// it to decide whether to open a procurement; nothing is diverted here.
func (s *LicenseService) NeedsPurchase(ctx context.Context, itemID uuid.UUID) (*SupplyReport, error) {
	db := s.db.WithContext(ctx)
	item, err := loadItem(db, itemID)
	if err != nil {
		return nil, err
	}

	report := &SupplyReport{RequestItemID: item.ID, LicenseID: item.LicenseID}
	if item.License == nil {
		report.NeedsPurchase = true
		return report, nil
	}

	license := item.License
	assigned, err := countKeys(db, license.ID, models.KeyStatusAssigned)
	if err != nil {
		return nil, err
	}
	active, err := countKeys(db, license.ID, models.KeyStatusActive)
	if err != nil {
		return nil, err
	}

	report.LicenseType = license.Type
	report.LicenseStatus = workflow.LicenseStatus(license.TotalSeats, assigned, license.ExpiryDate, s.now())
	report.TotalSeats = license.TotalSeats
	report.AssignedSeats = assigned
	report.ActiveKeys = active
	report.Available = workflow.AvailableSupply(license.Type, license.TotalSeats, assigned, active)
	if report.LicenseStatus == models.LicenseStatusExpired {
		report.Available = 0
	}
	report.NeedsPurchase = report.Available == 0
	return report, nil
}

// ExpireLicenses marks every license whose expiry date has passed as EXPIRED
// and returns how many changed.
func (s *LicenseService) ExpireLicenses(ctx context.Context) (int64, error) {
	now := s.now()
	var expired int64
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var licenses []models.License
		if err := tx.Where("expiry_date IS NOT NULL AND expiry_date < ? AND status <> ?", now, models.LicenseStatusExpired).
			Find(&licenses).Error; err != nil {
			return fmt.Errorf("failed to find expired licenses: %w", err)
		}

		for i := range licenses {
			license := &licenses[i]
			result := tx.Model(&models.License{}).
				Where("id = ? AND status = ?", license.ID, license.Status).
				Update("status", models.LicenseStatusExpired)
			if result.Error != nil {
				return fmt.Errorf("failed to expire license %s: %w", license.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				continue
			}
			expired++

			s.outbox.Audit(tx, AuditEntry{
				Entity:      AuditEntityLicense,
				EntityID:    license.ID,
				Action:      "EXPIRED",
				Description: fmt.Sprintf("License %s expired on %s", license.Name, license.ExpiryDate.UTC().Format(time.DateOnly)),
				Changes:     map[string]interface{}{"from": license.Status, "to": models.LicenseStatusExpired},
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
