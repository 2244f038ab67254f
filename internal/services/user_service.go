// internal/services/user_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/policy"
	"github.com/javajoker/license-desk/internal/utils"
)

// UserService is the directory: it resolves approvers and notification
// recipients by role and department.
type UserService struct {
	db     *gorm.DB
	policy *policy.Evaluator
	cfg    config.WorkflowConfig
}

type CreateUserRequest struct {
	Name       string     `json:"name" validate:"required,min=2,max=100"`
	Email      string     `json:"email" validate:"required,email"`
	Password   string     `json:"password" validate:"required,strong_password"`
	Role       string     `json:"role" validate:"required,role"`
	Department string     `json:"department" validate:"required,max=50"`
	ManagerID  *uuid.UUID `json:"manager_id,omitempty"`
}

type UserSearchParams struct {
	utils.PaginationParams
	Department string
	Role       string
}

func NewUserService(db *gorm.DB, evaluator *policy.Evaluator, cfg config.WorkflowConfig) *UserService {
	return &UserService{
		db:     db,
		policy: evaluator,
		cfg:    cfg,
	}
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.findUser(s.db.WithContext(ctx), userID)
}

func (s *UserService) findUser(tx *gorm.DB, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

// DepartmentLead returns the longest-standing active team lead of department.
func (s *UserService) DepartmentLead(tx *gorm.DB, department string) (*models.User, error) {
	var lead models.User
	err := tx.Where("department = ? AND role = ? AND active = ?", department, models.RoleTeamLead, true).
		Order("created_at ASC").
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound.Withf("no team lead found for department %s", department)
		}
		return nil, fmt.Errorf("failed to find department lead: %w", err)
	}
	return &lead, nil
}

// FinanceManager returns the first active manager of the finance department.
func (s *UserService) FinanceManager(tx *gorm.DB) (*models.User, error) {
	var manager models.User
	err := tx.Where("department = ? AND role = ? AND active = ?", s.cfg.FinanceDepartment, models.RoleManager, true).
		Order("created_at ASC").
		First(&manager).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound.Withf("no manager found for department %s", s.cfg.FinanceDepartment)
		}
		return nil, fmt.Errorf("failed to find finance manager: %w", err)
	}
	return &manager, nil
}

// ITSGStaff returns the ITSG admins, managers and team leads.
func (s *UserService) ITSGStaff(tx *gorm.DB) ([]models.User, error) {
	var staff []models.User
	err := tx.Where("department = ? AND role IN ? AND active = ?",
		s.cfg.ITSGDepartment,
		[]models.Role{models.RoleAdmin, models.RoleManager, models.RoleTeamLead},
		true,
	).Order("created_at ASC").Find(&staff).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ITSG staff: %w", err)
	}
	return staff, nil
}

// DepartmentAdmins returns the managers, team leads and admins of department.
func (s *UserService) DepartmentAdmins(tx *gorm.DB, department string) ([]models.User, error) {
	var admins []models.User
	err := tx.Where("department = ? AND role IN ? AND active = ?",
		department,
		[]models.Role{models.RoleAdmin, models.RoleManager, models.RoleTeamLead},
		true,
	).Order("created_at ASC").Find(&admins).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list department admins: %w", err)
	}
	return admins, nil
}

func (s *UserService) CreateUser(ctx context.Context, actor *policy.Actor, req *CreateUserRequest) (*models.User, error) {
	if err := authorize(s.policy, actor, policy.Resource{Object: policy.ObjectUser}, policy.ActionUserManage); err != nil {
		return nil, err
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(utils.ValidationDetails(err))
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		return nil, validationError(map[string]string{"email": "Email already registered"})
	}

	if req.ManagerID != nil {
		if _, err := s.findUser(db, *req.ManagerID); err != nil {
			return nil, err
		}
	}

	user := &models.User{
		Name:       strings.TrimSpace(req.Name),
		Email:      email,
		Role:       models.Role(req.Role),
		Department: strings.TrimSpace(req.Department),
		ManagerID:  req.ManagerID,
		Active:     true,
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (s *UserService) ListUsers(ctx context.Context, params UserSearchParams) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{})
	if params.Department != "" {
		query = query.Where("department = ?", params.Department)
	}
	if params.Role != "" {
		query = query.Where("role = ?", params.Role)
	}
	if params.Search != "" {
		pattern := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	var users []models.User
	query = utils.ApplySort(query, params.PaginationParams, []string{"created_at", "name", "email", "department"})
	if err := utils.ApplyPagination(query, params.PaginationParams).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	return users, total, nil
}
