// internal/policy/evaluator.go
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
)

//go:embed model.conf
var modelText string

const (
	ObjectProcurement = "procurement"
	ObjectAssignment  = "assignment"
	ObjectApproval    = "approval"
	ObjectLicense     = "license"
	ObjectUser        = "user"
	ObjectRequest     = "request"
)

const (
	ActionProcurementCreate = "create"
	ActionProcurementDecide = "decide"
	ActionProcurementUpload = "upload"
	ActionProcurementAccept = "accept"
	ActionAssign            = "assign"
	ActionApprovalAdd       = "add"
	ActionLicenseManage     = "manage"
	ActionUserManage        = "manage"
	ActionRequestView       = "view"
)

const (
	anyRole = "*"
	anyDept = "*"
	// ownerDept matches when the actor belongs to the resource's owner department.
	ownerDept = "owner"
)

var ErrDenied = errors.New("policy denied")

// Actor is the authenticated caller every workflow operation is evaluated for.
type Actor struct {
	ID         uuid.UUID
	Role       models.Role
	Department string
}

// NewActor builds an Actor with its department normalized.
func NewActor(id uuid.UUID, role models.Role, department string) *Actor {
	return &Actor{ID: id, Role: role, Department: NormalizeDepartment(department)}
}

// NormalizeDepartment is the single form departments are compared in.
func NormalizeDepartment(department string) string {
	return strings.ToUpper(strings.TrimSpace(department))
}

func (a *Actor) Valid() bool {
	return a != nil && a.ID != uuid.Nil && a.Role != ""
}

// Resource names what is acted on. OwnerDepartment is only meaningful for
// license-backed resources.
type Resource struct {
	Object          string
	OwnerDepartment string
}

type Departments struct {
	ITSG    string
	Finance string
}

type Evaluator struct {
	enforcer *casbin.SyncedEnforcer
	depts    Departments
}

// NewEvaluator builds the capability evaluator. With a database the policy
// table is persisted through the gorm adapter; without one it lives in memory.
func NewEvaluator(db *gorm.DB, depts Departments) (*Evaluator, error) {
	depts = Departments{ITSG: NormalizeDepartment(depts.ITSG), Finance: NormalizeDepartment(depts.Finance)}

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if db != nil {
		adapter, err := gormadapter.NewAdapterByDB(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create policy adapter: %w", err)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create enforcer: %w", err)
		}
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create enforcer: %w", err)
		}
	}

	if err := seedPolicies(enforcer, depts); err != nil {
		return nil, fmt.Errorf("failed to seed policies: %w", err)
	}

	return &Evaluator{enforcer: enforcer, depts: depts}, nil
}

func (e *Evaluator) Departments() Departments {
	return e.depts
}

// Allowed evaluates (actor, resource, action) against the policy table.
func (e *Evaluator) Allowed(actor *Actor, res Resource, action string) (bool, error) {
	if !actor.Valid() {
		return false, nil
	}
	return e.enforcer.Enforce(
		string(actor.Role),
		NormalizeDepartment(actor.Department),
		NormalizeDepartment(res.OwnerDepartment),
		res.Object,
		action,
	)
}

// Authorize is Allowed folded into a single error, ErrDenied on refusal.
func (e *Evaluator) Authorize(actor *Actor, res Resource, action string) error {
	allowed, err := e.Allowed(actor, res, action)
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if !allowed {
		return ErrDenied
	}
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer, depts Departments) error {
	var (
		manager      = string(models.RoleManager)
		teamLead     = string(models.RoleTeamLead)
		admin        = string(models.RoleAdmin)
		accountOwner = string(models.RoleAccountOwner)
		itsg         = depts.ITSG
		finance      = depts.Finance
	)

	policies := [][]string{
		// Procurement diversion
		{manager, itsg, ObjectProcurement, ActionProcurementCreate},
		{manager, finance, ObjectProcurement, ActionProcurementCreate},
		{teamLead, itsg, ObjectProcurement, ActionProcurementCreate},
		{teamLead, finance, ObjectProcurement, ActionProcurementCreate},

		{manager, finance, ObjectProcurement, ActionProcurementDecide},
		{teamLead, finance, ObjectProcurement, ActionProcurementDecide},

		{manager, itsg, ObjectProcurement, ActionProcurementUpload},
		{manager, finance, ObjectProcurement, ActionProcurementUpload},
		{teamLead, itsg, ObjectProcurement, ActionProcurementUpload},
		{teamLead, finance, ObjectProcurement, ActionProcurementUpload},
		{admin, itsg, ObjectProcurement, ActionProcurementUpload},
		{admin, finance, ObjectProcurement, ActionProcurementUpload},

		{manager, finance, ObjectProcurement, ActionProcurementAccept},

		// Assignment engine
		{anyRole, itsg, ObjectAssignment, ActionAssign},
		{anyRole, ownerDept, ObjectAssignment, ActionAssign},
		{manager, anyDept, ObjectAssignment, ActionAssign},
		{teamLead, anyDept, ObjectAssignment, ActionAssign},
		{admin, anyDept, ObjectAssignment, ActionAssign},
		{accountOwner, anyDept, ObjectAssignment, ActionAssign},

		// Approver management
		{manager, itsg, ObjectApproval, ActionApprovalAdd},
		{teamLead, itsg, ObjectApproval, ActionApprovalAdd},
		{admin, itsg, ObjectApproval, ActionApprovalAdd},
		{admin, anyDept, ObjectApproval, ActionApprovalAdd},
		{accountOwner, anyDept, ObjectApproval, ActionApprovalAdd},

		// License administration
		{manager, itsg, ObjectLicense, ActionLicenseManage},
		{teamLead, itsg, ObjectLicense, ActionLicenseManage},
		{admin, itsg, ObjectLicense, ActionLicenseManage},
		{teamLead, ownerDept, ObjectLicense, ActionLicenseManage},
		{admin, anyDept, ObjectLicense, ActionLicenseManage},
		{accountOwner, anyDept, ObjectLicense, ActionLicenseManage},

		// Request oversight; participants always see their own requests
		{anyRole, itsg, ObjectRequest, ActionRequestView},
		{manager, finance, ObjectRequest, ActionRequestView},
		{teamLead, finance, ObjectRequest, ActionRequestView},
		{admin, anyDept, ObjectRequest, ActionRequestView},
		{accountOwner, anyDept, ObjectRequest, ActionRequestView},

		// Directory
		{admin, anyDept, ObjectUser, ActionUserManage},
		{accountOwner, anyDept, ObjectUser, ActionUserManage},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
