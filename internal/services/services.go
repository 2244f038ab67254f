// internal/services/services.go
package services

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/policy"
)

// Options carries the optional collaborators of the service graph.
type Options struct {
	Redis      *redis.Client
	Registerer prometheus.Registerer
	Store      FileStore
	Now        func() time.Time
}

// Services is the wired service graph shared by the router and the jobs.
type Services struct {
	Auth          *AuthService
	Users         *UserService
	Requests      *RequestService
	Approvals     *ApprovalService
	Procurements  *ProcurementService
	Assignments   *AssignmentService
	Licenses      *LicenseService
	Notifications *NotificationService
	Audit         *AuditService
	Outbox        *OutboxService
	Metrics       *Metrics
	Policy        *policy.Evaluator
}

func New(db *gorm.DB, cfg *config.Config, opts Options) (*Services, error) {
	evaluator, err := policy.NewEvaluator(db, policy.Departments{
		ITSG:    cfg.Workflow.ITSGDepartment,
		Finance: cfg.Workflow.FinanceDepartment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy evaluator: %w", err)
	}

	store := opts.Store
	if store == nil {
		storage, err := NewStorageService(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		store = storage
	}

	metrics := NewMetrics(opts.Registerer)
	notifications := NewNotificationService(db, NewNotifier(opts.Redis), cfg.Frontend.BaseURL)
	audit := NewAuditService(db)
	outbox := NewOutboxService(db, notifications, audit, metrics, cfg.Outbox)
	users := NewUserService(db, evaluator, cfg.Workflow)

	deps := WorkflowDeps{
		DB:        db,
		Policy:    evaluator,
		Outbox:    outbox,
		Directory: users,
		Metrics:   metrics,
		Config:    cfg.Workflow,
		Now:       opts.Now,
	}

	return &Services{
		Auth:          NewAuthService(db, cfg),
		Users:         users,
		Requests:      NewRequestService(deps),
		Approvals:     NewApprovalService(deps),
		Procurements:  NewProcurementService(deps, store),
		Assignments:   NewAssignmentService(deps),
		Licenses:      NewLicenseService(deps),
		Notifications: notifications,
		Audit:         audit,
		Outbox:        outbox,
		Metrics:       metrics,
		Policy:        evaluator,
	}, nil
}
