// internal/database/connection.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	}

	// Connect to database
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established successfully")
	return DB, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed successfully")
	}
}

// RunMigrations migrates every model and creates the secondary indexes.
func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
			return fmt.Errorf("failed to create UUID extension: %w", err)
		}
	}

	// Run auto-migrations
	err := db.AutoMigrate(
		&models.User{},
		&models.License{},
		&models.LicenseKey{},
		&models.Request{},
		&models.RequestItem{},
		&models.Approval{},
		&models.Assignment{},
		&models.ProcurementRequest{},
		&models.ProcurementAttachment{},
		&models.Notification{},
		&models.AuditLog{},
		&models.OutboxEvent{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Request indexes
		"CREATE INDEX IF NOT EXISTS idx_requests_requestor_status ON requests(requestor_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_request_items_request_status ON request_items(request_id, status)",

		// Approval indexes
		"CREATE INDEX IF NOT EXISTS idx_approvals_approver_status ON approvals(approver_id, status)",

		// Supply indexes
		"CREATE INDEX IF NOT EXISTS idx_license_keys_license_status ON license_keys(license_id, status, created_at)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_assignments_active_item ON assignments(request_item_id) WHERE status = 'ACTIVE' AND deleted_at IS NULL",

		// Outbox indexes
		"CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events(published, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, read_at)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// SeedInitialData creates the default account owner so a fresh install can
// log in and create licenses and users.
func SeedInitialData(db *gorm.DB, cfg config.WorkflowConfig) error {
	logrus.Info("Seeding initial data...")

	var ownerCount int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAccountOwner).Count(&ownerCount).Error; err != nil {
		return fmt.Errorf("failed to count account owners: %w", err)
	}

	if ownerCount == 0 {
		admin := &models.User{
			Name:       "System Administrator",
			Email:      cfg.DefaultAdminEmail,
			Role:       models.RoleAccountOwner,
			Department: cfg.ITSGDepartment,
			Active:     true,
		}

		if err := admin.SetPassword(cfg.DefaultAdminPassword); err != nil {
			return fmt.Errorf("failed to set admin password: %w", err)
		}

		if err := db.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		logrus.WithField("email", admin.Email).Info("Default account owner created")
	}

	logrus.Info("Initial data seeding completed")
	return nil
}

// Transaction helper
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
