// internal/services/notification_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/models"
	"github.com/javajoker/license-desk/internal/utils"
)

// Notification types
const (
	NotificationApprovalRequested    = "APPROVAL_REQUESTED"
	NotificationRequestStatusChanged = "REQUEST_STATUS_CHANGED"
	NotificationProcurementCreated   = "PROCUREMENT_CREATED"
	NotificationProcurementDecided   = "PROCUREMENT_DECIDED"
	NotificationProofUploaded        = "PROCUREMENT_PROOF_UPLOADED"
	NotificationProcurementCompleted = "PROCUREMENT_COMPLETED"
	NotificationLicenseAssigned      = "LICENSE_ASSIGNED"
	NotificationAssignmentConfirmed  = "ASSIGNMENT_CONFIRMED"
)

// NotificationMessage is what the workflow asks to be delivered to one user.
type NotificationMessage struct {
	UserID  uuid.UUID              `json:"user_id"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	URL     string                 `json:"url,omitempty"`
}

// NotificationService is the notification gateway: it persists the
// user-facing message and pushes it to live subscribers.
type NotificationService struct {
	db       *gorm.DB
	notifier *Notifier
	baseURL  string
	now      func() time.Time
}

func NewNotificationService(db *gorm.DB, notifier *Notifier, baseURL string) *NotificationService {
	return &NotificationService{
		db:       db,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

// Send persists msg using tx when given. The realtime publish is best-effort.
func (s *NotificationService) Send(ctx context.Context, tx *gorm.DB, msg NotificationMessage) error {
	if msg.UserID == uuid.Nil {
		return errors.New("notification has no recipient")
	}
	if tx == nil {
		tx = s.db.WithContext(ctx)
	}

	url := msg.URL
	if strings.HasPrefix(url, "/") && s.baseURL != "" {
		url = s.baseURL + url
	}

	notification := &models.Notification{
		UserID:  msg.UserID,
		Type:    msg.Type,
		Payload: models.JSONB(msg.Payload),
		URL:     url,
	}
	if err := tx.Create(notification).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := s.notifier.PublishUser(ctx, msg.UserID, string(body)); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":         msg.UserID,
			"notification_id": notification.ID,
		}).Warn("Failed to publish notification")
	}

	return nil
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, params utils.PaginationParams) ([]models.Notification, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	var notifications []models.Notification
	if err := utils.ApplyPagination(query.Order("created_at DESC"), params).Find(&notifications).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	return notifications, total, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", notificationID, userID).
		Update("read_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ? AND user_id = ?", notificationID, userID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to load notification: %w", err)
		}
		if count == 0 {
			return ErrNotificationMissing
		}
	}
	return nil
}
