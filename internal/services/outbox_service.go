// internal/services/outbox_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/models"
)

const outboxSavepoint = "outbox_enqueue"

// OutboxService records notifications and audit entries inside business
// transactions and delivers them after commit, each in its own transaction.
type OutboxService struct {
	db            *gorm.DB
	notifications *NotificationService
	audit         *AuditService
	metrics       *Metrics
	batchSize     int
	maxAttempts   int
	kick          chan struct{}
	mu            sync.Mutex
	now           func() time.Time
}

func NewOutboxService(db *gorm.DB, notifications *NotificationService, audit *AuditService, metrics *Metrics, cfg config.OutboxConfig) *OutboxService {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &OutboxService{
		db:            db,
		notifications: notifications,
		audit:         audit,
		metrics:       metrics,
		batchSize:     batchSize,
		maxAttempts:   maxAttempts,
		kick:          make(chan struct{}, 1),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Notify enqueues one event per message on tx.
func (s *OutboxService) Notify(tx *gorm.DB, msgs ...NotificationMessage) {
	for _, msg := range msgs {
		if msg.UserID == uuid.Nil {
			continue
		}
		s.enqueue(tx, models.OutboxKindNotification, msg)
	}
}

// Audit enqueues one event per entry on tx.
func (s *OutboxService) Audit(tx *gorm.DB, entries ...AuditEntry) {
	for _, entry := range entries {
		s.enqueue(tx, models.OutboxKindAudit, entry)
	}
}

// enqueue never fails the surrounding transaction. The insert runs behind a
// savepoint so a failed statement does not abort the business transaction.
func (s *OutboxService) enqueue(tx *gorm.DB, kind models.OutboxKind, payload interface{}) {
	data, err := toJSONB(payload)
	if err != nil {
		logrus.WithError(err).WithField("kind", kind).Error("Failed to encode outbox payload")
		return
	}

	event := &models.OutboxEvent{Kind: kind, Payload: data}

	savepoint := tx.SavePoint(outboxSavepoint).Error == nil
	if err := tx.Create(event).Error; err != nil {
		if savepoint {
			tx.RollbackTo(outboxSavepoint)
		}
		logrus.WithError(err).WithField("kind", kind).Error("Failed to enqueue outbox event")
	}
}

// Kick asks the running dispatcher to drain soon. It never blocks.
func (s *OutboxService) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run drains the outbox whenever it is kicked, until ctx is cancelled.
func (s *OutboxService) Run(ctx context.Context) {
	logrus.Info("Outbox dispatcher started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Outbox dispatcher stopped")
			return
		case <-s.kick:
			if _, err := s.DispatchPending(ctx); err != nil {
				logrus.WithError(err).Error("Outbox dispatch failed")
			}
		}
	}
}

// DispatchPending delivers undelivered events in creation order and returns
// how many were delivered. Events past the attempt limit are skipped.
func (s *OutboxService) DispatchPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.OutboxEvent
	if err := s.db.WithContext(ctx).
		Where("published = ? AND attempts < ?", false, s.maxAttempts).
		Order("created_at ASC").
		Limit(s.batchSize).
		Find(&events).Error; err != nil {
		return 0, fmt.Errorf("failed to load outbox events: %w", err)
	}
	s.metrics.SetOutboxBacklog(len(events))

	delivered := 0
	for i := range events {
		if err := s.deliver(ctx, &events[i]); err != nil {
			continue
		}
		delivered++
	}

	return delivered, nil
}

func (s *OutboxService) deliver(ctx context.Context, event *models.OutboxEvent) error {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch event.Kind {
		case models.OutboxKindNotification:
			var msg NotificationMessage
			if err := fromJSONB(event.Payload, &msg); err != nil {
				return err
			}
			if err := s.notifications.Send(ctx, tx, msg); err != nil {
				return err
			}
		case models.OutboxKindAudit:
			var entry AuditEntry
			if err := fromJSONB(event.Payload, &entry); err != nil {
				return err
			}
			if err := s.audit.Log(ctx, tx, entry); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown outbox event kind %q", event.Kind)
		}

		return tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published = ?", event.ID, false).
			Updates(map[string]interface{}{
				"published":    true,
				"published_at": now,
				"attempts":     gorm.Expr("attempts + 1"),
				"last_error":   "",
			}).Error
	})
	if err == nil {
		s.metrics.OutboxDelivery(string(event.Kind), "delivered")
		return nil
	}

	s.metrics.OutboxDelivery(string(event.Kind), "failed")
	fields := logrus.Fields{
		"event_id": event.ID,
		"kind":     event.Kind,
		"attempts": event.Attempts + 1,
	}
	if updateErr := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": err.Error(),
		}).Error; updateErr != nil {
		logrus.WithError(updateErr).WithFields(fields).Error("Failed to record outbox delivery failure")
	}

	if event.Attempts+1 >= s.maxAttempts {
		logrus.WithError(err).WithFields(fields).Error("Outbox event exceeded max attempts, giving up")
	} else {
		logrus.WithError(err).WithFields(fields).Warn("Outbox delivery failed, will retry")
	}
	return err
}

// PurgeDelivered deletes delivered events older than retention.
func (s *OutboxService) PurgeDelivered(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	result := s.db.WithContext(ctx).Unscoped().
		Where("published = ? AND published_at < ?", true, cutoff).
		Delete(&models.OutboxEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge outbox events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func toJSONB(v interface{}) (models.JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data models.JSONB
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func fromJSONB(data models.JSONB, v interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode outbox payload: %w", err)
	}
	return nil
}
