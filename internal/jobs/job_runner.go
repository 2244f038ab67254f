// internal/jobs/job_runner.go
package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-desk/internal/config"
	"github.com/javajoker/license-desk/internal/services"
)

// JobRunner runs the periodic maintenance work of the workflow.
type JobRunner struct {
	outbox   *services.OutboxService
	licenses *services.LicenseService
	config   config.OutboxConfig
	timeout  time.Duration
}

func NewJobRunner(outbox *services.OutboxService, licenses *services.LicenseService, cfg config.OutboxConfig) *JobRunner {
	return &JobRunner{
		outbox:   outbox,
		licenses: licenses,
		config:   cfg,
		timeout:  time.Minute,
	}
}

func (jr *JobRunner) Config() config.OutboxConfig {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{"job": jobName, "panic": r}).Error("Job panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
	defer cancel()

	logrus.WithField("job", jobName).Debug("Starting job")
	jobFunc(ctx)
	logrus.WithField("job", jobName).Debug("Job completed")
}

// DispatchOutbox delivers events the post-commit kick missed.
func (jr *JobRunner) DispatchOutbox() {
	jr.runWithRecovery("DispatchOutbox", func(ctx context.Context) {
		delivered, err := jr.outbox.DispatchPending(ctx)
		if err != nil {
			logrus.WithError(err).Error("Failed to dispatch outbox")
			return
		}
		if delivered > 0 {
			logrus.WithField("delivered", delivered).Info("Dispatched outbox events")
		}
	})
}

// PurgeDeliveredEvents deletes delivered events older than the retention window.
func (jr *JobRunner) PurgeDeliveredEvents() {
	jr.runWithRecovery("PurgeDeliveredEvents", func(ctx context.Context) {
		retention := time.Duration(jr.config.RetentionHours) * time.Hour
		purged, err := jr.outbox.PurgeDelivered(ctx, retention)
		if err != nil {
			logrus.WithError(err).Error("Failed to purge delivered outbox events")
			return
		}
		logrus.WithField("purged", purged).Info("Purged delivered outbox events")
	})
}

// ExpireLicenses flags licenses whose expiry date has passed.
func (jr *JobRunner) ExpireLicenses() {
	jr.runWithRecovery("ExpireLicenses", func(ctx context.Context) {
		expired, err := jr.licenses.ExpireLicenses(ctx)
		if err != nil {
			logrus.WithError(err).Error("Failed to expire licenses")
			return
		}
		if expired > 0 {
			logrus.WithField("expired", expired).Info("Marked licenses expired")
		}
	})
}
