// internal/jobs/scheduler.go
package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	purgeSpec  = "0 0 * * * *"
	expirySpec = "0 5 0 * * *"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *JobRunner
}

// NewScheduler creates a scheduler with UTC timezone and seconds precision
// and registers every job of jobRunner.
func NewScheduler(jobRunner *JobRunner) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	s.registerJobs()
	return s
}

func (s *Scheduler) registerJobs() {
	dispatchSpec := s.jobs.Config().DispatchSpec
	if dispatchSpec == "" {
		dispatchSpec = "*/15 * * * * *"
	}

	registrations := []struct {
		name string
		spec string
		fn   func()
	}{
		{"DispatchOutbox", dispatchSpec, s.jobs.DispatchOutbox},
		{"PurgeDeliveredEvents", purgeSpec, s.jobs.PurgeDeliveredEvents},
		{"ExpireLicenses", expirySpec, s.jobs.ExpireLicenses},
	}

	for _, r := range registrations {
		if _, err := s.cron.AddFunc(r.spec, r.fn); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"job": r.name, "spec": r.spec}).Error("Failed to register job")
		}
	}

	logrus.WithField("jobs", len(s.cron.Entries())).Info("Cron jobs registered")
}

func (s *Scheduler) Start() {
	logrus.Info("Starting cron scheduler")
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	logrus.Info("Stopping cron scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logrus.Info("Cron scheduler stopped")
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
