// Package scheduler runs the periodic maintenance jobs: reclaiming orphaned
// temporary files (local backend) and cancelling stale unfinished uploads
// (remote backend).
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/drivers/storage"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const defaultSpec = "0 3 * * *"

// sweepTimeout bounds one maintenance run.
const sweepTimeout = 10 * time.Minute

// Maintenance owns the cron runner for one backend's sweep job.
type Maintenance struct {
	sweeper  storage.Sweeper
	schedule string
	maxAge   time.Duration
	logger   *logrus.Logger

	runner *cron.Cron
}

// NewMaintenance prepares the scheduler. An empty schedule falls back to the
// default nightly run; maxAge of zero defaults to 24 hours.
func NewMaintenance(sweeper storage.Sweeper, schedule string, maxAge time.Duration, logger *logrus.Logger) *Maintenance {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Maintenance{
		sweeper:  sweeper,
		schedule: strings.TrimSpace(schedule),
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Start validates the schedule and starts the cron runner.
func (m *Maintenance) Start() error {
	if m.sweeper == nil {
		return fmt.Errorf("sweeper is required")
	}

	schedule := m.schedule
	if schedule == "" {
		schedule = defaultSpec
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule: %w", err)
	}

	m.runner = cron.New(cron.WithParser(cronParser))
	if _, err := m.runner.AddFunc(schedule, m.runSweep); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	m.runner.Start()

	m.logger.WithFields(logrus.Fields{
		"schedule": schedule,
		"maxAge":   m.maxAge.String(),
	}).Info("Maintenance scheduler started")
	return nil
}

// Stop halts the runner and waits for a running job to finish.
func (m *Maintenance) Stop() {
	if m.runner == nil {
		return
	}
	ctx := m.runner.Stop()
	<-ctx.Done()
}

func (m *Maintenance) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := m.sweeper.SweepStale(ctx, m.maxAge)
	if err != nil {
		m.logger.WithError(err).Error("Maintenance sweep failed")
		return
	}
	m.logger.WithField("reclaimed", n).Info("Maintenance sweep completed")
}
