// Package sched triggers unattended backup runs on a cron schedule. It is a
// thin shell around the engine: a tick that lands while a run is in flight
// is logged and skipped.
package sched

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"

	"github.com/romsteck/homeroute-backup/pkg/engine"
	"github.com/romsteck/homeroute-backup/pkg/history"
	"github.com/romsteck/homeroute-backup/pkg/plog"
)

// Trigger starts a backup run; the engine implements it.
type Trigger interface {
	Execute(ctx context.Context) (*history.BackupRun, error)
}

// Scheduler owns the cron timer for unattended runs.
type Scheduler struct {
	cron *cron.Cron
}

// New validates the cron expression and schedules runs against trigger.
// The returned scheduler is not started yet.
func New(expr string, trigger Trigger) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		plog.Info("Scheduled backup run triggered", "schedule", expr)
		if _, err := trigger.Execute(context.Background()); err != nil {
			if errors.Is(err, engine.ErrRunInProgress) {
				plog.Warn("Scheduled run skipped: a backup is already in progress")
				return
			}
			plog.Error("Scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Start begins firing scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timer and waits for an in-flight scheduled trigger to
// return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
