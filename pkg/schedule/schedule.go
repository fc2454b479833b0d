// Package schedule triggers recurring runs from a cron expression.
package schedule

import (
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/JuanMBlanco/web-establishment-bot/pkg/logging"
)

// ValidateSpec checks a cron expression (standard 5-field syntax or a
// @-macro such as @hourly) without scheduling anything.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Scheduler runs one job on a cron cadence. Overlapping triggers are
// skipped: a run that outlasts its interval must not stack a second run
// on the same browser pool.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	running atomic.Bool
}

// New creates an idle scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules job on spec and begins triggering.
func (s *Scheduler) Start(spec string, job func()) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(spec, s.guarded(job)); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	s.cron.Start()
	s.logger.Infof("scheduled runs on %q", spec)
	return nil
}

// guarded wraps job so concurrent triggers collapse to one running
// instance.
func (s *Scheduler) guarded(job func()) func() {
	return func() {
		if !s.running.CompareAndSwap(false, true) {
			s.logger.Warnf("previous run still in progress, skipping this trigger")
			return
		}
		defer s.running.Store(false)
		job()
	}
}

// Stop halts triggering and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
