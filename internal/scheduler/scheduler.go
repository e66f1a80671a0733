// Package scheduler runs collection passes on a cron schedule, skipping a
// tick when the previous pass is still in flight.
package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers a job function on a cron expression.
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	running atomic.Bool
}

// New builds a scheduler. The job receives ctx and runs at most once at a
// time; overlapping ticks are dropped with a warning.
func New(ctx context.Context, schedule string, job func(context.Context), log *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		log:  log,
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if !s.running.CompareAndSwap(false, true) {
			log.Warn("previous pass still running, skipping tick")
			return
		}
		defer s.running.Store(false)
		job(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling. Returns immediately.
func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
