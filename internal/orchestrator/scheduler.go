package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/job"
)

// jitterFactor spreads scheduled runs by ±10% so replicas sharing a store do
// not all fire at the same instant.
const jitterFactor = 0.1

// Scheduler enqueues a scheduled reconciliation run at a fixed interval. At
// most one scheduled job is in flight at a time: a tick is skipped while a
// previous scheduled run is still queued, active or paused.
type Scheduler struct {
	orch     *Orchestrator
	registry job.Registry
	interval time.Duration
	jobCfg   job.Config
	logger   *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler builds a scheduler. interval must be positive.
func NewScheduler(
	orch *Orchestrator,
	registry job.Registry,
	interval time.Duration,
	jobCfg job.Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		orch:     orch,
		registry: registry,
		interval: interval,
		jobCfg:   jobCfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the tick loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
}

// Stop terminates the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.nextInterval())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	pending, err := s.registry.ListByStatus(ctx, job.StatusQueued, job.StatusActive, job.StatusDelayed)
	if err != nil {
		s.logger.Warn("scheduler could not inspect pending jobs", zap.Error(err))
		return
	}
	for _, j := range pending {
		if j.Kind == job.KindScheduled {
			s.logger.Info("skipping scheduled run, previous run still pending",
				zap.String("job_id", j.ID),
				zap.String("status", string(j.Status)),
			)
			return
		}
	}

	j, err := s.orch.Enqueue(ctx, Spec{
		Kind:          job.KindScheduled,
		TriggerSource: "scheduler",
		Config:        s.jobCfg,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue scheduled run", zap.Error(err))
		return
	}
	s.logger.Info("scheduled run enqueued", zap.String("job_id", j.ID))
}

// nextInterval applies the jitter to the base interval.
func (s *Scheduler) nextInterval() time.Duration {
	jitter := (rand.Float64()*2 - 1) * jitterFactor * float64(s.interval) // #nosec G404
	return s.interval + time.Duration(jitter)
}
