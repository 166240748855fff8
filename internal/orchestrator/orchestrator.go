// Package orchestrator accepts reconciliation job requests, runs them on
// bounded per-kind worker pools, and drives every job through its lifecycle:
// queueing, priority ordering, progress write-through, whole-job retries,
// pause, resume and cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skufeed/inventory-sync-server/internal/events"
	"github.com/skufeed/inventory-sync-server/internal/job"
	"github.com/skufeed/inventory-sync-server/internal/telemetry"
)

const (
	// DefaultMaxAttempts is the whole-job retry budget for transient failures.
	DefaultMaxAttempts = 3

	// DefaultRetryInitialInterval seeds the backoff between whole-job retries.
	DefaultRetryInitialInterval = 2 * time.Second
)

// Cancellation causes distinguish why a running job's context was cut.
var (
	errPauseRequested  = errors.New("pause requested")
	errCancelRequested = errors.New("cancel requested")
)

// Config bounds the worker pools and the retry budget.
type Config struct {
	ManualConcurrency    int
	BatchConcurrency     int
	ScheduledConcurrency int

	MaxAttempts          int
	RetryInitialInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ManualConcurrency <= 0 {
		c.ManualConcurrency = 1
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 1
	}
	if c.ScheduledConcurrency <= 0 {
		c.ScheduledConcurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}
	return c
}

// Spec is a request for a new reconciliation job.
type Spec struct {
	Kind          job.Kind
	TriggerSource string
	Urgent        bool
	Config        job.Config
}

func (s Spec) validate() error {
	if !s.Kind.Valid() {
		return &ValidationError{Field: "kind", Msg: fmt.Sprintf("unknown kind %q", s.Kind)}
	}
	if s.TriggerSource == "" {
		return &ValidationError{Field: "triggerSource", Msg: "is required"}
	}
	if s.Config.BatchSize < 0 {
		return &ValidationError{Field: "config.batchSize", Msg: "cannot be negative"}
	}
	if s.Config.SubBatchSize < 0 {
		return &ValidationError{Field: "config.subBatchSize", Msg: "cannot be negative"}
	}
	if s.Config.BatchDelay < 0 || s.Config.SubBatchDelay < 0 {
		return &ValidationError{Field: "config", Msg: "delays cannot be negative"}
	}
	return nil
}

// Orchestrator owns the job queues and worker pools.
type Orchestrator struct {
	registry job.Registry
	runner   ScanRunner
	sink     events.Sink
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	cfg      Config

	queues map[job.Kind]*jobQueue

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds an orchestrator. A nil sink falls back to logging and a nil
// metrics instance gets a private registry.
func New(
	registry job.Registry,
	runner ScanRunner,
	sink events.Sink,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.NewLogSink(logger)
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Orchestrator{
		registry: registry,
		runner:   runner,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		queues: map[job.Kind]*jobQueue{
			job.KindManual:    newJobQueue(),
			job.KindBatch:     newJobQueue(),
			job.KindScheduled: newJobQueue(),
		},
		running: make(map[string]context.CancelCauseFunc),
	}
}

// Enqueue validates the request, persists a queued job and makes it
// available to the kind's worker pool.
func (o *Orchestrator) Enqueue(ctx context.Context, spec Spec) (*job.Job, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	j := job.New(uuid.NewString(), spec.Kind, spec.TriggerSource, spec.Config, o.cfg.MaxAttempts)
	j.Priority = priorityFor(spec.Kind, spec.Urgent)

	if err := o.registry.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	o.push(j)
	o.metrics.JobEnqueued(string(j.Kind))
	o.publish(ctx, events.New(events.TypeJobQueued, j.ID, map[string]any{
		"kind":     string(j.Kind),
		"priority": j.Priority,
	}))

	o.logger.Info("job enqueued",
		zap.String("job_id", j.ID),
		zap.String("kind", string(j.Kind)),
		zap.Int("priority", j.Priority),
	)
	return j.Clone(), nil
}

// Start recovers persisted work and launches the worker pools. It returns
// immediately; Stop blocks until the pools drain.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.recover(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	o.group = group

	pools := map[job.Kind]int{
		job.KindManual:    o.cfg.ManualConcurrency,
		job.KindBatch:     o.cfg.BatchConcurrency,
		job.KindScheduled: o.cfg.ScheduledConcurrency,
	}
	for kind, concurrency := range pools {
		for i := 0; i < concurrency; i++ {
			worker := fmt.Sprintf("worker-%s-%d", kind, i)
			queue := o.queues[kind]
			group.Go(func() error {
				o.workerLoop(groupCtx, worker, kind, queue)
				return nil
			})
		}
	}

	o.logger.Info("orchestrator started",
		zap.Int("manual_workers", pools[job.KindManual]),
		zap.Int("batch_workers", pools[job.KindBatch]),
		zap.Int("scheduled_workers", pools[job.KindScheduled]),
	)
	return nil
}

// Stop shuts the worker pools down and waits for in-flight jobs to notice.
// Jobs interrupted mid-scan stay active and are requeued on next Start.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.group != nil {
		_ = o.group.Wait()
	}
	o.logger.Info("orchestrator stopped")
}

// recover requeues jobs found active from a previous process and reloads the
// queued backlog.
func (o *Orchestrator) recover(ctx context.Context) error {
	interrupted, err := o.registry.ListByStatus(ctx, job.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to list interrupted jobs: %w", err)
	}
	for _, j := range interrupted {
		requeued, err := o.registry.UpdateAtomically(ctx, j.ID, func(j *job.Job) error {
			return j.Requeue("system", "requeued after restart")
		})
		if err != nil {
			o.logger.Warn("failed to requeue interrupted job",
				zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		o.logger.Info("requeued interrupted job",
			zap.String("job_id", requeued.ID),
			zap.String("cursor", requeued.Progress.Cursor),
		)
	}

	queued, err := o.registry.ListByStatus(ctx, job.StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for _, j := range queued {
		o.push(j)
	}
	return nil
}

// Pause moves an active job to delayed and interrupts its worker. Committed
// progress is kept so Resume continues from the last page boundary.
func (o *Orchestrator) Pause(ctx context.Context, jobID, actor, reason string) error {
	updated, err := o.registry.UpdateAtomically(ctx, jobID, func(j *job.Job) error {
		return j.Pause(actor, reason)
	})
	if err != nil {
		return err
	}

	o.interrupt(jobID, errPauseRequested)
	o.publish(ctx, events.New(events.TypeJobPaused, jobID, map[string]any{
		"actor":  actor,
		"reason": reason,
		"cursor": updated.Progress.Cursor,
	}))
	return nil
}

// Resume puts a paused job back in its queue.
func (o *Orchestrator) Resume(ctx context.Context, jobID, actor, reason string) error {
	updated, err := o.registry.UpdateAtomically(ctx, jobID, func(j *job.Job) error {
		return j.Resume(actor, reason)
	})
	if err != nil {
		return err
	}

	o.push(updated)
	o.publish(ctx, events.New(events.TypeJobResumed, jobID, map[string]any{
		"actor":  actor,
		"cursor": updated.Progress.Cursor,
	}))
	return nil
}

// Cancel terminates a job in any non-terminal state. A running scan is
// interrupted at its next page boundary; already-applied record updates are
// never rolled back.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, actor, reason string) error {
	updated, err := o.registry.UpdateAtomically(ctx, jobID, func(j *job.Job) error {
		return j.Cancel(actor, reason)
	})
	if err != nil {
		return err
	}

	o.interrupt(jobID, errCancelRequested)
	o.recordFinished(updated)
	o.publish(ctx, events.New(events.TypeJobCancelled, jobID, map[string]any{
		"actor":    actor,
		"reason":   reason,
		"resolved": updated.Progress.Resolved,
	}))
	return nil
}

// Get returns the job record.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*job.Job, error) {
	return o.registry.Get(ctx, jobID)
}

// List returns all job records, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]*job.Job, error) {
	return o.registry.List(ctx)
}

func (o *Orchestrator) push(j *job.Job) {
	queue := o.queues[j.Kind]
	queue.Push(j.ID, j.Priority)
	o.metrics.QueueDepth(string(j.Kind), queue.Len())
}

func (o *Orchestrator) publish(ctx context.Context, evt events.Event) {
	if err := o.sink.Publish(context.WithoutCancel(ctx), evt); err != nil {
		o.metrics.EventPublishFailed()
		o.logger.Warn("failed to publish event",
			zap.String("event", string(evt.Type)),
			zap.String("job_id", evt.JobID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) workerLoop(ctx context.Context, worker string, kind job.Kind, queue *jobQueue) {
	for {
		jobID, err := queue.Pop(ctx)
		if err != nil {
			return
		}
		o.metrics.QueueDepth(string(kind), queue.Len())
		o.execute(ctx, worker, kind, jobID)
	}
}

// execute claims the job and drives one full run, retries included.
func (o *Orchestrator) execute(ctx context.Context, worker string, kind job.Kind, jobID string) {
	claimed, err := o.registry.UpdateAtomically(ctx, jobID, func(j *job.Job) error {
		return j.Start(worker)
	})
	if err != nil {
		// Cancelled while waiting in the queue, typically.
		o.logger.Debug("skipping unclaimed job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	o.metrics.JobStarted(string(kind))
	defer o.metrics.JobStopped(string(kind))
	o.publish(ctx, events.New(events.TypeJobStarted, jobID, map[string]any{
		"worker":  worker,
		"attempt": claimed.Attempts,
	}))

	jobCtx, cancelCause := context.WithCancelCause(ctx)
	defer cancelCause(nil)
	o.mu.Lock()
	o.running[jobID] = cancelCause
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, jobID)
		o.mu.Unlock()
	}()

	o.runWithRetries(jobCtx, worker, jobID, claimed)
}

func (o *Orchestrator) runWithRetries(ctx context.Context, worker, jobID string, current *job.Job) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.RetryInitialInterval

	onProgress := func(p job.Progress) {
		persistCtx := context.WithoutCancel(ctx)
		if _, err := o.registry.UpdateAtomically(persistCtx, jobID, func(j *job.Job) error {
			return j.SetProgress(p)
		}); err != nil {
			o.logger.Debug("progress write rejected", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		o.publish(ctx, events.New(events.TypeJobProgress, jobID, map[string]any{
			"scanned":  p.Scanned,
			"resolved": p.Resolved,
			"skipped":  p.Skipped,
			"cursor":   p.Cursor,
		}))
	}

	for {
		result, runErr := o.runner.Run(ctx, current.Config, current.Progress.Cursor, current.Progress, onProgress)

		if runErr == nil {
			o.finishJob(ctx, jobID, result, nil)
			return
		}

		if ctx.Err() != nil {
			o.handleInterruption(ctx, jobID)
			return
		}

		fatal := IsJobFatal(runErr)
		exhausted := current.Attempts+1 >= current.MaxAttempts
		if fatal || exhausted {
			result.Message = runErr.Error()
			o.finishJob(ctx, jobID, result, runErr)
			return
		}

		retried, err := o.registry.UpdateAtomically(ctx, jobID, func(j *job.Job) error {
			return j.RecordRetry(worker, runErr.Error())
		})
		if err != nil {
			// Paused or cancelled between the failure and the retry.
			o.logger.Debug("retry abandoned", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		current = retried
		o.metrics.JobRetried()

		wait := bo.NextBackOff()
		o.logger.Warn("retrying job after transient failure",
			zap.String("job_id", jobID),
			zap.Int("attempt", current.Attempts),
			zap.Duration("backoff", wait),
			zap.Error(runErr),
		)
		select {
		case <-ctx.Done():
			o.handleInterruption(ctx, jobID)
			return
		case <-time.After(wait):
		}
	}
}

// finishJob commits the terminal transition for a run that ended on its own.
func (o *Orchestrator) finishJob(ctx context.Context, jobID string, result job.Result, runErr error) {
	transition := func(j *job.Job) error {
		if runErr == nil {
			return j.Complete("worker", result)
		}
		return j.Fail("worker", result)
	}
	finished, err := o.registry.UpdateAtomically(ctx, jobID, transition)
	if err != nil {
		o.logger.Warn("failed to finalize job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	o.recordFinished(finished)
	o.metrics.RecordsProcessed("resolved", result.Resolved)
	o.metrics.RecordsProcessed("skipped", result.Skipped)
	o.metrics.RecordsProcessed("failed", result.ErrorCount)

	eventType := events.TypeJobCompleted
	if runErr != nil {
		eventType = events.TypeJobFailed
	}
	o.publish(ctx, events.New(eventType, jobID, map[string]any{
		"scanned":    result.Scanned,
		"resolved":   result.Resolved,
		"skipped":    result.Skipped,
		"errorCount": result.ErrorCount,
		"message":    result.Message,
	}))

	o.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(finished.Status)),
		zap.Int64("scanned", result.Scanned),
		zap.Int64("resolved", result.Resolved),
	)
}

// handleInterruption sorts out why a running job's context was cut. Pause and
// cancel have already committed their transition; a process shutdown leaves
// the job active so startup recovery can requeue it.
func (o *Orchestrator) handleInterruption(ctx context.Context, jobID string) {
	cause := context.Cause(ctx)
	current, err := o.registry.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		o.logger.Warn("interrupted job vanished", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	switch {
	case errors.Is(cause, errPauseRequested), current.Status == job.StatusDelayed:
		o.logger.Info("job paused mid-scan",
			zap.String("job_id", jobID),
			zap.String("cursor", current.Progress.Cursor),
		)
	case errors.Is(cause, errCancelRequested), current.Status == job.StatusCancelled:
		o.logger.Info("job cancelled mid-scan", zap.String("job_id", jobID))
	default:
		// Shutdown. Leave the record active for restart recovery.
		o.logger.Info("job interrupted by shutdown",
			zap.String("job_id", jobID),
			zap.String("cursor", current.Progress.Cursor),
		)
	}
}

func (o *Orchestrator) recordFinished(j *job.Job) {
	var duration time.Duration
	if j.StartedAt != nil && j.CompletedAt != nil {
		duration = j.CompletedAt.Sub(*j.StartedAt)
	}
	o.metrics.JobFinished(string(j.Kind), string(j.Status), duration)
}

func (o *Orchestrator) interrupt(jobID string, cause error) {
	o.mu.Lock()
	cancel, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		cancel(cause)
	}
}
