package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/events"
	"github.com/skufeed/inventory-sync-server/internal/job"
)

type runnerCall struct {
	cfg        job.Config
	startAfter string
	resume     job.Progress
}

type runFunc func(ctx context.Context, onProgress func(job.Progress)) (job.Result, error)

// scriptedRunner plays one runFunc per call; the last script repeats.
type scriptedRunner struct {
	mu      sync.Mutex
	calls   []runnerCall
	scripts []runFunc
}

func (r *scriptedRunner) Run(
	ctx context.Context,
	cfg job.Config,
	startAfter string,
	resume job.Progress,
	onProgress func(job.Progress),
) (job.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{cfg: cfg, startAfter: startAfter, resume: resume})
	idx := len(r.calls) - 1
	if idx >= len(r.scripts) {
		idx = len(r.scripts) - 1
	}
	fn := r.scripts[idx]
	r.mu.Unlock()

	return fn(ctx, onProgress)
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *scriptedRunner) call(i int) runnerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func succeed(result job.Result) runFunc {
	return func(_ context.Context, _ func(job.Progress)) (job.Result, error) {
		return result, nil
	}
}

func fail(err error) runFunc {
	return func(_ context.Context, _ func(job.Progress)) (job.Result, error) {
		return job.Result{}, err
	}
}

// blockUntilCancel reports progress, signals started, then waits for the
// job context to be cut.
func blockUntilCancel(started chan<- struct{}, progress job.Progress) runFunc {
	return func(ctx context.Context, onProgress func(job.Progress)) (job.Result, error) {
		onProgress(progress)
		started <- struct{}{}
		<-ctx.Done()
		return job.Result{}, ctx.Err()
	}
}

type memorySink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *memorySink) Publish(_ context.Context, evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memorySink) typesFor(jobID string) []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Type
	for _, evt := range s.events {
		if evt.JobID == jobID {
			out = append(out, evt.Type)
		}
	}
	return out
}

func newTestOrchestrator(runner ScanRunner, cfg Config) (*Orchestrator, *job.InMemoryRegistry, *memorySink) {
	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = time.Millisecond
	}
	registry := job.NewInMemoryRegistry()
	sink := &memorySink{}
	orch := New(registry, runner, sink, nil, zap.NewNop(), cfg)
	return orch, registry, sink
}

func waitForStatus(t *testing.T, registry job.Registry, jobID string, want job.Status) *job.Job {
	t.Helper()

	var got *job.Job
	require.Eventually(t, func() bool {
		j, err := registry.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return got
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	orch, _, _ := newTestOrchestrator(&scriptedRunner{scripts: []runFunc{succeed(job.Result{})}}, Config{})

	tests := []struct {
		name string
		spec Spec
	}{
		{name: "unknown kind", spec: Spec{Kind: "hourly", TriggerSource: "api"}},
		{name: "missing trigger source", spec: Spec{Kind: job.KindManual}},
		{name: "negative batch size", spec: Spec{Kind: job.KindManual, TriggerSource: "api", Config: job.Config{BatchSize: -1}}},
		{name: "negative delay", spec: Spec{Kind: job.KindManual, TriggerSource: "api", Config: job.Config{BatchDelay: -time.Second}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := orch.Enqueue(context.Background(), tt.spec)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected ValidationError, got %v", err)
		})
	}
}

func TestJobLifecycleCompletes(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{scripts: []runFunc{
		succeed(job.Result{Scanned: 10, Resolved: 8, Skipped: 2}),
	}}
	orch, registry, sink := newTestOrchestrator(runner, Config{})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	j, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindManual, TriggerSource: "operator"})
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)

	got := waitForStatus(t, registry, j.ID, job.StatusCompleted)
	require.NotNil(t, got.Result)
	assert.Equal(t, int64(8), got.Result.Resolved)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	types := sink.typesFor(j.ID)
	assert.Contains(t, types, events.TypeJobQueued)
	assert.Contains(t, types, events.TypeJobStarted)
	assert.Contains(t, types, events.TypeJobCompleted)
}

func TestTransientFailureRetriesInPlace(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{scripts: []runFunc{
		fail(errors.New("channel timeout")),
		succeed(job.Result{Scanned: 5, Resolved: 5}),
	}}
	orch, registry, _ := newTestOrchestrator(runner, Config{MaxAttempts: 3})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	j, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindBatch, TriggerSource: "api"})
	require.NoError(t, err)

	got := waitForStatus(t, registry, j.ID, job.StatusCompleted)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 2, runner.callCount())

	// The retry never left active: no queued or delayed entries in the audit
	// after the start.
	for _, entry := range got.Audit {
		assert.NotEqual(t, job.ActionRequeued, entry.Action)
	}
}

func TestFatalErrorFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{scripts: []runFunc{
		fail(&JobFatalError{Err: errors.New("channel endpoint misconfigured")}),
	}}
	orch, registry, sink := newTestOrchestrator(runner, Config{MaxAttempts: 3})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	j, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindManual, TriggerSource: "operator"})
	require.NoError(t, err)

	got := waitForStatus(t, registry, j.ID, job.StatusFailed)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, 1, runner.callCount())
	require.NotNil(t, got.Result)
	assert.Contains(t, got.Result.Message, "misconfigured")
	assert.Contains(t, sink.typesFor(j.ID), events.TypeJobFailed)
}

func TestRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{scripts: []runFunc{
		fail(errors.New("connection reset")),
	}}
	orch, registry, _ := newTestOrchestrator(runner, Config{MaxAttempts: 2})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	j, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindBatch, TriggerSource: "api"})
	require.NoError(t, err)

	got := waitForStatus(t, registry, j.ID, job.StatusFailed)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 2, runner.callCount())
}

func TestCancelWhileQueuedIsSkippedByWorkers(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{scripts: []runFunc{succeed(job.Result{Scanned: 1, Resolved: 1})}}
	orch, registry, _ := newTestOrchestrator(runner, Config{})

	// Enqueue before the workers start so cancellation wins the race.
	cancelled, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindManual, TriggerSource: "operator"})
	require.NoError(t, err)
	require.NoError(t, orch.Cancel(context.Background(), cancelled.ID, "operator", "fat finger"))

	follower, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindManual, TriggerSource: "operator"})
	require.NoError(t, err)

	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	waitForStatus(t, registry, follower.ID, job.StatusCompleted)

	got, err := registry.Get(context.Background(), cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt, "cancelled job must never start")
	assert.Equal(t, 1, runner.callCount(), "only the follower runs")
}

func TestPauseAndResumeContinuesFromCursor(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	checkpoint := job.Progress{Scanned: 10, Resolved: 9, Skipped: 1, Cursor: "sku-010"}
	runner := &scriptedRunner{scripts: []runFunc{
		blockUntilCancel(started, checkpoint),
		succeed(job.Result{Scanned: 20, Resolved: 19, Skipped: 1}),
	}}
	orch, registry, sink := newTestOrchestrator(runner, Config{})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	j, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindManual, TriggerSource: "operator"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked the job up")
	}

	require.NoError(t, orch.Pause(context.Background(), j.ID, "operator", "channel maintenance"))
	paused := waitForStatus(t, registry, j.ID, job.StatusDelayed)
	assert.Equal(t, "sku-010", paused.Progress.Cursor, "committed progress survives the pause")

	require.NoError(t, orch.Resume(context.Background(), j.ID, "operator", "maintenance over"))
	got := waitForStatus(t, registry, j.ID, job.StatusCompleted)
	assert.Equal(t, int64(19), got.Result.Resolved)

	require.Equal(t, 2, runner.callCount())
	second := runner.call(1)
	assert.Equal(t, "sku-010", second.startAfter)
	assert.Equal(t, int64(10), second.resume.Scanned)

	types := sink.typesFor(j.ID)
	assert.Contains(t, types, events.TypeJobPaused)
	assert.Contains(t, types, events.TypeJobResumed)
}

func TestResumeRejectedWhenNotPaused(t *testing.T) {
	t.Parallel()

	orch, _, _ := newTestOrchestrator(&scriptedRunner{scripts: []runFunc{succeed(job.Result{})}}, Config{})

	j, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindManual, TriggerSource: "operator"})
	require.NoError(t, err)

	err = orch.Resume(context.Background(), j.ID, "operator", "oops")
	require.Error(t, err)
	assert.True(t, job.IsStateTransition(err))
}

func TestStartRecoversInterruptedJobs(t *testing.T) {
	t.Parallel()

	registry := job.NewInMemoryRegistry()
	interrupted := job.New("job-interrupted", job.KindBatch, "api", job.Config{}, 3)
	require.NoError(t, interrupted.Start("worker-old"))
	require.NoError(t, interrupted.SetProgress(job.Progress{Scanned: 50, Resolved: 48, Skipped: 2, Cursor: "sku-050"}))
	require.NoError(t, registry.Create(context.Background(), interrupted))

	runner := &scriptedRunner{scripts: []runFunc{succeed(job.Result{Scanned: 100, Resolved: 98, Skipped: 2})}}
	orch := New(registry, runner, &memorySink{}, nil, zap.NewNop(), Config{RetryInitialInterval: time.Millisecond})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	got := waitForStatus(t, registry, "job-interrupted", job.StatusCompleted)
	assert.Equal(t, int64(98), got.Result.Resolved)

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, "sku-050", runner.call(0).startAfter, "recovery resumes from the committed cursor")

	var requeued bool
	for _, entry := range got.Audit {
		if entry.Action == job.ActionRequeued {
			requeued = true
		}
	}
	assert.True(t, requeued, "recovery must be audited")
}

func TestCancelRunningJobStopsScan(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	runner := &scriptedRunner{scripts: []runFunc{
		blockUntilCancel(started, job.Progress{Scanned: 5, Resolved: 5, Cursor: "sku-005"}),
	}}
	orch, registry, _ := newTestOrchestrator(runner, Config{})
	require.NoError(t, orch.Start(context.Background()))
	defer orch.Stop()

	j, err := orch.Enqueue(context.Background(), Spec{Kind: job.KindBatch, TriggerSource: "api"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked the job up")
	}

	require.NoError(t, orch.Cancel(context.Background(), j.ID, "operator", "wrong filter"))

	got := waitForStatus(t, registry, j.ID, job.StatusCancelled)
	require.NotNil(t, got.Result)
	assert.Equal(t, int64(5), got.Result.Resolved, "cancel keeps progress achieved so far")
	assert.NotNil(t, got.CompletedAt)
}
