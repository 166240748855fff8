// Package job defines the durable record of one reconciliation run and its
// lifecycle state machine. The job record is the single source of truth for
// run status; every transition is guarded and audited.
package job

import (
	"time"
)

// Kind categorizes how a reconciliation run was requested. Each kind has
// its own bounded worker pool.
type Kind string

const (
	// KindManual is an operator-triggered run.
	KindManual Kind = "manual"

	// KindBatch is a bulk run covering many records at once.
	KindBatch Kind = "batch"

	// KindScheduled is an interval-triggered run.
	KindScheduled Kind = "scheduled"
)

// Valid reports whether the kind is one of the known values.
func (k Kind) Valid() bool {
	switch k {
	case KindManual, KindBatch, KindScheduled:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job waits for a worker.
	StatusQueued Status = "queued"

	// StatusActive means a worker is executing the job.
	StatusActive Status = "active"

	// StatusDelayed means the job was explicitly paused. Distinct from a
	// retry backoff delay, and only reachable from active.
	StatusDelayed Status = "delayed"

	// StatusCompleted, StatusFailed and StatusCancelled are terminal.
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Action names a lifecycle transition in audit entries and errors.
type Action string

const (
	ActionCreated   Action = "created"
	ActionStarted   Action = "started"
	ActionPaused    Action = "paused"
	ActionResumed   Action = "resumed"
	ActionCancelled Action = "cancelled"
	ActionCompleted Action = "completed"
	ActionFailed    Action = "failed"
	ActionRetried   Action = "retried"
	ActionRequeued  Action = "requeued"
)

// AuditEntry records one lifecycle transition: who did what, when, and why.
type AuditEntry struct {
	Actor  string    `json:"actor"`
	Action Action    `json:"action"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Progress tracks a running scan. The invariant Resolved+Skipped ≤ Scanned ≤
// TotalEstimate holds approximately: the estimate is computed once at scan
// start and the store may mutate concurrently, so small drift is tolerated.
type Progress struct {
	Scanned       int64  `json:"scanned"`
	Resolved      int64  `json:"resolved"`
	Skipped       int64  `json:"skipped"`
	TotalEstimate int64  `json:"totalEstimate"`
	Cursor        string `json:"cursor,omitempty"`
}

// Config parameterizes the scan a job performs.
type Config struct {
	BatchSize              int           `json:"batchSize,omitempty"`
	BatchDelay             time.Duration `json:"batchDelay,omitempty"`
	SubBatchSize           int           `json:"subBatchSize,omitempty"`
	SubBatchDelay          time.Duration `json:"subBatchDelay,omitempty"`
	UpdateOutOfStock       bool          `json:"updateOutOfStock,omitempty"`
	MissingIdentifiersOnly bool          `json:"missingIdentifiersOnly,omitempty"`
}

// Result summarizes a finished run.
type Result struct {
	Scanned    int64    `json:"scanned"`
	Resolved   int64    `json:"resolved"`
	Skipped    int64    `json:"skipped"`
	ErrorCount int64    `json:"errorCount,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Job is the durable record of one reconciliation run.
type Job struct {
	ID            string
	Kind          Kind
	TriggerSource string
	Status        Status
	Priority      int
	Progress      Progress
	Attempts      int
	MaxAttempts   int
	Config        Config
	Audit         []AuditEntry
	Result        *Result
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Clone returns a deep copy so registry callers can never alias internal
// state.
func (j *Job) Clone() *Job {
	clone := *j
	clone.Audit = append([]AuditEntry(nil), j.Audit...)
	if j.Result != nil {
		result := *j.Result
		result.Errors = append([]string(nil), j.Result.Errors...)
		clone.Result = &result
	}
	if j.StartedAt != nil {
		startedAt := *j.StartedAt
		clone.StartedAt = &startedAt
	}
	if j.CompletedAt != nil {
		completedAt := *j.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

func (j *Job) audit(actor string, action Action, reason string, at time.Time) {
	j.Audit = append(j.Audit, AuditEntry{
		Actor:  actor,
		Action: action,
		Reason: reason,
		At:     at,
	})
}

// wasPausedAndNotResumed reports whether the most recent pause is still in
// effect according to the audit trail.
func (j *Job) wasPausedAndNotResumed() bool {
	for i := len(j.Audit) - 1; i >= 0; i-- {
		switch j.Audit[i].Action {
		case ActionPaused:
			return true
		case ActionResumed:
			return false
		}
	}
	return false
}
