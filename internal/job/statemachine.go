package job

import (
	"fmt"
	"time"
)

// New builds a queued job with an initial audit entry. Callers assign the ID
// and priority before persisting.
func New(id string, kind Kind, triggerSource string, cfg Config, maxAttempts int) *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:            id,
		Kind:          kind,
		TriggerSource: triggerSource,
		Status:        StatusQueued,
		MaxAttempts:   maxAttempts,
		Config:        cfg,
		CreatedAt:     now,
	}
	j.audit(triggerSource, ActionCreated, "", now)
	return j
}

func (j *Job) transitionError(action Action) error {
	return &StateTransitionError{JobID: j.ID, From: j.Status, Action: action}
}

// Start moves a queued job to active and stamps StartedAt on the first start.
func (j *Job) Start(actor string) error {
	if j.Status != StatusQueued {
		return j.transitionError(ActionStarted)
	}
	now := time.Now().UTC()
	j.Status = StatusActive
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.audit(actor, ActionStarted, "", now)
	return nil
}

// Pause moves an active job to delayed. The recorded audit entry is what
// later authorizes Resume.
func (j *Job) Pause(actor, reason string) error {
	if j.Status != StatusActive {
		return j.transitionError(ActionPaused)
	}
	j.Status = StatusDelayed
	j.audit(actor, ActionPaused, reason, time.Now().UTC())
	return nil
}

// Resume moves a delayed job back to queued. It is rejected unless the audit
// trail shows an explicit pause that has not already been resumed; a job that
// somehow reached delayed without one cannot silently re-enter the queue.
func (j *Job) Resume(actor, reason string) error {
	if j.Status != StatusDelayed {
		return j.transitionError(ActionResumed)
	}
	if !j.wasPausedAndNotResumed() {
		return &StateTransitionError{
			JobID:  j.ID,
			From:   j.Status,
			Action: ActionResumed,
			Reason: "no recorded pause",
		}
	}
	j.Status = StatusQueued
	j.audit(actor, ActionResumed, reason, time.Now().UTC())
	return nil
}

// Cancel terminates a queued, active or delayed job. Progress counters are
// left exactly as they were; the cancellation cause is kept in the result
// message and the audit trail.
func (j *Job) Cancel(actor, reason string) error {
	switch j.Status {
	case StatusQueued, StatusActive, StatusDelayed:
	default:
		return j.transitionError(ActionCancelled)
	}
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.Result = &Result{
		Scanned:  j.Progress.Scanned,
		Resolved: j.Progress.Resolved,
		Skipped:  j.Progress.Skipped,
		Message:  "cancelled: " + reason,
	}
	j.audit(actor, ActionCancelled, reason, now)
	return nil
}

// Complete moves an active job to completed and records the final result.
func (j *Job) Complete(actor string, result Result) error {
	if j.Status != StatusActive {
		return j.transitionError(ActionCompleted)
	}
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.Result = &result
	j.audit(actor, ActionCompleted, result.Message, now)
	return nil
}

// Fail moves an active job to failed once its attempts are exhausted or the
// error is not retryable.
func (j *Job) Fail(actor string, result Result) error {
	if j.Status != StatusActive {
		return j.transitionError(ActionFailed)
	}
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.CompletedAt = &now
	j.Result = &result
	j.audit(actor, ActionFailed, result.Message, now)
	return nil
}

// RecordRetry bumps the attempt counter for a whole-job retry. The job stays
// active throughout; retries are not a lifecycle transition.
func (j *Job) RecordRetry(actor, reason string) error {
	if j.Status != StatusActive {
		return j.transitionError(ActionRetried)
	}
	j.Attempts++
	j.audit(actor, ActionRetried, reason, time.Now().UTC())
	return nil
}

// Requeue moves an interrupted active job back to queued. This edge exists
// only for crash recovery at startup: a job found active with no worker
// holding it must go back in line rather than stay stuck.
func (j *Job) Requeue(actor, reason string) error {
	if j.Status != StatusActive {
		return j.transitionError(ActionRequeued)
	}
	j.Status = StatusQueued
	j.audit(actor, ActionRequeued, reason, time.Now().UTC())
	return nil
}

// SetProgress overwrites the progress counters. Terminal jobs reject further
// progress writes so late worker updates cannot disturb a settled record.
func (j *Job) SetProgress(p Progress) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s: progress update rejected in terminal status %q", j.ID, j.Status)
	}
	j.Progress = p
	return nil
}
