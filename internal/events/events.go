// Package events publishes job lifecycle notifications to interested
// consumers. Sinks are best-effort: a publish failure is logged by callers
// but never fails the lifecycle action that produced the event.
package events

import (
	"context"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeJobQueued    Type = "job.queued"
	TypeJobStarted   Type = "job.started"
	TypeJobProgress  Type = "job.progress"
	TypeJobPaused    Type = "job.paused"
	TypeJobResumed   Type = "job.resumed"
	TypeJobCancelled Type = "job.cancelled"
	TypeJobCompleted Type = "job.completed"
	TypeJobFailed    Type = "job.failed"
)

// Event is a single lifecycle notification.
type Event struct {
	Type    Type           `json:"type"`
	JobID   string         `json:"jobId"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=events.go Sink

// Sink receives lifecycle events.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// New builds an event stamped with the current time.
func New(typ Type, jobID string, payload map[string]any) Event {
	return Event{
		Type:    typ,
		JobID:   jobID,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}
