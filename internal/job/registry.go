package job

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks -source=registry.go Registry

// Registry persists job records. UpdateAtomically is the only mutation path
// after Create: implementations load the current record, apply fn, and commit
// the result only if the record was not changed underneath, so concurrent
// lifecycle actions serialize cleanly.
type Registry interface {
	// Create persists a new job. The ID must be unique.
	Create(ctx context.Context, j *Job) error

	// Get returns a copy of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns copies of all jobs, most recently created first.
	List(ctx context.Context) ([]*Job, error)

	// ListByStatus returns copies of all jobs in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Job, error)

	// UpdateAtomically applies fn to the current record under optimistic
	// concurrency control and returns the committed copy. If fn returns an
	// error the record is left unchanged and the error is returned as-is.
	UpdateAtomically(ctx context.Context, id string, fn func(*Job) error) (*Job, error)
}
