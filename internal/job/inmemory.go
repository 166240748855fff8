package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryRegistry is a map-backed Registry for development mode and tests.
type InMemoryRegistry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewInMemoryRegistry returns an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{jobs: make(map[string]*Job)}
}

// Create implements Registry.
func (r *InMemoryRegistry) Create(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	r.jobs[j.ID] = j.Clone()
	return nil
}

// Get implements Registry.
func (r *InMemoryRegistry) Get(_ context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// List implements Registry.
func (r *InMemoryRegistry) List(_ context.Context) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out, nil
}

// ListByStatus implements Registry.
func (r *InMemoryRegistry) ListByStatus(_ context.Context, statuses ...Status) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Job
	for _, j := range r.jobs {
		for _, s := range statuses {
			if j.Status == s {
				out = append(out, j.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// UpdateAtomically implements Registry. The mutex makes the read-modify-write
// atomic; fn operates on a copy so an error leaves the stored record intact.
func (r *InMemoryRegistry) UpdateAtomically(_ context.Context, id string, fn func(*Job) error) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	r.jobs[id] = updated
	return updated.Clone(), nil
}
