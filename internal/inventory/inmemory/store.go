// Package inmemory provides an in-memory inventory store used by tests and
// the development server mode.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skufeed/inventory-sync-server/internal/inventory"
)

// Store is a thread-safe in-memory implementation of inventory.Store.
// Records are kept keyed by VariantKey and paged in ascending key order,
// matching the keyset semantics of the database-backed store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*inventory.Record
}

// NewStore creates an empty in-memory inventory store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*inventory.Record),
	}
}

// Seed inserts records directly, bypassing Save's timestamp handling.
// Intended for test setup.
func (s *Store) Seed(records ...*inventory.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		clone := *record
		s.records[record.VariantKey] = &clone
	}
}

// FindPage returns up to limit records with VariantKey strictly greater than
// afterKey matching the filter, in ascending key order.
func (s *Store) FindPage(
	_ context.Context, filter inventory.Filter, afterKey string, limit int,
) ([]*inventory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		if key > afterKey {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	page := make([]*inventory.Record, 0, limit)
	for _, key := range keys {
		record := s.records[key]
		if !filter.Matches(record) {
			continue
		}
		clone := *record
		page = append(page, &clone)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

// CountMatching returns the number of records matching the filter.
func (s *Store) CountMatching(_ context.Context, filter inventory.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, record := range s.records {
		if filter.Matches(record) {
			count++
		}
	}
	return count, nil
}

// Save upserts the record. LastSyncedAt only ever moves forward so that
// overlapping resolver passes cannot rewind it.
func (s *Store) Save(_ context.Context, record *inventory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	clone := *record
	clone.UpdatedAt = now

	if existing, ok := s.records[record.VariantKey]; ok {
		clone.CreatedAt = existing.CreatedAt
		if existing.LastSyncedAt != nil &&
			(clone.LastSyncedAt == nil || clone.LastSyncedAt.Before(*existing.LastSyncedAt)) {
			clone.LastSyncedAt = existing.LastSyncedAt
		}
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}

	s.records[record.VariantKey] = &clone
	return nil
}

// Get returns a copy of the record with the given key, or nil if absent.
// Intended for test assertions.
func (s *Store) Get(variantKey string) *inventory.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[variantKey]
	if !ok {
		return nil
	}
	clone := *record
	return &clone
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
