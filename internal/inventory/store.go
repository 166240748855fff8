package inventory

import "context"

// Filter restricts which records a scan visits.
type Filter struct {
	// MissingIdentifiersOnly limits the scan to records lacking at least one
	// channel identifier.
	MissingIdentifiersOnly bool

	// SyncStatus, when set, limits the scan to records in that state.
	SyncStatus SyncStatus

	// BaseProductKey, when set, limits the scan to one product's variants.
	BaseProductKey string
}

// Matches reports whether the record satisfies the filter. Store
// implementations that translate the filter to a query use this only for
// documentation and tests; the in-memory store applies it directly.
func (f Filter) Matches(r *Record) bool {
	if f.MissingIdentifiersOnly && !r.MissingIdentifiers() {
		return false
	}
	if f.SyncStatus != "" && r.SyncStatus != f.SyncStatus {
		return false
	}
	if f.BaseProductKey != "" && r.BaseProductKey != f.BaseProductKey {
		return false
	}
	return true
}

// Store is the inventory persistence interface the reconciliation engine
// consumes. Paging is keyset-based: FindPage returns up to limit records
// whose VariantKey sorts strictly after afterKey, in ascending key order,
// so concurrent inserts and deletes never cause skips or duplicate visits
// of already-seen keys.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/skufeed/inventory-sync-server/internal/inventory Store
type Store interface {
	// FindPage returns the next page of records matching the filter.
	FindPage(ctx context.Context, filter Filter, afterKey string, limit int) ([]*Record, error)

	// CountMatching returns the number of records matching the filter.
	// The count is advisory: the store may mutate while a scan runs.
	CountMatching(ctx context.Context, filter Filter) (int64, error)

	// Save upserts the record keyed by VariantKey. Writes are idempotent:
	// identifier fields are last-writer-wins and LastSyncedAt is monotonic,
	// so overlapping resolver passes are safe.
	Save(ctx context.Context, record *Record) error
}
