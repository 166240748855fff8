// Package inventory defines the inventory record model and the store
// interface the reconciliation engine pages over.
package inventory

import "time"

// SyncStatus is the reconciliation state of one inventory record.
type SyncStatus string

const (
	// SyncStatusUnresolved means the record has not been reconciled yet.
	SyncStatusUnresolved SyncStatus = "unresolved"

	// SyncStatusSuccess means the last reconciliation pass resolved the
	// record's channel identifiers.
	SyncStatusSuccess SyncStatus = "success"

	// SyncStatusFailed means the last reconciliation pass could not resolve
	// the record; SyncError carries the cause.
	SyncStatusFailed SyncStatus = "failed"
)

// Record is one sellable variant tracked in the internal store. Stock
// quantities come from the supplier and are authoritative; the channel
// identifiers are resolved lazily against the commerce platform.
type Record struct {
	// VariantKey is the vendor-scoped SKU and the record's identity.
	VariantKey string

	// BaseProductKey groups variants of one product.
	BaseProductKey string

	// Color and Size are optional attributes parsed from the variant key.
	Color string
	Size  string

	// StockQuantity is the authoritative supplier quantity, never negative.
	StockQuantity int

	// ChannelVariantID and ChannelInventoryItemID are the channel-side
	// identifiers. Both must be present before a quantity push is possible.
	ChannelVariantID       string
	ChannelInventoryItemID string

	// LastKnownChannelQuantity is the quantity last observed on the channel,
	// used to avoid redundant writes. Nil when never observed.
	LastKnownChannelQuantity *int

	// SyncStatus, SyncError and LastSyncedAt describe the outcome of the
	// most recent reconciliation pass over this record.
	SyncStatus   SyncStatus
	SyncError    string
	LastSyncedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Updatable reports whether a quantity push is possible for this record:
// both channel identifiers must be present.
func (r *Record) Updatable() bool {
	return r.ChannelVariantID != "" && r.ChannelInventoryItemID != ""
}

// MissingIdentifiers reports whether either channel identifier is absent.
func (r *Record) MissingIdentifiers() bool {
	return !r.Updatable()
}
