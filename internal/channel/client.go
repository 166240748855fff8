// Package channel provides the client for the external commerce platform
// holding the authoritative storefront catalog.
package channel

import "context"

// VariantLookup is the channel's view of one variant, keyed by SKU.
type VariantLookup struct {
	// VariantID is the channel's opaque variant identifier.
	VariantID string

	// InventoryItemID is the channel's inventory item identifier. May be
	// empty in bulk lookup responses; LookupInventoryItem fills the gap.
	InventoryItemID string

	// ObservedQuantity is the quantity currently visible on the channel,
	// nil when the channel did not report one.
	ObservedQuantity *int
}

// InventoryItemLookup is the result of a single-item inventory lookup.
type InventoryItemLookup struct {
	InventoryItemID  string
	ObservedQuantity *int
}

// Client is the channel catalog interface the reconciliation engine
// consumes. Implementations are expected to respect the channel's rate
// limits and to classify failures as transient or permanent.
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/skufeed/inventory-sync-server/internal/channel Client
type Client interface {
	// LookupByKeys resolves a batch of variant keys to channel identifiers.
	// Keys the channel does not know are absent from the result map.
	LookupByKeys(ctx context.Context, keys []string) (map[string]VariantLookup, error)

	// LookupInventoryItem resolves the inventory item for a single variant.
	// Used as a fallback when a bulk lookup did not return the item id.
	LookupInventoryItem(ctx context.Context, variantID string) (*InventoryItemLookup, error)
}
