package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/channel"
	"github.com/skufeed/inventory-sync-server/internal/inventory"
	"github.com/skufeed/inventory-sync-server/internal/inventory/inmemory"
)

// fakeChannel is a scriptable channel.Client for tests.
type fakeChannel struct {
	mu sync.Mutex

	variants map[string]channel.VariantLookup
	items    map[string]*channel.InventoryItemLookup

	bulkCalls   [][]string
	itemCalls   []string
	bulkErr     error
	bulkErrOnce bool
	itemErr     error

	// returnAll makes bulk lookups return every configured variant,
	// modelling a channel that answers with near-matching keys.
	returnAll bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		variants: make(map[string]channel.VariantLookup),
		items:    make(map[string]*channel.InventoryItemLookup),
	}
}

func (f *fakeChannel) LookupByKeys(_ context.Context, keys []string) (map[string]channel.VariantLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bulkCalls = append(f.bulkCalls, append([]string(nil), keys...))
	if f.bulkErr != nil {
		err := f.bulkErr
		if f.bulkErrOnce {
			f.bulkErr = nil
		}
		return nil, err
	}

	result := make(map[string]channel.VariantLookup)
	if f.returnAll {
		for key, lookup := range f.variants {
			result[key] = lookup
		}
		return result, nil
	}
	for _, key := range keys {
		if lookup, ok := f.variants[key]; ok {
			result[key] = lookup
		}
	}
	return result, nil
}

func (f *fakeChannel) LookupInventoryItem(_ context.Context, variantID string) (*channel.InventoryItemLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.itemCalls = append(f.itemCalls, variantID)
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	if item, ok := f.items[variantID]; ok {
		return item, nil
	}
	return nil, &channel.PermanentError{Op: "inventory-item-lookup", StatusCode: 404, Err: errors.New("not found")}
}

func TestResolvePatchesIdentifiers(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()
	qty := 3
	ch.variants["sku-1"] = channel.VariantLookup{VariantID: "v1", InventoryItemID: "i1", ObservedQuantity: &qty}

	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchDelay(0))

	record := &inventory.Record{VariantKey: "sku-1", SyncStatus: inventory.SyncStatusUnresolved}
	outcome, err := resolver.Resolve(context.Background(), []*inventory.Record{record})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Resolved)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, "v1", record.ChannelVariantID)
	assert.Equal(t, "i1", record.ChannelInventoryItemID)
	require.NotNil(t, record.LastKnownChannelQuantity)
	assert.Equal(t, 3, *record.LastKnownChannelQuantity)
	assert.Equal(t, inventory.SyncStatusSuccess, record.SyncStatus)
	require.NotNil(t, record.LastSyncedAt)

	// The mutation was persisted.
	saved := store.Get("sku-1")
	require.NotNil(t, saved)
	assert.Equal(t, "v1", saved.ChannelVariantID)
}

func TestResolveFallbackInventoryItemLookup(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()
	// Bulk lookup knows the variant but not its inventory item.
	ch.variants["sku-1"] = channel.VariantLookup{VariantID: "v1"}
	qty := 9
	ch.items["v1"] = &channel.InventoryItemLookup{InventoryItemID: "i1", ObservedQuantity: &qty}

	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchDelay(0))

	record := &inventory.Record{VariantKey: "sku-1"}
	outcome, err := resolver.Resolve(context.Background(), []*inventory.Record{record})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Resolved)
	assert.Equal(t, "i1", record.ChannelInventoryItemID)
	assert.Equal(t, []string{"v1"}, ch.itemCalls)
}

func TestResolveNoFallbackWhenBulkReturnsItem(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()
	ch.variants["sku-1"] = channel.VariantLookup{VariantID: "v1", InventoryItemID: "i1"}

	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchDelay(0))

	_, err := resolver.Resolve(context.Background(), []*inventory.Record{{VariantKey: "sku-1"}})
	require.NoError(t, err)
	assert.Empty(t, ch.itemCalls)
}

func TestResolveMarksUnresolvedRecordsFailed(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()

	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchDelay(0))

	record := &inventory.Record{VariantKey: "unknown-sku"}
	outcome, err := resolver.Resolve(context.Background(), []*inventory.Record{record})
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.Resolved)
	assert.Equal(t, 1, outcome.Failed)
	assert.Equal(t, inventory.SyncStatusFailed, record.SyncStatus)
	assert.Equal(t, ErrMissingIdentifiers, record.SyncError)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0], "unknown-sku")
}

func TestResolveSubBatching(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()
	records := make([]*inventory.Record, 12)
	for i := range records {
		key := fmt.Sprintf("sku-%02d", i)
		records[i] = &inventory.Record{VariantKey: key}
		ch.variants[key] = channel.VariantLookup{VariantID: "v-" + key, InventoryItemID: "i-" + key}
	}

	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchSize(5), WithSubBatchDelay(0))

	outcome, err := resolver.Resolve(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 12, outcome.Resolved)
	require.Len(t, ch.bulkCalls, 3)
	assert.Len(t, ch.bulkCalls[0], 5)
	assert.Len(t, ch.bulkCalls[1], 5)
	assert.Len(t, ch.bulkCalls[2], 2)
}

func TestResolveAbsorbsSubBatchFailure(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()
	for _, key := range []string{"sku-1", "sku-2", "sku-3", "sku-4"} {
		ch.variants[key] = channel.VariantLookup{VariantID: "v-" + key, InventoryItemID: "i-" + key}
	}
	// The first bulk call fails; later sub-batches must still resolve.
	ch.bulkErr = &channel.TransientError{Op: "bulk-lookup", Err: errors.New("timeout")}
	ch.bulkErrOnce = true

	records := []*inventory.Record{
		{VariantKey: "sku-1"},
		{VariantKey: "sku-2"},
		{VariantKey: "sku-3"},
		{VariantKey: "sku-4"},
	}
	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchSize(2), WithSubBatchDelay(0))

	outcome, err := resolver.Resolve(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Resolved)
	assert.Equal(t, 2, outcome.Failed)
	assert.Equal(t, inventory.SyncStatusFailed, records[0].SyncStatus)
	assert.Equal(t, inventory.SyncStatusFailed, records[1].SyncStatus)
	assert.Equal(t, inventory.SyncStatusSuccess, records[2].SyncStatus)
	assert.Equal(t, inventory.SyncStatusSuccess, records[3].SyncStatus)
}

func TestResolveFuzzyMatchesRekeyedVariant(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()
	// The channel re-keyed the variant without the vendor prefix or sale tag
	// and answers bulk lookups with its near-matching key.
	ch.variants["E467W-WHITE-2"] = channel.VariantLookup{VariantID: "v1", InventoryItemID: "i1"}
	ch.returnAll = true

	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchDelay(0))

	record := &inventory.Record{VariantKey: "noxa_E467W-White-2-CCSALE"}
	_, err := resolver.Resolve(context.Background(), []*inventory.Record{record})
	require.NoError(t, err)

	assert.Equal(t, "v1", record.ChannelVariantID)
	assert.Equal(t, inventory.SyncStatusSuccess, record.SyncStatus)
}

func TestResolveSkipsAlreadyResolved(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()

	resolver := NewResolver(store, ch, zap.NewNop(), WithSubBatchDelay(0))

	record := &inventory.Record{
		VariantKey:             "sku-1",
		ChannelVariantID:       "v1",
		ChannelInventoryItemID: "i1",
	}
	outcome, err := resolver.Resolve(context.Background(), []*inventory.Record{record})
	require.NoError(t, err)

	assert.Zero(t, outcome.Resolved)
	assert.Zero(t, outcome.Failed)
	assert.Empty(t, ch.bulkCalls)
}

func TestResolveHonorsCancellation(t *testing.T) {
	t.Parallel()

	store := inmemory.NewStore()
	ch := newFakeChannel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolver := NewResolver(store, ch, zap.NewNop())
	_, err := resolver.Resolve(ctx, []*inventory.Record{{VariantKey: "sku-1"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ch.bulkCalls)
}
