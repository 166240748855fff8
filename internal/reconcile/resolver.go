package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/channel"
	"github.com/skufeed/inventory-sync-server/internal/inventory"
	"github.com/skufeed/inventory-sync-server/internal/matcher"
)

const (
	// DefaultSubBatchSize caps how many variant keys go into one bulk
	// channel lookup.
	DefaultSubBatchSize = 500

	// DefaultSubBatchDelay is the pause between bulk lookups, keeping the
	// resolver friendly to the channel's rate limits.
	DefaultSubBatchDelay = 200 * time.Millisecond

	// ErrMissingIdentifiers is recorded on records whose channel
	// identifiers remain unresolved after a pass.
	ErrMissingIdentifiers = "missing-identifiers"

	// minFuzzyScore is the matcher score a non-exact candidate key must
	// reach before the resolver adopts its identifiers.
	minFuzzyScore = 50
)

// ResolveOutcome aggregates one resolver pass.
type ResolveOutcome struct {
	// Resolved is the number of records that ended the pass with both
	// channel identifiers present.
	Resolved int

	// Failed is the number of records that ended the pass still missing an
	// identifier or whose persistence failed.
	Failed int

	// Errors holds the failure messages encountered, capped by the caller.
	Errors []string
}

// Resolver patches missing channel identifiers onto inventory records.
type Resolver struct {
	store         inventory.Store
	channel       channel.Client
	subBatchSize  int
	subBatchDelay time.Duration
	logger        *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSubBatchSize overrides the bulk lookup size cap.
func WithSubBatchSize(size int) ResolverOption {
	return func(r *Resolver) {
		if size > 0 {
			r.subBatchSize = size
		}
	}
}

// WithSubBatchDelay overrides the pause between bulk lookups.
func WithSubBatchDelay(delay time.Duration) ResolverOption {
	return func(r *Resolver) {
		if delay >= 0 {
			r.subBatchDelay = delay
		}
	}
}

// NewResolver creates a resolver on top of the inventory store and the
// channel client.
func NewResolver(store inventory.Store, client channel.Client, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		store:         store,
		channel:       client,
		subBatchSize:  DefaultSubBatchSize,
		subBatchDelay: DefaultSubBatchDelay,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up channel identifiers for every record missing one and
// patches the records in place, persisting each mutation. A lookup failure
// for one sub-batch is absorbed: its records end the pass unresolved and the
// remaining sub-batches still run. Only caller cancellation aborts the pass.
func (r *Resolver) Resolve(ctx context.Context, records []*inventory.Record) (ResolveOutcome, error) {
	var outcome ResolveOutcome

	pending := make([]*inventory.Record, 0, len(records))
	for _, record := range records {
		if record.MissingIdentifiers() {
			pending = append(pending, record)
		}
	}
	if len(pending) == 0 {
		return outcome, nil
	}

	for start := 0; start < len(pending); start += r.subBatchSize {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		if start > 0 && r.subBatchDelay > 0 {
			if err := sleepCtx(ctx, r.subBatchDelay); err != nil {
				return outcome, err
			}
		}

		end := start + r.subBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		r.resolveSubBatch(ctx, pending[start:end], &outcome)
	}

	return outcome, ctx.Err()
}

// resolveSubBatch issues one bulk lookup and patches its records.
func (r *Resolver) resolveSubBatch(ctx context.Context, records []*inventory.Record, outcome *ResolveOutcome) {
	keys := make([]string, len(records))
	for i, record := range records {
		keys[i] = record.VariantKey
	}

	lookups, err := r.channel.LookupByKeys(ctx, keys)
	if err != nil {
		// Absorbed: these records end the pass unresolved, the scan goes on.
		r.logger.Warn("bulk channel lookup failed, leaving sub-batch unresolved",
			zap.Int("keys", len(keys)),
			zap.Error(err),
		)
		lookups = nil
	}

	now := time.Now()
	for _, record := range records {
		r.patchRecord(ctx, record, lookups)
		r.finalizeRecord(ctx, record, now, outcome)
	}
}

// patchRecord copies channel identifiers onto the record, falling back to a
// single-item lookup when the bulk response lacked the inventory item id.
func (r *Resolver) patchRecord(ctx context.Context, record *inventory.Record, lookups map[string]channel.VariantLookup) {
	lookup, found := lookups[record.VariantKey]
	if !found {
		lookup, found = r.fuzzyMatch(record, lookups)
	}
	if found {
		record.ChannelVariantID = lookup.VariantID
		if lookup.InventoryItemID != "" {
			record.ChannelInventoryItemID = lookup.InventoryItemID
		}
		if lookup.ObservedQuantity != nil {
			record.LastKnownChannelQuantity = lookup.ObservedQuantity
		}
	}

	// Fallback path: the bulk lookup knew the variant but not its
	// inventory item.
	if record.ChannelVariantID != "" && record.ChannelInventoryItemID == "" {
		item, err := r.channel.LookupInventoryItem(ctx, record.ChannelVariantID)
		if err != nil {
			r.logger.Warn("inventory item lookup failed",
				zap.String("variant_key", record.VariantKey),
				zap.String("channel_variant_id", record.ChannelVariantID),
				zap.Error(err),
			)
			return
		}
		record.ChannelInventoryItemID = item.InventoryItemID
		if item.ObservedQuantity != nil {
			record.LastKnownChannelQuantity = item.ObservedQuantity
		}
	}
}

// fuzzyMatch scores the returned channel keys against the record's parsed
// SKU and adopts the best candidate when it is unambiguous enough. This
// covers channels that re-key variants with prefix or casing changes.
func (r *Resolver) fuzzyMatch(
	record *inventory.Record, lookups map[string]channel.VariantLookup,
) (channel.VariantLookup, bool) {
	if len(lookups) == 0 {
		return channel.VariantLookup{}, false
	}

	parsed := matcher.Parse(record.VariantKey)

	bestScore := 0
	var bestKey string
	for key := range lookups {
		score := matcher.Score(parsed, matcher.Candidate{VariantKeys: []string{key}})
		if score > bestScore || (score == bestScore && bestScore > 0 && key < bestKey) {
			bestScore = score
			bestKey = key
		}
	}
	if bestScore < minFuzzyScore {
		return channel.VariantLookup{}, false
	}

	r.logger.Debug("fuzzy-matched variant key",
		zap.String("variant_key", record.VariantKey),
		zap.String("channel_key", bestKey),
		zap.Int("score", bestScore),
	)
	return lookups[bestKey], true
}

// finalizeRecord marks the record's sync outcome and persists it.
func (r *Resolver) finalizeRecord(
	ctx context.Context, record *inventory.Record, at time.Time, outcome *ResolveOutcome,
) {
	if record.Updatable() {
		record.SyncStatus = inventory.SyncStatusSuccess
		record.SyncError = ""
	} else {
		record.SyncStatus = inventory.SyncStatusFailed
		record.SyncError = ErrMissingIdentifiers
	}
	syncedAt := at
	record.LastSyncedAt = &syncedAt

	if err := r.store.Save(ctx, record); err != nil {
		r.logger.Error("failed to persist resolved record",
			zap.String("variant_key", record.VariantKey),
			zap.Error(err),
		)
		outcome.Failed++
		outcome.Errors = append(outcome.Errors, record.VariantKey+": "+err.Error())
		return
	}

	if record.SyncStatus == inventory.SyncStatusSuccess {
		outcome.Resolved++
	} else {
		outcome.Failed++
		outcome.Errors = append(outcome.Errors, record.VariantKey+": "+record.SyncError)
	}
}

// sleepCtx sleeps for the duration unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
