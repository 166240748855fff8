package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/inventory"
)

const (
	// DefaultBatchSize is the page size for the inventory scan.
	DefaultBatchSize = 100

	// DefaultBatchDelay is the pause between pages.
	DefaultBatchDelay = 500 * time.Millisecond

	// maxResultErrors caps how many failure messages a scan result keeps.
	maxResultErrors = 10
)

// Progress is a point-in-time snapshot of a running scan. At every report
// Resolved+Skipped == Scanned, and Scanned never decreases within one run.
type Progress struct {
	Scanned       int64
	Resolved      int64
	Skipped       int64
	TotalEstimate int64

	// Cursor is the last committed pagination key. A later run may resume
	// strictly after it.
	Cursor string
}

// ProgressFunc receives progress after every completed page.
type ProgressFunc func(p Progress)

// ScanOptions parameterizes one reconciliation scan.
type ScanOptions struct {
	// Filter restricts which records the scan visits.
	Filter inventory.Filter

	// BatchSize is the page size; defaults to DefaultBatchSize.
	BatchSize int

	// BatchDelay is the pause between pages; zero means no pause.
	BatchDelay time.Duration

	// UpdateOutOfStock controls classification: when false, records with
	// zero stock are skipped even if fully resolved.
	UpdateOutOfStock bool

	// StartAfter resumes the scan strictly after this pagination key.
	// Progress counters are seeded from Resume when resuming.
	StartAfter string

	// Resume seeds the progress counters when continuing an interrupted
	// scan from StartAfter.
	Resume Progress

	// OnProgress, when set, is invoked after every completed page.
	OnProgress ProgressFunc
}

// Result aggregates one finished (or interrupted) scan.
type Result struct {
	Scanned       int64
	Resolved      int64
	Skipped       int64
	TotalEstimate int64

	// Cursor is the last committed pagination key, usable to resume.
	Cursor string

	// Errors holds the first failure messages seen, capped at
	// maxResultErrors; ErrorCount is the total.
	Errors     []string
	ErrorCount int64
}

// Scanner drives the batched scan-and-resolve pipeline over the inventory
// store. Batches within one scan run strictly sequentially: ordered cursor
// advancement and the channel's rate limits both depend on it.
type Scanner struct {
	store    inventory.Store
	resolver *Resolver
	logger   *zap.Logger
}

// NewScanner creates a scanner on top of the store and resolver.
func NewScanner(store inventory.Store, resolver *Resolver, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// Scan pages over the store with keyset pagination, resolving and
// classifying each page. Cancellation is honored at the top of every page:
// the page in flight always finishes so no record is left half-updated, and
// already-applied writes are never rolled back. The result returned alongside
// a cancellation error reflects the last committed page.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (Result, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	result := Result{
		Scanned:  opts.Resume.Scanned,
		Resolved: opts.Resume.Resolved,
		Skipped:  opts.Resume.Skipped,
		Cursor:   opts.StartAfter,
	}

	// Counted once up front; advisory only. The store may mutate while the
	// scan runs, so small drift against the true total is tolerated.
	estimate, err := s.store.CountMatching(ctx, opts.Filter)
	if err != nil {
		return result, fmt.Errorf("failed to estimate scan size: %w", err)
	}
	result.TotalEstimate = estimate + opts.Resume.Scanned

	s.logger.Info("starting reconciliation scan",
		zap.Int64("total_estimate", result.TotalEstimate),
		zap.Int("batch_size", batchSize),
		zap.String("start_after", opts.StartAfter),
	)

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := s.store.FindPage(ctx, opts.Filter, result.Cursor, batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to fetch scan page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		s.processPage(ctx, page, opts, &result)
		result.Cursor = page[len(page)-1].VariantKey

		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Scanned:       result.Scanned,
				Resolved:      result.Resolved,
				Skipped:       result.Skipped,
				TotalEstimate: result.TotalEstimate,
				Cursor:        result.Cursor,
			})
		}

		if len(page) < batchSize {
			break
		}
		if opts.BatchDelay > 0 {
			if err := sleepCtx(ctx, opts.BatchDelay); err != nil {
				return result, err
			}
		}
	}

	s.logger.Info("reconciliation scan finished",
		zap.Int64("scanned", result.Scanned),
		zap.Int64("resolved", result.Resolved),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("errors", result.ErrorCount),
	)

	return result, nil
}

// processPage resolves one page and classifies its records. Resolver
// failures are absorbed into the result; they never abort the scan.
func (s *Scanner) processPage(ctx context.Context, page []*inventory.Record, opts ScanOptions, result *Result) {
	needResolution := make([]*inventory.Record, 0, len(page))
	for _, record := range page {
		if record.MissingIdentifiers() {
			needResolution = append(needResolution, record)
		}
	}

	if len(needResolution) > 0 {
		outcome, err := s.resolver.Resolve(ctx, needResolution)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("resolver pass failed", zap.Error(err))
		}
		for _, msg := range outcome.Errors {
			result.ErrorCount++
			if len(result.Errors) < maxResultErrors {
				result.Errors = append(result.Errors, msg)
			}
		}
	}

	for _, record := range page {
		result.Scanned++
		if s.classifyUpdatable(record, opts.UpdateOutOfStock) {
			result.Resolved++
		} else {
			result.Skipped++
		}
	}
}

// classifyUpdatable reports whether the record is ready for a quantity push:
// both identifiers present, and in stock unless out-of-stock pushes are on.
func (*Scanner) classifyUpdatable(record *inventory.Record, updateOutOfStock bool) bool {
	if !record.Updatable() {
		return false
	}
	if !updateOutOfStock && record.StockQuantity == 0 {
		return false
	}
	return true
}
