package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/channel"
	"github.com/skufeed/inventory-sync-server/internal/inventory"
	"github.com/skufeed/inventory-sync-server/internal/job"
	"github.com/skufeed/inventory-sync-server/internal/reconcile"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks -source=runner.go ScanRunner

// ScanRunner executes one scan attempt for a job. startAfter and resume come
// from the job's committed progress so an attempt can pick up where the last
// one stopped.
type ScanRunner interface {
	Run(
		ctx context.Context,
		cfg job.Config,
		startAfter string,
		resume job.Progress,
		onProgress func(job.Progress),
	) (job.Result, error)
}

// reconcileRunner runs scans against the real store and channel. A fresh
// resolver and scanner are built per run because sub-batch tuning is
// per-job configuration.
type reconcileRunner struct {
	store  inventory.Store
	client channel.Client
	logger *zap.Logger
}

// NewReconcileRunner builds the production ScanRunner.
func NewReconcileRunner(store inventory.Store, client channel.Client, logger *zap.Logger) ScanRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reconcileRunner{store: store, client: client, logger: logger}
}

// Run implements ScanRunner.
func (r *reconcileRunner) Run(
	ctx context.Context,
	cfg job.Config,
	startAfter string,
	resume job.Progress,
	onProgress func(job.Progress),
) (job.Result, error) {
	var resolverOpts []reconcile.ResolverOption
	if cfg.SubBatchSize > 0 {
		resolverOpts = append(resolverOpts, reconcile.WithSubBatchSize(cfg.SubBatchSize))
	}
	if cfg.SubBatchDelay > 0 {
		resolverOpts = append(resolverOpts, reconcile.WithSubBatchDelay(cfg.SubBatchDelay))
	}
	resolver := reconcile.NewResolver(r.store, r.client, r.logger, resolverOpts...)
	scanner := reconcile.NewScanner(r.store, resolver, r.logger)

	opts := reconcile.ScanOptions{
		Filter: inventory.Filter{
			MissingIdentifiersOnly: cfg.MissingIdentifiersOnly,
		},
		BatchSize:        cfg.BatchSize,
		BatchDelay:       cfg.BatchDelay,
		UpdateOutOfStock: cfg.UpdateOutOfStock,
		StartAfter:       startAfter,
		Resume: reconcile.Progress{
			Scanned:  resume.Scanned,
			Resolved: resume.Resolved,
			Skipped:  resume.Skipped,
		},
	}
	if onProgress != nil {
		opts.OnProgress = func(p reconcile.Progress) {
			onProgress(job.Progress{
				Scanned:       p.Scanned,
				Resolved:      p.Resolved,
				Skipped:       p.Skipped,
				TotalEstimate: p.TotalEstimate,
				Cursor:        p.Cursor,
			})
		}
	}

	result, err := scanner.Scan(ctx, opts)
	return job.Result{
		Scanned:    result.Scanned,
		Resolved:   result.Resolved,
		Skipped:    result.Skipped,
		ErrorCount: result.ErrorCount,
		Errors:     result.Errors,
	}, err
}
