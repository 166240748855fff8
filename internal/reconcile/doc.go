// Package reconcile implements the batched scan-and-resolve pipeline that
// aligns inventory records with the channel catalog.
//
// The Scanner pages over the inventory store with keyset pagination and
// hands each page to the Resolver, which looks up missing channel
// identifiers in rate-limit friendly sub-batches and patches records in
// place. Per-record and per-sub-batch failures are absorbed and recorded,
// never aborting the scan; only caller cancellation or a store paging
// failure stops it.
package reconcile
