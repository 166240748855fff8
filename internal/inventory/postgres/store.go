// Package postgres provides the PostgreSQL-backed inventory store.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skufeed/inventory-sync-server/internal/inventory"
)

// Store is a PostgreSQL implementation of inventory.Store on top of a
// pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new PostgreSQL inventory store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectColumns = `variant_key, base_product_key, color, size, stock_quantity,
	channel_variant_id, channel_inventory_item_id, last_known_channel_quantity,
	sync_status, sync_error, last_synced_at, created_at, updated_at`

// FindPage returns up to limit records whose variant_key sorts strictly after
// afterKey, filtered and ordered by variant_key ascending. Keyset pagination
// keeps long scans stable while the table mutates underneath them.
func (s *Store) FindPage(
	ctx context.Context, filter inventory.Filter, afterKey string, limit int,
) ([]*inventory.Record, error) {
	where, args := buildFilter(filter)
	args = append(args, afterKey)
	where = append(where, fmt.Sprintf("variant_key > $%d", len(args)))
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM inventory_records WHERE %s ORDER BY variant_key ASC LIMIT $%d`,
		selectColumns, strings.Join(where, " AND "), len(args),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory page: %w", err)
	}
	defer rows.Close()

	var records []*inventory.Record
	for rows.Next() {
		record := &inventory.Record{}
		var channelVariantID, channelInventoryItemID, syncError *string
		err := rows.Scan(
			&record.VariantKey,
			&record.BaseProductKey,
			&record.Color,
			&record.Size,
			&record.StockQuantity,
			&channelVariantID,
			&channelInventoryItemID,
			&record.LastKnownChannelQuantity,
			&record.SyncStatus,
			&syncError,
			&record.LastSyncedAt,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory record: %w", err)
		}
		if channelVariantID != nil {
			record.ChannelVariantID = *channelVariantID
		}
		if channelInventoryItemID != nil {
			record.ChannelInventoryItemID = *channelInventoryItemID
		}
		if syncError != nil {
			record.SyncError = *syncError
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory page: %w", err)
	}

	return records, nil
}

// CountMatching returns the number of records matching the filter. The count
// is advisory only: the table may mutate while a scan is running.
func (s *Store) CountMatching(ctx context.Context, filter inventory.Filter) (int64, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM inventory_records WHERE %s`,
		strings.Join(where, " AND "),
	)

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count inventory records: %w", err)
	}
	return count, nil
}

// Save upserts the record keyed by variant_key. Identifier fields are
// last-writer-wins; last_synced_at only moves forward via GREATEST so that
// overlapping resolver passes cannot rewind it.
func (s *Store) Save(ctx context.Context, record *inventory.Record) error {
	query := `
		INSERT INTO inventory_records (
			variant_key, base_product_key, color, size, stock_quantity,
			channel_variant_id, channel_inventory_item_id, last_known_channel_quantity,
			sync_status, sync_error, last_synced_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11, NOW(), NOW())
		ON CONFLICT (variant_key) DO UPDATE SET
			base_product_key = EXCLUDED.base_product_key,
			color = EXCLUDED.color,
			size = EXCLUDED.size,
			stock_quantity = EXCLUDED.stock_quantity,
			channel_variant_id = EXCLUDED.channel_variant_id,
			channel_inventory_item_id = EXCLUDED.channel_inventory_item_id,
			last_known_channel_quantity = EXCLUDED.last_known_channel_quantity,
			sync_status = EXCLUDED.sync_status,
			sync_error = EXCLUDED.sync_error,
			last_synced_at = GREATEST(inventory_records.last_synced_at, EXCLUDED.last_synced_at),
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		record.VariantKey,
		record.BaseProductKey,
		record.Color,
		record.Size,
		record.StockQuantity,
		record.ChannelVariantID,
		record.ChannelInventoryItemID,
		record.LastKnownChannelQuantity,
		record.SyncStatus,
		record.SyncError,
		record.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save inventory record %s: %w", record.VariantKey, err)
	}
	return nil
}

// buildFilter translates a Filter into WHERE clauses and arguments. The
// returned slice always contains at least one clause so callers can join
// unconditionally.
func buildFilter(filter inventory.Filter) ([]string, []any) {
	where := []string{"TRUE"}
	var args []any

	if filter.MissingIdentifiersOnly {
		where = append(where, "(channel_variant_id IS NULL OR channel_inventory_item_id IS NULL)")
	}
	if filter.SyncStatus != "" {
		args = append(args, string(filter.SyncStatus))
		where = append(where, fmt.Sprintf("sync_status = $%d", len(args)))
	}
	if filter.BaseProductKey != "" {
		args = append(args, filter.BaseProductKey)
		where = append(where, fmt.Sprintf("base_product_key = $%d", len(args)))
	}

	return where, args
}
