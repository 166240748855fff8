package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry persists jobs in the sync_jobs table. Lifecycle documents
// (progress, config, audit, result) are stored as JSONB; the columns queried
// by workers and the scheduler stay relational.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a registry backed by the given pool.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

const jobColumns = `id, kind, trigger_source, status, priority, attempts, max_attempts,
	progress, config, audit, result, created_at, started_at, completed_at`

// Create implements Registry.
func (r *PostgresRegistry) Create(ctx context.Context, j *Job) error {
	progress, config, audit, result, err := marshalDocuments(j)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO sync_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID, string(j.Kind), j.TriggerSource, string(j.Status), j.Priority,
		j.Attempts, j.MaxAttempts, progress, config, audit, result,
		j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", j.ID, err)
	}
	return nil
}

// Get implements Registry.
func (r *PostgresRegistry) Get(ctx context.Context, id string) (*Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// List implements Registry.
func (r *PostgresRegistry) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM sync_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListByStatus implements Registry.
func (r *PostgresRegistry) ListByStatus(ctx context.Context, statuses ...Status) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM sync_jobs
		WHERE status = ANY($1)
		ORDER BY created_at ASC`, values)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateAtomically implements Registry using a row lock: the record is read
// FOR UPDATE inside a transaction, mutated, and written back, so concurrent
// lifecycle actions on the same job serialize at the database.
func (r *PostgresRegistry) UpdateAtomically(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1 FOR UPDATE`, id)
	current, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	if err := fn(current); err != nil {
		return nil, err
	}

	progress, config, audit, result, err := marshalDocuments(current)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE sync_jobs
		SET status = $2, priority = $3, attempts = $4,
			progress = $5, audit = $6, result = $7,
			started_at = $8, completed_at = $9, config = $10
		WHERE id = $1`,
		current.ID, string(current.Status), current.Priority, current.Attempts,
		progress, audit, result, current.StartedAt, current.CompletedAt, config,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return current.Clone(), nil
}

func marshalDocuments(j *Job) (progress, config, audit, result []byte, err error) {
	if progress, err = json.Marshal(j.Progress); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal progress: %w", err)
	}
	if config, err = json.Marshal(j.Config); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if audit, err = json.Marshal(j.Audit); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal audit: %w", err)
	}
	if j.Result != nil {
		if result, err = json.Marshal(j.Result); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}
	return progress, config, audit, result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j        Job
		kind     string
		status   string
		progress []byte
		config   []byte
		audit    []byte
		result   []byte
	)
	err := row.Scan(
		&j.ID, &kind, &j.TriggerSource, &status, &j.Priority,
		&j.Attempts, &j.MaxAttempts, &progress, &config, &audit, &result,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	j.Kind = Kind(kind)
	j.Status = Status(status)
	if err := json.Unmarshal(progress, &j.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	if err := json.Unmarshal(config, &j.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := json.Unmarshal(audit, &j.Audit); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit: %w", err)
	}
	if len(result) > 0 && !strings.EqualFold(string(result), "null") {
		j.Result = &Result{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return out, nil
}
