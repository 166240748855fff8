// Package database provides schema migration tooling for the inventory sync
// server.
package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// GetMigrate returns a migration instance for the given connection string.
// The caller owns the instance and must Close it.
func GetMigrate(connString string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	// The pgx migrate driver registers under its own scheme.
	connString = strings.Replace(connString, "postgres://", "pgx5://", 1)
	m, err := migrate.NewWithSourceInstance("iofs", source, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending migrations.
func MigrateUp(connString string) error {
	m, err := GetMigrate(connString)
	if err != nil {
		return err
	}
	defer closeQuietly(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls the schema back by steps migrations; zero rolls back
// everything.
func MigrateDown(connString string, steps uint) error {
	m, err := GetMigrate(connString)
	if err != nil {
		return err
	}
	defer closeQuietly(m)

	if steps == 0 {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		return nil
	}
	if err := m.Steps(-int(steps)); err != nil && !errors.Is(err, migrate.ErrNoChange) { // #nosec G115
		return fmt.Errorf("failed to roll back %d migrations: %w", steps, err)
	}
	return nil
}

// GetVersion reports the current schema version and whether the database is
// in a dirty state.
func GetVersion(connString string) (uint, bool, error) {
	m, err := GetMigrate(connString)
	if err != nil {
		return 0, false, err
	}
	defer closeQuietly(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func closeQuietly(m *migrate.Migrate) {
	_, _ = m.Close()
}
