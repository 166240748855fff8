package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

// setupTestDB starts a disposable Postgres container and returns its
// connection string.
func setupTestDB(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed migration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(&nopLogger{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestMigrationsRoundTrip(t *testing.T) {
	t.Parallel()

	connStr := setupTestDB(t)

	require.NoError(t, MigrateUp(connStr))

	version, dirty, err := GetVersion(connStr)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// Applying again is a no-op.
	require.NoError(t, MigrateUp(connStr))

	require.NoError(t, MigrateDown(connStr, 0))
	version, dirty, err = GetVersion(connStr)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Zero(t, version)

	// Schema recreates cleanly after a full rollback.
	require.NoError(t, MigrateUp(connStr))
}
