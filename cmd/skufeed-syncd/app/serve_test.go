package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/config"
	"github.com/skufeed/inventory-sync-server/internal/events"
	"github.com/skufeed/inventory-sync-server/internal/telemetry"
)

func TestScheduledJobConfigMapping(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Sync: config.SyncConfig{
			BatchSize:        200,
			BatchDelay:       "1s",
			SubBatchSize:     100,
			SubBatchDelay:    "100ms",
			UpdateOutOfStock: true,
		},
	}

	jobCfg := scheduledJobConfig(cfg)
	assert.Equal(t, 200, jobCfg.BatchSize)
	assert.Equal(t, time.Second, jobCfg.BatchDelay)
	assert.Equal(t, 100, jobCfg.SubBatchSize)
	assert.Equal(t, 100*time.Millisecond, jobCfg.SubBatchDelay)
	assert.True(t, jobCfg.UpdateOutOfStock)
}

func TestBuildEventSinkWithoutRedis(t *testing.T) {
	t.Parallel()

	sink, cleanup := buildEventSink(&config.Config{}, zap.NewNop())
	defer cleanup()

	_, ok := sink.(*events.LogSink)
	assert.True(t, ok, "without redis only the log sink is configured")
}

func TestBuildChannelClientRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := buildChannelClient(&config.Config{}, telemetry.NewMetrics(), zap.NewNop())
	assert.Error(t, err)
}
