package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/skufeed/inventory-sync-server/internal/breaker"
	"github.com/skufeed/inventory-sync-server/internal/channel"
	"github.com/skufeed/inventory-sync-server/internal/config"
	"github.com/skufeed/inventory-sync-server/internal/db"
	"github.com/skufeed/inventory-sync-server/internal/events"
	"github.com/skufeed/inventory-sync-server/internal/inventory"
	"github.com/skufeed/inventory-sync-server/internal/inventory/inmemory"
	"github.com/skufeed/inventory-sync-server/internal/inventory/postgres"
	"github.com/skufeed/inventory-sync-server/internal/job"
	"github.com/skufeed/inventory-sync-server/internal/logging"
	"github.com/skufeed/inventory-sync-server/internal/orchestrator"
	"github.com/skufeed/inventory-sync-server/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inventory sync daemon",
	Long: `Start the sync daemon. A configuration file (--config) specifies the
channel API connection, storage, queue concurrency, the scheduled run
policy and all other operational settings.

With --dev the daemon runs entirely in memory, for local development
without a database.`,
	RunE: runServe,
}

const metricsShutdownTimeout = 5 * time.Second

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().Bool("dev", false, "Run with in-memory storage (no database required)")

	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		fmt.Printf("Failed to bind config flag: %v\n", err)
	}
	if err := viper.BindPFlag("dev", serveCmd.Flags().Lookup("dev")); err != nil {
		fmt.Printf("Failed to bind dev flag: %v\n", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		fmt.Printf("Failed to mark config flag as required: %v\n", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(config.WithConfigPath(viper.GetString("config")))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := cfg.Logging
	if viper.GetBool("debug") {
		logCfg.Level = "debug"
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics := telemetry.NewMetrics()

	store, registry, cleanup, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := buildChannelClient(cfg, metrics, logger)
	if err != nil {
		return err
	}

	sink, sinkCleanup := buildEventSink(cfg, logger)
	defer sinkCleanup()

	runner := orchestrator.NewReconcileRunner(store, client, logger)
	orch := orchestrator.New(registry, runner, sink, metrics, logger, orchestrator.Config{
		ManualConcurrency:    cfg.Queues.ManualConcurrency,
		BatchConcurrency:     cfg.Queues.BatchConcurrency,
		ScheduledConcurrency: cfg.Queues.ScheduledConcurrency,
		MaxAttempts:          cfg.Queues.MaxAttempts,
	})
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer orch.Stop()

	if interval := cfg.GetScheduleInterval(); interval > 0 {
		scheduler := orchestrator.NewScheduler(orch, registry, interval, scheduledJobConfig(cfg), logger)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	metricsSrv := startMetricsListener(cfg, metrics, logger)

	logger.Info("inventory sync daemon started")
	<-ctx.Done()
	logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func buildStorage(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (inventory.Store, job.Registry, func(), error) {
	if viper.GetBool("dev") || cfg.Database == nil {
		logger.Info("running with in-memory storage")
		return inmemory.NewStore(), job.NewInMemoryRegistry(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return postgres.NewStore(pool), job.NewPostgresRegistry(pool), pool.Close, nil
}

func buildChannelClient(cfg *config.Config, metrics *telemetry.Metrics, logger *zap.Logger) (channel.Client, error) {
	cb := breaker.New(breaker.Config{
		Name:                "channel",
		ConsecutiveFailures: uint32(max(cfg.Channel.Breaker.ConsecutiveFailures, 0)), // #nosec G115
		Cooldown:            config.ParseDurationOr(cfg.Channel.Breaker.Cooldown, 0),
		HalfOpenRequests:    uint32(max(cfg.Channel.Breaker.HalfOpenRequests, 0)), // #nosec G115
	}, logger,
		breaker.WithFailurePredicate(channel.IsTransient),
		breaker.WithStateChangeFunc(func(name, _, to string) {
			metrics.BreakerState(name, to)
		}),
	)

	return channel.NewHTTPClient(channel.HTTPConfig{
		Endpoint:             cfg.Channel.Endpoint,
		Timeout:              config.ParseDurationOr(cfg.Channel.Timeout, 0),
		RequestsPerSecond:    cfg.Channel.RequestsPerSecond,
		Burst:                cfg.Channel.Burst,
		MaxTries:             uint(max(cfg.Channel.Retry.MaxTries, 0)), // #nosec G115
		RetryInitialInterval: config.ParseDurationOr(cfg.Channel.Retry.InitialInterval, 0),
	}, cb, logger, channel.WithCallObserver(metrics.ChannelCall))
}

func buildEventSink(cfg *config.Config, logger *zap.Logger) (events.Sink, func()) {
	logSink := events.NewLogSink(logger)
	if cfg.Redis == nil {
		return logSink, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Address,
		DB:   cfg.Redis.DB,
	})
	redisSink := events.NewRedisSink(client, cfg.Redis.GetEventsChannel())
	logger.Info("publishing job events to redis",
		zap.String("address", cfg.Redis.Address),
		zap.String("channel", cfg.Redis.GetEventsChannel()),
	)
	return events.NewMultiSink(logSink, redisSink), func() { _ = client.Close() }
}

func scheduledJobConfig(cfg *config.Config) job.Config {
	return job.Config{
		BatchSize:        cfg.Sync.BatchSize,
		BatchDelay:       config.ParseDurationOr(cfg.Sync.BatchDelay, 0),
		SubBatchSize:     cfg.Sync.SubBatchSize,
		SubBatchDelay:    config.ParseDurationOr(cfg.Sync.SubBatchDelay, 0),
		UpdateOutOfStock: cfg.Sync.UpdateOutOfStock,
	}
}

func startMetricsListener(cfg *config.Config, metrics *telemetry.Metrics, logger *zap.Logger) *http.Server {
	if cfg.Metrics.Address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	logger.Info("metrics listener started", zap.String("address", cfg.Metrics.Address))
	return srv
}
