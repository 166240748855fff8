// Package config provides configuration loading for the inventory sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skufeed/inventory-sync-server/internal/logging"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Logging  logging.Config  `yaml:"logging,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Redis    *RedisConfig    `yaml:"redis,omitempty"`
	Channel  ChannelConfig   `yaml:"channel"`
	Sync     SyncConfig      `yaml:"sync,omitempty"`
	Queues   QueuesConfig    `yaml:"queues,omitempty"`
	Metrics  MetricsConfig   `yaml:"metrics,omitempty"`
}

// ChannelConfig defines the commerce channel API connection
type ChannelConfig struct {
	// Endpoint is the base URL of the channel inventory API
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single request attempt (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`

	// RequestsPerSecond throttles outbound calls to stay inside the
	// channel's rate limits
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`

	// Burst is the rate limiter burst allowance
	Burst int `yaml:"burst,omitempty"`

	Retry   RetryConfig   `yaml:"retry,omitempty"`
	Breaker BreakerConfig `yaml:"breaker,omitempty"`
}

// RetryConfig defines per-call retry behavior against the channel
type RetryConfig struct {
	// MaxTries is the total number of attempts per call, first included
	MaxTries int `yaml:"maxTries,omitempty"`

	// InitialInterval seeds the exponential backoff (e.g. "500ms")
	InitialInterval string `yaml:"initialInterval,omitempty"`
}

// BreakerConfig defines the channel circuit breaker
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker once reached
	ConsecutiveFailures int `yaml:"consecutiveFailures,omitempty"`

	// Cooldown is how long the breaker stays open before probing (e.g. "30s")
	Cooldown string `yaml:"cooldown,omitempty"`

	// HalfOpenRequests is how many probe requests are allowed half-open
	HalfOpenRequests int `yaml:"halfOpenRequests,omitempty"`
}

// SyncConfig defines scan defaults and the scheduled run policy
type SyncConfig struct {
	// BatchSize is the page size for record scans
	BatchSize int `yaml:"batchSize,omitempty"`

	// BatchDelay is the pause between pages (e.g. "500ms")
	BatchDelay string `yaml:"batchDelay,omitempty"`

	// SubBatchSize caps keys per bulk channel lookup
	SubBatchSize int `yaml:"subBatchSize,omitempty"`

	// SubBatchDelay is the pause between bulk lookups (e.g. "200ms")
	SubBatchDelay string `yaml:"subBatchDelay,omitempty"`

	// UpdateOutOfStock includes zero-stock records in quantity pushes
	UpdateOutOfStock bool `yaml:"updateOutOfStock,omitempty"`

	Schedule *ScheduleConfig `yaml:"schedule,omitempty"`
}

// ScheduleConfig enables interval-triggered reconciliation runs
type ScheduleConfig struct {
	// Interval between scheduled runs (e.g. "6h")
	Interval string `yaml:"interval"`
}

// QueuesConfig bounds worker concurrency per job kind
type QueuesConfig struct {
	ManualConcurrency    int `yaml:"manualConcurrency,omitempty"`
	BatchConcurrency     int `yaml:"batchConcurrency,omitempty"`
	ScheduledConcurrency int `yaml:"scheduledConcurrency,omitempty"`

	// MaxAttempts is the whole-job retry budget for transient failures
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// MetricsConfig defines the Prometheus scrape listener
type MetricsConfig struct {
	// Address to listen on, e.g. ":9090". Empty disables the listener.
	Address string `yaml:"address,omitempty"`
}

// RedisConfig defines the event sink connection
type RedisConfig struct {
	// Address is the host:port of the Redis server
	Address string `yaml:"address"`

	// DB selects the Redis logical database
	DB int `yaml:"db,omitempty"`

	// EventsChannel is the pub/sub channel for job lifecycle events
	// Defaults to "skufeed.sync.events"
	EventsChannel string `yaml:"eventsChannel,omitempty"`
}

// GetEventsChannel returns the pub/sub channel, using the default if unset
func (r *RedisConfig) GetEventsChannel() string {
	if r.EventsChannel == "" {
		return "skufeed.sync.events"
	}
	return r.EventsChannel
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from SKUFEED_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	// Priority 1: Read from file if specified
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		// Trim whitespace (including newlines) from file content
		password := strings.TrimSpace(string(data))
		return password, nil
	}

	// Priority 2: Check environment variable
	if envPassword := os.Getenv("SKUFEED_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or SKUFEED_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	// URL-escape the password to handle special characters
	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Channel.Endpoint == "" {
		return fmt.Errorf("channel.endpoint is required")
	}
	if _, err := url.Parse(c.Channel.Endpoint); err != nil {
		return fmt.Errorf("channel.endpoint must be a valid URL: %w", err)
	}

	durations := map[string]string{
		"channel.timeout":               c.Channel.Timeout,
		"channel.retry.initialInterval": c.Channel.Retry.InitialInterval,
		"channel.breaker.cooldown":      c.Channel.Breaker.Cooldown,
		"sync.batchDelay":               c.Sync.BatchDelay,
		"sync.subBatchDelay":            c.Sync.SubBatchDelay,
	}
	if c.Database != nil {
		durations["database.connMaxLifetime"] = c.Database.ConnMaxLifetime
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g. '500ms', '30s'): %w", field, err)
		}
	}

	if c.Sync.Schedule != nil {
		if c.Sync.Schedule.Interval == "" {
			return fmt.Errorf("sync.schedule.interval is required when schedule is set")
		}
		interval, err := time.ParseDuration(c.Sync.Schedule.Interval)
		if err != nil {
			return fmt.Errorf("sync.schedule.interval must be a valid duration (e.g. '6h'): %w", err)
		}
		if interval < time.Minute {
			return fmt.Errorf("sync.schedule.interval must be at least 1m, got %s", interval)
		}
	}

	for field, value := range map[string]int{
		"queues.manualConcurrency":    c.Queues.ManualConcurrency,
		"queues.batchConcurrency":     c.Queues.BatchConcurrency,
		"queues.scheduledConcurrency": c.Queues.ScheduledConcurrency,
		"queues.maxAttempts":          c.Queues.MaxAttempts,
	} {
		if value < 0 {
			return fmt.Errorf("%s cannot be negative", field)
		}
	}

	if c.Redis != nil && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is set")
	}

	return nil
}

// GetScheduleInterval returns the parsed scheduled-run interval, or zero when
// scheduling is disabled. Call after LoadConfig; validation guarantees the
// value parses.
func (c *Config) GetScheduleInterval() time.Duration {
	if c.Sync.Schedule == nil {
		return 0
	}
	interval, _ := time.ParseDuration(c.Sync.Schedule.Interval)
	return interval
}

// ParseDurationOr returns value parsed as a duration, or fallback when value
// is empty. Validation guarantees non-empty values parse.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
