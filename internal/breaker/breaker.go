// Package breaker wraps sony/gobreaker to protect the orchestrator from a
// degraded external dependency causing retry storms across concurrently
// running jobs.
package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config tunes the circuit breaker.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string `yaml:"name,omitempty"`

	// ConsecutiveFailures is the number of consecutive failures within the
	// monitoring window that opens the circuit.
	ConsecutiveFailures uint32 `yaml:"consecutiveFailures,omitempty"`

	// Interval is the monitoring window over which failure counts are
	// accumulated while the circuit is closed.
	Interval time.Duration `yaml:"interval,omitempty"`

	// Cooldown is how long the circuit stays open before half-opening to
	// probe recovery.
	Cooldown time.Duration `yaml:"cooldown,omitempty"`

	// HalfOpenRequests is the number of probe requests allowed while
	// half-open.
	HalfOpenRequests uint32 `yaml:"halfOpenRequests,omitempty"`
}

// DefaultConfig returns the breaker defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{
		Name:                "channel",
		ConsecutiveFailures: 5,
		Interval:            time.Minute,
		Cooldown:            30 * time.Second,
		HalfOpenRequests:    1,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if c.Interval == 0 {
		c.Interval = defaults.Interval
	}
	if c.Cooldown == 0 {
		c.Cooldown = defaults.Cooldown
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = defaults.HalfOpenRequests
	}
	return c
}

// Breaker is a circuit breaker for external lookup calls.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// StateChangeFunc observes breaker state transitions.
type StateChangeFunc func(name, from, to string)

// Option configures a Breaker.
type Option func(*options)

type options struct {
	onStateChange StateChangeFunc
	isSuccessful  func(error) bool
}

// WithStateChangeFunc registers an observer for state transitions, in
// addition to the log line the breaker always emits.
func WithStateChangeFunc(fn StateChangeFunc) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}

// WithFailurePredicate overrides which errors count as breaker failures.
// By default every error counts.
func WithFailurePredicate(countsAsFailure func(error) bool) Option {
	return func(o *options) {
		o.isSuccessful = func(err error) bool {
			return err == nil || !countsAsFailure(err)
		}
	}
}

// New creates a circuit breaker from the config.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Breaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if o.onStateChange != nil {
				o.onStateChange(name, from.String(), to.String())
			}
		},
	}
	if o.isSuccessful != nil {
		settings.IsSuccessful = o.isSuccessful
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. While the circuit is open the call is
// rejected immediately with ErrOpen.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return result, err
}

// State returns the current breaker state as a string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// ErrOpen is returned while the circuit is open and calls are rejected
// without reaching the dependency.
var ErrOpen = errors.New("circuit breaker is open")
