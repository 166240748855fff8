package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skufeed/inventory-sync-server/internal/breaker"
)

const (
	// DefaultTimeout is the hard deadline applied to each lookup call.
	DefaultTimeout = 10 * time.Second

	// DefaultRequestsPerSecond paces outgoing lookups to stay inside the
	// channel's rate limits.
	DefaultRequestsPerSecond = 2.0

	// DefaultBurst is the limiter burst size.
	DefaultBurst = 4

	// DefaultMaxTries caps per-call retry attempts, initial call included.
	DefaultMaxTries = 4

	// maxResponseSize bounds lookup response bodies (10MB).
	maxResponseSize = 10 * 1024 * 1024

	userAgent = "skufeed-syncd/1.0"
)

// HTTPConfig configures the HTTP channel client.
type HTTPConfig struct {
	// Endpoint is the base URL of the channel API, without trailing slash.
	Endpoint string `yaml:"endpoint"`

	// Timeout is the hard deadline per lookup call. Exceeding it counts as
	// a transient failure.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// RequestsPerSecond and Burst tune the client-side rate limiter.
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`

	// MaxTries caps attempts per lookup call, the initial call included.
	MaxTries uint `yaml:"maxTries,omitempty"`

	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration `yaml:"retryInitialInterval,omitempty"`
}

// HTTPClient is the production implementation of Client. Every call is
// paced by a rate limiter, guarded by the circuit breaker, bounded by a
// hard deadline, and retried with exponential backoff plus jitter when the
// failure is transient.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	limiter    *rate.Limiter
	breaker    *breaker.Breaker
	maxTries   uint
	retrySeed  time.Duration
	observe    func(op, result string)
	logger     *zap.Logger
}

// Option configures optional HTTPClient behavior.
type Option func(*HTTPClient)

// WithCallObserver registers a hook invoked after every request attempt
// with the operation name and "success" or "error".
func WithCallObserver(fn func(op, result string)) Option {
	return func(c *HTTPClient) {
		c.observe = fn
	}
}

// NewHTTPClient creates a channel client from the config. The breaker is
// shared process-wide by the caller so that all jobs see the same circuit.
func NewHTTPClient(cfg HTTPConfig, cb *breaker.Breaker, logger *zap.Logger, opts ...Option) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("channel endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid channel endpoint: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = DefaultBurst
	}
	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}
	retrySeed := cfg.RetryInitialInterval
	if retrySeed == 0 {
		retrySeed = 500 * time.Millisecond
	}

	c := &HTTPClient{
		httpClient: &http.Client{},
		endpoint:   cfg.Endpoint,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker:    cb,
		maxTries:   maxTries,
		retrySeed:  retrySeed,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type bulkLookupRequest struct {
	Keys []string `json:"keys"`
}

type bulkLookupResponse struct {
	Variants []struct {
		SKU             string `json:"sku"`
		VariantID       string `json:"variant_id"`
		InventoryItemID string `json:"inventory_item_id,omitempty"`
		Available       *int   `json:"available,omitempty"`
	} `json:"variants"`
}

type inventoryItemResponse struct {
	InventoryItemID string `json:"inventory_item_id"`
	Available       *int   `json:"available,omitempty"`
}

// LookupByKeys resolves a batch of variant keys via one bulk call.
func (c *HTTPClient) LookupByKeys(ctx context.Context, keys []string) (map[string]VariantLookup, error) {
	const op = "bulk-lookup"

	payload, err := json.Marshal(bulkLookupRequest{Keys: keys})
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk lookup request: %w", err)
	}

	body, err := c.call(ctx, op, http.MethodPost, c.endpoint+"/variants/lookup", payload)
	if err != nil {
		return nil, err
	}

	var decoded bulkLookupResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &PermanentError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	result := make(map[string]VariantLookup, len(decoded.Variants))
	for _, variant := range decoded.Variants {
		if variant.SKU == "" || variant.VariantID == "" {
			continue
		}
		result[variant.SKU] = VariantLookup{
			VariantID:        variant.VariantID,
			InventoryItemID:  variant.InventoryItemID,
			ObservedQuantity: variant.Available,
		}
	}
	return result, nil
}

// LookupInventoryItem resolves the inventory item for a single variant.
func (c *HTTPClient) LookupInventoryItem(ctx context.Context, variantID string) (*InventoryItemLookup, error) {
	const op = "inventory-item-lookup"

	target := fmt.Sprintf("%s/variants/%s/inventory_item", c.endpoint, url.PathEscape(variantID))
	body, err := c.call(ctx, op, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	var decoded inventoryItemResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &PermanentError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return &InventoryItemLookup{
		InventoryItemID:  decoded.InventoryItemID,
		ObservedQuantity: decoded.Available,
	}, nil
}

// call performs one logical lookup: rate limit, breaker, hard deadline, and
// retry with exponential backoff for transient failures. Permanent failures
// and an open breaker abort immediately.
func (c *HTTPClient) call(ctx context.Context, op, method, target string, payload []byte) ([]byte, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retrySeed

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		result, err := c.breaker.Execute(func() (any, error) {
			return c.doRequest(ctx, op, method, target, payload)
		})
		c.observeAttempt(op, err)
		if err != nil {
			if errors.Is(err, breaker.ErrOpen) {
				// No point retrying against an open circuit.
				return nil, backoff.Permanent(&TransientError{Op: op, Err: err})
			}
			if IsPermanent(err) || errors.Is(err, context.Canceled) {
				return nil, backoff.Permanent(err)
			}
			c.logger.Warn("channel call failed, will retry",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return nil, err
		}
		return result.([]byte), nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxTries),
	)
}

func (c *HTTPClient) observeAttempt(op string, err error) {
	if c.observe == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.observe(op, result)
}

// doRequest performs a single HTTP attempt under the per-call deadline.
func (c *HTTPClient) doRequest(ctx context.Context, op, method, target string, payload []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target, bodyReader)
	if err != nil {
		return nil, &PermanentError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(op, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyError(op, err)
	}
	return body, nil
}
