package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransientError marks a channel failure worth retrying: network timeouts,
// 5xx responses, and 429 rate limiting.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient channel error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a channel failure that retrying cannot fix, such as a
// 4xx response other than 429.
type PermanentError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent channel error during %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent channel error during %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is retriable.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent reports whether the error is non-retriable.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// classifyError wraps a transport-level failure. Deadline exceedance and
// network errors are all transient at this layer; a definitive rejection
// only ever arrives as an HTTP status. Caller cancellation passes through
// untouched so it is never retried.
func classifyError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// classifyStatus wraps a non-2xx HTTP response.
func classifyStatus(op string, statusCode int) error {
	err := fmt.Errorf("unexpected status %d", statusCode)
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return &TransientError{Op: op, Err: err}
	}
	return &PermanentError{Op: op, StatusCode: statusCode, Err: err}
}
