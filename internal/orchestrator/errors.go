package orchestrator

import (
	"errors"
	"fmt"
)

// ValidationError rejects a job request before anything is persisted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job request: %s: %s", e.Field, e.Msg)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// JobFatalError wraps an error that must fail the whole job immediately,
// bypassing the retry budget. Scan runners return it for conditions no retry
// can fix, such as a misconfigured channel endpoint.
type JobFatalError struct {
	Err error
}

func (e *JobFatalError) Error() string {
	return fmt.Sprintf("job fatal: %v", e.Err)
}

func (e *JobFatalError) Unwrap() error {
	return e.Err
}

// IsJobFatal reports whether err carries a JobFatalError.
func IsJobFatal(err error) bool {
	var target *JobFatalError
	return errors.As(err, &target)
}
