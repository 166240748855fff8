package job

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by registries for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// StateTransitionError is returned when a lifecycle action is not legal from
// the job's current status. The job record is left unchanged. Reason, when
// set, names the guard that rejected an otherwise-legal edge.
type StateTransitionError struct {
	JobID  string
	From   Status
	Action Action
	Reason string
}

func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("job %s: cannot apply %q from status %q", e.JobID, e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsStateTransition reports whether err is a StateTransitionError.
func IsStateTransition(err error) bool {
	var target *StateTransitionError
	return errors.As(err, &target)
}
