package orchestrator

import (
	"github.com/skufeed/inventory-sync-server/internal/job"
)

// Base priorities per kind. Operator-triggered runs always outrank the
// background schedule; the urgent bonus lets an operator jump a manual run
// ahead of other manual runs without crossing kind boundaries.
const (
	priorityManual    = 100
	priorityBatch     = 50
	priorityScheduled = 10

	urgentBonus = 20
)

// priorityFor computes the queue priority for a job request.
func priorityFor(kind job.Kind, urgent bool) int {
	var base int
	switch kind {
	case job.KindManual:
		base = priorityManual
	case job.KindBatch:
		base = priorityBatch
	case job.KindScheduled:
		base = priorityScheduled
	}
	if urgent {
		base += urgentBonus
	}
	return base
}
