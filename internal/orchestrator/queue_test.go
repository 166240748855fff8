package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skufeed/inventory-sync-server/internal/job"
)

func TestQueueOrdersByPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	q := newJobQueue()
	q.Push("scheduled-1", priorityFor(job.KindScheduled, false))
	q.Push("manual-1", priorityFor(job.KindManual, false))
	q.Push("batch-1", priorityFor(job.KindBatch, false))
	q.Push("manual-2", priorityFor(job.KindManual, false))
	q.Push("manual-urgent", priorityFor(job.KindManual, true))

	ctx := context.Background()
	var order []string
	for q.Len() > 0 {
		id, err := q.Pop(ctx)
		require.NoError(t, err)
		order = append(order, id)
	}

	assert.Equal(t, []string{"manual-urgent", "manual-1", "manual-2", "batch-1", "scheduled-1"}, order)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := newJobQueue()
	got := make(chan string, 1)
	go func() {
		id, err := q.Pop(context.Background())
		if err == nil {
			got <- id
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("job-1", 10)

	select {
	case id := <-got:
		assert.Equal(t, "job-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	t.Parallel()

	q := newJobQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPriorityForKinds(t *testing.T) {
	t.Parallel()

	assert.Greater(t, priorityFor(job.KindManual, false), priorityFor(job.KindBatch, false))
	assert.Greater(t, priorityFor(job.KindBatch, false), priorityFor(job.KindScheduled, false))
	assert.Greater(t, priorityFor(job.KindManual, true), priorityFor(job.KindManual, false))
	// Urgency never promotes a lower kind past a higher one.
	assert.Less(t, priorityFor(job.KindScheduled, true), priorityFor(job.KindBatch, false))
}
