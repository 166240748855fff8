package orchestrator

import (
	"container/heap"
	"context"
	"sync"
)

// queueItem is one waiting job.
type queueItem struct {
	jobID    string
	priority int
	seq      uint64
}

// itemHeap orders by priority descending, then enqueue order, so equal
// priorities drain FIFO.
type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// jobQueue is a blocking priority queue of job IDs. One queue exists per job
// kind; workers of that kind block on Pop.
type jobQueue struct {
	mu     sync.Mutex
	items  itemHeap
	seq    uint64
	notify chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{notify: make(chan struct{}, 1)}
}

// Push enqueues a job ID at the given priority.
func (q *jobQueue) Push(jobID string, priority int) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, queueItem{jobID: jobID, priority: priority, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a job is available or ctx is done.
func (q *jobQueue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(queueItem)
			// Wake another waiter if work remains.
			if q.items.Len() > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return item.jobID, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the current backlog.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
