package enrich

import (
	"sync"

	"marketdeck/internal/catalog"
)

// Queue implements a thread-safe task queue with deduplication by
// listing id. A listing already waiting is not enqueued twice; once
// popped it may be re-enqueued for a retry.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []catalog.EnrichmentTask
	pending map[int64]bool
	stopped bool
}

// NewQueue creates a new enrichment queue
func NewQueue() *Queue {
	q := &Queue{
		items:   make([]catalog.EnrichmentTask, 0),
		pending: make(map[int64]bool),
		stopped: false,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds a task to the queue unless the listing is already pending
// Returns true if added, false if duplicate or stopped
func (q *Queue) Push(task catalog.EnrichmentTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Don't accept new tasks if stopped
	if q.stopped {
		return false
	}

	if q.pending[task.ListingID] {
		return false
	}

	q.pending[task.ListingID] = true
	q.items = append(q.items, task)

	// Signal waiting workers
	q.cond.Signal()

	return true
}

// Pop removes and returns the first task from the queue
// Blocks if queue is empty and not stopped
// Returns (task, true) if successful, (empty, false) if stopped and empty
func (q *Queue) Pop() (catalog.EnrichmentTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		// If we have tasks, return the first one
		if len(q.items) > 0 {
			task := q.items[0]
			q.items = q.items[1:]
			delete(q.pending, task.ListingID)
			return task, true
		}

		// Queue is empty - check if stopped
		if q.stopped {
			return catalog.EnrichmentTask{}, false
		}

		// Queue is empty but not stopped - wait for new tasks
		q.cond.Wait()
	}
}

// IsEmpty returns true if the queue has no tasks
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// Size returns the current number of tasks in the queue
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop signals the queue to stop accepting new tasks
// Workers blocked on Pop() will drain remaining tasks, then receive false
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	// Broadcast to wake all waiting workers
	q.cond.Broadcast()
}
