package exec

import "sync"

// JobQueue is the per-worker FIFO that scheduled jobs are put on.
//
// The owning worker is the sole consumer; producers are the worker
// itself (seeding a procedure, staging children during execution) and
// the executor facade. Get blocks while the queue is empty; Schedule
// blocks while a bounded queue lacks room for the whole batch, so
// consumers observe either the complete batch or none of it.
type JobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []*Job
	capacity int // 0 = unbounded
	pending  int // delivered but not yet acknowledged via Done
	closed   bool
	metrics  *Metrics
}

// NewJobQueue creates a queue. capacity 0 means unbounded.
func NewJobQueue(capacity int) *JobQueue {
	q := &JobQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Get removes and returns the next job, blocking while the queue is
// empty. A nil return is the shutdown sentinel: the queue was closed
// and drained.
func (q *JobQueue) Get() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil
		}
		q.notEmpty.Wait()
	}

	job := q.items[0]
	q.items = q.items[1:]
	q.pending++
	q.metrics.QueueAdd(-1)
	q.notFull.Broadcast()
	return job
}

// Schedule atomically appends a batch of jobs. On a bounded queue the
// call blocks until the whole batch fits, so a consumer never observes
// a partial batch.
func (q *JobQueue) Schedule(jobs []*Job) {
	if len(jobs) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && len(q.items)+len(jobs) > q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return
	}

	q.items = append(q.items, jobs...)
	q.metrics.QueueAdd(len(jobs))
	q.notEmpty.Broadcast()
}

// Done signals that the last job delivered by Get has been processed.
func (q *JobQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending > 0 {
		q.pending--
	}
}

// Len returns the number of queued jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes blocked consumers and producers; Get returns nil once
// the queue drains.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
