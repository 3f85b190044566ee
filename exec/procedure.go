package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec/checkpoint"
)

// DefaultLockableObject is the lock every procedure contends for when
// no explicit lockable set is given. It serializes all such procedures
// against each other.
const DefaultLockableObject = "lock"

// Procedure is the context within which jobs execute, the unit of
// admission control, and the synchronization handle returned to
// callers.
//
// A job always belongs to exactly one procedure; a procedure may own
// several jobs. A newly created job enters the procedure's scheduled
// set and moves to the executed list when it finishes. While a job
// runs it may schedule further jobs under the same procedure.
//
// A procedure is complete when a job finishes and no scheduled jobs
// remain. Completion is final: the flag never flips back, all waiters
// are woken, and the procedure's checkpoints are removed.
//
// Result contract: Result is the result of the last executed job with
// a non-nil result. Executed order equals insertion order, because a
// procedure is pinned to a single worker whose queue is FIFO.
type Procedure struct {
	id       uuid.UUID
	lockable []string
	priority bool

	mu        sync.Mutex
	cond      *sync.Cond
	complete  bool
	result    any
	scheduled map[uuid.UUID]*Job
	// order keeps the scheduled set's insertion order so queue seeding
	// is deterministic.
	order    []uuid.UUID
	executed []*Job
	status   []Status
}

// NewProcedure creates a procedure. A uuid.Nil id autogenerates one;
// an empty lockable set defaults to {DefaultLockableObject}.
func NewProcedure(id uuid.UUID, lockableObjects []string) *Procedure {
	if id == uuid.Nil {
		id = uuid.New()
	}
	p := &Procedure{
		id:        id,
		lockable:  lockableObjects,
		result:    true,
		scheduled: make(map[uuid.UUID]*Job),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// UUID returns the procedure's identity.
func (p *Procedure) UUID() uuid.UUID {
	return p.id
}

// Equal reports identity: two procedures are equal iff their UUIDs
// match.
func (p *Procedure) Equal(other *Procedure) bool {
	return other != nil && p.id == other.id
}

// LockableObjects returns the objects that must be locked before this
// procedure starts executing.
func (p *Procedure) LockableObjects() []string {
	if len(p.lockable) == 0 {
		return []string{DefaultLockableObject}
	}
	return p.lockable
}

// Priority reports whether this procedure is admitted ahead of others
// contending for a common subset of objects.
func (p *Procedure) Priority() bool {
	return p.priority
}

// SetHighPriority marks the procedure for preferred admission. Only
// meaningful before the procedure is handed to the scheduler.
func (p *Procedure) SetHighPriority() {
	p.priority = true
}

// IsComplete reports whether the procedure has finished.
func (p *Procedure) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

// ScheduledJobs returns the jobs scheduled on behalf of this
// procedure, in the order they were added.
func (p *Procedure) ScheduledJobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := make([]*Job, 0, len(p.scheduled))
	for _, id := range p.order {
		if job, ok := p.scheduled[id]; ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// ExecutedJobs returns the jobs executed on behalf of this procedure,
// in execution order.
func (p *Procedure) ExecutedJobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := make([]*Job, len(p.executed))
	copy(jobs, p.executed)
	return jobs
}

// Result returns the procedure's aggregate result: the result of the
// last executed job with a non-nil result. Fails when the procedure
// has not completed.
func (p *Procedure) Result() (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.complete {
		return nil, &ExecError{
			Message: "result read before procedure completion",
			Code:    CodeInvariantViolation,
		}
	}
	return p.result, nil
}

// Status returns the concatenated status entries of all executed jobs.
// Fails when the procedure has not completed.
func (p *Procedure) Status() ([]Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.complete {
		return nil, &ExecError{
			Message: "status read before procedure completion",
			Code:    CodeInvariantViolation,
		}
	}
	out := make([]Status, len(p.status))
	copy(out, p.status)
	return out, nil
}

// Wait blocks until the procedure completes. Spurious wake-ups are
// tolerated by re-checking the completion flag.
func (p *Procedure) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.complete {
		p.cond.Wait()
	}
}

// addScheduledJob registers that a job has been scheduled on behalf of
// the procedure. Fails with an invariant violation when the procedure
// is already complete or the job is already known.
func (p *Procedure) addScheduledJob(job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.complete {
		return &ExecError{
			Message: fmt.Sprintf("cannot schedule job on complete procedure (%s)", p.id),
			Code:    CodeInvariantViolation,
		}
	}
	if _, known := p.scheduled[job.UUID()]; known {
		return &ExecError{
			Message: fmt.Sprintf("job (%s) already scheduled", job.UUID()),
			Code:    CodeInvariantViolation,
		}
	}
	for _, executed := range p.executed {
		if executed.UUID() == job.UUID() {
			return &ExecError{
				Message: fmt.Sprintf("job (%s) already executed", job.UUID()),
				Code:    CodeInvariantViolation,
			}
		}
	}
	if job.Procedure() != p {
		return &ExecError{
			Message: fmt.Sprintf("job (%s) belongs to another procedure", job.UUID()),
			Code:    CodeInvariantViolation,
		}
	}

	p.scheduled[job.UUID()] = job
	p.order = append(p.order, job.UUID())
	return nil
}

// addExecutedJob moves a job from the scheduled set to the executed
// list, folds its result and status into the aggregate, and completes
// the procedure when the scheduled set drains. Completion wakes every
// waiter and removes the procedure's checkpoints through the job's
// store.
func (p *Procedure) addExecutedJob(job *Job) error {
	p.mu.Lock()

	if p.complete {
		p.mu.Unlock()
		return &ExecError{
			Message: fmt.Sprintf("executed job on complete procedure (%s)", p.id),
			Code:    CodeInvariantViolation,
		}
	}
	if _, known := p.scheduled[job.UUID()]; !known {
		p.mu.Unlock()
		return &ExecError{
			Message: fmt.Sprintf("job (%s) was never scheduled", job.UUID()),
			Code:    CodeInvariantViolation,
		}
	}

	delete(p.scheduled, job.UUID())
	p.executed = append(p.executed, job)

	if res := job.rawResult(); res != nil {
		p.result = res
	}
	p.status = append(p.status, job.rawStatus()...)

	completed := len(p.scheduled) == 0
	var store checkpoint.Store
	if completed {
		p.complete = true
		p.cond.Broadcast()
		store = job.checkpointStore()
	}
	p.mu.Unlock()

	// Checkpoint removal happens outside the procedure lock; store
	// calls may block on the database.
	if completed && store != nil {
		return store.Remove(context.Background(), p.id)
	}
	return nil
}
