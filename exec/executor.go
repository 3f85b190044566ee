package exec

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec/checkpoint"
	"github.com/mslade/fabricexec-go/exec/emit"
	"github.com/mslade/fabricexec-go/exec/persistence"
)

// Executor is the dispatch facade of the execution core: it owns the
// worker pool and the index of live procedures, and implements
// procedure submission, rescheduling, and synchronous waiting.
//
// One Executor serves a whole process. Construct it after the
// scheduler and checkpoint store, call Start to launch workers and
// Shutdown to drain them.
//
// The procedure index holds weak references: the owning reference is
// the handle returned from EnqueueProcedure. Once the caller drops it
// and the procedure is unreachable, the index entry is reclaimed, so
// completed, forgotten procedures do not accumulate.
type Executor struct {
	scheduler Scheduler
	registry  *checkpoint.Registry
	store     checkpoint.Store
	factory   persistence.Factory
	emitter   emit.Emitter
	metrics   *Metrics
	queueCap  int

	procMu     sync.Mutex
	procedures map[uuid.UUID]weak.Pointer[Procedure]

	workerMu   sync.Mutex
	workers    []*Worker
	numWorkers int
}

// New creates an executor bound to its collaborators. The scheduler
// arbitrates admission, the registry resolves action names, the store
// persists checkpoints, and the factory builds one persister per
// worker.
func New(scheduler Scheduler, registry *checkpoint.Registry, store checkpoint.Store, factory persistence.Factory, opts ...Option) *Executor {
	e := &Executor{
		scheduler:  scheduler,
		registry:   registry,
		store:      store,
		factory:    factory,
		emitter:    emit.NewNullEmitter(),
		procedures: make(map[uuid.UUID]weak.Pointer[Procedure]),
		numWorkers: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetWorkerCount sets the number of concurrent workers. Fails with
// ErrAlreadyRunning once workers exist.
func (e *Executor) SetWorkerCount(n int) error {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if len(e.workers) > 0 {
		return ErrAlreadyRunning
	}
	if n < 1 {
		n = 1
	}
	e.numWorkers = n
	return nil
}

// Start constructs and launches the configured number of workers.
// Fails with ErrAlreadyRunning if workers exist.
func (e *Executor) Start() error {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()

	if len(e.workers) > 0 {
		return ErrAlreadyRunning
	}

	for i := 0; i < e.numWorkers; i++ {
		worker := NewWorker(
			fmt.Sprintf("Executor-%d", i),
			e.scheduler, e.factory, e.queueCap, e.emitter, e.metrics,
		)
		worker.Start()
		e.workers = append(e.workers, worker)
	}
	return nil
}

// Shutdown drains the worker pool: it enqueues one nil sentinel per
// worker into the scheduler and joins each worker. A worker in the
// middle of a job finishes it before observing the sentinel. Fails
// with ErrNotRunning if no workers exist.
func (e *Executor) Shutdown() error {
	e.workerMu.Lock()
	workers := e.workers
	e.workers = nil
	e.workerMu.Unlock()

	if len(workers) == 0 {
		return ErrNotRunning
	}

	for range workers {
		e.scheduler.EnqueueProcedure(nil)
	}
	for _, worker := range workers {
		worker.Join()
	}
	return nil
}

// Wait joins all workers without initiating shutdown. It returns when
// the workers have terminated, i.e. after some other caller invoked
// Shutdown.
func (e *Executor) Wait() {
	e.workerMu.Lock()
	workers := make([]*Worker, len(e.workers))
	copy(workers, e.workers)
	e.workerMu.Unlock()

	for _, worker := range workers {
		worker.Join()
	}
}

// EnqueueProcedure schedules a single action and returns its
// procedure. A thin wrapper over EnqueueProcedures; see there for the
// dispatch rules.
func (e *Executor) EnqueueProcedure(ctx context.Context, withinProcedure bool, action Action, fqn, description string, lockableObjects []string, args []any, kwargs map[string]any) (*Procedure, error) {
	procedures, err := e.EnqueueProcedures(ctx, withinProcedure, []ActionSpec{{
		Action:      action,
		FQN:         fqn,
		Description: description,
		Args:        args,
		Kwargs:      kwargs,
	}}, lockableObjects)
	if err != nil {
		return nil, err
	}
	return procedures[0], nil
}

// EnqueueProcedures schedules a batch of actions. Dispatch depends on
// the caller's context:
//
//   - Outside any job, withinProcedure true: CodeProgramming — one can
//     only create a new job from a job.
//   - Outside any job, withinProcedure false: one fresh procedure per
//     action, jobs registered with the checkpoint store as top-level,
//     procedures pushed into the scheduler.
//   - Inside a job, withinProcedure true: jobs attach to the caller's
//     procedure and are staged on the current job; they enter the
//     worker's queue after the current job commits.
//   - Inside a job, withinProcedure false: fresh procedures staged on
//     the current job; their jobs are registered with the checkpoint
//     store just before the current job commits, and the procedures
//     are offered to the scheduler only after the commit succeeds.
//
// The context decides "inside a job": contexts handed to actions carry
// their worker, any other context is outside.
func (e *Executor) EnqueueProcedures(ctx context.Context, withinProcedure bool, actions []ActionSpec, lockableObjects []string) ([]*Procedure, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	if err := e.assertRunning(); err != nil {
		return nil, err
	}

	worker := WorkerFromContext(ctx)
	if worker == nil {
		if withinProcedure {
			return nil, &ExecError{
				Message: "one can only create a new job from a job",
				Code:    CodeProgramming,
			}
		}
		procedures, jobs, err := e.createJobs(actions, lockableObjects, uuid.Nil)
		if err != nil {
			return nil, err
		}
		if e.store != nil {
			if err := e.store.Register(ctx, checkpointsOf(jobs), false); err != nil {
				return nil, &ExecError{
					Message: fmt.Sprintf("failed to register top-level jobs: %v", err),
					Code:    CodeDatabase,
				}
			}
		}
		e.scheduler.EnqueueProcedures(procedures)
		return procedures, nil
	}

	currentJob := worker.CurrentJob()
	if currentJob == nil {
		return nil, &ExecError{
			Message: "worker context without a current job",
			Code:    CodeInvariantViolation,
		}
	}

	if withinProcedure {
		current := currentJob.Procedure()
		procedures, jobs, err := e.createJobs(actions, lockableObjects, current.UUID())
		if err != nil {
			return nil, err
		}
		for _, procedure := range procedures {
			if !procedure.Equal(current) {
				return nil, &ExecError{
					Message: "within-procedure job attached to a foreign procedure",
					Code:    CodeInvariantViolation,
				}
			}
		}
		currentJob.AppendJobs(jobs)
		return procedures, nil
	}

	procedures, _, err := e.createJobs(actions, lockableObjects, uuid.Nil)
	if err != nil {
		return nil, err
	}
	currentJob.AppendProcedures(procedures)
	return procedures, nil
}

// RescheduleProcedure replays a procedure after crash recovery:
// it recreates the given actions as jobs under the existing procedure
// UUID and hands the result to the scheduler. Must not be called from
// inside a job.
func (e *Executor) RescheduleProcedure(ctx context.Context, procUUID uuid.UUID, actions []ActionSpec, lockableObjects []string) ([]*Procedure, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	if err := e.assertRunning(); err != nil {
		return nil, err
	}
	if WorkerFromContext(ctx) != nil {
		return nil, &ExecError{
			Message: "one cannot reschedule a procedure from a job",
			Code:    CodeProgramming,
		}
	}

	procedures, _, err := e.createJobs(actions, lockableObjects, procUUID)
	if err != nil {
		return nil, err
	}
	e.scheduler.EnqueueProcedures(procedures)
	return procedures, nil
}

// RemoveProcedure forces eviction of a procedure from the weak index.
// The procedure must be complete; removing an unknown UUID is silent.
func (e *Executor) RemoveProcedure(procUUID uuid.UUID) error {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	wp, ok := e.procedures[procUUID]
	if !ok {
		return nil
	}
	if procedure := wp.Value(); procedure != nil && !procedure.IsComplete() {
		return &ExecError{
			Message: fmt.Sprintf("cannot remove incomplete procedure (%s)", procUUID),
			Code:    CodeInvariantViolation,
		}
	}
	delete(e.procedures, procUUID)
	return nil
}

// GetProcedure retrieves a live procedure by UUID, or nil when the
// procedure is unknown or already reclaimed.
func (e *Executor) GetProcedure(procUUID uuid.UUID) *Procedure {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	wp, ok := e.procedures[procUUID]
	if !ok {
		return nil
	}
	return wp.Value()
}

// WaitForProcedure blocks until the procedure finishes all its jobs.
// Forbidden from inside a job: a worker waiting on work that only its
// own queue can produce would deadlock.
func (e *Executor) WaitForProcedure(ctx context.Context, procedure *Procedure) error {
	if WorkerFromContext(ctx) != nil {
		return &ExecError{
			Message: "one cannot wait for the execution of a procedure from a job",
			Code:    CodeProgramming,
		}
	}
	procedure.Wait()
	return nil
}

// assertRunning verifies that workers exist. The check does not hold
// the lock through the subsequent enqueue, so a racing Shutdown can
// drain workers while a submission proceeds; the procedure then waits
// in the scheduler until the next Start.
func (e *Executor) assertRunning() error {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if len(e.workers) == 0 {
		return ErrNotRunning
	}
	return nil
}

// createJobs builds one job per action. With procUUID == uuid.Nil each
// job gets a fresh procedure; otherwise every job attaches to the
// procedure with that UUID (resolving through the weak index, creating
// it when absent). Returns the distinct procedures in creation order.
func (e *Executor) createJobs(actions []ActionSpec, lockableObjects []string, procUUID uuid.UUID) ([]*Procedure, []*Job, error) {
	var procedures []*Procedure
	seen := make(map[uuid.UUID]bool)
	jobs := make([]*Job, 0, len(actions))

	for _, spec := range actions {
		procedure := e.procedureFor(procUUID, lockableObjects)
		job, err := NewJob(procedure, spec, e.registry, e.store, e.emitter, e.metrics)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
		if !seen[procedure.UUID()] {
			seen[procedure.UUID()] = true
			procedures = append(procedures, procedure)
		}
	}
	return procedures, jobs, nil
}

// procedureFor resolves procUUID through the weak index, creating and
// indexing a new procedure when the UUID is absent, reclaimed, or nil.
func (e *Executor) procedureFor(procUUID uuid.UUID, lockableObjects []string) *Procedure {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	if procUUID != uuid.Nil {
		if wp, ok := e.procedures[procUUID]; ok {
			if procedure := wp.Value(); procedure != nil {
				return procedure
			}
		}
	}

	procedure := NewProcedure(procUUID, lockableObjects)
	e.procedures[procedure.UUID()] = weak.Make(procedure)

	// Prune the index entry once the caller's strong reference is
	// gone. The cleanup argument must not keep the procedure alive, so
	// only the UUID is captured.
	runtime.AddCleanup(procedure, func(id uuid.UUID) {
		e.pruneProcedure(id)
	}, procedure.UUID())

	return procedure
}

// pruneProcedure drops an index entry whose weak pointer died. A live
// entry under the same UUID (a rescheduled procedure) is left alone.
func (e *Executor) pruneProcedure(id uuid.UUID) {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	if wp, ok := e.procedures[id]; ok && wp.Value() == nil {
		delete(e.procedures, id)
	}
}
