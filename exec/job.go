package exec

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec/checkpoint"
	"github.com/mslade/fabricexec-go/exec/emit"
	"github.com/mslade/fabricexec-go/exec/persistence"
)

// Job encapsulates one transactional unit of work, scheduled through
// the executor within the context of a procedure.
//
// A job's state moves strictly Created -> Processing -> Complete; its
// result and status become immutable on completion. Two jobs are equal
// iff their UUIDs match.
type Job struct {
	id          uuid.UUID
	procedure   *Procedure
	action      Action
	fqn         string
	args        []any
	kwargs      map[string]any
	status      []Status
	result      any
	complete    bool
	recoverable bool

	// Staging buckets populated by the action during execution and
	// flushed only on successful commit.
	stagedJobs  []*Job
	stagedProcs []*Procedure

	cp      *checkpoint.Checkpoint
	store   checkpoint.Store
	emitter emit.Emitter
	metrics *Metrics
}

// NewJob creates a job for the given procedure and registers it with
// the procedure's scheduled set.
//
// Fails with CodeNotCallable when the action is nil. When the registry
// does not know the action's FQN the job still runs, but a warning
// event is emitted because the job cannot be replayed after a crash.
func NewJob(
	procedure *Procedure,
	spec ActionSpec,
	registry *checkpoint.Registry,
	store checkpoint.Store,
	emitter emit.Emitter,
	metrics *Metrics,
) (*Job, error) {
	if spec.Action == nil {
		return nil, &ExecError{
			Message: "callable expected",
			Code:    CodeNotCallable,
		}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	id := spec.JobUUID
	if id == uuid.Nil {
		id = uuid.New()
	}

	j := &Job{
		id:          id,
		procedure:   procedure,
		action:      spec.Action,
		fqn:         spec.FQN,
		args:        spec.Args,
		kwargs:      spec.Kwargs,
		recoverable: registry != nil && registry.IsRecoverable(spec.FQN),
		store:       store,
		emitter:     emitter,
		metrics:     metrics,
	}
	j.cp = checkpoint.New(
		procedure.UUID(), procedure.LockableObjects(),
		j.id, j.fqn, j.args, j.kwargs,
	)

	if !j.recoverable {
		emitter.Emit(emit.Event{
			ProcedureID: procedure.UUID().String(),
			JobID:       j.id.String(),
			Action:      j.fqn,
			Msg:         "action_not_recoverable",
			Meta: map[string]any{
				"warning": "after a failure the system may not be able to restore a consistent state",
			},
		})
	}

	j.addStatus(StateCreated, OutcomeSuccess, spec.Description, "")
	if err := procedure.addScheduledJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// UUID returns the job's identity.
func (j *Job) UUID() uuid.UUID {
	return j.id
}

// Equal reports identity: two jobs are equal iff their UUIDs match.
func (j *Job) Equal(other *Job) bool {
	return other != nil && j.id == other.id
}

// Procedure returns the procedure this job belongs to.
func (j *Job) Procedure() *Procedure {
	return j.procedure
}

// ActionFQN returns the fully-qualified action name.
func (j *Job) ActionFQN() string {
	return j.fqn
}

// IsRecoverable reports whether the job's action is registered for
// replay after a crash.
func (j *Job) IsRecoverable() bool {
	return j.recoverable
}

// IsComplete reports whether the job has finished executing.
func (j *Job) IsComplete() bool {
	return j.complete
}

// Checkpoint returns the job's durable intent record.
func (j *Job) Checkpoint() *checkpoint.Checkpoint {
	return j.cp
}

// Result returns the job's result. Fails when the job has not
// completed.
func (j *Job) Result() (any, error) {
	if !j.complete {
		return nil, &ExecError{
			Message: "result read before job completion",
			Code:    CodeInvariantViolation,
		}
	}
	return j.result, nil
}

// Status returns the job's status entries. Fails when the job has not
// completed.
func (j *Job) Status() ([]Status, error) {
	if !j.complete {
		return nil, &ExecError{
			Message: "status read before job completion",
			Code:    CodeInvariantViolation,
		}
	}
	out := make([]Status, len(j.status))
	copy(out, j.status)
	return out, nil
}

// AppendJobs stages jobs to be scheduled on the same procedure after
// the current job commits. Callable only while the job executes.
func (j *Job) AppendJobs(jobs []*Job) {
	j.stagedJobs = append(j.stagedJobs, jobs...)
}

// AppendProcedures stages new procedures to be offered to the
// scheduler after the current job commits. Callable only while the job
// executes.
func (j *Job) AppendProcedures(procedures []*Procedure) {
	j.stagedProcs = append(j.stagedProcs, procedures...)
}

// rawResult returns the result without the completion guard; callers
// inside the package synchronize through the procedure.
func (j *Job) rawResult() any {
	return j.result
}

func (j *Job) rawStatus() []Status {
	return j.status
}

func (j *Job) checkpointStore() checkpoint.Store {
	return j.store
}

func (j *Job) addStatus(state State, outcome Outcome, description, diagnosis string) {
	j.status = append(j.status, Status{
		When:        time.Now(),
		State:       state,
		Outcome:     outcome,
		Description: description,
		Diagnosis:   diagnosis,
	})

	j.emitter.Emit(emit.Event{
		ProcedureID: j.procedure.UUID().String(),
		JobID:       j.id.String(),
		Action:      j.fqn,
		Msg:         "job_" + stateMsg(state),
		Meta:        map[string]any{"outcome": outcome.String()},
	})
}

func stateMsg(state State) string {
	switch state {
	case StateCreated:
		return "created"
	case StateProcessing:
		return "processing"
	default:
		return "complete"
	}
}

// Execute runs the job under the worker's transactional context.
//
// The step ordering is load-bearing:
//
//	status(Processing) -> checkpoint.Begin -> persister.Begin ->
//	action -> register children -> checkpoint.Finish ->
//	persister.Commit -> enqueue children -> status(Complete)
//
// Registering children with the checkpoint store before commit makes
// the intent durable; enqueueing them only after commit guarantees a
// child never runs on behalf of a transaction that failed to commit.
//
// Failures never escape Execute: an action failure rolls the
// transaction back and records an error status; a commit failure is
// logged without reclassifying the job (the success status is appended
// after the commit attempt whether or not the commit succeeded). The
// worker survives regardless.
func (j *Job) Execute(ctx context.Context, persister persistence.Persister, scheduler Scheduler, queue *JobQueue) {
	start := time.Now()
	outcome := "success"

	defer func() {
		j.metrics.ObserveJob(j.fqn, outcome, time.Since(start))
		j.complete = true
		if err := j.procedure.addExecutedJob(j); err != nil {
			j.emitError("procedure_update_failed", err)
		}
	}()

	j.addStatus(StateProcessing, OutcomeSuccess,
		fmt.Sprintf("Executing action (%s).", j.fqn), "")

	if j.recoverable && j.store != nil {
		if err := j.store.Begin(ctx, j.cp); err != nil {
			j.emitError("checkpoint_begin_failed", err)
		}
	}

	result, err := j.runAction(ctx, persister)
	if err != nil {
		outcome = "error"
		if rbErr := persister.Rollback(); rbErr != nil {
			j.metrics.IncRollbackFailures()
			j.emitError("rollback_failed", rbErr)
		} else {
			j.metrics.IncRollbacks()
		}

		j.result = false
		j.addStatus(StateComplete, OutcomeError,
			fmt.Sprintf("Tried to execute action (%s).", j.fqn), err.Error())
		return
	}

	j.result = result
	j.finishCommit(ctx, persister, scheduler, queue)
	j.addStatus(StateComplete, OutcomeSuccess,
		fmt.Sprintf("Executed action (%s).", j.fqn), "")
}

// runAction opens the transaction and invokes the action, converting
// panics into errors whose diagnosis carries the stack trace.
func (j *Job) runAction(ctx context.Context, persister persistence.Persister) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v\n%s", r, debug.Stack())
		}
	}()

	if err := persister.Begin(); err != nil {
		return nil, err
	}

	ctx = persistence.WithPersister(ctx, persister)
	return j.action(ctx, j.args, j.kwargs)
}

// finishCommit runs the post-action success path. Any database error
// in it is logged and stops the remaining steps; in particular staged
// children are only dispatched after a successful commit.
func (j *Job) finishCommit(ctx context.Context, persister persistence.Persister, scheduler Scheduler, queue *JobQueue) {
	if j.store != nil {
		if err := j.store.Register(ctx, checkpointsOf(j.stagedJobs), true); err != nil {
			j.emitError("checkpoint_register_failed", err)
			return
		}
		for _, proc := range j.stagedProcs {
			if executed := proc.ExecutedJobs(); len(executed) != 0 {
				j.emitError("checkpoint_register_failed", &ExecError{
					Message: fmt.Sprintf("staged procedure (%s) already has executed jobs", proc.UUID()),
					Code:    CodeInvariantViolation,
				})
				return
			}
			if err := j.store.Register(ctx, checkpointsOf(proc.ScheduledJobs()), true); err != nil {
				j.emitError("checkpoint_register_failed", err)
				return
			}
		}
		if j.recoverable {
			if err := j.store.Finish(ctx, j.cp); err != nil {
				j.emitError("checkpoint_finish_failed", err)
				return
			}
		}
	}

	if err := persister.Commit(); err != nil {
		j.metrics.IncCommitFailures()
		j.emitError("commit_failed", err)
		return
	}

	queue.Schedule(j.stagedJobs)
	scheduler.EnqueueProcedures(j.stagedProcs)
}

func (j *Job) emitError(msg string, err error) {
	j.emitter.Emit(emit.Event{
		ProcedureID: j.procedure.UUID().String(),
		JobID:       j.id.String(),
		Action:      j.fqn,
		Msg:         msg,
		Meta:        map[string]any{"error": err.Error()},
	})
}

func checkpointsOf(jobs []*Job) []*checkpoint.Checkpoint {
	cps := make([]*checkpoint.Checkpoint, 0, len(jobs))
	for _, job := range jobs {
		cps = append(cps, job.Checkpoint())
	}
	return cps
}
