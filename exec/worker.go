package exec

import (
	"context"

	"github.com/mslade/fabricexec-go/exec/emit"
	"github.com/mslade/fabricexec-go/exec/persistence"
)

// contextKey is a private type used for context value keys to avoid
// collisions with other packages.
type contextKey string

// workerKey carries the executing Worker through the action-invocation
// boundary. It is the task-local slot that lets the facade distinguish
// inside-job from outside-job callers without explicit plumbing.
const workerKey contextKey = "fabricexec.worker"

// withWorker publishes w as the current executor worker for the
// duration of an action.
func withWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerKey, w)
}

// WorkerFromContext returns the Worker executing the current action,
// or nil when the context does not originate from a worker. Contexts
// handed to actions always carry their worker.
func WorkerFromContext(ctx context.Context) *Worker {
	w, _ := ctx.Value(workerKey).(*Worker)
	return w
}

// Worker is a long-lived task that drains one procedure's jobs at a
// time under one database session.
//
// The worker pulls a procedure from the scheduler, seeds its queue
// with the procedure's scheduled jobs, executes them sequentially, and
// asks the scheduler for the next admitted procedure once the current
// one completes. A nil procedure from the scheduler terminates the
// worker.
//
// A procedure is pinned to its worker for its whole lifetime, so jobs
// of one procedure never interleave across workers.
type Worker struct {
	name      string
	scheduler Scheduler
	queue     *JobQueue
	factory   persistence.Factory
	emitter   emit.Emitter
	metrics   *Metrics

	persister persistence.Persister
	job       *Job

	done chan struct{}
}

// NewWorker creates a worker bound to a scheduler. queueCapacity 0
// gives an unbounded job queue.
func NewWorker(name string, scheduler Scheduler, factory persistence.Factory, queueCapacity int, emitter emit.Emitter, metrics *Metrics) *Worker {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	queue := NewJobQueue(queueCapacity)
	queue.metrics = metrics
	return &Worker{
		name:      name,
		scheduler: scheduler,
		queue:     queue,
		factory:   factory,
		emitter:   emitter,
		metrics:   metrics,
		done:      make(chan struct{}),
	}
}

// Name returns the worker's name.
func (w *Worker) Name() string {
	return w.name
}

// Queue returns the worker's job queue. Nested submissions from inside
// a running job land here.
func (w *Worker) Queue() *JobQueue {
	return w.queue
}

// CurrentJob returns the job the worker is executing, or nil between
// jobs. Only meaningful when called from the worker's own goroutine,
// i.e. from inside an action.
func (w *Worker) CurrentJob() *Job {
	return w.job
}

// Start launches the worker's task.
func (w *Worker) Start() {
	go w.run()
}

// Join blocks until the worker's task has terminated.
func (w *Worker) Join() {
	<-w.done
}

// run executes the worker loop: repeatedly read procedures from the
// scheduler and drain their jobs.
//
// The worker constructs its own persister; a factory failure is fatal
// to this worker only.
func (w *Worker) run() {
	defer close(w.done)

	persister, err := w.factory()
	if err != nil {
		w.emitter.Emit(emit.Event{
			Msg:  "worker_failed",
			Meta: map[string]any{"worker": w.name, "error": err.Error()},
		})
		return
	}
	w.persister = persister
	defer func() { _ = persister.Close() }()

	w.metrics.WorkerStarted()
	defer w.metrics.WorkerStopped()
	w.emitter.Emit(emit.Event{
		Msg:  "worker_started",
		Meta: map[string]any{"worker": w.name},
	})
	defer w.emitter.Emit(emit.Event{
		Msg:  "worker_stopped",
		Meta: map[string]any{"worker": w.name},
	})

	ctx := withWorker(context.Background(), w)

	var procedure *Procedure
	for {
		if procedure == nil || procedure.IsComplete() {
			procedure = w.nextProcedure(procedure)
			if procedure == nil {
				return
			}
		}

		job := w.queue.Get()
		if job == nil {
			return
		}

		w.job = job
		job.Execute(ctx, w.persister, w.scheduler, w.queue)
		w.job = nil
		w.queue.Done()
	}
}

// nextProcedure releases the previous procedure's locks and blocks for
// the next admitted one, seeding the queue with its scheduled jobs.
func (w *Worker) nextProcedure(prev *Procedure) *Procedure {
	w.scheduler.Done(prev)
	procedure := w.scheduler.NextProcedure()
	if procedure != nil {
		w.metrics.IncProcedures()
		w.queue.Schedule(procedure.ScheduledJobs())
	}
	return procedure
}
