// Package checkpoint records durable execution intent so that partially
// executed procedures can be rescheduled after a crash.
package checkpoint

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Action is the unit of executable work. Arguments are an ordered
// sequence plus a key/value map, mirroring the call shapes procedures
// are submitted with. The context carries the executing worker and its
// transactional session; blocking actions must honor cancellation.
//
// An action returns its result, which becomes the job's result, or an
// error, which marks the job as failed and rolls the transaction back.
type Action func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Checkpoint is the durable intent record for a single job: enough to
// re-create the job after a restart (owning procedure, lock set, the
// action's fully-qualified name and its arguments).
//
// A checkpoint is begun before the action runs, finished after the
// action succeeds, and removed when the owning procedure completes.
// A record that was begun but never finished marks a job that must be
// replayed during recovery.
type Checkpoint struct {
	// ProcedureUUID identifies the owning procedure.
	ProcedureUUID uuid.UUID `json:"procedure_uuid"`

	// LockableObjects is the procedure's lock set, needed so the
	// replayed procedure contends for the same resources.
	LockableObjects []string `json:"lockable_objects"`

	// JobUUID identifies the job this record belongs to.
	JobUUID uuid.UUID `json:"job_uuid"`

	// ActionFQN is the fully-qualified action name used to look the
	// action up in the Registry after a restart.
	ActionFQN string `json:"action_fqn"`

	// Args and Kwargs are the action's arguments. They must be
	// JSON-serializable for persistence.
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// New creates a checkpoint record for a job. The record is not durable
// until it is handed to a Store via Register.
func New(procUUID uuid.UUID, lockableObjects []string, jobUUID uuid.UUID, actionFQN string, args []any, kwargs map[string]any) *Checkpoint {
	return &Checkpoint{
		ProcedureUUID:   procUUID,
		LockableObjects: lockableObjects,
		JobUUID:         jobUUID,
		ActionFQN:       actionFQN,
		Args:            args,
		Kwargs:          kwargs,
	}
}

// Store persists checkpoint records.
//
// Implementations:
//   - MemStore: in-memory, for tests and non-durable deployments.
//   - SQLiteStore: single-file database (modernc.org/sqlite).
//   - MySQLStore: shared database (go-sql-driver/mysql).
//
// All methods are safe for concurrent use by multiple workers.
type Store interface {
	// Register durably records a batch of checkpoints. The recoverable
	// flag distinguishes jobs staged from inside a committed job
	// (true) from top-level submissions (false); it is recorded as
	// provenance metadata.
	//
	// The batch is written atomically: either every record is durable
	// or none is.
	Register(ctx context.Context, checkpoints []*Checkpoint, recoverable bool) error

	// Begin marks a checkpoint as started, before its action runs.
	Begin(ctx context.Context, cp *Checkpoint) error

	// Finish marks a checkpoint as finished, after its action
	// succeeded but before the transaction commits.
	Finish(ctx context.Context, cp *Checkpoint) error

	// Remove deletes every checkpoint belonging to a procedure. Called
	// when the procedure completes. Removing an unknown procedure is
	// not an error.
	Remove(ctx context.Context, procUUID uuid.UUID) error

	// Unfinished returns the checkpoints that were never finished, in
	// registration order. These are the jobs a recovery pass must
	// reschedule (those whose action names still resolve).
	Unfinished(ctx context.Context) ([]*Checkpoint, error)
}

// Registry maps fully-qualified action names to their implementations.
//
// Registration is what makes an action recoverable: a checkpoint can
// only be replayed if its ActionFQN resolves here after a restart.
// Actions that are executed without being registered still run, but
// the executor warns that they cannot be restored after a failure.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register binds an action to its fully-qualified name. Registering
// the same name twice replaces the previous binding.
func (r *Registry) Register(fqn string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[fqn] = action
}

// Resolve returns the action registered under fqn, or false when the
// name is unknown.
func (r *Registry) Resolve(fqn string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[fqn]
	return action, ok
}

// IsRecoverable reports whether an action name can be resolved after a
// restart, i.e. whether jobs running it can be replayed from their
// checkpoints.
func (r *Registry) IsRecoverable(fqn string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[fqn]
	return ok
}

