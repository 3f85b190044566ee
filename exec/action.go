package exec

import (
	"context"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec/checkpoint"
)

// Action is the callable a job wraps. See checkpoint.Action for the
// signature contract; the alias keeps call sites in this package free
// of the subpackage import.
type Action = checkpoint.Action

// ActionFunc adapts a plain function that ignores arguments into an
// Action. Convenient for administrative actions whose inputs are
// closed over at enqueue time.
//
//	proc, err := ex.EnqueueProcedure(ctx, false, exec.ActionFunc(func(ctx context.Context) (any, error) {
//	    return rebalance(ctx, shard)
//	}), "shard.rebalance", "Rebalance shard", nil, nil, nil)
func ActionFunc(fn func(ctx context.Context) (any, error)) Action {
	return func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
		return fn(ctx)
	}
}

// ActionSpec describes one action to schedule. EnqueueProcedures takes
// a batch of specs; each spec becomes one job.
type ActionSpec struct {
	// Action is the callable to execute. Must be non-nil.
	Action Action

	// FQN is the action's fully-qualified name, used for checkpoint
	// lookup after a restart (e.g. "server.promote").
	FQN string

	// Description is free text recorded in the job's first status
	// entry.
	Description string

	// Args and Kwargs are handed to the action on execution.
	Args   []any
	Kwargs map[string]any

	// JobUUID optionally pins the job's identity; used when replaying
	// checkpointed jobs. uuid.Nil means a fresh UUID.
	JobUUID uuid.UUID
}
