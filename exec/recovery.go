package exec

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec/emit"
)

// Recover replays the procedures that have checkpoints which were
// registered but never finished, whether begun or not — the work a
// crash interrupted.
//
// For every unfinished checkpoint, the action FQN is resolved through
// the registry and the job is re-created under its
// original procedure UUID and lockable set, preserving registration
// order within each procedure. Checkpoints whose action name no longer
// resolves are skipped with a warning event: such jobs ran without
// being registered and cannot be restored.
//
// Call Recover after Start; rescheduling requires running workers.
func (e *Executor) Recover(ctx context.Context) error {
	if e.store == nil || e.registry == nil {
		return nil
	}
	if err := e.assertRunning(); err != nil {
		return err
	}

	unfinished, err := e.store.Unfinished(ctx)
	if err != nil {
		return &ExecError{
			Message: fmt.Sprintf("failed to read unfinished checkpoints: %v", err),
			Code:    CodeDatabase,
		}
	}
	if len(unfinished) == 0 {
		return nil
	}

	// Group by procedure, preserving registration order of both the
	// procedures and their jobs.
	type group struct {
		lockable []string
		actions  []ActionSpec
	}
	groups := make(map[uuid.UUID]*group)
	var order []uuid.UUID

	for _, cp := range unfinished {
		action, ok := e.registry.Resolve(cp.ActionFQN)
		if !ok {
			e.emitter.Emit(emit.Event{
				ProcedureID: cp.ProcedureUUID.String(),
				JobID:       cp.JobUUID.String(),
				Action:      cp.ActionFQN,
				Msg:         "recovery_skipped",
				Meta: map[string]any{
					"warning": "action is not registered and cannot be restored",
				},
			})
			continue
		}

		g, ok := groups[cp.ProcedureUUID]
		if !ok {
			g = &group{lockable: cp.LockableObjects}
			groups[cp.ProcedureUUID] = g
			order = append(order, cp.ProcedureUUID)
		}
		g.actions = append(g.actions, ActionSpec{
			Action:      action,
			FQN:         cp.ActionFQN,
			Description: fmt.Sprintf("Recovering action (%s).", cp.ActionFQN),
			Args:        cp.Args,
			Kwargs:      cp.Kwargs,
			JobUUID:     cp.JobUUID,
		})
	}

	for _, procUUID := range order {
		g := groups[procUUID]
		if _, err := e.RescheduleProcedure(ctx, procUUID, g.actions, g.lockable); err != nil {
			return err
		}
		e.emitter.Emit(emit.Event{
			ProcedureID: procUUID.String(),
			Msg:         "recovery_rescheduled",
			Meta:        map[string]any{"jobs": len(g.actions)},
		})
	}
	return nil
}
