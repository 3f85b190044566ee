package exec_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec"
	"github.com/mslade/fabricexec-go/exec/checkpoint"
	"github.com/mslade/fabricexec-go/exec/emit"
)

func TestRecoverReplaysUnfinishedCheckpoints(t *testing.T) {
	store := checkpoint.NewMemStore()
	ctx := context.Background()

	// Simulate a crashed process: a checkpoint was registered and
	// begun, but never finished.
	procUUID := uuid.New()
	jobUUID := uuid.New()
	cp := checkpoint.New(procUUID, []string{"shard-1"}, jobUUID, "test.recoverable",
		[]any{"arg"}, map[string]any{"k": "v"})
	if err := store.Register(ctx, []*checkpoint.Checkpoint{cp}, false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := store.Begin(ctx, cp); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	// The new process registers the action before recovering.
	registry := checkpoint.NewRegistry()
	executedArgs := make(chan []any, 1)
	registry.Register("test.recoverable", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		executedArgs <- args
		return "recovered", nil
	})

	factory := &fakeFactory{}
	ex := exec.New(exec.NewLockScheduler(), registry, store, factory.factory(), exec.WithWorkers(1))
	if err := ex.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = ex.Shutdown() })

	if err := ex.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	args := <-executedArgs
	if len(args) != 1 || args[0] != "arg" {
		t.Errorf("replayed args = %v, want [arg]", args)
	}

	// The replayed procedure runs under its original identity; wait
	// for it to finish through the index.
	procedure := ex.GetProcedure(procUUID)
	if procedure == nil {
		t.Fatal("recovered procedure is not indexed under its original uuid")
	}
	if err := ex.WaitForProcedure(ctx, procedure); err != nil {
		t.Fatalf("WaitForProcedure failed: %v", err)
	}
	result, _ := procedure.Result()
	if result != "recovered" {
		t.Errorf("result = %v, want recovered", result)
	}
}

func TestRecoverSkipsUnresolvableActions(t *testing.T) {
	store := checkpoint.NewMemStore()
	ctx := context.Background()

	cp := checkpoint.New(uuid.New(), nil, uuid.New(), "test.gone", nil, nil)
	if err := store.Register(ctx, []*checkpoint.Checkpoint{cp}, true); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	emitter := emit.NewBufferedEmitter()
	ex := exec.New(exec.NewLockScheduler(), checkpoint.NewRegistry(), store, (&fakeFactory{}).factory(),
		exec.WithWorkers(1), exec.WithEmitter(emitter))
	if err := ex.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = ex.Shutdown() })

	if err := ex.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	skipped := emitter.HistoryWithFilter(cp.ProcedureUUID.String(), emit.HistoryFilter{Msg: "recovery_skipped"})
	if len(skipped) != 1 {
		t.Errorf("expected one recovery_skipped event, got %d", len(skipped))
	}
}

func TestRecoverRequiresRunningExecutor(t *testing.T) {
	ex := exec.New(exec.NewLockScheduler(), checkpoint.NewRegistry(), checkpoint.NewMemStore(), (&fakeFactory{}).factory())
	if err := ex.Recover(context.Background()); exec.CodeOf(err) != exec.CodeNotRunning {
		t.Errorf("expected NOT_RUNNING, got %v", err)
	}
}
