package checkpoint_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec/checkpoint"
)

func testAction(_ context.Context, _ []any, _ map[string]any) (any, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	registry := checkpoint.NewRegistry()

	t.Run("unknown action", func(t *testing.T) {
		if registry.IsRecoverable("server.promote") {
			t.Error("unregistered action reported recoverable")
		}
		if _, ok := registry.Resolve("server.promote"); ok {
			t.Error("unregistered action resolved")
		}
	})

	t.Run("registered action", func(t *testing.T) {
		registry.Register("server.promote", testAction)
		if !registry.IsRecoverable("server.promote") {
			t.Error("registered action not recoverable")
		}
		action, ok := registry.Resolve("server.promote")
		if !ok || action == nil {
			t.Error("registered action did not resolve")
		}
	})
}

// storeUnderTest runs the Store contract tests against any
// implementation.
func storeUnderTest(t *testing.T, store checkpoint.Store) {
	ctx := context.Background()

	procA := uuid.New()
	procB := uuid.New()
	cp1 := checkpoint.New(procA, []string{"lock"}, uuid.New(), "test.first", []any{float64(1)}, nil)
	cp2 := checkpoint.New(procA, []string{"lock"}, uuid.New(), "test.second", nil, map[string]any{"key": "value"})
	cp3 := checkpoint.New(procB, []string{"other"}, uuid.New(), "test.third", nil, nil)

	t.Run("register and list unfinished in order", func(t *testing.T) {
		if err := store.Register(ctx, []*checkpoint.Checkpoint{cp1, cp2}, true); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if err := store.Register(ctx, []*checkpoint.Checkpoint{cp3}, false); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		unfinished, err := store.Unfinished(ctx)
		if err != nil {
			t.Fatalf("Unfinished failed: %v", err)
		}
		if len(unfinished) != 3 {
			t.Fatalf("unfinished = %d records, want 3", len(unfinished))
		}
		wantOrder := []uuid.UUID{cp1.JobUUID, cp2.JobUUID, cp3.JobUUID}
		for i, cp := range unfinished {
			if cp.JobUUID != wantOrder[i] {
				t.Errorf("unfinished[%d] = %s, want %s", i, cp.JobUUID, wantOrder[i])
			}
		}
	})

	t.Run("payload round trip", func(t *testing.T) {
		unfinished, err := store.Unfinished(ctx)
		if err != nil {
			t.Fatalf("Unfinished failed: %v", err)
		}
		first := unfinished[0]
		if first.ActionFQN != "test.first" {
			t.Errorf("action fqn = %s", first.ActionFQN)
		}
		if first.ProcedureUUID != procA {
			t.Errorf("procedure uuid = %s, want %s", first.ProcedureUUID, procA)
		}
		if len(first.LockableObjects) != 1 || first.LockableObjects[0] != "lock" {
			t.Errorf("lockable objects = %v", first.LockableObjects)
		}
		if len(first.Args) != 1 {
			t.Errorf("args = %v", first.Args)
		}
	})

	t.Run("duplicate registration is ignored", func(t *testing.T) {
		if err := store.Register(ctx, []*checkpoint.Checkpoint{cp1}, true); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		unfinished, _ := store.Unfinished(ctx)
		if len(unfinished) != 3 {
			t.Errorf("duplicate registration changed the record count: %d", len(unfinished))
		}
	})

	t.Run("finish removes from unfinished", func(t *testing.T) {
		if err := store.Begin(ctx, cp1); err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if err := store.Finish(ctx, cp1); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
		unfinished, _ := store.Unfinished(ctx)
		for _, cp := range unfinished {
			if cp.JobUUID == cp1.JobUUID {
				t.Error("finished checkpoint still listed as unfinished")
			}
		}
	})

	t.Run("finish unknown checkpoint", func(t *testing.T) {
		ghost := checkpoint.New(uuid.New(), nil, uuid.New(), "test.ghost", nil, nil)
		if err := store.Finish(ctx, ghost); err == nil {
			t.Error("finishing an unknown checkpoint should fail")
		}
	})

	t.Run("begin upserts unknown checkpoint", func(t *testing.T) {
		late := checkpoint.New(procB, []string{"other"}, uuid.New(), "test.late", nil, nil)
		if err := store.Begin(ctx, late); err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		unfinished, _ := store.Unfinished(ctx)
		found := false
		for _, cp := range unfinished {
			if cp.JobUUID == late.JobUUID {
				found = true
			}
		}
		if !found {
			t.Error("begun checkpoint missing from unfinished")
		}
	})

	t.Run("remove deletes a whole procedure", func(t *testing.T) {
		if err := store.Remove(ctx, procA); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		unfinished, _ := store.Unfinished(ctx)
		for _, cp := range unfinished {
			if cp.ProcedureUUID == procA {
				t.Error("checkpoint of removed procedure still present")
			}
		}

		// Removing an unknown procedure is silent.
		if err := store.Remove(ctx, uuid.New()); err != nil {
			t.Errorf("Remove(unknown) = %v, want nil", err)
		}
	})
}

func TestMemStore(t *testing.T) {
	storeUnderTest(t, checkpoint.NewMemStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	storeUnderTest(t, store)
}

func TestSQLiteStoreClosed(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := store.Register(context.Background(), nil, true); err == nil {
		t.Error("closed store accepted a registration")
	}
	if _, err := store.Unfinished(context.Background()); err == nil {
		t.Error("closed store answered a query")
	}
}
