package exec_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec"
	"github.com/mslade/fabricexec-go/exec/checkpoint"
	"github.com/mslade/fabricexec-go/exec/emit"
)

func newTestJob(t *testing.T, p *exec.Procedure, spec exec.ActionSpec) *exec.Job {
	t.Helper()
	job, err := exec.NewJob(p, spec, checkpoint.NewRegistry(), checkpoint.NewMemStore(), emit.NewNullEmitter(), nil)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	return job
}

func TestProcedureDefaults(t *testing.T) {
	t.Run("autogenerated uuid", func(t *testing.T) {
		p := exec.NewProcedure(uuid.Nil, nil)
		if p.UUID() == uuid.Nil {
			t.Error("expected autogenerated uuid")
		}
	})

	t.Run("explicit uuid is kept", func(t *testing.T) {
		id := uuid.New()
		p := exec.NewProcedure(id, nil)
		if p.UUID() != id {
			t.Errorf("uuid = %s, want %s", p.UUID(), id)
		}
	})

	t.Run("default lockable set", func(t *testing.T) {
		p := exec.NewProcedure(uuid.Nil, nil)
		objects := p.LockableObjects()
		if len(objects) != 1 || objects[0] != exec.DefaultLockableObject {
			t.Errorf("lockable objects = %v, want [%s]", objects, exec.DefaultLockableObject)
		}
	})

	t.Run("explicit lockable set", func(t *testing.T) {
		p := exec.NewProcedure(uuid.Nil, []string{"shard-1", "shard-2"})
		if got := p.LockableObjects(); len(got) != 2 {
			t.Errorf("lockable objects = %v", got)
		}
	})

	t.Run("default priority is low", func(t *testing.T) {
		p := exec.NewProcedure(uuid.Nil, nil)
		if p.Priority() {
			t.Error("expected low priority by default")
		}
	})
}

func TestProcedureIdentity(t *testing.T) {
	id := uuid.New()
	a := exec.NewProcedure(id, nil)
	b := exec.NewProcedure(id, nil)
	c := exec.NewProcedure(uuid.New(), nil)

	if !a.Equal(b) {
		t.Error("procedures with identical uuids must be equal")
	}
	if a.Equal(c) {
		t.Error("procedures with distinct uuids must differ")
	}
	if a.Equal(nil) {
		t.Error("procedure must not equal nil")
	}
}

func TestProcedureGuards(t *testing.T) {
	t.Run("result before completion", func(t *testing.T) {
		p := exec.NewProcedure(uuid.Nil, nil)
		if _, err := p.Result(); exec.CodeOf(err) != exec.CodeInvariantViolation {
			t.Errorf("expected invariant violation, got %v", err)
		}
	})

	t.Run("status before completion", func(t *testing.T) {
		p := exec.NewProcedure(uuid.Nil, nil)
		if _, err := p.Status(); exec.CodeOf(err) != exec.CodeInvariantViolation {
			t.Errorf("expected invariant violation, got %v", err)
		}
	})

	t.Run("job known to at most one set", func(t *testing.T) {
		p := exec.NewProcedure(uuid.Nil, nil)
		job := newTestJob(t, p, exec.ActionSpec{Action: constAction(1), FQN: "test.one"})

		scheduled := p.ScheduledJobs()
		if len(scheduled) != 1 || !scheduled[0].Equal(job) {
			t.Fatalf("scheduled jobs = %v", scheduled)
		}
		if len(p.ExecutedJobs()) != 0 {
			t.Error("executed jobs should be empty before execution")
		}
	})
}

func TestProcedureCompletion(t *testing.T) {
	p := exec.NewProcedure(uuid.Nil, nil)
	job := newTestJob(t, p, exec.ActionSpec{Action: constAction(42), FQN: "test.answer"})

	if p.IsComplete() {
		t.Fatal("procedure complete before any job executed")
	}

	persister := &fakePersister{}
	queue := exec.NewJobQueue(0)
	job.Execute(context.Background(), persister, &noopScheduler{}, queue)

	if !p.IsComplete() {
		t.Fatal("procedure should complete when its last job executes")
	}
	if len(p.ScheduledJobs()) != 0 {
		t.Error("scheduled set should drain on completion")
	}
	if executed := p.ExecutedJobs(); len(executed) != 1 || !executed[0].Equal(job) {
		t.Errorf("executed jobs = %v", executed)
	}

	result, err := p.Result()
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestProcedureWaitWakesAllWaiters(t *testing.T) {
	p := exec.NewProcedure(uuid.Nil, nil)
	job := newTestJob(t, p, exec.ActionSpec{Action: constAction("done"), FQN: "test.wake"})

	const waiters = 4
	woken := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			p.Wait()
			woken <- struct{}{}
		}()
	}

	// Give the waiters time to block.
	time.Sleep(20 * time.Millisecond)

	job.Execute(context.Background(), &fakePersister{}, &noopScheduler{}, exec.NewJobQueue(0))

	for i := 0; i < waiters; i++ {
		select {
		case <-woken:
		case <-time.After(2 * time.Second):
			t.Fatal("waiter was not woken on completion")
		}
	}
}

func TestProcedureScheduleAfterCompletion(t *testing.T) {
	p := exec.NewProcedure(uuid.Nil, nil)
	job := newTestJob(t, p, exec.ActionSpec{Action: constAction(nil), FQN: "test.final"})
	job.Execute(context.Background(), &fakePersister{}, &noopScheduler{}, exec.NewJobQueue(0))

	if !p.IsComplete() {
		t.Fatal("procedure should be complete")
	}

	_, err := exec.NewJob(p, exec.ActionSpec{Action: constAction(1), FQN: "test.late"},
		checkpoint.NewRegistry(), checkpoint.NewMemStore(), emit.NewNullEmitter(), nil)
	if exec.CodeOf(err) != exec.CodeInvariantViolation {
		t.Errorf("scheduling on a complete procedure should fail, got %v", err)
	}
}
