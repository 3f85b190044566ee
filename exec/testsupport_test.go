package exec_test

import (
	"context"
	"database/sql"
	"sync"

	"github.com/mslade/fabricexec-go/exec"
	"github.com/mslade/fabricexec-go/exec/persistence"
)

// fakePersister records the transaction calls a job makes, so tests
// can assert the begin/commit/rollback protocol without a database.
type fakePersister struct {
	mu    sync.Mutex
	calls []string

	beginErr    error
	commitErr   error
	rollbackErr error
}

func (f *fakePersister) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePersister) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakePersister) Begin() error {
	f.record("begin")
	return f.beginErr
}

func (f *fakePersister) Commit() error {
	f.record("commit")
	return f.commitErr
}

func (f *fakePersister) Rollback() error {
	f.record("rollback")
	return f.rollbackErr
}

func (f *fakePersister) Tx() *sql.Tx { return nil }

func (f *fakePersister) Close() error {
	f.record("close")
	return nil
}

// fakeFactory hands every worker its own fakePersister and remembers
// them for later inspection.
type fakeFactory struct {
	mu         sync.Mutex
	persisters []*fakePersister
	err        error
}

func (f *fakeFactory) factory() persistence.Factory {
	return func() (persistence.Persister, error) {
		if f.err != nil {
			return nil, f.err
		}
		p := &fakePersister{}
		f.mu.Lock()
		f.persisters = append(f.persisters, p)
		f.mu.Unlock()
		return p, nil
	}
}

// noopScheduler satisfies exec.Scheduler for direct Job.Execute tests
// where admission never happens.
type noopScheduler struct {
	mu       sync.Mutex
	enqueued []*exec.Procedure
}

func (n *noopScheduler) EnqueueProcedure(p *exec.Procedure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueued = append(n.enqueued, p)
}

func (n *noopScheduler) EnqueueProcedures(ps []*exec.Procedure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueued = append(n.enqueued, ps...)
}

func (n *noopScheduler) NextProcedure() *exec.Procedure { return nil }

func (n *noopScheduler) Done(*exec.Procedure) {}

func (n *noopScheduler) Enqueued() []*exec.Procedure {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*exec.Procedure, len(n.enqueued))
	copy(out, n.enqueued)
	return out
}

// constAction returns an action that ignores its arguments and yields
// a fixed result.
func constAction(result any) exec.Action {
	return func(context.Context, []any, map[string]any) (any, error) {
		return result, nil
	}
}
