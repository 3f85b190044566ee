// Package persistence provides the transactional database context that
// executor workers bind jobs to. Each worker owns exactly one Persister
// for its lifetime; the persister is never shared across workers.
package persistence

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNoTransaction is returned when Commit or Rollback is called with
// no open transaction.
var ErrNoTransaction = errors.New("no open transaction")

// ErrOpenTransaction is returned when Begin is called while a
// transaction is already open.
var ErrOpenTransaction = errors.New("transaction already open")

// Persister is the per-worker transactional session.
//
// A job executes entirely inside one transaction: the worker calls
// Begin before invoking the action, Commit after the action succeeds,
// and Rollback when it fails. Actions reach the open transaction
// through FromContext and run their statements on Tx.
//
// Persister implementations are not safe for concurrent use; the
// owning worker is the only caller.
type Persister interface {
	// Begin opens a new transaction bound to this session.
	Begin() error

	// Commit commits the open transaction.
	Commit() error

	// Rollback aborts the open transaction.
	Rollback() error

	// Tx returns the open transaction, or nil outside Begin/Commit.
	Tx() *sql.Tx

	// Close releases the session.
	Close() error
}

// Factory constructs one Persister per worker. The executor calls it
// from the worker's own goroutine at startup; a factory error is fatal
// to that worker.
type Factory func() (Persister, error)

// persisterKey is a private context key type, so keys from this
// package cannot collide with keys from other packages.
type persisterKey struct{}

// WithPersister associates a persister with the context handed to an
// action. This is the task-local binding that lets business logic use
// the worker's session without explicit plumbing.
func WithPersister(ctx context.Context, p Persister) context.Context {
	return context.WithValue(ctx, persisterKey{}, p)
}

// FromContext returns the persister bound to the calling worker, or
// nil when the context does not originate from a worker.
func FromContext(ctx context.Context) Persister {
	p, _ := ctx.Value(persisterKey{}).(Persister)
	return p
}
