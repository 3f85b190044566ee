// Package exec provides the procedure execution core: procedures and
// jobs, per-worker job queues, the executor worker pool, and the
// dispatch facade that ties them to a scheduler, a checkpoint store,
// and per-worker transactional persisters.
package exec

import "errors"

// Error codes carried by ExecError.
const (
	// CodeNotCallable marks an action that is not invocable (nil).
	CodeNotCallable = "NOT_CALLABLE"

	// CodeProgramming marks API misuse: creating a within-procedure
	// job from outside a job, waiting for a procedure from inside a
	// job, or rescheduling from inside a job.
	CodeProgramming = "PROGRAMMING"

	// CodeAlreadyRunning marks a lifecycle operation attempted while
	// workers exist.
	CodeAlreadyRunning = "ALREADY_RUNNING"

	// CodeNotRunning marks an operation that needs running workers.
	CodeNotRunning = "NOT_RUNNING"

	// CodeInvariantViolation marks a broken internal invariant of the
	// procedure/job state machine.
	CodeInvariantViolation = "INVARIANT_VIOLATION"

	// CodeDatabase marks an error surfaced by the persister or the
	// checkpoint store.
	CodeDatabase = "DATABASE"
)

// ExecError is the structured error type of the execution core. The
// Code field enables programmatic handling without string matching.
type ExecError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code (see Code* constants).
	Code string
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return e.Message
}

// Is reports code equality, so sentinel comparisons via errors.Is work
// for any two ExecErrors carrying the same code.
func (e *ExecError) Is(target error) bool {
	var other *ExecError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Sentinels for the executor lifecycle pair; compare with errors.Is.
var (
	ErrAlreadyRunning = &ExecError{Message: "executor is already running", Code: CodeAlreadyRunning}
	ErrNotRunning     = &ExecError{Message: "executor is not running", Code: CodeNotRunning}
)

// CodeOf extracts the ExecError code from err, or "" when err is not
// an ExecError.
func CodeOf(err error) string {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Code
	}
	return ""
}
