package emit

import "context"

// Emitter receives and processes observability events from procedure
// execution.
//
// Emitters enable pluggable observability backends: logging,
// distributed tracing, in-memory capture for tests. Implementations
// should be:
//   - Non-blocking: avoid slowing down job execution.
//   - Thread-safe: called concurrently from multiple workers.
//   - Resilient: a failing backend must never crash a worker.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	// Emit must not panic; errors are handled internally.
	Emit(event Event)

	// EmitBatch sends multiple events in one operation. Events are
	// processed in order. Returns an error only on catastrophic
	// failures; individual event failures are logged and skipped.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush ensures all buffered events reach the backend. Call it
	// before shutdown to avoid losing events. Safe to call multiple
	// times.
	Flush(ctx context.Context) error
}
