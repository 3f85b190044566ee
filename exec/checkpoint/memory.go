package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// record is the store-side state attached to a checkpoint.
type record struct {
	cp          *Checkpoint
	recoverable bool
	registered  time.Time
	started     bool
	finished    bool
}

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Deployments that accept losing recovery information on restart
//
// MemStore is thread-safe and supports concurrent access. For durable
// recovery use SQLiteStore or MySQLStore.
type MemStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*record // jobUUID -> record
	order   []uuid.UUID           // registration order
}

// NewMemStore creates a new in-memory checkpoint store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]*record)}
}

// Register records a batch of checkpoints (implements Store).
// The batch is applied under a single lock acquisition so readers see
// either the whole batch or none of it.
func (m *MemStore) Register(_ context.Context, checkpoints []*Checkpoint, recoverable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, cp := range checkpoints {
		if _, exists := m.records[cp.JobUUID]; exists {
			continue
		}
		m.records[cp.JobUUID] = &record{
			cp:          cp,
			recoverable: recoverable,
			registered:  now,
		}
		m.order = append(m.order, cp.JobUUID)
	}
	return nil
}

// Begin marks a checkpoint as started (implements Store).
// A checkpoint that was never registered is registered implicitly as
// recoverable; this happens for seed jobs whose registration and
// execution race during recovery replay.
func (m *MemStore) Begin(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[cp.JobUUID]
	if !ok {
		rec = &record{cp: cp, recoverable: true, registered: time.Now()}
		m.records[cp.JobUUID] = rec
		m.order = append(m.order, cp.JobUUID)
	}
	rec.started = true
	return nil
}

// Finish marks a checkpoint as finished (implements Store).
func (m *MemStore) Finish(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[cp.JobUUID]
	if !ok {
		return ErrNotFound
	}
	rec.finished = true
	return nil
}

// Remove deletes all checkpoints of a procedure (implements Store).
func (m *MemStore) Remove(_ context.Context, procUUID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, jobID := range m.order {
		rec := m.records[jobID]
		if rec != nil && rec.cp.ProcedureUUID == procUUID {
			delete(m.records, jobID)
			continue
		}
		kept = append(kept, jobID)
	}
	m.order = kept
	return nil
}

// Unfinished returns checkpoints that never finished, in registration
// order (implements Store).
func (m *MemStore) Unfinished(_ context.Context) ([]*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Checkpoint
	for _, jobID := range m.order {
		rec := m.records[jobID]
		if rec == nil || rec.finished {
			continue
		}
		out = append(out, rec.cp)
	}
	return out, nil
}
