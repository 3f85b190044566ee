package exec

import "sync"

// Scheduler arbitrates procedure admission by lockable-object set and
// priority. It is the chief admission gate: NextProcedure blocks until
// a procedure's whole lock set is free, which is what serializes
// conflicting procedures across workers.
//
// A nil procedure is the shutdown sentinel: the executor enqueues one
// per worker, and a worker receiving nil terminates.
type Scheduler interface {
	// EnqueueProcedure offers one procedure (or the nil sentinel) for
	// admission.
	EnqueueProcedure(p *Procedure)

	// EnqueueProcedures offers a batch in order.
	EnqueueProcedures(ps []*Procedure)

	// NextProcedure blocks until a procedure is admissible, locks its
	// objects, and returns it. A nil return tells the worker to stop.
	NextProcedure() *Procedure

	// Done notifies the scheduler that a procedure has completed so
	// its lockable objects are released. Done(nil) is a no-op.
	Done(p *Procedure)
}

// queueEntry wraps a queued procedure; proc is nil for the shutdown
// sentinel.
type queueEntry struct {
	proc *Procedure
}

// LockScheduler is the reference Scheduler: FIFO admission gated by
// lockable-object sets, with high-priority procedures considered
// first.
//
// Admission scan order within a pass is queue order, so two procedures
// contending for the same object run in the order they were enqueued.
// Sentinels are admissible unconditionally but respect queue order
// relative to admissible procedures, which lets pending work drain
// before workers stop.
type LockScheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []queueEntry
	locked map[string]bool
}

// NewLockScheduler creates an empty lock scheduler.
func NewLockScheduler() *LockScheduler {
	s := &LockScheduler{locked: make(map[string]bool)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// EnqueueProcedure offers one procedure for admission (implements
// Scheduler).
func (s *LockScheduler) EnqueueProcedure(p *Procedure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, queueEntry{proc: p})
	s.cond.Broadcast()
}

// EnqueueProcedures offers a batch in order (implements Scheduler).
func (s *LockScheduler) EnqueueProcedures(ps []*Procedure) {
	if len(ps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.queue = append(s.queue, queueEntry{proc: p})
	}
	s.cond.Broadcast()
}

// NextProcedure blocks until a procedure (or sentinel) is admissible
// and returns it with its objects locked (implements Scheduler).
func (s *LockScheduler) NextProcedure() *Procedure {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		// High-priority procedures first, then queue order.
		if idx, ok := s.scan(true); ok {
			return s.take(idx)
		}
		if idx, ok := s.scan(false); ok {
			return s.take(idx)
		}
		s.cond.Wait()
	}
}

// scan returns the index of the first admissible entry. priorityOnly
// restricts the pass to high-priority procedures.
func (s *LockScheduler) scan(priorityOnly bool) (int, bool) {
	for i, entry := range s.queue {
		if entry.proc == nil {
			if priorityOnly {
				continue
			}
			return i, true
		}
		if priorityOnly && !entry.proc.Priority() {
			continue
		}
		if s.admissible(entry.proc) {
			return i, true
		}
	}
	return 0, false
}

func (s *LockScheduler) admissible(p *Procedure) bool {
	for _, obj := range p.LockableObjects() {
		if s.locked[obj] {
			return false
		}
	}
	return true
}

// take removes the entry at idx and locks its objects.
func (s *LockScheduler) take(idx int) *Procedure {
	entry := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	if entry.proc != nil {
		for _, obj := range entry.proc.LockableObjects() {
			s.locked[obj] = true
		}
	}
	return entry.proc
}

// Done releases a completed procedure's lockable objects (implements
// Scheduler). Done(nil) is a no-op, matching the worker loop's first
// iteration.
func (s *LockScheduler) Done(p *Procedure) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range p.LockableObjects() {
		delete(s.locked, obj)
	}
	s.cond.Broadcast()
}

// Pending returns the number of queued entries, sentinels included.
func (s *LockScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
