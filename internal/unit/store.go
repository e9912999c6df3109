package unit

import (
	"runtime"

	"github.com/k0kubun/yarv-mjit/internal/vm"
)

// Store composes a Queue with the invariant spec.md §3 requires: "Exactly
// one unit per body." It is the thing internal/worker and the engine façade
// actually hold; Queue alone only knows about list order.
//
// Resident tracks units whose compile has already succeeded and so are no
// longer in Queue (DequeueBest removed them) but still hold a loaded-object
// handle worth accounting against the configured cache-size bound (spec.md
// §4.5 "if the number of resident compiled units exceeds the configured max,
// the engine may unload the least valuable unit").
type Store struct {
	Queue    Queue
	Resident []*Unit

	// setFinalizer defaults to runtime.SetFinalizer, overridable in tests
	// (the same indirection wazero's internal/engine/compiler.engine uses
	// for its own setFinalizer field, so tests can observe the backstop
	// firing without waiting on a real GC cycle).
	setFinalizer func(obj interface{}, finalizer interface{})
}

func (s *Store) finalizer() func(interface{}, interface{}) {
	if s.setFinalizer != nil {
		return s.setFinalizer
	}
	return runtime.SetFinalizer
}

// SetFinalizerFunc overrides the finalizer-registration function, for
// tests that want to trigger the backstop deterministically.
func (s *Store) SetFinalizerFunc(f func(obj interface{}, finalizer interface{})) {
	s.setFinalizer = f
}

// Track creates a new unit for body and enqueues it, first verifying body
// isn't already tracked (spec.md §3 invariant: "A bytecode body's
// engine-unit pointer is non-null if and only if the body is tracked by the
// engine."). Returns the new unit, or the existing one if body was already
// tracked. Callers must hold the engine mutex.
func (s *Store) Track(body *vm.BytecodeBody) *Unit {
	if existing, ok := body.EngineUnit().(*Unit); ok && existing != nil {
		return existing
	}
	u := NewUnit(s.Queue.NextID(), body)
	body.SetEngineUnit(u)
	s.Queue.Enqueue(u)
	return u
}

// Untrack clears the body<->unit association and removes u from the queue
// if still present, releasing its loaded-object handle. Used for explicit
// unload (cache-eviction policy, spec.md §9) as well as for GC-driven
// cleanup when a unit's body has already gone nil.
func (s *Store) Untrack(u *Unit) {
	if body := u.Body(); body != nil {
		body.SetEngineUnit(nil)
	}
	s.Queue.Remove(u)
	s.removeResident(u)
	if u.Handle != nil {
		_ = u.Handle.Close()
		u.Handle = nil
	}
}

// MarkResident records u as holding a live loaded-object handle, called by
// internal/worker right after a successful compile (spec.md §4.4 step 2:
// "Publish the resulting function pointer atomically into the bytecode
// body's entry-point slot").
func (s *Store) MarkResident(u *Unit) {
	s.Resident = append(s.Resident, u)
	// Backstop against a leaked handle if a unit becomes unreachable
	// without ever going through Untrack/Drain (grounded on wazero's
	// internal/engine/compiler engine.go: "As this uses mmap, we need to
	// munmap on the compiled machine code when it's GCed" ->
	// e.setFinalizer(compiled, releaseCode)). The explicit unload paths
	// already nil out Handle first, so releaseHandle is a no-op whenever
	// the handle was released some other way.
	s.finalizer()(u, releaseHandle)
}

// releaseHandle is the finalizer backstop registered by MarkResident.
func releaseHandle(u *Unit) {
	if u.Handle != nil {
		_ = u.Handle.Close()
		u.Handle = nil
	}
}

func (s *Store) removeResident(u *Unit) {
	for i, r := range s.Resident {
		if r == u {
			s.Resident = append(s.Resident[:i], s.Resident[i+1:]...)
			return
		}
	}
}

// EvictLeastValuable unloads and untracks the resident unit with the
// smallest total-calls counter (SPEC_FULL.md §12: eviction policy
// resolution for spec.md §4.5's implementation-defined "unload the least
// valuable unit"). Returns nil if nothing is resident.
func (s *Store) EvictLeastValuable() *Unit {
	if len(s.Resident) == 0 {
		return nil
	}
	best := s.Resident[0]
	bestCalls := residentCalls(best)
	for _, r := range s.Resident[1:] {
		if c := residentCalls(r); c < bestCalls {
			bestCalls = c
			best = r
		}
	}
	s.Untrack(best)
	return best
}

func residentCalls(u *Unit) int64 {
	if body := u.Body(); body != nil {
		return body.TotalCalls()
	}
	return -1 // a collected body is the most evictable of all
}
