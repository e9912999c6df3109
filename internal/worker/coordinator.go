// Package worker implements the single background compilation thread and
// its PCH build-once lifecycle (spec.md §4.4), plus the mutex and four
// condition variables the engine façade and the worker use to stay out of
// each other's way (spec.md §5: "the engine's internal state is guarded by
// a single mutex; four condition variables provide directed wakeups").
package worker

import (
	"sync"

	"github.com/k0kubun/yarv-mjit/internal/unit"
	"github.com/k0kubun/yarv-mjit/internal/vm"
)

// PCHStatus is the three-valued precompiled-header state (spec.md §3):
// it transitions monotonically exactly once, from not-ready to either
// failed or success.
type PCHStatus int

const (
	PCHNotReady PCHStatus = iota
	PCHFailed
	PCHSuccess
)

func (s PCHStatus) String() string {
	switch s {
	case PCHNotReady:
		return "not-ready"
	case PCHFailed:
		return "failed"
	case PCHSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Coordinator holds the mutex and the four directed-wakeup condition
// variables spec.md §4.5 assigns to the engine façade: PCH-wakeup,
// client-wakeup, worker-wakeup, and GC-wakeup — and, under that same
// mutex, the unit store itself (spec.md §4.3: "all operations run under
// the engine mutex"). Both the worker goroutine and the façade's hook
// methods (GCStartHook, Finish, AddToProcess, ...) operate through this
// type, never touching sync.Cond or the store directly.
type Coordinator struct {
	mu sync.Mutex

	pchCond    *sync.Cond
	clientCond *sync.Cond
	workerCond *sync.Cond
	gcCond     *sync.Cond

	pchStatus       PCHStatus
	inGC            bool
	inJIT           bool
	finishRequested bool
	workerFinished  bool

	store *unit.Store

	enqueuedCount int64
	compiledCount int64
	failedCount   int64
}

// Stats reports read-only compilation counters for host-side diagnostics
// (SPEC_FULL.md §6.4: "total enqueued, compiled, failed-to-compile, and
// currently-resident units... exposed read-only", the same shape wazero's
// engine.CompiledModuleCount and ha1tch/aul's Manager.Stats() expose).
type Stats struct {
	Enqueued int64
	Compiled int64
	Failed   int64
	Resident int64
}

// Stats returns a snapshot of the compilation counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Enqueued: c.enqueuedCount,
		Compiled: c.compiledCount,
		Failed:   c.failedCount,
		Resident: int64(len(c.store.Resident)),
	}
}

// NewCoordinator builds a Coordinator guarding the given store.
func NewCoordinator(store *unit.Store) *Coordinator {
	c := &Coordinator{store: store}
	c.pchCond = sync.NewCond(&c.mu)
	c.clientCond = sync.NewCond(&c.mu)
	c.workerCond = sync.NewCond(&c.mu)
	c.gcCond = sync.NewCond(&c.mu)
	return c
}

// PCHStatus returns the current PCH status.
func (c *Coordinator) PCHStatus() PCHStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pchStatus
}

// SetPCHStatus transitions the PCH state and wakes anyone blocked in
// WaitPCHDecided (spec.md §4.4 step 1).
func (c *Coordinator) SetPCHStatus(s PCHStatus) {
	c.mu.Lock()
	c.pchStatus = s
	c.pchCond.Broadcast()
	c.mu.Unlock()
}

// WaitPCHDecided blocks until the PCH status leaves not-ready (spec.md
// §4.5 Finish: "wait for PCH status to leave not-ready").
func (c *Coordinator) WaitPCHDecided() {
	c.mu.Lock()
	for c.pchStatus == PCHNotReady {
		c.pchCond.Wait()
	}
	c.mu.Unlock()
}

// GCStartHook blocks while a translation/compile batch is in flight, then
// marks a GC in progress (spec.md §4.5 "GC-start hook: block while in-JIT
// is true...then set in-GC"). The ordering guarantee in spec.md §5 ("the
// GC hook sets in-GC under the mutex only after observing in-JIT is
// false") holds because both the check and the set happen under c.mu.
func (c *Coordinator) GCStartHook() {
	c.mu.Lock()
	for c.inJIT {
		c.clientCond.Wait()
	}
	c.inGC = true
	c.mu.Unlock()
}

// GCFinishHook clears in-GC and wakes anything waiting on it (spec.md
// §4.5 "GC-finish hook: clear in-GC; broadcast GC-wakeup").
func (c *Coordinator) GCFinishHook() {
	c.mu.Lock()
	c.inGC = false
	c.gcCond.Broadcast()
	c.mu.Unlock()
}

// beginJIT waits out any in-progress GC, then marks a translation/compile
// batch as running (spec.md §4.4 step 2: "wait on the GC condition
// variable while in-GC is true; then set in-JIT true").
func (c *Coordinator) beginJIT() {
	c.mu.Lock()
	for c.inGC {
		c.gcCond.Wait()
	}
	c.inJIT = true
	c.mu.Unlock()
}

// endJIT clears in-JIT and wakes a GC-start hook that may be waiting
// (spec.md §4.4 step 2: "Clear in-JIT and signal the client condition
// variable so a pending GC may proceed").
func (c *Coordinator) endJIT() {
	c.mu.Lock()
	c.inJIT = false
	c.clientCond.Broadcast()
	c.mu.Unlock()
}

// AddToProcess links body into a new unit and appends it to the queue
// under the engine mutex, then wakes the worker (spec.md §4.5
// "Add-to-process(body): ...allocate and link a unit owning the body
// pointer; append to the queue; broadcast worker-wakeup"). Returns the
// (possibly pre-existing) unit.
func (c *Coordinator) AddToProcess(body *vm.BytecodeBody) *unit.Unit {
	wasNew := !body.IsTracked()
	c.mu.Lock()
	u := c.store.Track(body)
	if wasNew {
		c.enqueuedCount++
	}
	c.workerCond.Broadcast()
	c.mu.Unlock()
	return u
}

// FreeBody is the free-body hook (spec.md §4.5): null out the unit's
// body pointer under the engine mutex so the worker will skip it.
func (c *Coordinator) FreeBody(body *vm.BytecodeBody) {
	c.mu.Lock()
	if u, ok := body.EngineUnit().(*unit.Unit); ok && u != nil {
		u.ClearBody()
	}
	c.mu.Unlock()
}

// DrainAll removes and releases every remaining unit, called at engine
// finish (SPEC_FULL.md §12, decision 3: the queue is fully drained and every
// unit's loaded-object handle is released before Engine.Finish returns).
func (c *Coordinator) DrainAll() {
	c.mu.Lock()
	c.store.Queue.Drain()
	for _, r := range c.store.Resident {
		if r.Handle != nil {
			_ = r.Handle.Close()
			r.Handle = nil
		}
	}
	c.store.Resident = nil
	c.mu.Unlock()
}

// dequeueBest pops the highest-priority unit under the engine mutex, for
// use by the worker's drain loop only.
func (c *Coordinator) dequeueBest() *unit.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Queue.DequeueBest()
}

// markResident records a freshly compiled unit as holding a live handle,
// and evicts the least valuable resident unit if over maxCacheSize
// (spec.md §4.5's implementation-defined unload policy).
func (c *Coordinator) markResident(u *unit.Unit, maxCacheSize int) (evicted *unit.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.MarkResident(u)
	c.compiledCount++
	if maxCacheSize > 0 && len(c.store.Resident) > maxCacheSize {
		evicted = c.store.EvictLeastValuable()
	}
	return evicted
}

// markFailed records a unit that reached the not-compilable sentinel,
// for Stats() bookkeeping only; the unit itself is already unlinked from
// the queue by dequeueBest and needs no further action here.
func (c *Coordinator) markFailed() {
	c.mu.Lock()
	c.failedCount++
	c.mu.Unlock()
}

// waitForWork blocks until either finish has been requested or the queue
// is non-empty, mirroring spec.md §4.4 step 2's "wait on the worker
// condition variable until either the queue is non-empty or finish is
// requested." Returns true when the worker should exit its drain loop:
// once finish-requested is observed, the queue is no longer consulted at
// all (spec.md §3 "Once finish-requested is set, the queue is no longer
// consulted; the worker exits after its current unit"), so any units
// still queued are left untouched rather than drained first.
func (c *Coordinator) waitForWork() (shouldExit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.store.Queue.Len() == 0 && !c.finishRequested {
		c.workerCond.Wait()
	}
	return c.finishRequested
}

// RequestFinish sets finish-requested and wakes the worker (spec.md §4.5
// Finish: "set finish-requested; broadcast worker-wakeup"), then blocks
// until the worker has actually exited its drain loop.
func (c *Coordinator) RequestFinish() {
	c.mu.Lock()
	c.finishRequested = true
	c.workerCond.Broadcast()
	for !c.workerFinished {
		c.clientCond.Wait()
	}
	c.mu.Unlock()
}

// FinishRequested reports whether shutdown has been requested, consulted
// by the worker once per drain iteration.
func (c *Coordinator) FinishRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishRequested
}

// markWorkerFinished records that the worker has returned from its drain
// loop (spec.md §4.4 step 3: "set worker-finished and return") and wakes
// anything blocked in RequestFinish.
func (c *Coordinator) markWorkerFinished() {
	c.mu.Lock()
	c.workerFinished = true
	c.clientCond.Broadcast()
	c.mu.Unlock()
}

// WorkerFinished reports whether the worker has exited.
func (c *Coordinator) WorkerFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerFinished
}
