// Package unit implements the engine's compilation-unit bookkeeping and its
// priority queue (spec.md §4.3): a doubly-linked list of units, scanned on
// every dequeue for the body with the largest observed call count.
//
// All exported methods on Queue must be called with the engine mutex held by
// the caller (spec.md §4.3: "All operations run under the engine mutex.");
// this package does not take its own lock, the same division of
// responsibility tetratelabs/wazero uses between its engine struct (which
// owns a sync.RWMutex) and the code map it guards.
package unit

import (
	"sync/atomic"

	"github.com/k0kubun/yarv-mjit/internal/vm"
)

// Unit is the engine's bookkeeping record for one bytecode body's JIT
// lifecycle (spec.md §3). Exactly one Unit exists per body at any time.
type Unit struct {
	// ID is a monotonically assigned identifier, used in log lines and to
	// name the unit's temporary files and generated function symbol.
	ID int64

	// body is nullable: set to nil when the host's GC collects the body
	// out from under a still-queued unit (spec.md §3: "A unit outlives
	// the body if the body is collected between enqueue and dequeue").
	body atomic.Pointer[vm.BytecodeBody]

	// Handle is the loaded shared-object handle, nil until compilation
	// succeeds. Owned by this unit so it can be released on unload
	// (spec.md §4.1).
	Handle Loader

	prev, next *Unit
	inQueue    bool
}

// Loader is the minimal surface internal/unit needs from a loaded shared
// object: something releasable. internal/process.LoadedObject implements
// this; defined here (rather than imported) to avoid unit depending on
// process, keeping the dependency direction the same as wazero's engine ->
// code (not the reverse).
type Loader interface {
	Close() error
}

// NewUnit constructs a unit bound to body and assigns it the given id. It
// does not link the unit into any queue; callers use Queue.Enqueue.
func NewUnit(id int64, body *vm.BytecodeBody) *Unit {
	u := &Unit{ID: id}
	u.body.Store(body)
	return u
}

// Body returns the bound bytecode body, or nil if it has been collected
// (spec.md §3: the worker "tolerates a null body by discarding the unit").
func (u *Unit) Body() *vm.BytecodeBody {
	return u.body.Load()
}

// ClearBody is the free-body hook (spec.md §4.5 "Free-body hook"): called
// by the host's GC finalizer for the body, it nulls out the body pointer so
// the worker will skip this unit on its next dequeue.
func (u *Unit) ClearBody() {
	u.body.Store(nil)
}

// Queue is a doubly-linked list of units in insertion order (spec.md §4.3).
// The zero value is ready to use.
type Queue struct {
	head, tail *Unit
	len        int
	nextID     int64
}

// Len returns the number of units currently queued.
func (q *Queue) Len() int { return q.len }

// Enqueue appends unit to the tail (spec.md §4.3: "append to tail").
func (q *Queue) Enqueue(u *Unit) {
	u.prev, u.next = q.tail, nil
	if q.tail != nil {
		q.tail.next = u
	} else {
		q.head = u
	}
	q.tail = u
	u.inQueue = true
	q.len++
}

// NextID returns a fresh monotonically increasing unit identifier and
// advances the counter. Exposed on Queue (rather than a package-level
// atomic) so tests can construct independent queues with independent id
// sequences.
func (q *Queue) NextID() int64 {
	q.nextID++
	return q.nextID
}

// Remove unlinks unit from the queue in O(1) given the node (spec.md §4.3:
// "Removal is O(1) given the node"). Removing a unit not currently in this
// queue is a no-op.
func (q *Queue) Remove(u *Unit) {
	if !u.inQueue {
		return
	}
	if u.prev != nil {
		u.prev.next = u.next
	} else {
		q.head = u.next
	}
	if u.next != nil {
		u.next.prev = u.prev
	} else {
		q.tail = u.prev
	}
	u.prev, u.next = nil, nil
	u.inQueue = false
	q.len--
}

// DequeueBest walks the list and returns the unit whose body currently has
// the largest TotalCalls, breaking ties by insertion order (spec.md §4.3).
// Units whose body has been collected are skipped and, per spec.md §4.3
// ("implementations may choose to reap them here"), removed from the list
// as they're encountered rather than left to accumulate indefinitely.
// Returns nil if the queue holds no unit with a live body.
func (q *Queue) DequeueBest() *Unit {
	var best *Unit
	var bestCalls int64 = -1

	n := q.head
	for n != nil {
		next := n.next // capture before a possible Remove mutates links
		body := n.Body()
		if body == nil {
			q.Remove(n)
			n = next
			continue
		}
		if calls := body.TotalCalls(); calls > bestCalls {
			bestCalls = calls
			best = n
		}
		n = next
	}
	if best != nil {
		q.Remove(best)
	}
	return best
}

// Drain removes and returns every remaining unit in insertion order,
// releasing their loaded-object handles along the way. This implements
// spec.md §9's resolution of the original's "free unit_queue" TODO: engine
// shutdown must fully drain and release units rather than leak handles to
// the dynamic loader.
func (q *Queue) Drain() []*Unit {
	var drained []*Unit
	for n := q.head; n != nil; {
		next := n.next
		if n.Handle != nil {
			_ = n.Handle.Close()
			n.Handle = nil
		}
		n.prev, n.next = nil, nil
		n.inQueue = false
		drained = append(drained, n)
		n = next
	}
	q.head, q.tail, q.len = nil, nil, 0
	return drained
}
