package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/yarv-mjit/internal/vm"
)

func newBody(t *testing.T, name string, calls int64) *vm.BytecodeBody {
	t.Helper()
	b := vm.NewBytecodeBody(name, []vm.Instruction{{Op: vm.OpLeave}}, 1, vm.ParamDescriptor{})
	for i := int64(0); i < calls; i++ {
		b.RecordCall()
	}
	return b
}

func TestQueueEnqueueDequeueOrder(t *testing.T) {
	var q Queue
	a := NewUnit(1, newBody(t, "a", 1))
	b := NewUnit(2, newBody(t, "b", 5))
	c := NewUnit(3, newBody(t, "c", 3))

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)
	require.Equal(t, 3, q.Len())

	// Highest call count wins regardless of insertion order.
	got := q.DequeueBest()
	assert.Same(t, b, got)
	assert.Equal(t, 2, q.Len())

	got = q.DequeueBest()
	assert.Same(t, c, got)

	got = q.DequeueBest()
	assert.Same(t, a, got)

	assert.Nil(t, q.DequeueBest())
}

func TestQueueTieBreakByInsertionOrder(t *testing.T) {
	var q Queue
	a := NewUnit(1, newBody(t, "a", 4))
	b := NewUnit(2, newBody(t, "b", 4))

	q.Enqueue(a)
	q.Enqueue(b)

	got := q.DequeueBest()
	assert.Same(t, a, got, "equal call counts must break ties by insertion order")
}

func TestQueueSkipsCollectedBodies(t *testing.T) {
	var q Queue
	body := newBody(t, "dead", 10)
	u := NewUnit(1, body)
	q.Enqueue(u)

	live := NewUnit(2, newBody(t, "live", 0))
	q.Enqueue(live)

	// Simulate the GC collecting the body out from under a queued unit.
	u.ClearBody()

	got := q.DequeueBest()
	assert.Same(t, live, got, "a unit with a nil body must be skipped and reaped")
	assert.Equal(t, 0, q.Len(), "the reaped dead unit must no longer occupy a slot")
}

func TestQueueRemoveIsNoOpWhenNotLinked(t *testing.T) {
	var q Queue
	u := NewUnit(1, newBody(t, "x", 0))
	q.Remove(u) // never enqueued
	assert.Equal(t, 0, q.Len())
}

func TestQueueFinishOrderIgnoresFurtherDequeue(t *testing.T) {
	var q Queue
	q.Enqueue(NewUnit(1, newBody(t, "a", 1)))
	drained := q.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.DequeueBest())
}

type fakeHandle struct{ closed bool }

func (f *fakeHandle) Close() error { f.closed = true; return nil }

func TestQueueDrainReleasesHandles(t *testing.T) {
	var q Queue
	u := NewUnit(1, newBody(t, "a", 0))
	h := &fakeHandle{}
	u.Handle = h
	q.Enqueue(u)

	drained := q.Drain()
	require.Len(t, drained, 1)
	assert.True(t, h.closed, "Drain must release every unit's loaded-object handle")
}

func TestStoreTrackUntrack(t *testing.T) {
	var s Store
	body := newBody(t, "m", 0)

	u1 := s.Track(body)
	require.NotNil(t, u1)
	assert.True(t, body.IsTracked())
	assert.Equal(t, 1, s.Queue.Len())

	// Tracking the same body twice returns the same unit (spec.md §3:
	// "at most one unit exists with unit.body == B").
	u2 := s.Track(body)
	assert.Same(t, u1, u2)
	assert.Equal(t, 1, s.Queue.Len())

	s.Untrack(u1)
	assert.False(t, body.IsTracked())
	assert.Equal(t, 0, s.Queue.Len())
}

func TestStoreMarkResidentRegistersFinalizerBackstop(t *testing.T) {
	var s Store
	var registered *Unit
	s.SetFinalizerFunc(func(obj interface{}, _ interface{}) {
		registered = obj.(*Unit)
	})

	u := s.Track(newBody(t, "m", 0))
	s.Queue.Remove(u)
	s.MarkResident(u)

	require.Same(t, u, registered, "MarkResident must register the finalizer backstop")
}

func TestStoreEvictLeastValuableUnloadsColdestUnit(t *testing.T) {
	var s Store
	s.SetFinalizerFunc(func(interface{}, interface{}) {}) // avoid a real runtime.SetFinalizer in tests

	cold := s.Track(newBody(t, "cold", 1))
	hot := s.Track(newBody(t, "hot", 9))
	s.Queue.Remove(cold)
	s.Queue.Remove(hot)
	s.MarkResident(cold)
	s.MarkResident(hot)

	evicted := s.EvictLeastValuable()
	assert.Same(t, cold, evicted)
	assert.Len(t, s.Resident, 1)
	assert.Same(t, hot, s.Resident[0])
}
