package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/yarv-mjit/internal/unit"
	"github.com/k0kubun/yarv-mjit/internal/vm"
)

func newBody(name string) *vm.BytecodeBody {
	return vm.NewBytecodeBody(name, []vm.Instruction{{Op: vm.OpLeave}}, 1, vm.ParamDescriptor{})
}

func TestCoordinatorAddToProcessTracksOnce(t *testing.T) {
	var store unit.Store
	c := NewCoordinator(&store)
	body := newBody("a")

	u1 := c.AddToProcess(body)
	u2 := c.AddToProcess(body)
	assert.Same(t, u1, u2)
	assert.True(t, body.IsTracked())
}

func TestCoordinatorFreeBodyClearsQueueEntry(t *testing.T) {
	var store unit.Store
	c := NewCoordinator(&store)
	body := newBody("a")
	c.AddToProcess(body)

	c.FreeBody(body)

	u := c.dequeueBest()
	require.Nil(t, u, "a freed body's unit must be reaped on dequeue, not returned")
}

func TestCoordinatorGCAndJITMutuallyExclude(t *testing.T) {
	c := NewCoordinator(&unit.Store{})

	c.GCStartHook()
	done := make(chan struct{})
	go func() {
		c.beginJIT() // must block until GCFinishHook
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("beginJIT returned while in-GC was still true")
	case <-time.After(20 * time.Millisecond):
	}

	c.GCFinishHook()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("beginJIT never unblocked after GCFinishHook")
	}
	c.endJIT()
}

func TestCoordinatorWaitForWorkWakesOnEnqueue(t *testing.T) {
	var store unit.Store
	c := NewCoordinator(&store)

	var wg sync.WaitGroup
	wg.Add(1)
	shouldExit := true
	go func() {
		defer wg.Done()
		shouldExit = c.waitForWork()
	}()

	c.AddToProcess(newBody("a"))
	wg.Wait()
	assert.False(t, shouldExit)
}

func TestCoordinatorRequestFinishUnblocksAfterWorkerFinished(t *testing.T) {
	c := NewCoordinator(&unit.Store{})

	done := make(chan struct{})
	go func() {
		c.RequestFinish()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("RequestFinish returned before worker finished")
	case <-time.After(20 * time.Millisecond):
	}

	c.markWorkerFinished()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestFinish never unblocked")
	}
	assert.True(t, c.WorkerFinished())
}

func TestCoordinatorDrainAllReleasesHandles(t *testing.T) {
	var store unit.Store
	c := NewCoordinator(&store)
	body := newBody("a")
	u := c.AddToProcess(body)
	h := &fakeHandle{}
	u.Handle = h

	c.DrainAll()
	assert.True(t, h.closed)
}

type fakeHandle struct{ closed bool }

func (f *fakeHandle) Close() error { f.closed = true; return nil }

func TestCoordinatorStatsTracksEnqueueOncePerBody(t *testing.T) {
	var store unit.Store
	c := NewCoordinator(&store)
	body := newBody("a")

	c.AddToProcess(body)
	c.AddToProcess(body) // already tracked, must not double count
	assert.Equal(t, int64(1), c.Stats().Enqueued)

	u := c.dequeueBest()
	require.NotNil(t, u)
	c.markResident(u, 0)
	assert.Equal(t, int64(1), c.Stats().Compiled)
	assert.Equal(t, int64(1), c.Stats().Resident)
}

func TestCoordinatorStatsTracksFailed(t *testing.T) {
	c := NewCoordinator(&unit.Store{})
	c.markFailed()
	c.markFailed()
	assert.Equal(t, int64(2), c.Stats().Failed)
}
