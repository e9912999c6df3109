package worker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/yarv-mjit/internal/translator"
	"github.com/k0kubun/yarv-mjit/internal/unit"
	"github.com/k0kubun/yarv-mjit/internal/vm"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}
	return Config{
		ScratchDir:   t.TempDir(),
		HeaderPath:   "/dev/null",
		PCHPath:      "",
		CompilerPath: "/bin/true",
	}
}

func noopSnapshot() translator.Snapshot { return translator.Snapshot{} }

func TestWorkerBuildPCHSuccess(t *testing.T) {
	cfg := testConfig(t)
	var store unit.Store
	coord := NewCoordinator(&store)
	w := NewWorker(coord, cfg, noopSnapshot)

	ok := w.buildPCH()
	require.True(t, ok)
	assert.Equal(t, PCHSuccess, coord.PCHStatus())
}

func TestWorkerBuildPCHFailureMarksFinished(t *testing.T) {
	cfg := testConfig(t)
	cfg.CompilerPath = "/bin/false"
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}
	var store unit.Store
	coord := NewCoordinator(&store)
	w := NewWorker(coord, cfg, noopSnapshot)

	ok := w.buildPCH()
	assert.False(t, ok)
	assert.Equal(t, PCHFailed, coord.PCHStatus())
	assert.True(t, coord.WorkerFinished())
}

func TestWorkerCompileOneFallsBackToNotCompilableWithoutRealSharedObject(t *testing.T) {
	cfg := testConfig(t)
	var store unit.Store
	coord := NewCoordinator(&store)
	w := NewWorker(coord, cfg, noopSnapshot)

	body := vm.NewBytecodeBody("m", []vm.Instruction{
		{PC: 0, Op: vm.OpPutNil},
		{PC: 2, Op: vm.OpLeave},
	}, 1, vm.ParamDescriptor{})
	u := coord.AddToProcess(body)
	got := coord.dequeueBest()
	require.Same(t, u, got)

	w.compileOne(got)

	// /bin/true never produces the .so this step expects to load, so the
	// pipeline must fall back to the not-compilable sentinel rather than
	// publish a bogus function pointer.
	assert.Equal(t, vm.EntryNotCompilable, body.EntryState())
}

func TestWorkerRunExitsOnRequestFinish(t *testing.T) {
	cfg := testConfig(t)
	var store unit.Store
	coord := NewCoordinator(&store)
	w := NewWorker(coord, cfg, noopSnapshot)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	coord.WaitPCHDecided()
	require.Equal(t, PCHSuccess, coord.PCHStatus())
	coord.RequestFinish()

	<-done
	assert.True(t, coord.WorkerFinished())
}
