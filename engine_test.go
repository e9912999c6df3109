package mjit

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/yarv-mjit/internal/vm"
)

func TestNewEngineDisabledByOptions(t *testing.T) {
	e := NewEngine(Options{Enable: false})
	assert.False(t, e.Enabled())
	assert.False(t, Enabled())

	body := vm.NewBytecodeBody("m", []vm.Instruction{{Op: vm.OpLeave}}, 1, vm.ParamDescriptor{})
	e.AddToProcess(body)
	assert.False(t, body.IsTracked(), "a disabled engine's AddToProcess must be a no-op")
}

func TestNewEngineDisabledWhenHeaderMissing(t *testing.T) {
	e := NewEngine(Options{
		Enable:            true,
		CompilerPath:      "/bin/true",
		HeaderSearchPaths: []string{t.TempDir()},
	})
	assert.False(t, e.Enabled())
}

func testHeaderDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/mjit_runtime.h", []byte("// stub\n"), 0o644))
	return dir
}

func TestEngineLifecycleWithoutRealCompiler(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}

	e := NewEngine(Options{
		Enable:            true,
		CompilerPath:      "/bin/true",
		HeaderSearchPaths: []string{testHeaderDir(t)},
		ScratchDir:        t.TempDir(),
		Wait:              true,
	})
	require.True(t, e.Enabled())
	assert.True(t, Enabled())

	body := vm.NewBytecodeBody("m", []vm.Instruction{
		{PC: 0, Op: vm.OpPutNil},
		{PC: 2, Op: vm.OpLeave},
	}, 1, vm.ParamDescriptor{})
	e.AddToProcess(body)
	assert.True(t, body.IsTracked())

	e.Finish()
	assert.False(t, e.Enabled())
	assert.False(t, Enabled())
}

func TestEngineAddToProcessRespectsMinCalls(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}

	e := NewEngine(Options{
		Enable:            true,
		CompilerPath:      "/bin/true",
		HeaderSearchPaths: []string{testHeaderDir(t)},
		ScratchDir:        t.TempDir(),
		MinCalls:          5,
		Wait:              true,
	})
	require.True(t, e.Enabled())
	defer e.Finish()

	cold := vm.NewBytecodeBody("cold", []vm.Instruction{{Op: vm.OpLeave}}, 1, vm.ParamDescriptor{})
	e.AddToProcess(cold)
	assert.False(t, cold.IsTracked(), "a body below min-calls must not be enqueued")

	hot := vm.NewBytecodeBody("hot", []vm.Instruction{{Op: vm.OpLeave}}, 1, vm.ParamDescriptor{})
	for i := 0; i < 5; i++ {
		hot.RecordCall()
	}
	e.AddToProcess(hot)
	assert.True(t, hot.IsTracked())
}

func TestEngineGCHooksAreSafeWhenDisabled(t *testing.T) {
	e := NewEngine(Options{Enable: false})
	e.GCStartHook()
	e.GCFinishHook()
	e.FreeBody(vm.NewBytecodeBody("m", nil, 0, vm.ParamDescriptor{}))
	assert.Equal(t, int64(0), e.Stats().Enqueued)
}

func TestDisableAfterForkClearsProcessWideFlag(t *testing.T) {
	if _, err := os.Stat("/bin/true"); err != nil {
		t.Skip("/bin/true not available")
	}

	e := NewEngine(Options{
		Enable:            true,
		CompilerPath:      "/bin/true",
		HeaderSearchPaths: []string{testHeaderDir(t)},
		ScratchDir:        t.TempDir(),
		Wait:              true,
	})
	require.True(t, e.Enabled())

	e.DisableAfterFork()
	assert.False(t, e.Enabled())
	assert.False(t, Enabled())
}
