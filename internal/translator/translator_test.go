package translator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/yarv-mjit/internal/jitlog"
	"github.com/k0kubun/yarv-mjit/internal/vm"
)

func compileBody(t *testing.T, instrs []vm.Instruction, stackMax int) (string, bool) {
	t.Helper()
	body := vm.NewBytecodeBody("test", instrs, stackMax, vm.ParamDescriptor{})
	var buf bytes.Buffer
	ok := Compile(&buf, body, "mjit_test_fn", Snapshot{MethodState: 1, ClassSerial: 1}, jitlog.Sink{})
	return buf.String(), ok
}

func TestCompilePutObjectLeave(t *testing.T) {
	src, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpPutObject, Operands: []int64{0}},
		{PC: 2, Op: vm.OpLeave},
	}, 1)
	require.True(t, ok)
	assert.Contains(t, src, "mjit_test_fn(rb_execution_context_t *ec, rb_control_frame_t *cfp)")
	assert.Contains(t, src, "stack[0] = (VALUE)0UL;")
	assert.Contains(t, src, "return stack[0];")
}

func TestCompileLeaveWithWrongStackSizeFails(t *testing.T) {
	_, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpPutObject, Operands: []int64{0}},
		{PC: 2, Op: vm.OpPutObject, Operands: []int64{1}},
		{PC: 4, Op: vm.OpLeave},
	}, 2)
	assert.False(t, ok, "leave with stack_size=2 must fail translation")
}

func TestCompileOptPlusEmitsGuardAndCancel(t *testing.T) {
	src, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpPutObject, Operands: []int64{1}},
		{PC: 2, Op: vm.OpPutObject, Operands: []int64{2}},
		{PC: 4, Op: vm.OpOptPlus, CallCache: &vm.CallCache{MethodState: 1, ClassSerial: 1}},
		{PC: 6, Op: vm.OpLeave},
	}, 2)
	require.True(t, ok)
	assert.Contains(t, src, "mjit_opt_plus(stack[0], stack[1])")
	assert.Contains(t, src, "if (stack[0] == Qundef)")
	assert.Contains(t, src, "cancel:")
	assert.Contains(t, src, "mjit_stack_writeback(cfp, stack, stack_size);")
}

func TestCompileOptSendWithoutBlockGuardsCallCache(t *testing.T) {
	cache := &vm.CallCache{
		MethodState: 3,
		ClassSerial: 7,
		Target: vm.CallTarget{Kind: vm.TargetBytecodeFastPath, Simple: true},
	}
	src, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpPutSelf},
		{PC: 2, Op: vm.OpOptSendWithoutBlock, Operands: []int64{0}, CallCache: cache},
		{PC: 4, Op: vm.OpLeave},
	}, 1)
	require.True(t, ok)
	assert.Contains(t, src, "mjit_cc_invalid(cfp, 2, 3ULL, 7ULL)")
	assert.Contains(t, src, "mjit_call_fastpath(ec, cfp, stack[0], 0, &stack[1]);")
}

func TestCompileBranchUnlessJumpsForward(t *testing.T) {
	src, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpPutObject, Operands: []int64{0}},
		{PC: 2, Op: vm.OpBranchUnless, Operands: []int64{8}},
		{PC: 4, Op: vm.OpPutObject, Operands: []int64{1}},
		{PC: 6, Op: vm.OpLeave},
		{PC: 8, Op: vm.OpPutObject, Operands: []int64{2}},
		{PC: 10, Op: vm.OpLeave},
	}, 1)
	require.True(t, ok)
	assert.Contains(t, src, "if (!RTEST(stack[0])) { goto label_8; }")
	assert.Contains(t, src, "label_8:")
}

func TestCompileGetSetLocalLevels(t *testing.T) {
	src, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpGetLocalWC0, Operands: []int64{1}},
		{PC: 2, Op: vm.OpGetLocal, Operands: []int64{1, 2}},
		{PC: 4, Op: vm.OpOptPlus, CallCache: &vm.CallCache{}},
		{PC: 6, Op: vm.OpSetLocalWC0, Operands: []int64{3}},
		{PC: 8, Op: vm.OpPutNil},
		{PC: 10, Op: vm.OpLeave},
	}, 2)
	require.True(t, ok)
	assert.Contains(t, src, "mjit_ep_at(cfp, 0, 1)")
	assert.Contains(t, src, "mjit_ep_at(cfp, 1, 2)")
	assert.Contains(t, src, "*mjit_ep_at(cfp, 0, 3) = stack[0];")
}

func TestCompileTraceEmitsHook(t *testing.T) {
	src, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpTrace, Operands: []int64{1}},
		{PC: 2, Op: vm.OpPutNil},
		{PC: 4, Op: vm.OpLeave},
	}, 1)
	require.True(t, ok)
	assert.Contains(t, src, "mjit_exec_trace(ec, 1UL);")
}

func TestCompileUnsupportedOpFailsCleanly(t *testing.T) {
	_, ok := compileBody(t, []vm.Instruction{
		{PC: 0, Op: vm.OpDefineClass},
		{PC: 2, Op: vm.OpLeave},
	}, 1)
	assert.False(t, ok)
}

func TestCompileEmptyBodyStillEmitsSkeleton(t *testing.T) {
	src, ok := compileBody(t, nil, 0)
	assert.True(t, ok)
	assert.True(t, strings.Contains(src, "mjit_test_fn"))
}
