package translator

import "github.com/k0kubun/yarv-mjit/internal/vm"

// compileCall emits the call protocol (spec.md §4.2 "Call protocol"): a
// compile-time snapshot guard against the call cache's method-state and
// class-serial, then one of three dispatch shapes depending on what the
// cache resolved to at compile time — a direct native call, an inlined
// fast-path frame push for a simple bytecode callee, or the fully generic
// dispatcher. A cache that never resolved (nil) always takes the generic
// path; there is nothing to guard.
func (t *translator) compileCall(instr vm.Instruction, stackSize int) int {
	if instr.Op == vm.OpInvokeBlock {
		argc := 0
		if len(instr.Operands) > 0 {
			argc = int(instr.Operands[0])
		}
		recvPos := stackSize - argc
		t.printf("    stack[%d] = mjit_invoke_block(ec, cfp, %d, &stack[%d]);\n", recvPos, argc, recvPos)
		return recvPos + 1
	}

	if instr.Op == vm.OpInvokeSuper {
		// super dispatch walks the ancestor chain starting above the
		// defining class of the current method; that lookup isn't captured
		// by a simple cache guard, so it always deoptimizes.
		t.gotoCancel(stackSize)
		return stackSize
	}

	argc := 0
	if len(instr.Operands) > 0 {
		argc = int(instr.Operands[0])
	}
	recvPos := stackSize - argc - 1
	cache := instr.CallCache

	if cache == nil {
		t.printf("    stack[%d] = mjit_send_generic(ec, cfp, stack[%d], %d, &stack[%d]);\n",
			recvPos, recvPos, argc, recvPos+1)
		return recvPos + 1
	}

	t.needsCancel = true
	t.printf("    if (mjit_cc_invalid(cfp, %d, %dULL, %dULL)) { stack_size = %d; goto cancel; }\n",
		instr.PC, cache.MethodState, cache.ClassSerial, stackSize)

	switch {
	case cache.Target.Kind == vm.TargetNative:
		t.printf("    stack[%d] = mjit_call_native(ec, stack[%d], %d, &stack[%d]);\n",
			recvPos, recvPos, argc, recvPos+1)
	case cache.Target.QualifiesForFastPath():
		t.printf("    stack[%d] = mjit_call_fastpath(ec, cfp, stack[%d], %d, &stack[%d]);\n",
			recvPos, recvPos, argc, recvPos+1)
	default:
		t.printf("    stack[%d] = mjit_send_generic(ec, cfp, stack[%d], %d, &stack[%d]);\n",
			recvPos, recvPos, argc, recvPos+1)
	}
	return recvPos + 1
}

// optArity classifies an optimized instruction's operand width, since each
// opt_* op pops a different number of stack slots (spec.md §4.2 "Optimized
// operations"): a receiver-only shape, a receiver-plus-one shape, or (for
// opt_aset) a receiver-plus-key-plus-value shape.
func optArity(op vm.Opcode) int {
	switch op {
	case vm.OpOptLength, vm.OpOptSize, vm.OpOptEmptyP, vm.OpOptSucc, vm.OpOptNot,
		vm.OpOptArefWith, vm.OpOptRegexpMatch1:
		return 1
	case vm.OpOptAset:
		return 3
	default:
		return 2
	}
}

// optHelperName returns the runtime helper backing an optimized op. Every
// helper returns Qundef when the fast path doesn't apply (operand types
// don't match the inline assumption, or the basic operation has been
// redefined since compile time), signaling the caller to deoptimize.
func optHelperName(op vm.Opcode) string {
	switch op {
	case vm.OpOptPlus:
		return "mjit_opt_plus"
	case vm.OpOptMinus:
		return "mjit_opt_minus"
	case vm.OpOptMult:
		return "mjit_opt_mult"
	case vm.OpOptDiv:
		return "mjit_opt_div"
	case vm.OpOptMod:
		return "mjit_opt_mod"
	case vm.OpOptEq:
		return "mjit_opt_eq"
	case vm.OpOptNeq:
		return "mjit_opt_neq"
	case vm.OpOptLt:
		return "mjit_opt_lt"
	case vm.OpOptLe:
		return "mjit_opt_le"
	case vm.OpOptGt:
		return "mjit_opt_gt"
	case vm.OpOptGe:
		return "mjit_opt_ge"
	case vm.OpOptLtLt:
		return "mjit_opt_ltlt"
	case vm.OpOptAref:
		return "mjit_opt_aref"
	case vm.OpOptAset:
		return "mjit_opt_aset"
	case vm.OpOptArefWith:
		return "mjit_opt_aref_with"
	case vm.OpOptAsetWith:
		return "mjit_opt_aset_with"
	case vm.OpOptLength:
		return "mjit_opt_length"
	case vm.OpOptSize:
		return "mjit_opt_size"
	case vm.OpOptEmptyP:
		return "mjit_opt_empty_p"
	case vm.OpOptSucc:
		return "mjit_opt_succ"
	case vm.OpOptNot:
		return "mjit_opt_not"
	case vm.OpOptRegexpMatch1:
		return "mjit_opt_regexpmatch1"
	case vm.OpOptRegexpMatch2:
		return "mjit_opt_regexpmatch2"
	}
	return "mjit_opt_unknown"
}

// compileOptimizedOp emits an optimized arithmetic/comparison/container op
// (spec.md §4.2 "Optimized operations"): call the runtime helper, then
// check its Qundef sentinel and deoptimize on miss rather than trying to
// inline the redefinition check per operation.
func (t *translator) compileOptimizedOp(instr vm.Instruction, stackSize int) int {
	helper := optHelperName(instr.Op)
	arity := optArity(instr.Op)
	resultPos := stackSize - arity

	switch arity {
	case 1:
		t.printf("    stack[%d] = %s(stack[%d]);\n", resultPos, helper, resultPos)
	case 2:
		t.printf("    stack[%d] = %s(stack[%d], stack[%d]);\n", resultPos, helper, resultPos, resultPos+1)
	case 3:
		t.printf("    stack[%d] = %s(stack[%d], stack[%d], stack[%d]);\n",
			resultPos, helper, resultPos, resultPos+1, resultPos+2)
	}

	t.needsCancel = true
	t.printf("    if (stack[%d] == Qundef) { stack_size = %d; goto cancel; }\n", resultPos, stackSize)
	return resultPos + 1
}
