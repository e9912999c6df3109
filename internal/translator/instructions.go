package translator

import "github.com/k0kubun/yarv-mjit/internal/vm"

// compileInstruction emits C for a single instruction and returns whether it
// terminates its branch (leave/throw/jump) plus the stack depth after it.
// stackSize is a value, not a shared field, so forked branches never
// observe each other's adjustments (spec.md §4.2 design note).
func (t *translator) compileInstruction(instr vm.Instruction, stackSize int) (terminal bool, next int) {
	op := instr.Op
	switch {
	case isStackPrimitive(op):
		return false, t.compileStackPrimitive(instr, stackSize)
	case isLocalAccess(op):
		return false, t.compileLocalAccess(instr, stackSize)
	case isObjectConstruction(op):
		return false, t.compileObjectConstruction(instr, stackSize)
	case isStringOp(op):
		return false, t.compileStringOp(instr, stackSize)
	case isVariableOp(op):
		return false, t.compileVariableOp(instr, stackSize)
	case isBranchOp(op):
		return t.compileBranch(instr, stackSize)
	case isCallOp(op):
		return false, t.compileCall(instr, stackSize)
	case isOptimizedOp(op):
		return false, t.compileOptimizedOp(instr, stackSize)
	case op == vm.OpTrace || op == vm.OpTrace2:
		return false, t.compileTrace(instr, stackSize)
	case op == vm.OpDefined || op == vm.OpCheckMatch || op == vm.OpCheckKeyword:
		return false, t.compileDefinedCheck(instr, stackSize)
	case op == vm.OpLeave:
		return t.compileLeave(stackSize), stackSize
	case op == vm.OpThrow:
		return t.compileThrow(stackSize), stackSize
	case vm.IsExplicitlyUnsupported(op):
		t.fail("unsupported instruction %s at pc %d", op, instr.PC)
		return true, stackSize
	default:
		t.fail("unrecognized instruction %s at pc %d", op, instr.PC)
		return true, stackSize
	}
}

func isStackPrimitive(op vm.Opcode) bool {
	switch op {
	case vm.OpNop, vm.OpPutNil, vm.OpPutSelf, vm.OpPutObject, vm.OpDup, vm.OpDupN,
		vm.OpSwap, vm.OpPop, vm.OpTopN, vm.OpSetN, vm.OpReverse, vm.OpAdjustStack:
		return true
	}
	return false
}

func isLocalAccess(op vm.Opcode) bool {
	switch op {
	case vm.OpGetLocalWC0, vm.OpGetLocalWC1, vm.OpGetLocal,
		vm.OpSetLocalWC0, vm.OpSetLocalWC1, vm.OpSetLocal:
		return true
	}
	return false
}

func isObjectConstruction(op vm.Opcode) bool {
	switch op {
	case vm.OpNewArray, vm.OpDupArray, vm.OpSplatArray, vm.OpConcatArray, vm.OpExpandArray,
		vm.OpNewHash, vm.OpNewHashBulk, vm.OpNewRange, vm.OpToRegexp:
		return true
	}
	return false
}

func isStringOp(op vm.Opcode) bool {
	switch op {
	case vm.OpPutString, vm.OpConcatStrings, vm.OpToString, vm.OpFreezeString,
		vm.OpIntern, vm.OpOptStrFreeze, vm.OpOptUMinus:
		return true
	}
	return false
}

func isVariableOp(op vm.Opcode) bool {
	switch op {
	case vm.OpGetInstance, vm.OpSetInstance, vm.OpGetClass, vm.OpSetClass,
		vm.OpGetConstant, vm.OpSetConstant, vm.OpGetGlobal, vm.OpSetGlobal,
		vm.OpGetInlineCache, vm.OpSetInlineCache:
		return true
	}
	return false
}

func isBranchOp(op vm.Opcode) bool {
	switch op {
	case vm.OpJump, vm.OpBranchIf, vm.OpBranchUnless, vm.OpBranchNil,
		vm.OpBranchIfType, vm.OpOptCaseDispatch:
		return true
	}
	return false
}

func isCallOp(op vm.Opcode) bool {
	switch op {
	case vm.OpSend, vm.OpOptSendWithoutBlock, vm.OpInvokeSuper, vm.OpInvokeBlock:
		return true
	}
	return false
}

func isOptimizedOp(op vm.Opcode) bool {
	switch op {
	case vm.OpOptPlus, vm.OpOptMinus, vm.OpOptMult, vm.OpOptDiv, vm.OpOptMod,
		vm.OpOptEq, vm.OpOptNeq, vm.OpOptLt, vm.OpOptLe, vm.OpOptGt, vm.OpOptGe,
		vm.OpOptLtLt, vm.OpOptAref, vm.OpOptAset, vm.OpOptArefWith, vm.OpOptAsetWith,
		vm.OpOptLength, vm.OpOptSize, vm.OpOptEmptyP, vm.OpOptSucc, vm.OpOptNot,
		vm.OpOptRegexpMatch1, vm.OpOptRegexpMatch2:
		return true
	}
	return false
}

// --- Stack primitives ---------------------------------------------------

func (t *translator) compileStackPrimitive(instr vm.Instruction, stackSize int) int {
	switch instr.Op {
	case vm.OpNop:
		return stackSize
	case vm.OpPutNil:
		t.printf("    stack[%d] = Qnil;\n", stackSize)
		return stackSize + 1
	case vm.OpPutSelf:
		t.printf("    stack[%d] = cfp->self;\n", stackSize)
		return stackSize + 1
	case vm.OpPutObject:
		t.printf("    stack[%d] = (VALUE)%dUL;\n", stackSize, instr.Operands[0])
		return stackSize + 1
	case vm.OpDup:
		t.printf("    stack[%d] = stack[%d];\n", stackSize, stackSize-1)
		return stackSize + 1
	case vm.OpDupN:
		n := int(instr.Operands[0])
		for i := 0; i < n; i++ {
			t.printf("    stack[%d] = stack[%d];\n", stackSize+i, stackSize-n+i)
		}
		return stackSize + n
	case vm.OpSwap:
		t.printf("    { VALUE tmp = stack[%d]; stack[%d] = stack[%d]; stack[%d] = tmp; }\n",
			stackSize-1, stackSize-1, stackSize-2, stackSize-2)
		return stackSize
	case vm.OpPop:
		return stackSize - 1
	case vm.OpTopN:
		n := int(instr.Operands[0])
		t.printf("    stack[%d] = stack[%d];\n", stackSize, stackSize-1-n)
		return stackSize + 1
	case vm.OpSetN:
		n := int(instr.Operands[0])
		t.printf("    stack[%d] = stack[%d];\n", stackSize-1-n, stackSize-1)
		return stackSize
	case vm.OpReverse:
		n := int(instr.Operands[0])
		t.printf("    mjit_stack_reverse(stack, %d, %d);\n", stackSize-n, n)
		return stackSize
	case vm.OpAdjustStack:
		n := int(instr.Operands[0])
		return stackSize - n
	}
	t.fail("unhandled stack primitive %s", instr.Op)
	return stackSize
}

// --- Locals ---------------------------------------------------------------

func (t *translator) compileLocalAccess(instr vm.Instruction, stackSize int) int {
	switch instr.Op {
	case vm.OpGetLocalWC0:
		idx := instr.Operands[0]
		t.printf("    stack[%d] = *mjit_ep_at(cfp, 0, %d);\n", stackSize, idx)
		return stackSize + 1
	case vm.OpGetLocalWC1:
		idx := instr.Operands[0]
		t.printf("    stack[%d] = *mjit_ep_at(cfp, 1, %d);\n", stackSize, idx)
		return stackSize + 1
	case vm.OpGetLocal:
		level, idx := instr.Operands[0], instr.Operands[1]
		t.printf("    stack[%d] = *mjit_ep_at(cfp, %d, %d);\n", stackSize, level, idx)
		return stackSize + 1
	case vm.OpSetLocalWC0:
		idx := instr.Operands[0]
		t.printf("    *mjit_ep_at(cfp, 0, %d) = stack[%d];\n", idx, stackSize-1)
		return stackSize - 1
	case vm.OpSetLocalWC1:
		idx := instr.Operands[0]
		t.printf("    *mjit_ep_at(cfp, 1, %d) = stack[%d];\n", idx, stackSize-1)
		return stackSize - 1
	case vm.OpSetLocal:
		level, idx := instr.Operands[0], instr.Operands[1]
		t.printf("    *mjit_ep_at(cfp, %d, %d) = stack[%d];\n", level, idx, stackSize-1)
		return stackSize - 1
	}
	t.fail("unhandled local access %s", instr.Op)
	return stackSize
}

// --- Object construction ---------------------------------------------------

func (t *translator) compileObjectConstruction(instr vm.Instruction, stackSize int) int {
	n := 0
	if len(instr.Operands) > 0 {
		n = int(instr.Operands[0])
	}
	switch instr.Op {
	case vm.OpNewArray:
		t.printf("    stack[%d] = mjit_new_array(ec, %d, &stack[%d]);\n", stackSize-n, n, stackSize-n)
		return stackSize - n + 1
	case vm.OpDupArray:
		t.printf("    stack[%d] = mjit_dup_array((VALUE)%dUL);\n", stackSize, instr.Operands[0])
		return stackSize + 1
	case vm.OpSplatArray:
		t.printf("    stack[%d] = mjit_splat_array(stack[%d]);\n", stackSize-1, stackSize-1)
		return stackSize
	case vm.OpConcatArray:
		t.printf("    stack[%d] = mjit_concat_array(stack[%d], stack[%d]);\n", stackSize-2, stackSize-2, stackSize-1)
		return stackSize - 1
	case vm.OpExpandArray:
		t.printf("    mjit_expand_array(ec, &stack[%d], stack[%d], %d);\n", stackSize-1, stackSize-1, n)
		return stackSize - 1 + n
	case vm.OpNewHash:
		t.printf("    stack[%d] = mjit_new_hash(ec, %d, &stack[%d]);\n", stackSize-n, n, stackSize-n)
		return stackSize - n + 1
	case vm.OpNewHashBulk:
		t.printf("    stack[%d] = mjit_new_hash_from_array(stack[%d]);\n", stackSize-1, stackSize-1)
		return stackSize
	case vm.OpNewRange:
		t.printf("    stack[%d] = mjit_new_range(stack[%d], stack[%d], %d);\n",
			stackSize-2, stackSize-2, stackSize-1, instr.Operands[0])
		return stackSize - 1
	case vm.OpToRegexp:
		t.printf("    stack[%d] = mjit_to_regexp(ec, %d, &stack[%d]);\n", stackSize-n, n, stackSize-n)
		return stackSize - n + 1
	}
	t.fail("unhandled object construction %s", instr.Op)
	return stackSize
}

// --- String/symbol ---------------------------------------------------------

func (t *translator) compileStringOp(instr vm.Instruction, stackSize int) int {
	switch instr.Op {
	case vm.OpPutString:
		t.printf("    stack[%d] = mjit_str_resurrect((VALUE)%dUL);\n", stackSize, instr.Operands[0])
		return stackSize + 1
	case vm.OpConcatStrings:
		n := int(instr.Operands[0])
		t.printf("    stack[%d] = mjit_concat_strings(ec, %d, &stack[%d]);\n", stackSize-n, n, stackSize-n)
		return stackSize - n + 1
	case vm.OpToString:
		t.printf("    stack[%d] = mjit_obj_as_string(stack[%d]);\n", stackSize-1, stackSize-1)
		return stackSize
	case vm.OpFreezeString:
		t.printf("    mjit_str_freeze(stack[%d]);\n", stackSize-1)
		return stackSize
	case vm.OpIntern:
		t.printf("    stack[%d] = mjit_str_intern(stack[%d]);\n", stackSize-1, stackSize-1)
		return stackSize
	case vm.OpOptStrFreeze:
		t.printBopGuard("opt_str_freeze", stackSize)
		t.printf("    stack[%d] = mjit_str_resurrect((VALUE)%dUL);\n", stackSize, instr.Operands[0])
		return stackSize + 1
	case vm.OpOptUMinus:
		t.printBopGuard("opt_uminus", stackSize)
		t.printf("    stack[%d] = mjit_opt_uminus(stack[%d]);\n", stackSize-1, stackSize-1)
		return stackSize
	}
	t.fail("unhandled string op %s", instr.Op)
	return stackSize
}

// printBopGuard emits the redefinition check spec.md §4.2 requires for
// opt_str_freeze/opt_uminus ("BOP-redefinition guard"): if the basic
// operation has been redefined since compile time, deoptimize instead of
// running the fast path.
func (t *translator) printBopGuard(bop string, stackSize int) {
	t.needsCancel = true
	t.printf("    if (mjit_bop_redefined(%q)) { stack_size = %d; goto cancel; }\n", bop, stackSize)
}

// --- Variables ---------------------------------------------------------------

func (t *translator) compileVariableOp(instr vm.Instruction, stackSize int) int {
	switch instr.Op {
	case vm.OpGetInstance:
		t.printf("    stack[%d] = mjit_ivar_get(cfp->self, (VALUE)%dUL);\n", stackSize, instr.Operands[0])
		return stackSize + 1
	case vm.OpSetInstance:
		t.printf("    mjit_ivar_set(cfp->self, (VALUE)%dUL, stack[%d]);\n", instr.Operands[0], stackSize-1)
		return stackSize - 1
	case vm.OpGetClass:
		t.printf("    stack[%d] = mjit_cvar_get((VALUE)%dUL);\n", stackSize, instr.Operands[0])
		return stackSize + 1
	case vm.OpSetClass:
		t.needsCancel = true
		t.printf("    if (mjit_refinement_active()) { stack_size = %d; goto cancel; }\n", stackSize)
		t.printf("    mjit_cvar_set((VALUE)%dUL, stack[%d]);\n", instr.Operands[0], stackSize-1)
		return stackSize - 1
	case vm.OpGetConstant:
		t.printf("    stack[%d] = mjit_const_get(ec, (VALUE)%dUL);\n", stackSize-1, instr.Operands[0])
		return stackSize
	case vm.OpSetConstant:
		t.needsCancel = true
		t.printf("    if (mjit_cref_namespace_protected()) { stack_size = %d; goto cancel; }\n", stackSize)
		t.printf("    mjit_const_set((VALUE)%dUL, stack[%d], stack[%d]);\n",
			instr.Operands[0], stackSize-1, stackSize-2)
		return stackSize - 2
	case vm.OpGetGlobal:
		t.printf("    stack[%d] = mjit_gvar_get((VALUE)%dUL);\n", stackSize, instr.Operands[0])
		return stackSize + 1
	case vm.OpSetGlobal:
		t.printf("    mjit_gvar_set((VALUE)%dUL, stack[%d]);\n", instr.Operands[0], stackSize-1)
		return stackSize - 1
	case vm.OpGetInlineCache:
		t.printf("    if (mjit_ic_hit(%d)) { stack[%d] = mjit_ic_value(%d); } else { goto %s; }\n",
			instr.Operands[0], stackSize, instr.Operands[0], t.label(int(instr.Operands[1])))
		return stackSize + 1
	case vm.OpSetInlineCache:
		t.printf("    mjit_ic_update(%d, stack[%d]);\n", instr.Operands[0], stackSize-1)
		return stackSize
	}
	t.fail("unhandled variable op %s", instr.Op)
	return stackSize
}

// --- Trace / defined / checks ------------------------------------------------

func (t *translator) compileTrace(instr vm.Instruction, stackSize int) int {
	t.printf("    mjit_exec_trace(ec, %dUL);\n", instr.Operands[0])
	return stackSize
}

func (t *translator) compileDefinedCheck(instr vm.Instruction, stackSize int) int {
	switch instr.Op {
	case vm.OpDefined:
		t.printf("    stack[%d] = mjit_vm_defined(ec, cfp, %d, (VALUE)%dUL, stack[%d]);\n",
			stackSize-1, instr.Operands[0], instr.Operands[1], stackSize-1)
		return stackSize
	case vm.OpCheckMatch:
		t.printf("    stack[%d] = mjit_check_match(stack[%d], stack[%d], %d);\n",
			stackSize-2, stackSize-2, stackSize-1, instr.Operands[0])
		return stackSize - 1
	case vm.OpCheckKeyword:
		t.printf("    stack[%d] = mjit_check_keyword(cfp, %d, %d);\n", stackSize, instr.Operands[0], instr.Operands[1])
		return stackSize + 1
	}
	t.fail("unhandled defined/check op %s", instr.Op)
	return stackSize
}

// --- Terminals ---------------------------------------------------------------

// compileLeave returns true (the function terminates). Per spec.md §4.2
// ("Failure modes"): "on leave with stack_size != 1" translation fails.
func (t *translator) compileLeave(stackSize int) bool {
	if stackSize != 1 {
		t.fail("leave with stack_size=%d, expected 1", stackSize)
		return true
	}
	t.print("    return stack[0];\n")
	return true
}

func (t *translator) compileThrow(stackSize int) bool {
	if stackSize < 1 {
		t.fail("throw with empty stack")
		return true
	}
	t.printf("    return mjit_vm_throw(ec, cfp, stack[%d]);\n", stackSize-1)
	return true
}
