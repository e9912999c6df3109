package translator

import "github.com/k0kubun/yarv-mjit/internal/vm"

// compileBranch emits a conditional or unconditional jump and defers its
// target for compilation once the current fall-through chain is exhausted.
// Per spec.md §4.2's branch-recursion note ("emits the jump branch inline
// and then recursively compiles the fall-through branch before returning to
// handle the taken branch at the caller"), the target must not be compiled
// inline here — doing so would splice the taken branch's block into the C
// buffer ahead of the fall-through instructions that follow this one in the
// bytecode stream. deferTarget only records the target; drainPending lays
// it out afterward, once for whichever reaches it first (here or the
// fall-through chain), with the other becoming a plain goto.
func (t *translator) compileBranch(instr vm.Instruction, stackSize int) (terminal bool, next int) {
	switch instr.Op {
	case vm.OpJump:
		target := int(instr.Operands[0])
		t.printf("    goto %s;\n", t.label(target))
		t.deferTarget(target, stackSize)
		return true, stackSize

	case vm.OpBranchIf:
		target := int(instr.Operands[0])
		cond := stackSize - 1
		t.printf("    if (RTEST(stack[%d])) { goto %s; }\n", cond, t.label(target))
		t.deferTarget(target, cond)
		return false, cond

	case vm.OpBranchUnless:
		target := int(instr.Operands[0])
		cond := stackSize - 1
		t.printf("    if (!RTEST(stack[%d])) { goto %s; }\n", cond, t.label(target))
		t.deferTarget(target, cond)
		return false, cond

	case vm.OpBranchNil:
		target := int(instr.Operands[0])
		cond := stackSize - 1
		t.printf("    if (stack[%d] == Qnil) { goto %s; }\n", cond, t.label(target))
		t.deferTarget(target, cond)
		return false, cond

	case vm.OpBranchIfType:
		typeTag := instr.Operands[0]
		target := int(instr.Operands[1])
		cond := stackSize - 1
		t.printf("    if (mjit_value_type(stack[%d]) == %d) { goto %s; }\n", cond, typeTag, t.label(target))
		t.deferTarget(target, cond)
		return false, cond

	case vm.OpOptCaseDispatch:
		return t.compileCaseDispatch(instr, stackSize)
	}
	t.fail("unhandled branch op %s", instr.Op)
	return true, stackSize
}

// compileCaseDispatch emits a case/when jump table lookup. Operands are
// flattened (value, targetPC) pairs; the condition on TOS is matched
// against each value at runtime by a host helper, falling through to the
// next instruction (stack already popped) when nothing matches.
func (t *translator) compileCaseDispatch(instr vm.Instruction, stackSize int) (bool, int) {
	cond := stackSize - 1
	if len(instr.Operands)%2 != 0 {
		t.fail("opt_case_dispatch with odd operand count")
		return true, stackSize
	}
	for i := 0; i+1 < len(instr.Operands); i += 2 {
		value, target := instr.Operands[i], int(instr.Operands[i+1])
		t.printf("    if (mjit_case_eq((VALUE)%dUL, stack[%d])) { goto %s; }\n", value, cond, t.label(target))
		t.deferTarget(target, cond)
	}
	return false, cond
}
