// Package translator implements the bytecode-to-C translator (spec.md
// §4.2): a pure function from a bytecode body and a symbol name to a C
// source file, plus a success flag.
//
// The writer idiom here — an internal buffer plus print/printf helpers — is
// the same one zhouat/syzkaller's pkg/csource/csource.go uses to generate C
// programs from syscall sequences (ctx.print / ctx.printf over a
// bytes.Buffer). Branch recursion follows spec.md §4.2's "Translator's
// branch recursion" design note: the simulated stack size is threaded as a
// value parameter (not a shared mutable field) so that two branches forking
// from the same instruction cannot corrupt each other's view of the stack;
// only the set of already-compiled positions, the queue of deferred branch
// targets, the overall success flag and the needs-cancel flag are shared.
package translator

import (
	"bytes"
	"fmt"
	"io"

	"github.com/k0kubun/yarv-mjit/internal/jitlog"
	"github.com/k0kubun/yarv-mjit/internal/version"
	"github.com/k0kubun/yarv-mjit/internal/vm"
)

// Snapshot is the compile-time view of global invalidation state that the
// host supplies at the moment compilation starts. Compile accepts it but
// does not read it: the call guards emitted by compileCall embed the call
// cache's own MethodState and ClassSerial as they were at compile time.
type Snapshot struct {
	MethodState int64
	ClassSerial int64
}

// translator holds the state shared across an entire Compile call. Per
// spec.md §4.2's branch-recursion note, only compiledForPos, pending,
// success and needsCancel are mutated from multiple branches; stackSize is
// passed by value to each recursive call instead of living here.
//
// w accumulates only the function body (labels, statements, the cancel
// block): print/printf write here. The header and prologue are assembled
// separately, after the body is fully compiled, because the prologue's
// declarations (namely stack_size, see emitPrologue) depend on state only
// known once the body has been walked.
type translator struct {
	w        *bytes.Buffer
	body     *vm.BytecodeBody
	funcName string
	snapshot Snapshot
	opts     jitlog.Sink

	pcIndex map[int]int // bytecode PC -> index into body.Instructions

	compiledForPos map[int]bool
	pending        []pendingTarget
	success        bool
	needsCancel    bool // true once any guard/op actually emits a goto cancel
}

// pendingTarget is a branch target recorded by compileBranch/
// compileCaseDispatch for compilation after the current fall-through chain
// is exhausted (spec.md §4.2's branch-recursion note).
type pendingTarget struct {
	pc        int
	stackSize int
}

// Compile writes a self-contained C translation unit to w that, when
// compiled, exposes a symbol funcName with signature
// VALUE funcname(ExecContext*, ControlFrame*) (spec.md §4.2 "Contract").
// It returns true if every instruction in body was translatable.
func Compile(w io.Writer, body *vm.BytecodeBody, funcName string, snap Snapshot, opts jitlog.Sink) bool {
	t := &translator{
		w:              new(bytes.Buffer),
		body:           body,
		funcName:       funcName,
		snapshot:       snap,
		opts:           opts,
		pcIndex:        make(map[int]int, len(body.Instructions)),
		compiledForPos: make(map[int]bool, len(body.Instructions)),
		success:        true,
	}
	for i, instr := range body.Instructions {
		t.pcIndex[instr.PC] = i
	}

	// The body (and therefore t.needsCancel) must be compiled before the
	// prologue is emitted, since the prologue's declarations depend on it.
	if len(body.Instructions) > 0 {
		t.compileFrom(body.Instructions[0].PC, 0)
		// Every opt-table entry is a jump target of the opt-arg prologue,
		// so each needs its own label.
		if body.Params.HasOpt {
			for _, e := range body.Params.OptTable {
				t.deferTarget(e.PCOffset, 0)
			}
		}
		t.drainPending()
	}
	t.emitCancelBlock()

	out := new(bytes.Buffer)
	t.emitHeader(out)
	t.emitPrologue(out)
	out.Write(t.w.Bytes())
	t.emitFooter(out)

	_, _ = io.Copy(w, out)
	jitlog.Trace(opts, 1, "translator: compiled %s success=%v", funcName, t.success)
	return t.success
}

func (t *translator) print(s string)               { t.w.WriteString(s) }
func (t *translator) printf(f string, a ...interface{}) { fmt.Fprintf(t.w, f, a...) }

func (t *translator) fail(reason string, a ...interface{}) {
	t.success = false
	jitlog.Warn(t.opts, "translator: %s: "+reason, append([]interface{}{t.funcName}, a...)...)
}

// label emits the goto-label for a bytecode position (spec.md §4.2:
// "label_<pc>").
func (t *translator) label(pc int) string { return fmt.Sprintf("label_%d", pc) }

func (t *translator) emitHeader(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "// autogenerated by yarv-mjit %s; do not edit.\n", version.GetVersion())
	fmt.Fprintf(buf, "// source: %s\n", t.body.Name)
	buf.WriteString("#include \"mjit_runtime.h\"\n\n")
}

// emitPrologue is written after the body (see Compile), so t.needsCancel
// already reflects whether anything in the body reaches the cancel block.
// stack_size is declared here, and only here, whenever the generated C
// references it at all: either some guard assigns it before jumping to
// cancel (t.needsCancel), or the cancel block itself reads it in the
// stack-writeback call emitted whenever StackMax > 0 — that line is
// unconditional once emitted, even along a path nothing ever jumps to, so
// the identifier still needs a declaration for the translation unit to
// compile. Leaving either condition unguarded reproduces the same
// undeclared-identifier failure the other one fixes.
func (t *translator) emitPrologue(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "VALUE\n%s(rb_execution_context_t *ec, rb_control_frame_t *cfp)\n{\n", t.funcName)
	if t.body.StackMax > 0 {
		fmt.Fprintf(buf, "    VALUE stack[%d];\n", t.body.StackMax)
	}
	if t.needsCancel || t.body.StackMax > 0 {
		buf.WriteString("    int stack_size;\n")
	}
	buf.WriteString("    VALUE *reg_cfp_stack = cfp->stack;\n")
	buf.WriteString("    (void)reg_cfp_stack;\n\n")

	if t.body.Params.HasOpt {
		t.emitOptArgPrologue(buf)
	}
}

// emitOptArgPrologue dispatches on the current PC against the body's opt
// table (spec.md §4.2 "Opt-arg prologue"): for each pc_offset in the table,
// entering the function with cfp->pc at that offset must jump to the
// matching label, matching the interpreter's opt_pc semantics.
func (t *translator) emitOptArgPrologue(buf *bytes.Buffer) {
	buf.WriteString("    switch (mjit_opt_pc_offset(cfp)) {\n")
	for _, e := range t.body.Params.OptTable {
		fmt.Fprintf(buf, "    case %d: goto %s;\n", e.PCOffset, t.label(e.PCOffset))
	}
	buf.WriteString("    default: break;\n")
	buf.WriteString("    }\n")
}

// emitCancelBlock appends the shared cancellation handler to the body
// buffer, after every instruction has been compiled (so t.needsCancel is
// already final by the time emitPrologue decides whether to declare
// stack_size).
func (t *translator) emitCancelBlock() {
	t.print("\ncancel:\n")
	if t.body.StackMax > 0 {
		t.print("    mjit_stack_writeback(cfp, stack, stack_size);\n")
	}
	t.print("    return Qundef;\n")
}

func (t *translator) emitFooter(buf *bytes.Buffer) {
	buf.WriteString("}\n")
}

// gotoCancel emits an unconditional jump to the shared cancellation handler
// (spec.md §4.2 "Cancellation handler"), first recording the simulated
// stack depth so the cancel block knows how much of `stack` to write back.
func (t *translator) gotoCancel(stackSize int) {
	t.needsCancel = true
	t.printf("    stack_size = %d; goto cancel;\n", stackSize)
}

// syncPC emits the PC-synchronization write spec.md §4.2 requires before
// every instruction: "a write of the simulated program counter into the
// control frame's pc field, so host machinery... can observe a coherent PC
// when native code re-enters the interpreter."
func (t *translator) syncPC(pc int) {
	t.printf("    cfp->pc = mjit_iseq_encoded(cfp) + %d;\n", pc)
}

// compileFrom is the recursive descent core. It compiles starting at pc
// with the given simulated stack depth, emitting a label for pc the first
// time it's visited and a plain goto on every subsequent reference
// (spec.md §4.2: "A position already emitted is not re-emitted; a reference
// to an already-compiled position becomes a goto.").
func (t *translator) compileFrom(pc int, stackSize int) {
	if t.compiledForPos[pc] {
		t.printf("    goto %s;\n", t.label(pc))
		return
	}
	t.compiledForPos[pc] = true
	t.printf("%s:\n", t.label(pc))

	idx, ok := t.pcIndex[pc]
	if !ok {
		t.fail("branch to unknown position %d", pc)
		return
	}

	for i := idx; i < len(t.body.Instructions); i++ {
		instr := t.body.Instructions[i]
		t.syncPC(instr.PC)

		if stackSize > t.body.StackMax {
			t.fail("stack_size %d exceeds stack_max %d at pc %d", stackSize, t.body.StackMax, instr.PC)
			return
		}

		terminal, next := t.compileInstruction(instr, stackSize)
		if terminal {
			return
		}
		stackSize = next
	}
	// Fell off the end of the instruction stream without a leave/throw;
	// a well-formed body never does this, so treat it as cancellation.
	t.gotoCancel(stackSize)
}

// deferTarget records a branch target for compilation after the current
// fall-through chain is exhausted, rather than compiling it inline at the
// branch site (spec.md §4.2: "emits the jump branch inline and then
// recursively compiles the fall-through branch before returning to handle
// the taken branch at the caller"). If pc has already been visited (e.g.
// the fall-through chain reached it first), this is a no-op — the goto
// already emitted at the branch site is sufficient.
func (t *translator) deferTarget(pc int, stackSize int) {
	if t.compiledForPos[pc] {
		return
	}
	t.pending = append(t.pending, pendingTarget{pc: pc, stackSize: stackSize})
}

// drainPending lays out every branch target deferred by deferTarget, in
// the order first encountered, once the fall-through chain that deferred
// them has returned to its caller. Compiling one target can itself defer
// further targets (nested branches), so this loops until the queue is
// empty rather than a single pass.
func (t *translator) drainPending() {
	for len(t.pending) > 0 {
		next := t.pending[0]
		t.pending = t.pending[1:]
		if t.compiledForPos[next.pc] {
			continue
		}
		t.compileFrom(next.pc, next.stackSize)
	}
}
