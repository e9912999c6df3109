// Package vm holds the Go-side shape of the host interpreter's data model,
// as consumed and mutated by the JIT engine. These types model collaborators
// that spec.md §6 treats as external (the bytecode representation, the
// control-frame stack, inline caches): the engine never constructs the
// interpreter's real runtime state, but it needs a concrete contract to
// compile against and to publish compiled entry points into.
package vm

import (
	"sync"
	"sync/atomic"
)

// Value is the host's tagged runtime value (VALUE in the original C ABI).
// It is treated as an opaque machine word by everything in this module.
type Value uintptr

// Undefined is the Go-side constant for the cancellation sentinel a
// compiled native function returns (spec.md §4.2, glossary). A body's
// not-compilable state is recorded separately, as EntryNotCompilable.
const Undefined Value = 0

// EntryState describes which of the three semantic values (spec.md §3
// invariants) a body's entry-point slot currently holds.
type EntryState int

const (
	// EntryNotAttempted means the body has never been compiled or has been
	// re-enqueued after an unload; the interpreter still owns dispatch.
	EntryNotAttempted EntryState = iota
	// EntryNotCompilable is the terminal failure sentinel: the translator,
	// compiler, or loader failed and the body will never be retried.
	EntryNotCompilable
	// EntryCompiled means the slot holds a callable function pointer.
	EntryCompiled
)

// NativeFunc is the Go-side representation of the generated function's ABI:
// VALUE funcname(ExecContext*, ControlFrame*) in the original C surface.
type NativeFunc func(ec *ExecContext, cfp *ControlFrame) Value

// entryPoint is published with an atomic store by the worker and read with
// an ordinary atomic load by mutator threads (spec.md §5's "at-most-one
// publish per body" and release/acquire requirement).
type entryPoint struct {
	state EntryState
	fn    NativeFunc
}

// OptEntry is one row of a bytecode body's optional-argument dispatch table:
// a PC offset to jump to depending on how many optional arguments were
// actually supplied at the call site (spec.md §4.2 "Opt-arg prologue").
type OptEntry struct {
	PCOffset int
}

// ParamDescriptor describes a bytecode body's parameter layout, enough for
// the translator's "fast path" predicate (spec.md §4.2 call protocol) and
// the opt-arg prologue.
type ParamDescriptor struct {
	HasOpt       bool
	OptTable     []OptEntry
	HasSplat     bool
	HasKeyword   bool
	HasKeyRest   bool
	Protected    bool // true if the method may not be called across visibility boundaries
	RequiredNum  int
	OptionalNum  int
	LocalTableSz int
}

// Instruction is one decoded bytecode instruction: an opcode plus its
// operand list, as the translator receives it. The operand encoding itself
// (literal index, jump target, call-cache pointer, etc.) is interpreted per
// opcode family by the translator.
type Instruction struct {
	PC       int
	Op       Opcode
	Operands []int64
	// CallCache is populated only for call-family opcodes.
	CallCache *CallCache
}

// BytecodeBody is the immutable compiled form of a method (an ISeq in the
// original), plus the two engine-owned mutable fields (spec.md §3).
type BytecodeBody struct {
	// Instructions is the constant instruction stream. Never mutated once
	// the body is constructed; the engine only ever reads it.
	Instructions []Instruction
	StackMax     int
	Params       ParamDescriptor

	// Name is used purely for diagnostics (function naming, log lines).
	Name string

	mu sync.Mutex
	// entry is the entry point, published with atomic.Value's Store and
	// read with its Load. atomic.Value is used rather than a raw pointer
	// because NativeFunc is a closure, not a simple machine word, so no
	// unsafe.Pointer handling is needed.
	entry atomic.Value // holds entryPoint

	// engineUnit is non-nil iff this body is tracked by the engine
	// (spec.md §3 invariant). Written only under the engine mutex by the
	// owner of this body (internal/unit.Store); read freely.
	engineUnit atomic.Value // holds *unit, via an opaque interface to avoid import cycles

	// totalCalls is the host's call-count counter for this body, read by
	// the queue's dequeue-best scan and written by the interpreter's
	// dispatch loop (external to this module; exposed here for symmetry
	// and for tests).
	totalCalls atomic.Int64
}

// NewBytecodeBody constructs a body with an empty (not-yet-attempted) entry
// point, ready to be hung off the unit store.
func NewBytecodeBody(name string, instrs []Instruction, stackMax int, params ParamDescriptor) *BytecodeBody {
	b := &BytecodeBody{
		Instructions: instrs,
		StackMax:     stackMax,
		Params:       params,
		Name:         name,
	}
	b.entry.Store(entryPoint{state: EntryNotAttempted})
	return b
}

// EntryState returns the current semantic state of the entry-point slot.
func (b *BytecodeBody) EntryState() EntryState {
	return b.entry.Load().(entryPoint).state
}

// NativeFunc returns the callable function pointer, or nil if the body is
// not currently compiled.
func (b *BytecodeBody) NativeFunc() NativeFunc {
	ep := b.entry.Load().(entryPoint)
	if ep.state != EntryCompiled {
		return nil
	}
	return ep.fn
}

// PublishCompiled installs a callable entry point. This is the single
// forward transition from not-attempted to compiled (spec.md §3 invariant:
// "Transitions go only forward from not-yet-attempted").
func (b *BytecodeBody) PublishCompiled(fn NativeFunc) {
	b.entry.Store(entryPoint{state: EntryCompiled, fn: fn})
}

// MarkNotCompilable installs the terminal failure sentinel so the body is
// never retried (spec.md §4.2 "Failure modes", §7).
func (b *BytecodeBody) MarkNotCompilable() {
	b.entry.Store(entryPoint{state: EntryNotCompilable})
}

// TotalCalls returns the host's call-count counter, used by the queue's
// priority scan.
func (b *BytecodeBody) TotalCalls() int64 {
	return b.totalCalls.Load()
}

// RecordCall increments the call counter. In the real host this happens on
// every interpreted dispatch of the body; exposed here so tests and the
// engine's own bookkeeping can drive it directly.
func (b *BytecodeBody) RecordCall() {
	b.totalCalls.Add(1)
}

// EngineUnit returns the opaque unit handle set by the unit store, or nil if
// this body is not currently tracked by the engine.
func (b *BytecodeBody) EngineUnit() interface{} {
	return b.engineUnit.Load()
}

// SetEngineUnit installs or clears the unit back-pointer. Called only by
// internal/unit under the engine mutex (spec.md §3: "written only under the
// mutex; read freely").
func (b *BytecodeBody) SetEngineUnit(u interface{}) {
	if u == nil {
		// atomic.Value requires a concrete, non-nil type on every Store;
		// a typed-nil sentinel keeps EngineUnit()'s "non-nil iff tracked"
		// contract simple for callers that type-assert.
		b.engineUnit.Store((*struct{})(nil))
		return
	}
	b.engineUnit.Store(u)
}

// IsTracked reports whether SetEngineUnit was last called with a non-nil
// value.
func (b *BytecodeBody) IsTracked() bool {
	v := b.engineUnit.Load()
	if v == nil {
		return false
	}
	if p, ok := v.(*struct{}); ok && p == nil {
		return false
	}
	return true
}
