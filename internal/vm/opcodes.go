package vm

// Opcode enumerates the bytecode instruction families the translator must
// handle (spec.md §4.2 "Per-instruction emission"). The names mirror the
// host VM's actual instruction mnemonics so translator code and diagnostics
// read the same as the reference implementation's trace output.
type Opcode int

const (
	OpNop Opcode = iota

	// Stack primitives.
	OpPutNil
	OpPutSelf
	OpPutObject // operand: literal Value, encoded as int64(Value)
	OpDup
	OpDupN
	OpSwap
	OpPop
	OpTopN
	OpSetN
	OpReverse
	OpAdjustStack

	// Object construction.
	OpNewArray
	OpDupArray
	OpSplatArray
	OpConcatArray
	OpExpandArray
	OpNewHash
	OpNewHashBulk
	OpNewRange
	OpToRegexp

	// String/symbol.
	OpPutString
	OpConcatStrings
	OpToString
	OpFreezeString
	OpIntern
	OpOptStrFreeze
	OpOptUMinus

	// Locals.
	OpGetLocalWC0
	OpGetLocalWC1
	OpGetLocal // operand: level, index
	OpSetLocalWC0
	OpSetLocalWC1
	OpSetLocal

	// Variables.
	OpGetInstance
	OpSetInstance
	OpGetClass
	OpSetClass
	OpGetConstant
	OpSetConstant
	OpGetGlobal
	OpSetGlobal
	OpGetInlineCache
	OpSetInlineCache

	// Branches.
	OpJump
	OpBranchIf
	OpBranchUnless
	OpBranchNil
	OpBranchIfType
	OpOptCaseDispatch

	// Method calls.
	OpSend
	OpOptSendWithoutBlock
	OpInvokeSuper
	OpInvokeBlock

	// Optimized arithmetic / comparisons.
	OpOptPlus
	OpOptMinus
	OpOptMult
	OpOptDiv
	OpOptMod
	OpOptEq
	OpOptNeq
	OpOptLt
	OpOptLe
	OpOptGt
	OpOptGe
	OpOptLtLt
	OpOptAref
	OpOptAset
	OpOptArefWith
	OpOptAsetWith
	OpOptLength
	OpOptSize
	OpOptEmptyP
	OpOptSucc
	OpOptNot
	OpOptRegexpMatch1
	OpOptRegexpMatch2

	// Trace / defined / checks.
	OpTrace
	OpTrace2
	OpDefined
	OpCheckMatch
	OpCheckKeyword

	// Terminal.
	OpLeave
	OpThrow

	// Explicitly unsupported (spec.md §4.2): the translator recognizes
	// these only so it can fail the unit cleanly instead of falling into
	// the "anything not enumerated" default case silently.
	OpGetBlockParamProxy
	OpDefineClass
	OpOptCallCFunction
)

// unsupported is the set of opcodes spec.md §4.2 names as explicitly
// unsupported. An opcode the translator has no case for and that is not in
// this set is "anything not enumerated" and is handled identically:
// translation fails.
var unsupported = map[Opcode]bool{
	OpGetBlockParamProxy: true,
	OpDefineClass:        true,
	OpOptCallCFunction:   true,
}

// IsExplicitlyUnsupported reports whether op is one of the three opcodes
// spec.md §4.2 calls out by name, as opposed to simply being unrecognized.
// Used only to choose a diagnostic message; both cases fail translation.
func IsExplicitlyUnsupported(op Opcode) bool {
	return unsupported[op]
}

// String implements fmt.Stringer for diagnostics.
func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "opcode(unknown)"
}

var opcodeNames = map[Opcode]string{
	OpNop:                 "nop",
	OpPutNil:              "putnil",
	OpPutSelf:             "putself",
	OpPutObject:           "putobject",
	OpDup:                 "dup",
	OpDupN:                "dupn",
	OpSwap:                "swap",
	OpPop:                 "pop",
	OpTopN:                "topn",
	OpSetN:                "setn",
	OpReverse:             "reverse",
	OpAdjustStack:         "adjuststack",
	OpNewArray:            "newarray",
	OpDupArray:            "duparray",
	OpSplatArray:          "splatarray",
	OpConcatArray:         "concatarray",
	OpExpandArray:         "expandarray",
	OpNewHash:             "newhash",
	OpNewHashBulk:         "newhashfromarray",
	OpNewRange:            "newrange",
	OpToRegexp:            "toregexp",
	OpPutString:           "putstring",
	OpConcatStrings:       "concatstrings",
	OpToString:            "tostring",
	OpFreezeString:        "freezestring",
	OpIntern:              "intern",
	OpOptStrFreeze:        "opt_str_freeze",
	OpOptUMinus:           "opt_uminus",
	OpGetLocalWC0:         "getlocal_OP__WC__0",
	OpGetLocalWC1:         "getlocal_OP__WC__1",
	OpGetLocal:            "getlocal",
	OpSetLocalWC0:         "setlocal_OP__WC__0",
	OpSetLocalWC1:         "setlocal_OP__WC__1",
	OpSetLocal:            "setlocal",
	OpGetInstance:         "getinstancevariable",
	OpSetInstance:         "setinstancevariable",
	OpGetClass:            "getclassvariable",
	OpSetClass:            "setclassvariable",
	OpGetConstant:         "getconstant",
	OpSetConstant:         "setconstant",
	OpGetGlobal:           "getglobal",
	OpSetGlobal:           "setglobal",
	OpGetInlineCache:      "getinlinecache",
	OpSetInlineCache:      "setinlinecache",
	OpJump:                "jump",
	OpBranchIf:            "branchif",
	OpBranchUnless:        "branchunless",
	OpBranchNil:           "branchnil",
	OpBranchIfType:        "branchiftype",
	OpOptCaseDispatch:     "opt_case_dispatch",
	OpSend:                "send",
	OpOptSendWithoutBlock: "opt_send_without_block",
	OpInvokeSuper:         "invokesuper",
	OpInvokeBlock:         "invokeblock",
	OpOptPlus:             "opt_plus",
	OpOptMinus:            "opt_minus",
	OpOptMult:             "opt_mult",
	OpOptDiv:              "opt_div",
	OpOptMod:              "opt_mod",
	OpOptEq:               "opt_eq",
	OpOptNeq:              "opt_neq",
	OpOptLt:               "opt_lt",
	OpOptLe:               "opt_le",
	OpOptGt:               "opt_gt",
	OpOptGe:               "opt_ge",
	OpOptLtLt:             "opt_ltlt",
	OpOptAref:             "opt_aref",
	OpOptAset:             "opt_aset",
	OpOptArefWith:         "opt_aref_with",
	OpOptAsetWith:         "opt_aset_with",
	OpOptLength:           "opt_length",
	OpOptSize:             "opt_size",
	OpOptEmptyP:           "opt_empty_p",
	OpOptSucc:             "opt_succ",
	OpOptNot:              "opt_not",
	OpOptRegexpMatch1:     "opt_regexpmatch1",
	OpOptRegexpMatch2:     "opt_regexpmatch2",
	OpTrace:               "trace",
	OpTrace2:              "trace2",
	OpDefined:             "defined",
	OpCheckMatch:          "checkmatch",
	OpCheckKeyword:        "checkkeyword",
	OpLeave:               "leave",
	OpThrow:               "throw",
	OpGetBlockParamProxy:  "getblockparamproxy",
	OpDefineClass:         "defineclass",
	OpOptCallCFunction:    "opt_call_c_function",
}
