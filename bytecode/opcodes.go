package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a bytecode instruction. Opcodes at or above HaveArgument
// carry an argument; below it the argument byte is ignored (wordcode) or
// absent (legacy encoding).
type Opcode byte

// HaveArgument is the first opcode that takes an argument.
const HaveArgument Opcode = 90

// Argument-less opcodes
const (
	CACHE            Opcode = 0  // inline cache unit, never executed
	POP_TOP          Opcode = 1  // discard top of stack
	PUSH_NULL        Opcode = 2  // push a NULL marker (call protocol)
	END_FOR          Opcode = 4  // loop exit cleanup, skipped by FOR_ITER
	NOP              Opcode = 9  // no operation
	UNARY_NEGATIVE   Opcode = 11 // -TOS
	UNARY_NOT        Opcode = 12 // not TOS
	UNARY_INVERT     Opcode = 15 // ~TOS
	BINARY_SUBSCR    Opcode = 25 // TOS1[TOS]
	STORE_SUBSCR     Opcode = 60 // TOS1[TOS] = TOS2
	GET_ITER         Opcode = 68 // iter(TOS)
	RETURN_GENERATOR Opcode = 75 // create generator object, first instruction of generators
	RETURN_VALUE     Opcode = 83 // return TOS
)

// Opcodes with arguments
const (
	FOR_ITER             Opcode = 93  // next(TOS) or jump to loop exit
	STORE_ATTR           Opcode = 95  // TOS.names[arg] = TOS1
	STORE_GLOBAL         Opcode = 97  // globals[names[arg]] = TOS
	SWAP                 Opcode = 99  // swap TOS and stack[-arg]
	LOAD_CONST           Opcode = 100 // push consts[arg]
	BUILD_TUPLE          Opcode = 102 // tuple from arg items
	BUILD_LIST           Opcode = 103 // list from arg items
	BUILD_MAP            Opcode = 105 // dict from 2*arg items
	LOAD_ATTR            Opcode = 106 // TOS.names[arg>>1]
	COMPARE_OP           Opcode = 107 // compare TOS1 and TOS with op arg>>4
	JUMP_FORWARD         Opcode = 110 // relative forward jump
	JUMP_ABSOLUTE        Opcode = 113 // absolute jump (non-cached encodings)
	POP_JUMP_IF_FALSE    Opcode = 114 // pop, jump if false
	POP_JUMP_IF_TRUE     Opcode = 115 // pop, jump if true
	LOAD_GLOBAL          Opcode = 116 // push globals[names[arg>>1]]
	COPY                 Opcode = 120 // push stack[-arg]
	RETURN_CONST         Opcode = 121 // return consts[arg]
	BINARY_OP            Opcode = 122 // TOS1 op TOS
	LOAD_FAST            Opcode = 124 // push localsplus[arg]
	STORE_FAST           Opcode = 125 // localsplus[arg] = TOS
	DELETE_FAST          Opcode = 126 // localsplus[arg] = NULL
	POP_JUMP_IF_NONE     Opcode = 128 // pop, jump if None
	POP_JUMP_IF_NOT_NONE Opcode = 129 // pop, jump if not None
	RAISE_VARARGS        Opcode = 130 // raise with arg operands
	JUMP_BACKWARD        Opcode = 140 // relative backward jump (cached encoding)
	EXTENDED_ARG         Opcode = 144 // argument prefix, folded by the decoder
	YIELD_VALUE          Opcode = 150 // suspend a generator, yielding TOS
	RESUME               Opcode = 151 // function entry / resume point marker
	CALL                 Opcode = 171 // call with arg positional args
	KW_NAMES             Opcode = 172 // set keyword names tuple for next CALL
)

// Comparison operators carried by COMPARE_OP (arg >> 4).
const (
	CmpLT = iota
	CmpLE
	CmpEQ
	CmpNE
	CmpGT
	CmpGE
)

// Binary operators carried by BINARY_OP. Values at or above NbInplaceAdd are
// the in-place forms of the same operation.
const (
	NbAdd = iota
	NbAnd
	NbFloorDivide
	NbLshift
	NbMatrixMultiply
	NbMultiply
	NbRemainder
	NbOr
	NbPower
	NbRshift
	NbSubtract
	NbTrueDivide
	NbXor
	NbInplaceAdd
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	CacheUnits  int    // inline cache units following the opcode (cached encoding)
	StackEffect int    // net effect on the stack, -99 when it depends on the argument
}

// VariableEffect marks an argument-dependent stack effect.
const VariableEffect = -99

var opcodeTable = map[Opcode]OpcodeInfo{
	CACHE:            {"CACHE", 0, 0},
	POP_TOP:          {"POP_TOP", 0, -1},
	PUSH_NULL:        {"PUSH_NULL", 0, 1},
	END_FOR:          {"END_FOR", 0, -2},
	NOP:              {"NOP", 0, 0},
	UNARY_NEGATIVE:   {"UNARY_NEGATIVE", 0, 0},
	UNARY_NOT:        {"UNARY_NOT", 0, 0},
	UNARY_INVERT:     {"UNARY_INVERT", 0, 0},
	BINARY_SUBSCR:    {"BINARY_SUBSCR", 1, -1},
	STORE_SUBSCR:     {"STORE_SUBSCR", 1, -3},
	GET_ITER:         {"GET_ITER", 0, 0},
	RETURN_GENERATOR: {"RETURN_GENERATOR", 0, 0},
	RETURN_VALUE:     {"RETURN_VALUE", 0, -1},

	FOR_ITER:             {"FOR_ITER", 1, 1},
	STORE_ATTR:           {"STORE_ATTR", 4, -2},
	STORE_GLOBAL:         {"STORE_GLOBAL", 0, -1},
	SWAP:                 {"SWAP", 0, 0},
	LOAD_CONST:           {"LOAD_CONST", 0, 1},
	BUILD_TUPLE:          {"BUILD_TUPLE", 0, VariableEffect},
	BUILD_LIST:           {"BUILD_LIST", 0, VariableEffect},
	BUILD_MAP:            {"BUILD_MAP", 0, VariableEffect},
	LOAD_ATTR:            {"LOAD_ATTR", 9, 0},
	COMPARE_OP:           {"COMPARE_OP", 1, -1},
	JUMP_FORWARD:         {"JUMP_FORWARD", 0, 0},
	JUMP_ABSOLUTE:        {"JUMP_ABSOLUTE", 0, 0},
	POP_JUMP_IF_FALSE:    {"POP_JUMP_IF_FALSE", 0, -1},
	POP_JUMP_IF_TRUE:     {"POP_JUMP_IF_TRUE", 0, -1},
	LOAD_GLOBAL:          {"LOAD_GLOBAL", 4, VariableEffect},
	COPY:                 {"COPY", 0, 1},
	RETURN_CONST:         {"RETURN_CONST", 0, 0},
	BINARY_OP:            {"BINARY_OP", 1, -1},
	LOAD_FAST:            {"LOAD_FAST", 0, 1},
	STORE_FAST:           {"STORE_FAST", 0, -1},
	DELETE_FAST:          {"DELETE_FAST", 0, 0},
	POP_JUMP_IF_NONE:     {"POP_JUMP_IF_NONE", 0, -1},
	POP_JUMP_IF_NOT_NONE: {"POP_JUMP_IF_NOT_NONE", 0, -1},
	RAISE_VARARGS:        {"RAISE_VARARGS", 0, VariableEffect},
	JUMP_BACKWARD:        {"JUMP_BACKWARD", 0, 0},
	EXTENDED_ARG:         {"EXTENDED_ARG", 0, 0},
	YIELD_VALUE:          {"YIELD_VALUE", 0, 0},
	RESUME:               {"RESUME", 0, 0},
	CALL:                 {"CALL", 3, VariableEffect},
	KW_NAMES:             {"KW_NAMES", 0, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Known reports whether op is defined at all.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// HasArg reports whether op carries an argument.
func (op Opcode) HasArg() bool {
	return op >= HaveArgument
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// IsReturn reports whether op returns from the function.
func (op Opcode) IsReturn() bool {
	return op == RETURN_VALUE || op == RETURN_CONST
}

// IsUnconditionalJump reports whether op always transfers control.
func (op Opcode) IsUnconditionalJump() bool {
	switch op {
	case JUMP_FORWARD, JUMP_BACKWARD, JUMP_ABSOLUTE:
		return true
	}
	return false
}

// IsConditionalJump reports whether op may fall through or jump.
func (op Opcode) IsConditionalJump() bool {
	switch op {
	case POP_JUMP_IF_FALSE, POP_JUMP_IF_TRUE, POP_JUMP_IF_NONE, POP_JUMP_IF_NOT_NONE, FOR_ITER:
		return true
	}
	return false
}

// IsBranch reports whether op has a jump target.
func (op Opcode) IsBranch() bool {
	return op.IsUnconditionalJump() || op.IsConditionalJump()
}

// IsTerminator reports whether op ends a basic block with no fallthrough.
func (op Opcode) IsTerminator() bool {
	return op.IsReturn() || op.IsUnconditionalJump() || op == RAISE_VARARGS
}

// OpcodeByName looks up an opcode by mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	for op, info := range opcodeTable {
		if info.Name == name {
			return op, true
		}
	}
	return 0, false
}
