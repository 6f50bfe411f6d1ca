package lir

import (
	"github.com/chazu/jitcore/check"
	"github.com/chazu/jitcore/hir"
)

// Opcode is a LIR instruction kind.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpMove
	OpLoad
	OpStore
	OpLoadArg
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpLShift
	OpRShift
	OpRShiftUn
	OpDiv
	OpDivUn
	OpMod
	OpModUn
	OpNegate
	OpInvert
	OpFadd
	OpFsub
	OpFmul
	OpFdiv
	OpMovSX
	OpMovZX
	OpEqual
	OpNotEqual
	OpGreaterThanSigned
	OpGreaterThanEqualSigned
	OpLessThanSigned
	OpLessThanEqualSigned
	OpGreaterThanUnsigned
	OpGreaterThanEqualUnsigned
	OpLessThanUnsigned
	OpLessThanEqualUnsigned
	OpCall
	OpVectorCall
	OpGuard
	OpDeoptPatchpoint
	OpYieldInitial
	OpYieldValue
	OpPhi
	OpReturn
	OpBranch
	OpCondBranch
	OpUnreachable
	numOpcodes
)

var opNames = [numOpcodes]string{
	"Nop", "Move", "Load", "Store", "LoadArg", "Add", "Sub", "Mul", "And", "Or",
	"Xor", "LShift", "RShift", "RShiftUn", "Div", "DivUn", "Mod", "ModUn",
	"Negate", "Invert", "Fadd", "Fsub", "Fmul", "Fdiv", "MovSX", "MovZX",
	"Equal", "NotEqual", "GreaterThanSigned", "GreaterThanEqualSigned",
	"LessThanSigned", "LessThanEqualSigned", "GreaterThanUnsigned",
	"GreaterThanEqualUnsigned", "LessThanUnsigned", "LessThanEqualUnsigned",
	"Call", "VectorCall", "Guard", "DeoptPatchpoint", "YieldInitial",
	"YieldValue", "Phi", "Return", "Branch", "CondBranch", "Unreachable",
}

func (op Opcode) String() string { return opNames[op] }

// IsTerminator reports whether op ends a block.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpReturn, OpBranch, OpCondBranch, OpUnreachable:
		return true
	}
	return false
}

// GuardKind selects the test a Guard performs.
type GuardKind uint8

const (
	// GuardNotZero deopts when the value is zero.
	GuardNotZero GuardKind = iota
	// GuardNotNegative deopts when the value is negative.
	GuardNotNegative
	// GuardIs deopts unless the value is identical to the target.
	GuardIs
	// GuardHasType deopts unless the value's type is the target.
	GuardHasType
	// GuardAlwaysFail always deopts and has no value operand.
	GuardAlwaysFail
)

var guardNames = [...]string{"NotZero", "NotNegative", "Is", "HasType", "AlwaysFail"}

func (k GuardKind) String() string { return guardNames[k] }

// Instr is a LIR instruction. Guards, patchpoints and yields carry a deopt
// id and end their operand list with one operand per live value.
type Instr struct {
	op      Opcode
	out     *VReg
	in      []Operand
	block   *BasicBlock
	origin  *hir.Instr
	guard   GuardKind
	deoptID int
	numLive int
}

func (i *Instr) Opcode() Opcode { return i.op }

// Output returns the defined virtual register, or nil.
func (i *Instr) Output() *VReg { return i.out }

// Inputs returns every operand, live values included.
func (i *Instr) Inputs() []Operand { return i.in }

func (i *Instr) Input(n int) Operand {
	check.That(n >= 0 && n < len(i.in), "%s has no input %d", i.op, n)
	return i.in[n]
}

func (i *Instr) Block() *BasicBlock { return i.block }

// Origin is the HIR instruction this was lowered from.
func (i *Instr) Origin() *hir.Instr { return i.origin }

func (i *Instr) hasDeopt() bool {
	switch i.op {
	case OpGuard, OpDeoptPatchpoint, OpYieldInitial, OpYieldValue:
		return true
	}
	return false
}

// DeoptID returns the metadata index of a guard, patchpoint or yield.
func (i *Instr) DeoptID() int {
	check.That(i.hasDeopt(), "%s has no deopt id", i.op)
	return i.deoptID
}

// LiveValues returns the trailing live-value operands.
func (i *Instr) LiveValues() []Operand {
	check.That(i.hasDeopt(), "%s has no live values", i.op)
	return i.in[len(i.in)-i.numLive:]
}

// GuardKind returns the test performed by a Guard.
func (i *Instr) GuardKind() GuardKind {
	check.That(i.op == OpGuard, "%s is not a Guard", i.op)
	return i.guard
}

// GuardValue is the tested value; OperandNone for AlwaysFail.
func (i *Instr) GuardValue() Operand {
	check.That(i.op == OpGuard, "%s is not a Guard", i.op)
	return i.in[0]
}

// GuardTarget is the expected identity or type; OperandNone unless the
// kind is Is or HasType.
func (i *Instr) GuardTarget() Operand {
	check.That(i.op == OpGuard, "%s is not a Guard", i.op)
	return i.in[1]
}

// CallTarget is the callee of a Call: a symbol or a register holding the
// address.
func (i *Instr) CallTarget() Operand {
	check.That(i.op == OpCall, "%s is not a Call", i.op)
	return i.in[0]
}

// CallArgs returns the arguments of a Call.
func (i *Instr) CallArgs() []Operand {
	check.That(i.op == OpCall, "%s is not a Call", i.op)
	return i.in[1:]
}
