package hir

import (
	"github.com/chazu/jitcore/check"
)

// Instr is a single HIR instruction. The opcode selects which payload
// fields are meaningful; accessors check that the caller asked a question
// the opcode can answer.
type Instr struct {
	op       Opcode
	operands []*Register
	output   *Register
	block    *BasicBlock
	bcIndex  int

	typ   Type
	cnst  Const
	name  string
	index int
	flags uint32

	binOp BinaryOpKind
	cmpOp CompareKind
	unOp  UnaryOpKind

	phiPreds []*BasicBlock
	frame    *FrameState
	deopt    *DeoptInfo
}

// VectorCall flags.
const (
	CallHasKwNames uint32 = 1 << iota
	CallMethod
)

func newInstr(op Opcode, out *Register, operands ...*Register) *Instr {
	i := &Instr{op: op, operands: operands, bcIndex: -1}
	if op.HasOutput() {
		check.That(out != nil, "%s requires an output register", op)
		i.SetOutput(out)
	} else {
		check.That(out == nil, "%s has no output", op)
	}
	if op.IsDeoptBase() {
		i.deopt = &DeoptInfo{}
	}
	return i
}

// Opcode returns the instruction kind.
func (i *Instr) Opcode() Opcode { return i.op }

// Operands returns the input registers. Callers must not modify the slice.
func (i *Instr) Operands() []*Register { return i.operands }

// NumOperands returns the number of inputs.
func (i *Instr) NumOperands() int { return len(i.operands) }

// Operand returns input n.
func (i *Instr) Operand(n int) *Register {
	check.That(n >= 0 && n < len(i.operands), "%s has no operand %d", i.op, n)
	return i.operands[n]
}

// SetOperand replaces input n.
func (i *Instr) SetOperand(n int, r *Register) {
	check.That(n >= 0 && n < len(i.operands), "%s has no operand %d", i.op, n)
	i.operands[n] = r
}

// Output returns the defined register, or nil.
func (i *Instr) Output() *Register { return i.output }

// SetOutput makes i the defining instruction of r.
func (i *Instr) SetOutput(r *Register) {
	if i.output != nil && i.output.instr == i {
		i.output.instr = nil
	}
	i.output = r
	if r != nil {
		r.instr = i
	}
}

// Block returns the containing block, or nil if detached.
func (i *Instr) Block() *BasicBlock { return i.block }

// BytecodeIndex is the index of the bytecode instruction this was lowered
// from, or -1.
func (i *Instr) BytecodeIndex() int { return i.bcIndex }

// SetBytecodeIndex records the originating bytecode instruction.
func (i *Instr) SetBytecodeIndex(idx int) { i.bcIndex = idx }

// IsTerminator reports whether i ends its block.
func (i *Instr) IsTerminator() bool { return i.op.IsTerminator() }

// IsDeoptBase reports whether i may transfer control to the interpreter.
func (i *Instr) IsDeoptBase() bool { return i.op.IsDeoptBase() }

// IsReplayable reports whether i can be re-executed after a deopt resumes
// at an earlier snapshot without observable effect.
func (i *Instr) IsReplayable() bool { return opInfo[i.op].flags&fReplayable != 0 }

// IsPassthrough reports whether the output is definitionally equal to
// operand 0. Casts that coerce to float produce a new value.
func (i *Instr) IsPassthrough() bool {
	if opInfo[i.op].flags&fPassthrough == 0 {
		return false
	}
	if i.op == OpCast && i.typ.CouldBe(TFloat) && !i.typ.CouldBe(TLong) {
		return false
	}
	return true
}

// Type is the payload type of RefineType, HintType, GuardType, Cast,
// LoadField, PrimitiveBox, PrimitiveUnbox, IntConvert and
// CondBranchCheckType.
func (i *Instr) Type() Type { return i.typ }

// Const is the payload of LoadConst, GuardIs and LoadGlobalCached.
func (i *Instr) Const() Const { return i.cnst }

// Name is the attribute, global or callee name.
func (i *Instr) Name() string { return i.name }

// Index is the argument index of LoadArg, the field offset of
// LoadField/StoreField, or the element count of Make*.
func (i *Instr) Index() int { return i.index }

// Flags returns call flags.
func (i *Instr) Flags() uint32 { return i.flags }

// HasKwNames reports whether a VectorCall passes keyword names as its last
// operand.
func (i *Instr) HasKwNames() bool { return i.flags&CallHasKwNames != 0 }

func (i *Instr) BinaryOp() BinaryOpKind {
	switch i.op {
	case OpIntBinaryOp, OpDoubleBinaryOp, OpBinaryOp:
		return i.binOp
	}
	check.Failf("%s has no binary op", i.op)
	return 0
}

func (i *Instr) CompareOp() CompareKind {
	switch i.op {
	case OpPrimitiveCompare, OpCompareOp:
		return i.cmpOp
	}
	check.Failf("%s has no comparison", i.op)
	return 0
}

func (i *Instr) UnaryOp() UnaryOpKind {
	switch i.op {
	case OpPrimitiveUnaryOp, OpUnaryOp:
		return i.unOp
	}
	check.Failf("%s has no unary op", i.op)
	return 0
}

// FrameState returns the snapshot payload.
func (i *Instr) FrameState() *FrameState {
	check.That(i.op == OpSnapshot, "%s is not a Snapshot", i.op)
	return i.frame
}

// SetFrameState replaces the snapshot payload.
func (i *Instr) SetFrameState(fs *FrameState) {
	check.That(i.op == OpSnapshot, "%s is not a Snapshot", i.op)
	i.frame = fs
}

// DeoptInfo returns the deopt payload of a DeoptBase instruction.
func (i *Instr) DeoptInfo() *DeoptInfo {
	check.That(i.deopt != nil, "%s carries no deopt info", i.op)
	return i.deopt
}

// PhiPredecessors returns the predecessor for each phi operand.
func (i *Instr) PhiPredecessors() []*BasicBlock {
	check.That(i.op == OpPhi, "%s is not a Phi", i.op)
	return i.phiPreds
}

// PhiInput returns the operand flowing in from pred.
func (i *Instr) PhiInput(pred *BasicBlock) *Register {
	for n, p := range i.PhiPredecessors() {
		if p == pred {
			return i.operands[n]
		}
	}
	check.Failf("phi %s has no input from bb %d", i.output, pred.id)
	return nil
}

// Successor returns the n'th successor of a terminator.
func (i *Instr) Successor(n int) *BasicBlock {
	check.That(i.IsTerminator(), "%s is not a terminator", i.op)
	check.That(i.block != nil, "%s is detached", i.op)
	return i.block.Successor(n)
}

// SetSuccessor retargets edge n of a terminator, keeping both blocks' edge
// sets in sync.
func (i *Instr) SetSuccessor(n int, target *BasicBlock) {
	check.That(i.IsTerminator(), "%s is not a terminator", i.op)
	check.That(i.block != nil, "%s is detached", i.op)
	i.block.SetSuccessor(n, target)
}

// ReplaceUsesOf swaps every operand equal to old for repl.
func (i *Instr) ReplaceUsesOf(old, repl *Register) bool {
	changed := false
	for n, r := range i.operands {
		if r == old {
			i.operands[n] = repl
			changed = true
		}
	}
	if i.frame != nil && i.frame.ReplaceUsesOf(old, repl) {
		changed = true
	}
	return changed
}
