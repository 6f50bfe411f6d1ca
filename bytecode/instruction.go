package bytecode

import (
	"errors"
	"fmt"

	"github.com/chazu/jitcore/check"
)

var (
	// ErrTruncated is returned when decoding walks past the end of the
	// buffer or of the enclosing block.
	ErrTruncated = errors.New("bytecode: instruction runs past end of code")

	// ErrDanglingExtendedArg is returned when a prefix run is not followed
	// by a real opcode.
	ErrDanglingExtendedArg = errors.New("bytecode: EXTENDED_ARG without a following opcode")

	// ErrUnknownOpcode is returned for opcodes the encoding does not define.
	ErrUnknownOpcode = errors.New("bytecode: unknown opcode")
)

// Code is an immutable view over an externally owned instruction buffer.
type Code struct {
	raw []byte
	enc *Encoding
}

// NewCode wraps raw in the given encoding. The buffer is not copied and must
// not be modified while the Code is in use.
func NewCode(raw []byte, enc *Encoding) *Code {
	check.That(enc != nil, "bytecode: nil encoding")
	if !enc.VariableWidth {
		check.That(len(raw)%enc.UnitSize == 0, "bytecode: %d bytes is not a whole number of %d-byte units", len(raw), enc.UnitSize)
	}
	return &Code{raw: raw, enc: enc}
}

// Encoding returns the layout of the buffer.
func (c *Code) Encoding() *Encoding {
	return c.enc
}

// Bytes returns the underlying buffer.
func (c *Code) Bytes() []byte {
	return c.raw
}

// Len returns the number of code units.
func (c *Code) Len() int {
	return len(c.raw) / c.enc.UnitSize
}

// IndexToOffset converts a code unit index to a byte offset.
func (c *Code) IndexToOffset(index int) int {
	return index * c.enc.UnitSize
}

// OffsetToIndex converts a byte offset to a code unit index.
func (c *Code) OffsetToIndex(offset int) int {
	return offset / c.enc.UnitSize
}

// unit reads the opcode and raw argument at index and returns the index of
// the following unit.
func (c *Code) unit(index, limit int) (Opcode, uint32, int, error) {
	if index < 0 || index >= limit {
		return 0, 0, index, ErrTruncated
	}
	if c.enc.VariableWidth {
		op := Opcode(c.raw[index])
		if !op.HasArg() {
			return op, 0, index + 1, nil
		}
		if index+3 > limit {
			return op, 0, index, ErrTruncated
		}
		arg := uint32(c.raw[index+1]) | uint32(c.raw[index+2])<<8
		return op, arg, index + 3, nil
	}
	off := index * c.enc.UnitSize
	return Opcode(c.raw[off]), uint32(c.raw[off+1]), index + 1, nil
}

// At decodes the logical instruction whose first unit (possibly an
// EXTENDED_ARG prefix) is at index.
func (c *Code) At(index int) (Instruction, error) {
	return c.decode(index, c.Len())
}

func (c *Code) decode(index, limit int) (Instruction, error) {
	var acc uint32
	base := index
	for {
		op, arg, next, err := c.unit(index, limit)
		if err != nil {
			if index != base && err == ErrTruncated {
				return Instruction{}, fmt.Errorf("%w at index %d", ErrDanglingExtendedArg, base)
			}
			return Instruction{}, fmt.Errorf("%w at index %d", err, index)
		}
		acc = acc<<c.enc.ArgBits | arg
		if op == EXTENDED_ARG {
			index = next
			continue
		}
		if !c.enc.Supports(op) {
			return Instruction{}, fmt.Errorf("%w %d at index %d (%s encoding)", ErrUnknownOpcode, byte(op), index, c.enc.Name)
		}
		if !op.HasArg() {
			acc = 0
		}
		next += c.enc.CacheUnits(op)
		if next > limit {
			return Instruction{}, fmt.Errorf("%w: %s at index %d", ErrTruncated, op, index)
		}
		return Instruction{code: c, base: base, index: index, next: next, op: op, arg: acc}, nil
	}
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is one decoded logical instruction: its EXTENDED_ARG prefixes
// folded into the argument and its inline cache units skipped.
type Instruction struct {
	code  *Code
	base  int
	index int
	next  int
	op    Opcode
	arg   uint32
}

// Opcode returns the real opcode; never EXTENDED_ARG.
func (in Instruction) Opcode() Opcode { return in.op }

// Arg returns the fully folded argument.
func (in Instruction) Arg() uint32 { return in.arg }

// Index returns the code unit index of the real opcode.
func (in Instruction) Index() int { return in.index }

// Offset returns the byte offset of the real opcode.
func (in Instruction) Offset() int { return in.code.IndexToOffset(in.index) }

// BaseIndex returns the code unit index of the first prefix, or of the
// opcode itself when there are no prefixes.
func (in Instruction) BaseIndex() int { return in.base }

// BaseOffset is BaseIndex in bytes.
func (in Instruction) BaseOffset() int { return in.code.IndexToOffset(in.base) }

// NextIndex returns the index following the instruction and its caches.
func (in Instruction) NextIndex() int { return in.next }

// NextOffset is NextIndex in bytes.
func (in Instruction) NextOffset() int { return in.code.IndexToOffset(in.next) }

// Prefixes returns the number of EXTENDED_ARG units folded in.
func (in Instruction) Prefixes() int {
	if in.code.enc.VariableWidth {
		return (in.index - in.base) / 3
	}
	return in.index - in.base
}

// IsBranch reports whether the instruction has a jump target.
func (in Instruction) IsBranch() bool { return in.op.IsBranch() }

// IsCondBranch reports whether the instruction may fall through or jump.
func (in Instruction) IsCondBranch() bool { return in.op.IsConditionalJump() }

// IsReturn reports whether the instruction returns from the function.
func (in Instruction) IsReturn() bool { return in.op.IsReturn() }

// IsTerminator reports whether control never falls through.
func (in Instruction) IsTerminator() bool { return in.op.IsTerminator() }

// JumpTarget returns the code unit index the instruction branches to.
// Calling it on a non-branch is a compiler defect.
func (in Instruction) JumpTarget() int {
	enc := in.code.enc
	var target int
	switch enc.JumpKind(in.op) {
	case JumpAbsolute:
		target = int(in.arg)
	case JumpRelative:
		target = in.next + int(in.arg)
	case JumpRelativeBack:
		target = in.next - int(in.arg)
	default:
		check.Failf("bytecode: %s at index %d has no jump target", in.op, in.index)
	}
	if in.op == FOR_ITER && enc.SkipEndFor {
		// The exit lands on END_FOR, which the loop never executes.
		if end, err := in.code.At(target); err == nil && end.op == END_FOR {
			target = end.next
		}
	}
	return target
}

// JumpTargetOffset is JumpTarget in bytes.
func (in Instruction) JumpTargetOffset() int {
	return in.code.IndexToOffset(in.JumpTarget())
}

// String implements the Stringer interface.
func (in Instruction) String() string {
	if !in.op.HasArg() {
		return fmt.Sprintf("%04d  %s", in.Offset(), in.op)
	}
	if in.IsBranch() {
		return fmt.Sprintf("%04d  %s %d (-> %04d)", in.Offset(), in.op, in.arg, in.JumpTargetOffset())
	}
	return fmt.Sprintf("%04d  %s %d", in.Offset(), in.op, in.arg)
}
