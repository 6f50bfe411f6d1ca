package bytecode

import (
	"encoding/binary"

	"github.com/chazu/jitcore/check"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// Label is a jump destination inside a Builder.
type Label struct {
	item int // index of the first item after the label, -1 until marked
}

type builderItem struct {
	op    Opcode
	arg   uint32
	label *Label

	// filled in by layout
	prefixes int
	index    int
}

// Builder assembles instructions for an Encoding, inserting EXTENDED_ARG
// prefixes for wide arguments and padding inline caches. Jump arguments
// are resolved when Bytes is called.
type Builder struct {
	enc   *Encoding
	items []builderItem
}

// NewBuilder creates a builder for the given encoding.
func NewBuilder(enc *Encoding) *Builder {
	return &Builder{enc: enc}
}

// Emit appends op with a literal argument.
func (b *Builder) Emit(op Opcode, arg uint32) {
	b.items = append(b.items, builderItem{op: op, arg: arg})
}

// Emit0 appends an argument-less op.
func (b *Builder) Emit0(op Opcode) {
	b.Emit(op, 0)
}

// NewLabel creates an unmarked label.
func (b *Builder) NewLabel() *Label {
	return &Label{item: -1}
}

// Mark binds label to the next emitted instruction.
func (b *Builder) Mark(l *Label) {
	check.That(l.item < 0, "bytecode: label already marked")
	l.item = len(b.items)
}

// EmitJump appends a jump whose argument is resolved against label. For
// FOR_ITER in an encoding that skips END_FOR, label marks the END_FOR.
func (b *Builder) EmitJump(op Opcode, l *Label) {
	check.That(b.enc.JumpKind(op) != NoJump, "bytecode: %s is not a jump in %s", op, b.enc.Name)
	b.items = append(b.items, builderItem{op: op, label: l})
}

// Len returns the number of logical instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.items)
}

func (b *Builder) unitsFor(op Opcode) int {
	if b.enc.VariableWidth {
		if op.HasArg() {
			return 3
		}
		return 1
	}
	return 1 + b.enc.CacheUnits(op)
}

func (b *Builder) prefixesFor(arg uint32) int {
	n := 0
	for arg > b.enc.MaxArg() {
		arg >>= b.enc.ArgBits
		n++
	}
	return n
}

func (b *Builder) prefixUnits() int {
	if b.enc.VariableWidth {
		return 3
	}
	return 1
}

// layout assigns indexes until prefix counts stop changing, then returns
// the final index past the last item.
func (b *Builder) layout() int {
	for {
		idx := 0
		for i := range b.items {
			it := &b.items[i]
			it.index = idx + it.prefixes*b.prefixUnits()
			idx = it.index + b.unitsFor(it.op)
		}
		changed := false
		for i := range b.items {
			it := &b.items[i]
			if it.label != nil {
				it.arg = b.resolve(it, idx)
			}
			if n := b.prefixesFor(it.arg); n > it.prefixes {
				it.prefixes = n
				changed = true
			}
		}
		if !changed {
			return idx
		}
	}
}

func (b *Builder) resolve(it *builderItem, end int) uint32 {
	check.That(it.label.item >= 0, "bytecode: jump to unmarked label")
	target := end
	if it.label.item < len(b.items) {
		tgt := b.items[it.label.item]
		target = tgt.index - tgt.prefixes*b.prefixUnits()
	}
	next := it.index + b.unitsFor(it.op)
	switch b.enc.JumpKind(it.op) {
	case JumpAbsolute:
		return uint32(target)
	case JumpRelative:
		check.That(target >= next, "bytecode: %s cannot jump backward", it.op)
		return uint32(target - next)
	case JumpRelativeBack:
		check.That(target <= next, "bytecode: %s cannot jump forward", it.op)
		return uint32(next - target)
	}
	check.Unreachable(it.op)
	return 0
}

// Bytes resolves labels and returns the encoded buffer.
func (b *Builder) Bytes() []byte {
	b.layout()
	var out []byte
	for _, it := range b.items {
		for p := it.prefixes; p > 0; p-- {
			out = b.appendUnit(out, EXTENDED_ARG, it.arg>>(uint(p)*b.enc.ArgBits))
		}
		out = b.appendUnit(out, it.op, it.arg)
		for c := b.enc.CacheUnits(it.op); c > 0; c-- {
			out = append(out, byte(CACHE), 0)
		}
	}
	return out
}

func (b *Builder) appendUnit(out []byte, op Opcode, arg uint32) []byte {
	mask := b.enc.MaxArg()
	if b.enc.VariableWidth {
		out = append(out, byte(op))
		if op.HasArg() {
			out = binary.LittleEndian.AppendUint16(out, uint16(arg&mask))
		}
		return out
	}
	return append(out, byte(op), byte(arg&mask))
}

// Code resolves labels and wraps the result.
func (b *Builder) Code() *Code {
	return NewCode(b.Bytes(), b.enc)
}
