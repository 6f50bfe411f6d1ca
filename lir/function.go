package lir

import (
	"github.com/chazu/jitcore/check"
	"github.com/chazu/jitcore/deopt"
)

// Section says where a block is laid out.
type Section uint8

const (
	Hot Section = iota
	// Cold blocks (deallocation paths) are placed after all hot code.
	Cold
)

// BasicBlock is a LIR block. Successor order matters for CondBranch: the
// first successor is taken when the condition is non-zero.
type BasicBlock struct {
	id      int
	fn      *Function
	instrs  []*Instr
	succs   []*BasicBlock
	preds   []*BasicBlock
	Section Section
}

func (b *BasicBlock) ID() int { return b.id }

func (b *BasicBlock) Instrs() []*Instr { return b.instrs }

func (b *BasicBlock) Successors() []*BasicBlock { return b.succs }

func (b *BasicBlock) Predecessors() []*BasicBlock { return b.preds }

// Terminator returns the final instruction when it ends the block.
func (b *BasicBlock) Terminator() *Instr {
	if len(b.instrs) == 0 {
		return nil
	}
	if last := b.instrs[len(b.instrs)-1]; last.op.IsTerminator() {
		return last
	}
	return nil
}

func (b *BasicBlock) append(i *Instr) *Instr {
	check.That(b.Terminator() == nil, "BB%%%d is already terminated", b.id)
	i.block = b
	b.instrs = append(b.instrs, i)
	return i
}

// AddSuccessor appends an edge to s.
func (b *BasicBlock) AddSuccessor(s *BasicBlock) {
	b.succs = append(b.succs, s)
	s.preds = append(s.preds, b)
}

// PatchpointSite records a DeoptPatchpoint the runtime must link after
// code emission.
type PatchpointSite struct {
	DeoptID int
	Key     string
}

// Function is the LIR of one compiled function.
type Function struct {
	Name        string
	Entry       *BasicBlock
	Deopts      deopt.Table
	Patchpoints []PatchpointSite
	FrameHeader deopt.FrameHeader

	blocks []*BasicBlock
	nvregs int
}

// NewFunction creates an empty function.
func NewFunction(name string) *Function {
	return &Function{Name: name, FrameHeader: deopt.DefaultFrameHeader}
}

// AllocateBlock adds a block in the hot section.
func (f *Function) AllocateBlock() *BasicBlock {
	b := &BasicBlock{id: len(f.blocks), fn: f}
	f.blocks = append(f.blocks, b)
	return b
}

// NewVReg allocates a virtual register.
func (f *Function) NewVReg(t DataType) *VReg {
	v := &VReg{ID: f.nvregs, Type: t}
	f.nvregs++
	return v
}

// NumVRegs returns how many virtual registers were allocated.
func (f *Function) NumVRegs() int { return f.nvregs }

// Blocks returns the blocks in layout order: hot blocks in creation order,
// then cold ones.
func (f *Function) Blocks() []*BasicBlock {
	out := make([]*BasicBlock, 0, len(f.blocks))
	for _, s := range []Section{Hot, Cold} {
		for _, b := range f.blocks {
			if b.Section == s {
				out = append(out, b)
			}
		}
	}
	return out
}

// Instrs returns every instruction in layout order.
func (f *Function) Instrs() []*Instr {
	var out []*Instr
	for _, b := range f.Blocks() {
		out = append(out, b.instrs...)
	}
	return out
}
