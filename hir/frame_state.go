package hir

import (
	"github.com/chazu/jitcore/check"
)

// MaxInlineDepth bounds FrameState parent chains.
const MaxInlineDepth = 16

// BlockStackEntry describes an active exception handler region.
type BlockStackEntry struct {
	HandlerIndex int
	StackLevel   int
	Lasti        bool
}

// FrameState is the interpreter-visible state at a bytecode boundary: the
// code object, the index to resume at, every local slot and the value
// stack. A nil local is an unbound slot. Parent links the frame of the
// caller when code was inlined.
type FrameState struct {
	Code       *CodeObject
	NextIndex  int
	Locals     []*Register
	Stack      []*Register
	BlockStack []BlockStackEntry
	Parent     *FrameState
}

// NewFrameState creates a state for code with every local unbound.
func NewFrameState(code *CodeObject) *FrameState {
	return &FrameState{Code: code, Locals: make([]*Register, code.NumLocals())}
}

// Clone copies the state. The parent chain is shared.
func (fs *FrameState) Clone() *FrameState {
	c := *fs
	c.Locals = append([]*Register(nil), fs.Locals...)
	c.Stack = append([]*Register(nil), fs.Stack...)
	c.BlockStack = append([]BlockStackEntry(nil), fs.BlockStack...)
	return &c
}

// SetParent links the caller's frame. The chain must stay acyclic and no
// deeper than MaxInlineDepth.
func (fs *FrameState) SetParent(p *FrameState) {
	for f := p; f != nil; f = f.Parent {
		check.That(f != fs, "frame state parent cycle")
	}
	old := fs.Parent
	fs.Parent = p
	if fs.InlineDepth() > MaxInlineDepth {
		fs.Parent = old
		check.Failf("inline depth exceeds %d", MaxInlineDepth)
	}
}

// InlineDepth is 0 for an outermost frame and grows by one per parent.
func (fs *FrameState) InlineDepth() int {
	d := 0
	for f := fs.Parent; f != nil; f = f.Parent {
		d++
	}
	return d
}

// Frames returns the chain from outermost to innermost.
func (fs *FrameState) Frames() []*FrameState {
	var out []*FrameState
	for f := fs; f != nil; f = f.Parent {
		out = append(out, f)
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func (fs *FrameState) Push(r *Register) { fs.Stack = append(fs.Stack, r) }

func (fs *FrameState) Pop() *Register {
	check.That(len(fs.Stack) > 0, "pop from empty stack at index %d", fs.NextIndex)
	r := fs.Stack[len(fs.Stack)-1]
	fs.Stack = fs.Stack[:len(fs.Stack)-1]
	return r
}

// Peek returns the n'th value from the top, 1-based.
func (fs *FrameState) Peek(n int) *Register {
	check.That(n >= 1 && n <= len(fs.Stack), "peek %d with depth %d", n, len(fs.Stack))
	return fs.Stack[len(fs.Stack)-n]
}

// PopN removes the top n values, returned bottom first.
func (fs *FrameState) PopN(n int) []*Register {
	check.That(n <= len(fs.Stack), "pop %d with depth %d", n, len(fs.Stack))
	out := append([]*Register(nil), fs.Stack[len(fs.Stack)-n:]...)
	fs.Stack = fs.Stack[:len(fs.Stack)-n]
	return out
}

// Visit calls fn for every non-nil register in this frame and its
// parents.
func (fs *FrameState) Visit(fn func(*Register)) {
	for f := fs; f != nil; f = f.Parent {
		for _, r := range f.Locals {
			if r != nil {
				fn(r)
			}
		}
		for _, r := range f.Stack {
			fn(r)
		}
	}
}

// Contains reports whether r appears anywhere in the chain.
func (fs *FrameState) Contains(r *Register) bool {
	found := false
	fs.Visit(func(x *Register) {
		if x == r {
			found = true
		}
	})
	return found
}

// ReplaceUsesOf rewrites old to repl in this frame only; parents are
// shared and belong to the caller.
func (fs *FrameState) ReplaceUsesOf(old, repl *Register) bool {
	changed := false
	for n, r := range fs.Locals {
		if r == old {
			fs.Locals[n] = repl
			changed = true
		}
	}
	for n, r := range fs.Stack {
		if r == old {
			fs.Stack[n] = repl
			changed = true
		}
	}
	return changed
}
