package hir

import (
	"slices"

	"github.com/chazu/jitcore/check"
)

// Edge is a control-flow edge. Each edge appears exactly once in its
// source's outgoing list and once in its destination's incoming list.
type Edge struct {
	from, to *BasicBlock
}

func (e *Edge) From() *BasicBlock { return e.from }
func (e *Edge) To() *BasicBlock   { return e.to }

// BasicBlock is a straight-line run of instructions ending in exactly one
// terminator.
type BasicBlock struct {
	id     int
	cfg    *CFG
	instrs []*Instr
	in     []*Edge
	out    []*Edge
}

func (b *BasicBlock) ID() int { return b.id }

// Instrs returns the instruction list. Callers must not modify it.
func (b *BasicBlock) Instrs() []*Instr { return b.instrs }

func (b *BasicBlock) Empty() bool { return len(b.instrs) == 0 }

// Terminator returns the last instruction when it is a terminator.
func (b *BasicBlock) Terminator() *Instr {
	if len(b.instrs) == 0 {
		return nil
	}
	if last := b.instrs[len(b.instrs)-1]; last.IsTerminator() {
		return last
	}
	return nil
}

// Append adds a non-terminator instruction at the end of the block.
func (b *BasicBlock) Append(i *Instr) *Instr {
	check.That(!i.IsTerminator(), "use Terminate to append %s", i.op)
	check.That(b.Terminator() == nil, "bb %d is already terminated", b.id)
	return b.insertAt(len(b.instrs), i)
}

// Terminate appends term and wires one outgoing edge per target.
func (b *BasicBlock) Terminate(term *Instr, targets ...*BasicBlock) *Instr {
	check.That(term.IsTerminator(), "%s is not a terminator", term.op)
	check.That(b.Terminator() == nil, "bb %d is already terminated", b.id)
	check.That(len(targets) == term.op.NumSuccessors(),
		"%s takes %d successors, got %d", term.op, term.op.NumSuccessors(), len(targets))
	b.insertAt(len(b.instrs), term)
	for n, t := range targets {
		b.out = append(b.out, nil)
		b.SetSuccessor(n, t)
	}
	return term
}

// InsertBefore places i immediately before pos, which must be in b.
func (b *BasicBlock) InsertBefore(pos, i *Instr) *Instr {
	check.That(!i.IsTerminator(), "cannot insert terminator %s", i.op)
	return b.insertAt(b.indexOf(pos), i)
}

// InsertAfter places i immediately after pos, which must be in b and not
// a terminator.
func (b *BasicBlock) InsertAfter(pos, i *Instr) *Instr {
	check.That(!pos.IsTerminator() && !i.IsTerminator(), "cannot insert after terminator")
	return b.insertAt(b.indexOf(pos)+1, i)
}

// Prepend adds i at the front of the block, after any phis.
func (b *BasicBlock) Prepend(i *Instr) *Instr {
	n := 0
	if i.op != OpPhi {
		for n < len(b.instrs) && b.instrs[n].op == OpPhi {
			n++
		}
	}
	return b.insertAt(n, i)
}

func (b *BasicBlock) insertAt(n int, i *Instr) *Instr {
	check.That(i.block == nil, "%s already belongs to bb %d", i.op, blockID(i.block))
	b.instrs = slices.Insert(b.instrs, n, i)
	i.block = b
	return i
}

// Remove detaches i from the block. Removing the terminator also removes
// its edges.
func (b *BasicBlock) Remove(i *Instr) {
	n := b.indexOf(i)
	if i.IsTerminator() {
		for _, e := range b.out {
			e.to.removeIn(e)
		}
		b.out = nil
	}
	b.instrs = slices.Delete(b.instrs, n, n+1)
	i.block = nil
}

func (b *BasicBlock) indexOf(i *Instr) int {
	n := slices.Index(b.instrs, i)
	check.That(n >= 0, "%s is not in bb %d", i.op, b.id)
	return n
}

// Phis returns the leading phi instructions.
func (b *BasicBlock) Phis() []*Instr {
	n := 0
	for n < len(b.instrs) && b.instrs[n].op == OpPhi {
		n++
	}
	return b.instrs[:n]
}

// InEdges returns the incoming edges.
func (b *BasicBlock) InEdges() []*Edge { return b.in }

// OutEdges returns outgoing edges in successor order.
func (b *BasicBlock) OutEdges() []*Edge { return b.out }

func (b *BasicBlock) NumSuccessors() int { return len(b.out) }

func (b *BasicBlock) Successor(n int) *BasicBlock {
	check.That(n >= 0 && n < len(b.out), "bb %d has no successor %d", b.id, n)
	return b.out[n].to
}

// Successors returns the successor blocks in order.
func (b *BasicBlock) Successors() []*BasicBlock {
	s := make([]*BasicBlock, len(b.out))
	for n, e := range b.out {
		s[n] = e.to
	}
	return s
}

// Predecessors returns the predecessor blocks in incoming-edge order.
func (b *BasicBlock) Predecessors() []*BasicBlock {
	p := make([]*BasicBlock, len(b.in))
	for n, e := range b.in {
		p[n] = e.from
	}
	return p
}

// HasPredecessor reports whether an edge runs from pred to b.
func (b *BasicBlock) HasPredecessor(pred *BasicBlock) bool {
	for _, e := range b.in {
		if e.from == pred {
			return true
		}
	}
	return false
}

// SetSuccessor points edge n at target, replacing the previous edge in
// both the old and new destinations' incoming lists.
func (b *BasicBlock) SetSuccessor(n int, target *BasicBlock) {
	check.That(n >= 0 && n < len(b.out), "bb %d has no successor slot %d", b.id, n)
	check.That(target != nil, "nil successor for bb %d", b.id)
	for m, e := range b.out {
		if m != n && e != nil && e.to == target {
			check.Failf("bb %d already has an edge to bb %d", b.id, target.id)
		}
	}
	if old := b.out[n]; old != nil {
		if old.to == target {
			return
		}
		old.to.removeIn(old)
	}
	e := &Edge{from: b, to: target}
	b.out[n] = e
	target.in = append(target.in, e)
}

func (b *BasicBlock) removeIn(e *Edge) {
	n := slices.Index(b.in, e)
	check.That(n >= 0, "edge bb %d -> bb %d missing from destination", e.from.id, b.id)
	b.in = slices.Delete(b.in, n, n+1)
}

func blockID(b *BasicBlock) int {
	if b == nil {
		return -1
	}
	return b.id
}

// CFG is the control-flow graph of a function.
type CFG struct {
	Entry  *BasicBlock
	blocks []*BasicBlock
	nextID int
}

// AllocateBlock creates a detached empty block.
func (c *CFG) AllocateBlock() *BasicBlock {
	b := &BasicBlock{id: c.nextID, cfg: c}
	c.nextID++
	c.blocks = append(c.blocks, b)
	return b
}

// Blocks returns every block in allocation order.
func (c *CFG) Blocks() []*BasicBlock { return c.blocks }

// Block finds a block by id.
func (c *CFG) Block(id int) *BasicBlock {
	for _, b := range c.blocks {
		if b.id == id {
			return b
		}
	}
	return nil
}

// RemoveBlock deletes b, which must have no predecessors, along with its
// outgoing edges.
func (c *CFG) RemoveBlock(b *BasicBlock) {
	check.That(b != c.Entry, "cannot remove the entry block")
	check.That(len(b.in) == 0, "bb %d still has %d predecessors", b.id, len(b.in))
	for _, e := range b.out {
		for _, phi := range e.to.Phis() {
			phi.removePhiInput(b)
		}
		e.to.removeIn(e)
	}
	b.out = nil
	n := slices.Index(c.blocks, b)
	check.That(n >= 0, "bb %d is not in this CFG", b.id)
	c.blocks = slices.Delete(c.blocks, n, n+1)
	b.cfg = nil
}

// RPO returns the blocks reachable from Entry in reverse post-order.
func (c *CFG) RPO() []*BasicBlock {
	if c.Entry == nil {
		return nil
	}
	seen := map[*BasicBlock]bool{}
	var post []*BasicBlock
	type frame struct {
		b *BasicBlock
		n int
	}
	stack := []frame{{b: c.Entry}}
	seen[c.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.n < len(top.b.out) {
			next := top.b.out[top.n].to
			top.n++
			if !seen[next] {
				seen[next] = true
				stack = append(stack, frame{b: next})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	slices.Reverse(post)
	return post
}

// RemoveUnreachable deletes blocks not reachable from Entry and returns
// how many were removed.
func (c *CFG) RemoveUnreachable() int {
	live := map[*BasicBlock]bool{}
	for _, b := range c.RPO() {
		live[b] = true
	}
	kept := c.blocks[:0]
	removed := 0
	for _, b := range c.blocks {
		if live[b] {
			kept = append(kept, b)
			continue
		}
		for _, e := range b.out {
			if live[e.to] {
				for _, phi := range e.to.Phis() {
					phi.removePhiInput(b)
				}
				e.to.removeIn(e)
			}
		}
		b.in, b.out, b.cfg = nil, nil, nil
		removed++
	}
	c.blocks = kept
	return removed
}
