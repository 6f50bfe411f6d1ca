package hir

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Check validates the structural invariants of f and returns every
// violation found.
func Check(f *Function) error {
	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	rpo := f.CFG.RPO()
	reachable := map[*BasicBlock]bool{}
	for _, b := range rpo {
		reachable[b] = true
	}
	defs := map[*Register]*Instr{}

	for _, b := range rpo {
		if b.cfg != &f.CFG {
			fail("bb %d does not belong to %s", b.id, f.Name)
		}
		term := b.Terminator()
		if term == nil {
			fail("bb %d has no terminator", b.id)
		} else if len(b.out) != term.op.NumSuccessors() {
			fail("bb %d: %s has %d edges, want %d", b.id, term.op, len(b.out), term.op.NumSuccessors())
		}
		inPhis := true
		for n, i := range b.instrs {
			if i.block != b {
				fail("%s in bb %d points at bb %d", i.op, b.id, blockID(i.block))
			}
			if i.IsTerminator() && n != len(b.instrs)-1 {
				fail("terminator %s in the middle of bb %d", i.op, b.id)
			}
			if i.op != OpPhi {
				inPhis = false
			} else if !inPhis {
				fail("phi %s after non-phi in bb %d", i.output, b.id)
			}
			if out := i.output; out != nil {
				if prev, dup := defs[out]; dup {
					fail("%s defined by both %s and %s", out, prev.op, i.op)
				}
				defs[out] = i
				if out.instr != i {
					fail("%s does not point back at its %s", out, i.op)
				}
			}
			if i.op == OpPhi {
				checkPhi(b, i, fail)
			}
			if i.deopt != nil {
				checkDeopt(i, fail)
			}
		}
		seenTo := map[*BasicBlock]bool{}
		for _, e := range b.out {
			if e == nil {
				fail("bb %d has a dangling successor", b.id)
				continue
			}
			if e.from != b {
				fail("edge in bb %d out-list starts at bb %d", b.id, e.from.id)
			}
			if seenTo[e.to] {
				fail("bb %d has two edges to bb %d", b.id, e.to.id)
			}
			seenTo[e.to] = true
			if !containsEdge(e.to.in, e) {
				fail("edge bb %d -> bb %d missing from destination", b.id, e.to.id)
			}
		}
		for _, e := range b.in {
			if e.to != b {
				fail("edge in bb %d in-list ends at bb %d", b.id, e.to.id)
			}
			if reachable[e.from] && !containsEdge(e.from.out, e) {
				fail("edge bb %d -> bb %d missing from source", e.from.id, b.id)
			}
		}
	}

	for _, b := range rpo {
		for _, i := range b.instrs {
			for _, r := range i.operands {
				if r == nil {
					fail("%s in bb %d has a nil operand", i.op, b.id)
				} else if defs[r] == nil {
					fail("%s in bb %d uses undefined %s", i.op, b.id, r)
				}
			}
		}
	}
	return errs.ErrorOrNil()
}

func containsEdge(es []*Edge, e *Edge) bool {
	for _, x := range es {
		if x == e {
			return true
		}
	}
	return false
}

func checkPhi(b *BasicBlock, i *Instr, fail func(string, ...any)) {
	if len(i.operands) != len(b.in) {
		fail("phi %s in bb %d has %d inputs for %d predecessors", i.output, b.id, len(i.operands), len(b.in))
		return
	}
	for n, p := range i.phiPreds {
		if !b.HasPredecessor(p) {
			fail("phi %s in bb %d names non-predecessor bb %d", i.output, b.id, p.id)
		}
		if n > 0 && i.phiPreds[n-1].id >= p.id {
			fail("phi %s in bb %d inputs are not sorted", i.output, b.id)
		}
	}
}

func checkDeopt(i *Instr, fail func(string, ...any)) {
	d := i.deopt
	if d.Frame == nil {
		fail("%s has no frame state", i.op)
		return
	}
	if depth := d.Frame.InlineDepth(); depth > MaxInlineDepth {
		fail("%s frame state depth %d exceeds %d", i.op, depth, MaxInlineDepth)
	}
	seen := map[*Register]bool{}
	for _, s := range d.Live {
		if seen[s.Reg] {
			fail("%s lists %s twice", i.op, s.Reg)
		}
		seen[s.Reg] = true
	}
	d.Frame.Visit(func(r *Register) {
		if !seen[r] {
			fail("%s frame uses %s which is not live", i.op, r)
		}
	})
}
