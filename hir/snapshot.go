package hir

import (
	"github.com/chazu/jitcore/check"
)

// BindSnapshots gives every DeoptBase instruction the frame state of the
// nearest Snapshot before it in the same block and derives its live-value
// list. Only replayable instructions may sit between the two, since a
// deopt re-executes them in the interpreter.
func BindSnapshots(f *Function) {
	for _, b := range f.CFG.RPO() {
		for n, i := range b.instrs {
			if !i.IsDeoptBase() {
				continue
			}
			d := i.deopt
			d.Frame = snapshotBefore(b, n).Clone()
			if d.Guilty == nil {
				d.Guilty = guiltyOperand(i)
			}
			if d.Nonce == 0 {
				d.Nonce = f.Env.NextNonce()
			}
			d.computeLive()
		}
	}
}

func snapshotBefore(b *BasicBlock, n int) *FrameState {
	for k := n - 1; k >= 0; k-- {
		prev := b.instrs[k]
		if prev.op == OpSnapshot {
			return prev.frame
		}
		check.That(prev.IsReplayable(),
			"non-replayable %s between snapshot and %s in bb %d", prev.op, b.instrs[n].op, b.id)
	}
	check.Failf("no snapshot before %s in bb %d", b.instrs[n].op, b.id)
	return nil
}

func guiltyOperand(i *Instr) *Register {
	switch i.op {
	case OpGuard, OpGuardIs, OpGuardType, OpCheckVar, OpCheckExc, OpCheckNeg,
		OpCheckField, OpCast, OpPrimitiveUnbox:
		return i.operands[0]
	}
	return nil
}

// RefKindFor classifies how a deopt must treat r. Values held in a frame
// slot own their reference; anything else the deopt touches is borrowed.
func RefKindFor(r *Register, inFrame bool) RefKind {
	if !r.typ.IsRefcounted() {
		return Uncounted
	}
	if inFrame {
		return Owned
	}
	return Borrowed
}

func (d *DeoptInfo) computeLive() {
	d.Live = nil
	seen := map[*Register]bool{}
	d.Frame.Visit(func(r *Register) {
		if !seen[r] {
			seen[r] = true
			d.AddLive(r, RefKindFor(r, true))
		}
	})
	if g := d.Guilty; g != nil && !seen[g] {
		d.AddLive(g, RefKindFor(g, false))
	}
	d.SortLive()
}
