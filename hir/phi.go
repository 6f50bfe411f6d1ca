package hir

import (
	"slices"

	"github.com/chazu/jitcore/check"
)

// SetPhiArgs fills a phi from a predecessor-to-value map. The map must
// have exactly one entry per incoming edge of the phi's block. Inputs are
// stored in ascending predecessor id order so printing and comparison are
// deterministic.
func (i *Instr) SetPhiArgs(args map[*BasicBlock]*Register) {
	check.That(i.op == OpPhi, "%s is not a Phi", i.op)
	check.That(i.block != nil, "phi %s is detached", i.output)
	in := i.block.in
	check.That(len(args) == len(in),
		"phi %s has %d inputs for %d predecessors", i.output, len(args), len(in))
	preds := make([]*BasicBlock, 0, len(args))
	for p := range args {
		check.That(i.block.HasPredecessor(p), "bb %d is not a predecessor of bb %d", p.id, i.block.id)
		preds = append(preds, p)
	}
	slices.SortFunc(preds, func(a, b *BasicBlock) int { return a.id - b.id })
	i.phiPreds = preds
	i.operands = make([]*Register, len(preds))
	for n, p := range preds {
		check.That(args[p] != nil, "phi %s has nil input from bb %d", i.output, p.id)
		i.operands[n] = args[p]
	}
}

// ReplacePhiPredecessor renames the incoming block old to repl, keeping
// the operand order sorted.
func (i *Instr) ReplacePhiPredecessor(old, repl *BasicBlock) {
	args := map[*BasicBlock]*Register{}
	for n, p := range i.PhiPredecessors() {
		if p == old {
			p = repl
		}
		args[p] = i.operands[n]
	}
	i.SetPhiArgs(args)
}

func (i *Instr) removePhiInput(pred *BasicBlock) {
	n := slices.Index(i.phiPreds, pred)
	if n < 0 {
		return
	}
	i.phiPreds = slices.Delete(i.phiPreds, n, n+1)
	i.operands = slices.Delete(i.operands, n, n+1)
}

// IsTrivialPhi reports whether every input other than the phi itself is
// the same register, and returns it.
func (i *Instr) IsTrivialPhi() (*Register, bool) {
	var same *Register
	for _, r := range i.operands {
		if r == i.output || r == same {
			continue
		}
		if same != nil {
			return nil, false
		}
		same = r
	}
	return same, same != nil
}
