package lir

import (
	"fmt"
	"strings"
)

// Print renders fn in layout order.
func Print(fn *Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Function %s\n", fn.Name)
	for _, b := range fn.Blocks() {
		printBlock(&sb, b)
	}
	if len(fn.Patchpoints) > 0 {
		sb.WriteString("Patchpoints:\n")
		for _, p := range fn.Patchpoints {
			fmt.Fprintf(&sb, "  deopt %d watches %s\n", p.DeoptID, p.Key)
		}
	}
	return sb.String()
}

func printBlock(sb *strings.Builder, b *BasicBlock) {
	fmt.Fprintf(sb, "BB%%%d", b.id)
	if b.Section == Cold {
		sb.WriteString(" (cold)")
	}
	if len(b.preds) > 0 {
		sb.WriteString(" - preds:")
		for _, p := range b.preds {
			fmt.Fprintf(sb, " %%%d", p.id)
		}
	}
	if len(b.succs) > 0 {
		sb.WriteString(" - succs:")
		for _, s := range b.succs {
			fmt.Fprintf(sb, " %%%d", s.id)
		}
	}
	sb.WriteByte('\n')
	for _, i := range b.instrs {
		sb.WriteString("  ")
		sb.WriteString(i.String())
		sb.WriteByte('\n')
	}
}

func (i *Instr) String() string {
	var sb strings.Builder
	if i.out != nil {
		fmt.Fprintf(&sb, "%s:%s = ", i.out, i.out.Type)
	}
	sb.WriteString(i.op.String())
	in := i.in
	if i.op == OpGuard {
		fmt.Fprintf(&sb, " %s deopt#%d", i.guard, i.deoptID)
		if v := i.in[0]; v.Kind != OperandNone {
			sb.WriteString(", " + v.String())
		}
		if t := i.in[1]; t.Kind != OperandNone {
			sb.WriteString(", " + t.String())
		}
		in = i.in[2 : len(i.in)-i.numLive]
	} else if i.hasDeopt() {
		fmt.Fprintf(&sb, " deopt#%d", i.deoptID)
		in = i.in[:len(i.in)-i.numLive]
	}
	for n, o := range in {
		if n == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(o.String())
	}
	if i.hasDeopt() && i.numLive > 0 {
		sb.WriteString(" live<")
		for n, o := range i.LiveValues() {
			if n > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(o.String())
		}
		sb.WriteString(">")
	}
	return sb.String()
}
