package hir

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Printer renders HIR as text. Color highlights opcodes and block
// headers for terminal output.
type Printer struct {
	Color     bool
	ShowDeopt bool

	op, blk, reg *color.Color
}

func (p *Printer) init() {
	p.op = color.New(color.FgCyan, color.Bold)
	p.blk = color.New(color.FgYellow)
	p.reg = color.New(color.FgGreen)
	for _, c := range []*color.Color{p.op, p.blk, p.reg} {
		if p.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Function renders f.
func (p *Printer) Function(f *Function) string {
	p.init()
	var sb strings.Builder
	fmt.Fprintf(&sb, "fun %s {\n", f.Name)
	for _, b := range f.CFG.RPO() {
		p.block(&sb, b)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (p *Printer) block(sb *strings.Builder, b *BasicBlock) {
	header := fmt.Sprintf("bb %d", b.id)
	if len(b.in) > 0 {
		ids := make([]string, len(b.in))
		for n, e := range b.in {
			ids[n] = fmt.Sprint(e.from.id)
		}
		header += " (preds " + strings.Join(ids, ", ") + ")"
	}
	fmt.Fprintf(sb, "  %s {\n", p.blk.Sprint(header))
	for _, i := range b.instrs {
		sb.WriteString("    ")
		sb.WriteString(p.Instr(i))
		sb.WriteString("\n")
		if p.ShowDeopt && i.deopt != nil && i.deopt.Frame != nil {
			p.deopt(sb, i.deopt)
		}
	}
	sb.WriteString("  }\n")
}

// Instr renders a single instruction without its deopt payload.
func (p *Printer) Instr(i *Instr) string {
	if p.op == nil {
		p.init()
	}
	var sb strings.Builder
	if out := i.output; out != nil {
		fmt.Fprintf(&sb, "%s:%s = ", p.reg.Sprint(out), out.typ)
	}
	sb.WriteString(p.op.Sprint(i.op.String()))
	if imm := immediates(i); imm != "" {
		sb.WriteString("<" + imm + ">")
	}
	for _, r := range i.operands {
		sb.WriteString(" " + p.reg.Sprint(r))
	}
	return sb.String()
}

func immediates(i *Instr) string {
	switch i.op {
	case OpBranch, OpCondBranch, OpCondBranchIterNotDone:
		return successorList(i)
	case OpCondBranchCheckType:
		return successorList(i) + ", " + i.typ.String()
	case OpPhi:
		ids := make([]string, len(i.phiPreds))
		for n, b := range i.phiPreds {
			ids[n] = fmt.Sprint(b.id)
		}
		return strings.Join(ids, ", ")
	case OpLoadArg:
		return fmt.Sprint(i.index)
	case OpLoadConst, OpGuardIs:
		return i.cnst.String()
	case OpLoadGlobalCached:
		if i.cnst.Kind != ConstNull {
			return i.name + " = " + i.cnst.String()
		}
		return i.name
	case OpLoadField, OpStoreField:
		return fmt.Sprintf("%s@%d", i.name, i.index)
	case OpRefineType, OpHintType, OpUseType, OpGuardType, OpPrimitiveBox,
		OpPrimitiveUnbox, OpIntConvert:
		return i.typ.String()
	case OpCast:
		return i.name
	case OpIntBinaryOp, OpDoubleBinaryOp, OpBinaryOp:
		return i.binOp.String()
	case OpPrimitiveCompare, OpCompareOp:
		return i.cmpOp.String()
	case OpPrimitiveUnaryOp, OpUnaryOp:
		return i.unOp.String()
	case OpLoadAttr, OpStoreAttr, OpLoadGlobal, OpStoreGlobal, OpCheckVar,
		OpCheckField, OpCallStatic, OpDeoptPatchpoint:
		return i.name
	case OpMakeTuple, OpMakeList, OpMakeDict:
		return fmt.Sprint(i.index)
	case OpVectorCall:
		if i.HasKwNames() {
			return fmt.Sprintf("%d, kwnames", i.index)
		}
		return fmt.Sprint(i.index)
	case OpSnapshot:
		if i.frame != nil {
			return fmt.Sprint(i.frame.NextIndex)
		}
	}
	return ""
}

func successorList(i *Instr) string {
	if i.block == nil {
		return ""
	}
	ids := make([]string, len(i.block.out))
	for n, e := range i.block.out {
		ids[n] = fmt.Sprint(e.to.id)
	}
	return strings.Join(ids, ", ")
}

func (p *Printer) deopt(sb *strings.Builder, d *DeoptInfo) {
	live := make([]string, len(d.Live))
	for n, s := range d.Live {
		live[n] = s.Ref.String() + ":" + s.Reg.String()
	}
	fmt.Fprintf(sb, "      LiveValues<%d> %s\n", len(d.Live), strings.Join(live, " "))
	for _, f := range d.Frame.Frames() {
		fmt.Fprintf(sb, "      FrameState %s @%d locals<%s> stack<%s>\n",
			f.Code.Name, f.NextIndex, regList(f.Locals), regList(f.Stack))
	}
	if d.Guilty != nil {
		fmt.Fprintf(sb, "      Guilty %s\n", d.Guilty)
	}
}

func regList(rs []*Register) string {
	s := make([]string, len(rs))
	for n, r := range rs {
		s[n] = r.String()
	}
	return strings.Join(s, " ")
}

// Print renders f without color.
func Print(f *Function) string {
	return (&Printer{}).Function(f)
}
