// Package lir lowers HIR to a low-level, register-machine IR: explicit
// loads, stores, helper calls, refcount sequences and deopt guards over
// virtual registers.
package lir

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/chazu/jitcore/check"
	"github.com/chazu/jitcore/deopt"
	"github.com/chazu/jitcore/hir"
)

// SlotResolver gives the address of the entry-point cell of a statically
// bound function. Calls load the cell, so recompiling the callee never
// requires patching its callers.
type SlotResolver interface {
	SlotAddress(name string) (uintptr, bool)
}

// Generator lowers HIR functions. Slots may be nil, in which case static
// calls fall back to the generic call protocol.
type Generator struct {
	Slots SlotResolver
}

// NewGenerator creates a generator.
func NewGenerator(slots SlotResolver) *Generator {
	return &Generator{Slots: slots}
}

// Generate lowers fn. Snapshots must already be bound to fn's deopting
// instructions. The returned error lists every malformed deopt exit.
func (g *Generator) Generate(fn *hir.Function) (*Function, error) {
	l := &lowering{
		slots:  g.Slots,
		hfn:    fn,
		fn:     NewFunction(fn.Name),
		copies: map[*hir.Register]*hir.Register{},
		vregs:  map[*hir.Register]*VReg{},
		first:  map[*hir.BasicBlock]*BasicBlock{},
		last:   map[*hir.BasicBlock]*BasicBlock{},
	}
	l.propagateCopies()

	rpo := fn.CFG.RPO()
	for _, hb := range rpo {
		l.cur = l.fn.AllocateBlock()
		l.first[hb] = l.cur
		for _, i := range hb.Instrs() {
			l.origin = i
			l.lower(i)
			if i.IsDeoptBase() && !selfGuarding(i.Opcode()) {
				l.autoGuard(i)
			}
		}
		l.last[hb] = l.cur
	}
	l.origin = nil
	l.fn.Entry = l.first[fn.CFG.Entry]

	for _, hb := range rpo {
		for _, s := range hb.Successors() {
			l.last[hb].AddSuccessor(l.first[s])
		}
	}
	for _, p := range l.phis {
		for _, pred := range p.hir.PhiPredecessors() {
			p.lir.in = append(p.lir.in, Label(l.last[pred]), l.use(p.hir.PhiInput(pred)))
		}
	}

	var errs error
	for _, m := range l.fn.Deopts.Entries {
		if err := m.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		return nil, fmt.Errorf("lir: %s: %w", fn.Name, errs)
	}
	return l.fn, nil
}

type pendingPhi struct {
	lir *Instr
	hir *hir.Instr
}

type lowering struct {
	slots  SlotResolver
	hfn    *hir.Function
	fn     *Function
	cur    *BasicBlock
	origin *hir.Instr
	copies map[*hir.Register]*hir.Register
	vregs  map[*hir.Register]*VReg
	first  map[*hir.BasicBlock]*BasicBlock
	last   map[*hir.BasicBlock]*BasicBlock
	phis   []pendingPhi
}

// propagateCopies maps the output of every passthrough instruction to its
// source, so no code is generated for the copy.
func (l *lowering) propagateCopies() {
	for _, i := range l.hfn.Instrs() {
		if i.IsPassthrough() && i.Output() != nil {
			l.copies[i.Output()] = i.Operand(0)
		}
	}
}

func (l *lowering) resolve(r *hir.Register) *hir.Register {
	for {
		src, ok := l.copies[r]
		if !ok {
			return r
		}
		r = src
	}
}

func (l *lowering) def(r *hir.Register) *VReg {
	check.That(l.vregs[r] == nil, "lir: %s defined twice", r)
	v := l.fn.NewVReg(DataTypeOf(r.Type()))
	l.vregs[r] = v
	return v
}

func (l *lowering) use(r *hir.Register) Operand {
	v := l.vregs[l.resolve(r)]
	check.That(v != nil, "lir: %s used before its definition", r)
	return R(v)
}

func (l *lowering) uses(rs []*hir.Register) []Operand {
	out := make([]Operand, len(rs))
	for n, r := range rs {
		out[n] = l.use(r)
	}
	return out
}

func (l *lowering) tmp(t DataType) *VReg { return l.fn.NewVReg(t) }

func (l *lowering) emit(op Opcode, out *VReg, in ...Operand) *Instr {
	return l.cur.append(&Instr{op: op, out: out, in: in, origin: l.origin})
}

func (l *lowering) call(out *VReg, fn string, args ...Operand) *Instr {
	return l.emit(OpCall, out, append([]Operand{Sym(fn)}, args...)...)
}

func (l *lowering) newBlock(s Section) *BasicBlock {
	b := l.fn.AllocateBlock()
	b.Section = s
	return b
}

func (l *lowering) branch(to *BasicBlock) {
	l.emit(OpBranch, nil)
	l.cur.AddSuccessor(to)
}

func (l *lowering) condBranch(cond Operand, ifTrue, ifFalse *BasicBlock) {
	l.emit(OpCondBranch, nil, cond)
	l.cur.AddSuccessor(ifTrue)
	l.cur.AddSuccessor(ifFalse)
}

// selfGuarding ops emit their own guard or deopt.
func selfGuarding(op hir.Opcode) bool {
	switch op {
	case hir.OpGuard, hir.OpGuardIs, hir.OpGuardType, hir.OpCheckVar,
		hir.OpCheckExc, hir.OpCheckNeg, hir.OpCheckField, hir.OpDeopt,
		hir.OpDeoptPatchpoint, hir.OpCast, hir.OpInitialYield, hir.OpYieldValue:
		return true
	}
	return false
}

// statusResult ops lower to helpers returning a C int that is negative on
// error, like PyObject_IsTrue and PyObject_SetItem. The auxiliary return
// register is not written by them.
func statusResult(op hir.Opcode) bool {
	switch op {
	case hir.OpIsTruthy, hir.OpStoreAttr, hir.OpStoreGlobal, hir.OpStoreSubscr, hir.OpRunPeriodicTasks:
		return true
	}
	return false
}

// autoGuard checks the result of an instruction that signals failure
// through its return value: a null object, a negative status, or a
// cleared flag in the auxiliary return register for other primitives.
func (l *lowering) autoGuard(i *hir.Instr) {
	reason := deopt.Exception
	if i.Opcode() == hir.OpRaise {
		reason = deopt.Raise
	}
	t := hir.TBottom
	if out := i.Output(); out != nil {
		t = out.Type()
	}
	switch {
	case t.IsBottom():
		l.guard(i, GuardAlwaysFail, reason, Operand{}, Operand{})
	case statusResult(i.Opcode()):
		l.guard(i, GuardNotNegative, reason, R(l.vregs[i.Output()]), Operand{})
	case t.IsDouble():
		l.guard(i, GuardNotZero, reason, Phys(RetDoubleAux, I8), Operand{})
	case t.IsPrimitive():
		l.guard(i, GuardNotZero, reason, Phys(RetIntAux, I8), Operand{})
	default:
		l.guard(i, GuardNotZero, reason, R(l.vregs[i.Output()]), Operand{})
	}
}

func (l *lowering) guard(i *hir.Instr, kind GuardKind, reason deopt.Reason, value, target Operand) {
	id, live := l.deoptMetadata(i, reason)
	g := l.emit(OpGuard, nil, append([]Operand{value, target}, live...)...)
	g.guard, g.deoptID, g.numLive = kind, id, len(live)
}

// deoptMetadata records the exit for i and returns its id together with
// one operand per live value, in live-list order.
func (l *lowering) deoptMetadata(i *hir.Instr, reason deopt.Reason) (int, []Operand) {
	d := i.DeoptInfo()
	check.That(d != nil && d.Frame != nil, "lir: %s has no bound frame state", i.Opcode())
	m := &deopt.Metadata{
		Guilty:      -1,
		Reason:      reason,
		Description: d.Description,
		Nonce:       d.Nonce,
	}
	if m.Description == "" {
		m.Description = i.Opcode().String()
	}
	live := make([]Operand, len(d.Live))
	for n, s := range d.Live {
		m.Live = append(m.Live, deopt.LiveValue{Reg: s.Reg.ID(), Ref: refKind(s.Ref), Kind: valueKind(s.Value)})
		live[n] = l.use(s.Reg)
	}
	if d.Guilty != nil {
		m.Guilty = d.LiveIndex(d.Guilty)
	}
	slot := func(r *hir.Register) int {
		idx := d.LiveIndex(r)
		check.That(idx >= 0, "lir: %s in frame but not live", r)
		return idx
	}
	for _, fs := range d.Frame.Frames() {
		fm := deopt.FrameMeta{Code: fs.Code.Name, ResumeIndex: fs.NextIndex}
		for _, r := range fs.Locals {
			if r == nil {
				fm.Locals = append(fm.Locals, -1)
				continue
			}
			fm.Locals = append(fm.Locals, slot(r))
		}
		for _, r := range fs.Stack {
			fm.Stack = append(fm.Stack, slot(r))
		}
		for _, b := range fs.BlockStack {
			fm.BlockStack = append(fm.BlockStack, deopt.BlockEntry{
				HandlerIndex: b.HandlerIndex,
				StackLevel:   b.StackLevel,
				Lasti:        b.Lasti,
			})
		}
		m.Frames = append(m.Frames, fm)
	}
	return l.fn.Deopts.Add(m), live
}

func refKind(k hir.RefKind) deopt.RefKind {
	switch k {
	case hir.Borrowed:
		return deopt.Borrowed
	case hir.Owned:
		return deopt.Owned
	}
	return deopt.Uncounted
}

func valueKind(k hir.ValueKind) deopt.ValueKind {
	switch k {
	case hir.KindSigned:
		return deopt.Signed
	case hir.KindUnsigned:
		return deopt.Unsigned
	case hir.KindDouble:
		return deopt.Double
	case hir.KindBool:
		return deopt.Bool
	}
	return deopt.Object
}

// constOperand materializes a compile-time object.
func constOperand(c hir.Const) Operand {
	switch c.Kind {
	case hir.ConstNull:
		return ImmT(0, Object)
	case hir.ConstNone:
		return Sym("_Py_NoneStruct")
	case hir.ConstBool:
		if c.Int != 0 {
			return Sym("_Py_TrueStruct")
		}
		return Sym("_Py_FalseStruct")
	case hir.ConstBuiltin:
		return Sym("builtins." + c.Str)
	}
	if c.Index >= 0 {
		return ConstRef(c.Index, c.String())
	}
	return Sym("const:" + c.String())
}

// GlobalCacheSymbol names the cache cell holding a global's value.
func GlobalCacheSymbol(name string) string { return "global_cache:" + name }
