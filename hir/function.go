package hir

import (
	"iter"

	"github.com/chazu/jitcore/bytecode"
)

// CodeObject is the compiler's view of a unit of bytecode and the tables
// its instructions index into.
type CodeObject struct {
	Name           string
	Code           *bytecode.Code
	Consts         []Const
	Names          []string
	VarNames       []string
	NumArgs        int
	Generator      bool
	ExceptionTable *bytecode.ExceptionTable
}

// NumLocals returns the number of local slots, arguments included.
func (c *CodeObject) NumLocals() int { return len(c.VarNames) }

// Function is the HIR for one code object.
type Function struct {
	Name string
	Code *CodeObject
	CFG  CFG
	Env  Environment
}

// NewFunction creates an empty function for code.
func NewFunction(code *CodeObject) *Function {
	return &Function{Name: code.Name, Code: code}
}

// Instrs yields every instruction of every block in reverse post-order.
func (f *Function) Instrs() iter.Seq2[*BasicBlock, *Instr] {
	return func(yield func(*BasicBlock, *Instr) bool) {
		for _, b := range f.CFG.RPO() {
			for _, i := range b.instrs {
				if !yield(b, i) {
					return
				}
			}
		}
	}
}

// ReplaceUses rewrites every use of old, in operands and snapshots, to
// repl.
func (f *Function) ReplaceUses(old, repl *Register) {
	for _, b := range f.CFG.blocks {
		for _, i := range b.instrs {
			i.ReplaceUsesOf(old, repl)
			if i.deopt != nil && i.deopt.Frame != nil {
				i.deopt.Frame.ReplaceUsesOf(old, repl)
				if i.deopt.Guilty == old {
					i.deopt.Guilty = repl
				}
			}
		}
	}
}

// ReflowTypes recomputes output types to a fixed point. Phis start from
// Bottom so loops converge on the union of their inputs.
func (f *Function) ReflowTypes() {
	for _, i := range f.InstrList() {
		if i.op == OpPhi {
			i.output.typ = TBottom
		}
	}
	for changed := true; changed; {
		changed = false
		for _, i := range f.InstrList() {
			if i.output == nil || i.op == OpLoadArg {
				continue
			}
			t := i.OutputType()
			if t != i.output.typ {
				i.output.typ = t
				changed = true
			}
		}
	}
}

// InstrList returns a flat snapshot of Instrs, safe to iterate while
// mutating blocks.
func (f *Function) InstrList() []*Instr {
	var out []*Instr
	for _, i := range f.Instrs() {
		out = append(out, i)
	}
	return out
}
