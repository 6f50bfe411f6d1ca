package hir

import (
	"fmt"

	"github.com/chazu/jitcore/check"
)

// Register is an SSA value. Each register is defined by exactly one
// instruction.
type Register struct {
	id    int
	typ   Type
	instr *Instr
}

// ID returns the register number, unique within its Environment.
func (r *Register) ID() int { return r.id }

// Type returns the register's inferred type.
func (r *Register) Type() Type { return r.typ }

// SetType replaces the register's inferred type.
func (r *Register) SetType(t Type) { r.typ = t }

// Instr returns the defining instruction.
func (r *Register) Instr() *Instr { return r.instr }

// IsA reports whether the register's type is a subtype of t.
func (r *Register) IsA(t Type) bool { return r.typ.IsSubtypeOf(t) }

func (r *Register) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("v%d", r.id)
}

// Environment owns the registers of one function.
type Environment struct {
	regs  []*Register
	nonce int
}

// AllocateRegister returns a fresh register with type Top.
func (e *Environment) AllocateRegister() *Register {
	r := &Register{id: len(e.regs), typ: TTop}
	e.regs = append(e.regs, r)
	return r
}

// Register looks up a register by id.
func (e *Environment) Register(id int) *Register {
	check.That(id >= 0 && id < len(e.regs), "register v%d out of range", id)
	return e.regs[id]
}

// NumRegisters returns how many registers were allocated.
func (e *Environment) NumRegisters() int { return len(e.regs) }

// Registers returns every allocated register in id order.
func (e *Environment) Registers() []*Register { return e.regs }

// NextNonce returns a fresh identifier for deopt bookkeeping.
func (e *Environment) NextNonce() int {
	e.nonce++
	return e.nonce
}
