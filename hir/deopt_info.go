package hir

import (
	"slices"

	"github.com/chazu/jitcore/check"
)

// RefKind says how a live value's reference is held at a deopt point.
type RefKind uint8

const (
	// Uncounted values are primitives or immortal objects.
	Uncounted RefKind = iota
	// Borrowed values are kept alive by someone else; the frame being
	// rebuilt needs its own reference.
	Borrowed
	// Owned values already carry one reference per frame slot holding
	// them.
	Owned
)

func (k RefKind) String() string {
	switch k {
	case Uncounted:
		return "uncounted"
	case Borrowed:
		return "borrowed"
	case Owned:
		return "owned"
	}
	return "?"
}

// ValueKind says how to interpret a live value's bits.
type ValueKind uint8

const (
	KindObject ValueKind = iota
	KindSigned
	KindUnsigned
	KindDouble
	KindBool
)

func (k ValueKind) String() string {
	return [...]string{"object", "signed", "unsigned", "double", "bool"}[k]
}

// ValueKindOf maps a register type to the way its bits are read.
func ValueKindOf(t Type) ValueKind {
	switch {
	case t.IsDouble():
		return KindDouble
	case t == TCBool:
		return KindBool
	case t.IsSigned():
		return KindSigned
	case t.IsUnsigned():
		return KindUnsigned
	}
	return KindObject
}

// RegState is one entry of a live-value list.
type RegState struct {
	Reg   *Register
	Ref   RefKind
	Value ValueKind
}

// DeoptInfo is the payload every DeoptBase instruction carries: the frame
// to rebuild, the values it needs, and the value that caused the deopt.
type DeoptInfo struct {
	Frame       *FrameState
	Live        []RegState
	Guilty      *Register
	Nonce       int
	Description string
}

// AddLive appends a live register. Duplicates are a bug.
func (d *DeoptInfo) AddLive(r *Register, ref RefKind) {
	for _, s := range d.Live {
		check.That(s.Reg != r, "%s is already live", r)
	}
	d.Live = append(d.Live, RegState{Reg: r, Ref: ref, Value: ValueKindOf(r.typ)})
}

// LiveIndex returns the position of r in the live list, or -1.
func (d *DeoptInfo) LiveIndex(r *Register) int {
	return slices.IndexFunc(d.Live, func(s RegState) bool { return s.Reg == r })
}

// SortLive orders the live list by register id.
func (d *DeoptInfo) SortLive() {
	slices.SortFunc(d.Live, func(a, b RegState) int { return a.Reg.id - b.Reg.id })
}
