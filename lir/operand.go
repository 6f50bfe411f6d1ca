package lir

import (
	"fmt"
	"strconv"

	"github.com/chazu/jitcore/hir"
)

// DataType is the machine representation of a value.
type DataType uint8

const (
	Object DataType = iota
	I8
	I16
	I32
	I64
	Double
)

var dataTypeNames = [...]string{"Object", "8bit", "16bit", "32bit", "64bit", "Double"}

func (d DataType) String() string { return dataTypeNames[d] }

// Size returns the width in bytes.
func (d DataType) Size() int {
	switch d {
	case I8:
		return 1
	case I16:
		return 2
	case I32:
		return 4
	}
	return 8
}

// DataTypeOf maps an HIR type to its machine representation.
func DataTypeOf(t hir.Type) DataType {
	if t.IsDouble() {
		return Double
	}
	if !t.IsPrimitive() {
		return Object
	}
	switch t.Size() {
	case 1:
		return I8
	case 2:
		return I16
	case 4:
		return I32
	}
	return I64
}

// VReg is a virtual register. Register allocation happens later.
type VReg struct {
	ID   int
	Type DataType
}

func (v *VReg) String() string { return "%" + strconv.Itoa(v.ID) }

// PhysReg names a fixed machine location. Only the return channels of
// runtime helpers are referenced before register allocation.
type PhysReg uint8

const (
	// RetValue holds object and integer results.
	RetValue PhysReg = iota
	// RetIntAux is the success flag of helpers returning a primitive
	// integer; zero means an exception is pending.
	RetIntAux
	// RetDouble holds double results.
	RetDouble
	// RetDoubleAux is the success flag of helpers returning a double.
	RetDoubleAux
)

var physNames = [...]string{"RAX", "RDX", "XMM0", "XMM1"}

func (p PhysReg) String() string { return physNames[p] }

// OperandKind tags an Operand.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandVReg
	OperandImm
	OperandFPImm
	OperandMem
	OperandLabel
	OperandPhys
	OperandSymbol
	OperandConst
)

// Operand is an instruction input.
//
// A memory operand addresses Disp bytes from Reg, or from the address of
// Sym when Reg is nil. A const operand names entry Imm of the code
// object's constant table.
type Operand struct {
	Kind  OperandKind
	Type  DataType
	Reg   *VReg
	Imm   int64
	FP    float64
	Disp  int32
	Phys  PhysReg
	Sym   string
	Block *BasicBlock
}

func R(v *VReg) Operand { return Operand{Kind: OperandVReg, Type: v.Type, Reg: v} }

func Imm(v int64) Operand { return Operand{Kind: OperandImm, Type: I64, Imm: v} }

func ImmT(v int64, t DataType) Operand { return Operand{Kind: OperandImm, Type: t, Imm: v} }

func FPImm(v float64) Operand { return Operand{Kind: OperandFPImm, Type: Double, FP: v} }

func Mem(base *VReg, disp int32, t DataType) Operand {
	return Operand{Kind: OperandMem, Type: t, Reg: base, Disp: disp}
}

func MemSym(sym string, t DataType) Operand {
	return Operand{Kind: OperandMem, Type: t, Sym: sym}
}

func MemAbs(addr int64, t DataType) Operand {
	return Operand{Kind: OperandMem, Type: t, Imm: addr}
}

func Label(b *BasicBlock) Operand { return Operand{Kind: OperandLabel, Block: b} }

func Phys(p PhysReg, t DataType) Operand { return Operand{Kind: OperandPhys, Type: t, Phys: p} }

func Sym(name string) Operand { return Operand{Kind: OperandSymbol, Type: Object, Sym: name} }

// ConstRef refers to an object in the constant table; desc is for
// printing.
func ConstRef(index int, desc string) Operand {
	return Operand{Kind: OperandConst, Type: Object, Imm: int64(index), Sym: desc}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandNone:
		return "_"
	case OperandVReg:
		return o.Reg.String()
	case OperandImm:
		return strconv.FormatInt(o.Imm, 10) + "(0x" + strconv.FormatInt(o.Imm, 16) + "):" + o.Type.String()
	case OperandFPImm:
		return strconv.FormatFloat(o.FP, 'g', -1, 64)
	case OperandMem:
		switch {
		case o.Reg != nil:
			return fmt.Sprintf("[%s%+d]:%s", o.Reg, o.Disp, o.Type)
		case o.Sym != "":
			return fmt.Sprintf("[%s%+d]:%s", o.Sym, o.Disp, o.Type)
		}
		return fmt.Sprintf("[%#x]:%s", o.Imm, o.Type)
	case OperandLabel:
		return "BB%" + strconv.Itoa(o.Block.id)
	case OperandPhys:
		return o.Phys.String()
	case OperandSymbol:
		return "&" + o.Sym
	case OperandConst:
		return fmt.Sprintf("const[%d]=%s", o.Imm, o.Sym)
	}
	return "?"
}
