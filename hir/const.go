package hir

import (
	"fmt"
	"strconv"
	"strings"
)

// ConstKind tags the payload of a Const.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstNone
	ConstBool
	ConstInt
	ConstFloat
	ConstStr
	ConstTuple
	ConstBuiltin
	ConstPrimitive
)

// Const is a compile-time known value referenced by LoadConst and GuardIs.
// Index is the position in the code object's constant table, or -1 for
// values synthesized by the compiler.
type Const struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
	Items []Const
	Index int
}

// Small ints in this range are preallocated by the runtime and immortal.
const (
	smallIntMin = -5
	smallIntMax = 256
)

var (
	NullConst = Const{Kind: ConstNull, Index: -1}
	NoneConst = Const{Kind: ConstNone, Index: -1}
)

func BoolConst(b bool) Const {
	c := Const{Kind: ConstBool, Index: -1}
	if b {
		c.Int = 1
	}
	return c
}

func IntConst(v int64) Const      { return Const{Kind: ConstInt, Int: v, Index: -1} }
func FloatConst(v float64) Const  { return Const{Kind: ConstFloat, Float: v, Index: -1} }
func StrConst(v string) Const     { return Const{Kind: ConstStr, Str: v, Index: -1} }
func BuiltinConst(n string) Const { return Const{Kind: ConstBuiltin, Str: n, Index: -1} }

func TupleConst(items ...Const) Const {
	return Const{Kind: ConstTuple, Items: items, Index: -1}
}

// PrimitiveConst is an unboxed machine value. Doubles use Float.
func PrimitiveConst(bits int64) Const {
	return Const{Kind: ConstPrimitive, Int: bits, Index: -1}
}

// Type returns the most precise type of the constant.
func (c Const) Type() Type {
	switch c.Kind {
	case ConstNull:
		return TNullptr
	case ConstNone:
		return TNoneType
	case ConstBool:
		return TBool
	case ConstInt:
		if c.Int >= smallIntMin && c.Int <= smallIntMax {
			return TImmortalLong
		}
		return TMortalLong
	case ConstFloat:
		return TFloat.WithLifetime(false)
	case ConstStr:
		return TUnicode
	case ConstTuple:
		if len(c.Items) == 0 {
			return TTuple.WithLifetime(true)
		}
		return TTuple.WithLifetime(false)
	case ConstBuiltin:
		return TFunc.WithLifetime(true)
	case ConstPrimitive:
		return TCInt64
	}
	return TTop
}

func (c Const) String() string {
	switch c.Kind {
	case ConstNull:
		return "nullptr"
	case ConstNone:
		return "None"
	case ConstBool:
		if c.Int != 0 {
			return "True"
		}
		return "False"
	case ConstInt, ConstPrimitive:
		return strconv.FormatInt(c.Int, 10)
	case ConstFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case ConstStr:
		return strconv.Quote(c.Str)
	case ConstTuple:
		parts := make([]string, len(c.Items))
		for i, it := range c.Items {
			parts[i] = it.String()
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case ConstBuiltin:
		return fmt.Sprintf("<builtin %s>", c.Str)
	}
	return "?"
}
