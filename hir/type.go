package hir

import "strings"

// Type is the abstract value lattice the compiler queries. Object kinds
// carry a lifetime component (mortal / immortal); primitive kinds do not.
// Only Union, Intersect and the predicates below are part of its contract.
type Type struct {
	bits uint32
	life uint8
}

const (
	bNoneType uint32 = 1 << iota
	bBool
	bLong
	bFloat
	bUnicode
	bTuple
	bList
	bDict
	bFunc
	bType
	bUser

	bCBool
	bCInt8
	bCInt16
	bCInt32
	bCInt64
	bCUInt8
	bCUInt16
	bCUInt32
	bCUInt64
	bCDouble
	bNullptr
)

const (
	lifeMortal uint8 = 1 << iota
	lifeImmortal
	lifeAny = lifeMortal | lifeImmortal
)

const (
	objectBits   = bNoneType | bBool | bLong | bFloat | bUnicode | bTuple | bList | bDict | bFunc | bType | bUser
	signedBits   = bCInt8 | bCInt16 | bCInt32 | bCInt64
	unsignedBits = bCUInt8 | bCUInt16 | bCUInt32 | bCUInt64 | bCBool
	primBits     = signedBits | unsignedBits | bCDouble
)

// Named types.
var (
	TBottom = Type{}
	TTop    = Type{objectBits | primBits | bNullptr, lifeAny}

	TObject          = Type{objectBits, lifeAny}
	TMortalObject    = Type{objectBits, lifeMortal}
	TImmortalObject  = Type{objectBits, lifeImmortal}
	TNoneType        = Type{bNoneType, lifeImmortal}
	TBool            = Type{bBool, lifeImmortal}
	TLong            = Type{bLong, lifeAny}
	TFloat           = Type{bFloat, lifeAny}
	TUnicode         = Type{bUnicode, lifeAny}
	TTuple           = Type{bTuple, lifeAny}
	TList            = Type{bList, lifeMortal}
	TDict            = Type{bDict, lifeMortal}
	TFunc            = Type{bFunc, lifeAny}
	TTypeObject      = Type{bType, lifeAny}
	TNullptr         = Type{bNullptr, 0}
	TOptObject       = TObject.Union(TNullptr)
	TImmortalLong    = Type{bLong, lifeImmortal}
	TMortalLong      = Type{bLong, lifeMortal}
	TImmortalUnicode = Type{bUnicode, lifeImmortal}

	TCBool   = Type{bCBool, 0}
	TCInt8   = Type{bCInt8, 0}
	TCInt16  = Type{bCInt16, 0}
	TCInt32  = Type{bCInt32, 0}
	TCInt64  = Type{bCInt64, 0}
	TCUInt8  = Type{bCUInt8, 0}
	TCUInt16 = Type{bCUInt16, 0}
	TCUInt32 = Type{bCUInt32, 0}
	TCUInt64 = Type{bCUInt64, 0}
	TCDouble = Type{bCDouble, 0}

	TCSigned   = Type{signedBits, 0}
	TCUnsigned = Type{unsignedBits, 0}
	TPrimitive = Type{primBits, 0}
	TCIntegral = Type{signedBits | unsignedBits, 0}
)

func (t Type) norm() Type {
	if t.bits&objectBits == 0 {
		t.life = 0
	} else if t.life == 0 {
		t.bits &^= objectBits
	}
	return t
}

// Union is the lattice join.
func (t Type) Union(o Type) Type {
	return Type{t.bits | o.bits, t.life | o.life}.norm()
}

// Intersect is the lattice meet.
func (t Type) Intersect(o Type) Type {
	life := t.life & o.life
	bits := t.bits & o.bits
	if bits&objectBits != 0 && life == 0 {
		bits &^= objectBits
	}
	return Type{bits, life}.norm()
}

// IsBottom reports whether no value has this type.
func (t Type) IsBottom() bool { return t.bits == 0 }

// IsSubtypeOf reports whether every value of t is a value of o.
func (t Type) IsSubtypeOf(o Type) bool {
	if t.bits&^o.bits != 0 {
		return false
	}
	return t.bits&objectBits == 0 || t.life&^o.life == 0
}

// CouldBe reports whether t and o share a value.
func (t Type) CouldBe(o Type) bool {
	return !t.Intersect(o).IsBottom()
}

// IsObject reports whether t only holds object pointers.
func (t Type) IsObject() bool {
	return !t.IsBottom() && t.bits&^objectBits == 0
}

// IsPrimitive reports whether t only holds unboxed machine values.
func (t Type) IsPrimitive() bool {
	return !t.IsBottom() && t.bits&^primBits == 0
}

// IsSigned reports whether t only holds signed machine integers.
func (t Type) IsSigned() bool {
	return !t.IsBottom() && t.bits&^signedBits == 0
}

// IsUnsigned reports whether t only holds unsigned machine integers
// (including C bools).
func (t Type) IsUnsigned() bool {
	return !t.IsBottom() && t.bits&^unsignedBits == 0
}

// IsDouble reports whether t only holds unboxed doubles.
func (t Type) IsDouble() bool {
	return t.bits == bCDouble
}

// IsNullptr reports whether t is exactly the null pointer.
func (t Type) IsNullptr() bool {
	return t.bits == bNullptr
}

// KnownImmortal reports whether every value of t is an immortal object, so
// reference count operations on it can be skipped.
func (t Type) KnownImmortal() bool {
	return t.IsObject() && t.life == lifeImmortal
}

// CouldBeImmortal reports whether some value of t may be immortal.
func (t Type) CouldBeImmortal() bool {
	return t.life&lifeImmortal != 0
}

// IsRefcounted reports whether values of t may need reference counting.
func (t Type) IsRefcounted() bool {
	return t.bits&objectBits != 0 && t.life&lifeMortal != 0
}

// Size returns the width in bytes of a primitive type; objects and
// pointers are word sized.
func (t Type) Size() int {
	switch {
	case t.bits&^(bCInt8|bCUInt8|bCBool) == 0 && !t.IsBottom():
		return 1
	case t.bits&^(bCInt16|bCUInt16) == 0 && !t.IsBottom():
		return 2
	case t.bits&^(bCInt32|bCUInt32) == 0 && !t.IsBottom():
		return 4
	}
	return 8
}

// WithLifetime narrows an object type to its immortal (true) or mortal
// (false) part.
func (t Type) WithLifetime(immortal bool) Type {
	if immortal {
		return t.Intersect(TImmortalObject.Union(TPrimitive).Union(TNullptr))
	}
	return t.Intersect(TMortalObject.Union(TPrimitive).Union(TNullptr))
}

var exactNames = map[uint32]string{
	bNoneType: "NoneType",
	bBool:     "bool",
	bLong:     "int",
	bFloat:    "float",
	bUnicode:  "str",
	bTuple:    "tuple",
	bList:     "list",
	bDict:     "dict",
	bFunc:     "function",
	bType:     "type",
}

// ExactObjectType returns the runtime type name when t names exactly one
// builtin object type.
func (t Type) ExactObjectType() (string, bool) {
	name, ok := exactNames[t.bits]
	return name, ok
}

var typeNames = []struct {
	t    Type
	name string
}{
	{TTop, "Top"},
	{TOptObject, "OptObject"},
	{TObject, "Object"},
	{TMortalObject, "MortalObject"},
	{TImmortalObject, "ImmortalObject"},
	{TNoneType, "NoneType"},
	{TBool, "Bool"},
	{TLong, "Long"},
	{TImmortalLong, "ImmortalLong"},
	{TMortalLong, "MortalLong"},
	{TFloat, "Float"},
	{TUnicode, "Unicode"},
	{TImmortalUnicode, "ImmortalUnicode"},
	{TTuple, "Tuple"},
	{TList, "List"},
	{TDict, "Dict"},
	{TFunc, "Func"},
	{TTypeObject, "Type"},
	{TNullptr, "Nullptr"},
	{TCBool, "CBool"},
	{TCInt8, "CInt8"},
	{TCInt16, "CInt16"},
	{TCInt32, "CInt32"},
	{TCInt64, "CInt64"},
	{TCUInt8, "CUInt8"},
	{TCUInt16, "CUInt16"},
	{TCUInt32, "CUInt32"},
	{TCUInt64, "CUInt64"},
	{TCDouble, "CDouble"},
	{TPrimitive, "Primitive"},
	{TBottom, "Bottom"},
}

var bitNames = []struct {
	bit  uint32
	name string
}{
	{bNoneType, "NoneType"}, {bBool, "Bool"}, {bLong, "Long"}, {bFloat, "Float"},
	{bUnicode, "Unicode"}, {bTuple, "Tuple"}, {bList, "List"}, {bDict, "Dict"},
	{bFunc, "Func"}, {bType, "Type"}, {bUser, "User"},
	{bCBool, "CBool"}, {bCInt8, "CInt8"}, {bCInt16, "CInt16"}, {bCInt32, "CInt32"},
	{bCInt64, "CInt64"}, {bCUInt8, "CUInt8"}, {bCUInt16, "CUInt16"}, {bCUInt32, "CUInt32"},
	{bCUInt64, "CUInt64"}, {bCDouble, "CDouble"}, {bNullptr, "Nullptr"},
}

// String implements the Stringer interface.
func (t Type) String() string {
	for _, n := range typeNames {
		if n.t == t {
			return n.name
		}
	}
	var parts []string
	for _, n := range bitNames {
		if t.bits&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	s := strings.Join(parts, "|")
	switch t.life {
	case lifeMortal:
		s = "Mortal{" + s + "}"
	case lifeImmortal:
		s = "Immortal{" + s + "}"
	}
	return s
}
