package hir

func NewBranch() *Instr { return newInstr(OpBranch, nil) }

func NewCondBranch(cond *Register) *Instr { return newInstr(OpCondBranch, nil, cond) }

// NewCondBranchCheckType branches to its first successor when v has type t.
func NewCondBranchCheckType(v *Register, t Type) *Instr {
	i := newInstr(OpCondBranchCheckType, nil, v)
	i.typ = t
	return i
}

// NewCondBranchIterNotDone branches to its first successor unless v is the
// iteration-finished sentinel.
func NewCondBranchIterNotDone(v *Register) *Instr {
	return newInstr(OpCondBranchIterNotDone, nil, v)
}

func NewReturn(v *Register) *Instr { return newInstr(OpReturn, nil, v) }

func NewDeopt() *Instr { return newInstr(OpDeopt, nil) }

func NewUnreachable() *Instr { return newInstr(OpUnreachable, nil) }

func NewSnapshot(fs *FrameState) *Instr {
	i := newInstr(OpSnapshot, nil)
	i.frame = fs
	return i
}

func NewRefineType(out *Register, t Type, v *Register) *Instr {
	i := newInstr(OpRefineType, out, v)
	i.typ = t
	return i.typed()
}

func NewHintType(t Type, v *Register) *Instr {
	i := newInstr(OpHintType, nil, v)
	i.typ = t
	return i
}

func NewUseType(v *Register, t Type) *Instr {
	i := newInstr(OpUseType, nil, v)
	i.typ = t
	return i
}

func NewAssign(out, v *Register) *Instr { return newInstr(OpAssign, out, v).typed() }

// NewPhi creates a phi with no inputs; see SetPhiArgs.
func NewPhi(out *Register) *Instr {
	i := newInstr(OpPhi, out)
	out.typ = TBottom
	return i
}

func NewLoadArg(out *Register, idx int) *Instr {
	i := newInstr(OpLoadArg, out)
	i.index = idx
	return i.typed()
}

func NewLoadConst(out *Register, c Const) *Instr {
	i := newInstr(OpLoadConst, out)
	i.cnst = c
	return i.typed()
}

func NewLoadField(out, base *Register, name string, offset int, t Type) *Instr {
	i := newInstr(OpLoadField, out, base)
	i.name, i.index, i.typ = name, offset, t
	return i.typed()
}

func NewStoreField(base, value *Register, name string, offset int) *Instr {
	i := newInstr(OpStoreField, nil, base, value)
	i.name, i.index = name, offset
	return i
}

// NewLoadGlobalCached reads a global from its cache cell. When known is
// not ConstNull the compiler has speculated on the global's value and a
// patchpoint guards the speculation.
func NewLoadGlobalCached(out *Register, name string, known Const) *Instr {
	i := newInstr(OpLoadGlobalCached, out)
	i.name, i.cnst = name, known
	return i.typed()
}

func NewIncref(v *Register) *Instr  { return newInstr(OpIncref, nil, v) }
func NewDecref(v *Register) *Instr  { return newInstr(OpDecref, nil, v) }
func NewXIncref(v *Register) *Instr { return newInstr(OpXIncref, nil, v) }
func NewXDecref(v *Register) *Instr { return newInstr(OpXDecref, nil, v) }

func NewIntBinaryOp(out *Register, op BinaryOpKind, l, r *Register) *Instr {
	i := newInstr(OpIntBinaryOp, out, l, r)
	i.binOp = op
	return i.typed()
}

func NewDoubleBinaryOp(out *Register, op BinaryOpKind, l, r *Register) *Instr {
	i := newInstr(OpDoubleBinaryOp, out, l, r)
	i.binOp = op
	return i.typed()
}

func NewPrimitiveCompare(out *Register, op CompareKind, l, r *Register) *Instr {
	i := newInstr(OpPrimitiveCompare, out, l, r)
	i.cmpOp = op
	return i.typed()
}

func NewPrimitiveUnaryOp(out *Register, op UnaryOpKind, v *Register) *Instr {
	i := newInstr(OpPrimitiveUnaryOp, out, v)
	i.unOp = op
	return i.typed()
}

func NewIntConvert(out, v *Register, t Type) *Instr {
	i := newInstr(OpIntConvert, out, v)
	i.typ = t
	return i.typed()
}

// NewBoxBool selects the True or False singleton for a CBool. It cannot
// fail.
func NewBoxBool(out, v *Register) *Instr { return newInstr(OpBoxBool, out, v).typed() }

func NewGuard(v *Register) *Instr { return newInstr(OpGuard, nil, v) }

func NewGuardIs(out, v *Register, c Const) *Instr {
	i := newInstr(OpGuardIs, out, v)
	i.cnst = c
	return i.typed()
}

func NewGuardType(out, v *Register, t Type) *Instr {
	i := newInstr(OpGuardType, out, v)
	i.typ = t
	return i.typed()
}

// NewCheckVar deopts when the local named name is unbound.
func NewCheckVar(out, v *Register, name string) *Instr {
	i := newInstr(OpCheckVar, out, v)
	i.name = name
	return i.typed()
}

func NewCheckExc(out, v *Register) *Instr { return newInstr(OpCheckExc, out, v).typed() }

func NewCheckNeg(out, v *Register) *Instr { return newInstr(OpCheckNeg, out, v).typed() }

func NewCheckField(out, v *Register, name string) *Instr {
	i := newInstr(OpCheckField, out, v)
	i.name = name
	return i.typed()
}

// NewDeoptPatchpoint reserves a patchable site that is redirected to a
// deopt exit when the watched key is invalidated.
func NewDeoptPatchpoint(key string) *Instr {
	i := newInstr(OpDeoptPatchpoint, nil)
	i.name = key
	return i
}

func NewCast(out, v *Register, t Type, typeName string) *Instr {
	i := newInstr(OpCast, out, v)
	i.typ, i.name = t, typeName
	return i.typed()
}

// NewPrimitiveBox boxes v, whose primitive type is t.
func NewPrimitiveBox(out, v *Register, t Type) *Instr {
	i := newInstr(OpPrimitiveBox, out, v)
	i.typ = t
	return i.typed()
}

// NewPrimitiveUnbox unboxes v into primitive type t.
func NewPrimitiveUnbox(out, v *Register, t Type) *Instr {
	i := newInstr(OpPrimitiveUnbox, out, v)
	i.typ = t
	return i.typed()
}

func NewBinaryOp(out *Register, op BinaryOpKind, l, r *Register) *Instr {
	i := newInstr(OpBinaryOp, out, l, r)
	i.binOp = op
	return i.typed()
}

func NewCompareOp(out *Register, op CompareKind, l, r *Register) *Instr {
	i := newInstr(OpCompareOp, out, l, r)
	i.cmpOp = op
	return i.typed()
}

func NewUnaryOp(out *Register, op UnaryOpKind, v *Register) *Instr {
	i := newInstr(OpUnaryOp, out, v)
	i.unOp = op
	return i.typed()
}

func NewIsTruthy(out, v *Register) *Instr { return newInstr(OpIsTruthy, out, v).typed() }

func NewLoadAttr(out, recv *Register, name string) *Instr {
	i := newInstr(OpLoadAttr, out, recv)
	i.name = name
	return i.typed()
}

func NewStoreAttr(out, recv, value *Register, name string) *Instr {
	i := newInstr(OpStoreAttr, out, recv, value)
	i.name = name
	return i.typed()
}

func NewLoadGlobal(out *Register, name string) *Instr {
	i := newInstr(OpLoadGlobal, out)
	i.name = name
	return i.typed()
}

func NewStoreGlobal(out, value *Register, name string) *Instr {
	i := newInstr(OpStoreGlobal, out, value)
	i.name = name
	return i.typed()
}

func NewBinarySubscr(out, container, key *Register) *Instr {
	return newInstr(OpBinarySubscr, out, container, key).typed()
}

func NewStoreSubscr(out, container, key, value *Register) *Instr {
	return newInstr(OpStoreSubscr, out, container, key, value).typed()
}

// NewMakeTuple builds a tuple, stealing a reference to each item.
func NewMakeTuple(out *Register, items ...*Register) *Instr {
	i := newInstr(OpMakeTuple, out, items...)
	i.index = len(items)
	return i.typed()
}

// NewMakeList builds a list, stealing a reference to each item.
func NewMakeList(out *Register, items ...*Register) *Instr {
	i := newInstr(OpMakeList, out, items...)
	i.index = len(items)
	return i.typed()
}

// NewMakeDict builds a dict from alternating keys and values. Operands
// are borrowed.
func NewMakeDict(out *Register, kvs ...*Register) *Instr {
	i := newInstr(OpMakeDict, out, kvs...)
	i.index = len(kvs) / 2
	return i.typed()
}

func NewGetIter(out, v *Register) *Instr { return newInstr(OpGetIter, out, v).typed() }

func NewInvokeIterNext(out, it *Register) *Instr {
	return newInstr(OpInvokeIterNext, out, it).typed()
}

// NewVectorCall calls callable with args. kwnames, when non-nil, is a
// tuple naming the trailing keyword arguments and becomes the last
// operand.
func NewVectorCall(out, callable *Register, args []*Register, kwnames *Register) *Instr {
	ops := append([]*Register{callable}, args...)
	i := newInstr(OpVectorCall, out)
	if kwnames != nil {
		ops = append(ops, kwnames)
		i.flags |= CallHasKwNames
	}
	i.operands = ops
	i.index = len(args)
	return i.typed()
}

// NewCallStatic calls the compiled entry point of a known function by
// name. callable is kept as operand 0 for the generic fallback.
func NewCallStatic(out *Register, name string, callable *Register, args ...*Register) *Instr {
	i := newInstr(OpCallStatic, out, append([]*Register{callable}, args...)...)
	i.name = name
	i.index = len(args)
	return i.typed()
}

func NewRunPeriodicTasks(out *Register) *Instr {
	return newInstr(OpRunPeriodicTasks, out).typed()
}

// NewRaise raises exc, or re-raises the active exception when exc is nil.
// It never produces a value.
func NewRaise(out, exc *Register) *Instr {
	var i *Instr
	if exc == nil {
		i = newInstr(OpRaise, out)
	} else {
		i = newInstr(OpRaise, out, exc)
	}
	return i.typed()
}

func NewInitialYield(out *Register) *Instr { return newInstr(OpInitialYield, out).typed() }

// NewYieldValue suspends the generator, handing v (stolen) to the caller.
func NewYieldValue(out, v *Register) *Instr { return newInstr(OpYieldValue, out, v).typed() }

func (i *Instr) typed() *Instr {
	if i.output != nil {
		i.output.typ = i.OutputType()
	}
	return i
}

// OutputType computes the type of the output from the current operand
// types.
func (i *Instr) OutputType() Type {
	in := func(n int) Type { return i.operands[n].typ }
	switch i.op {
	case OpRefineType, OpGuardType:
		return in(0).Intersect(i.typ)
	case OpAssign, OpCheckNeg:
		return in(0)
	case OpPhi:
		t := TBottom
		for _, r := range i.operands {
			if r.instr != i {
				t = t.Union(r.typ)
			}
		}
		return t
	case OpLoadArg, OpBinaryOp, OpCompareOp, OpUnaryOp, OpLoadAttr,
		OpLoadGlobal, OpBinarySubscr, OpGetIter, OpInvokeIterNext,
		OpVectorCall, OpCallStatic, OpInitialYield, OpYieldValue:
		return TObject
	case OpLoadConst:
		return i.cnst.Type()
	case OpLoadGlobalCached:
		if i.cnst.Kind != ConstNull {
			return i.cnst.Type()
		}
		return TObject
	case OpLoadField, OpIntConvert, OpPrimitiveUnbox:
		return i.typ
	case OpIntBinaryOp:
		return in(0)
	case OpDoubleBinaryOp:
		return TCDouble
	case OpPrimitiveCompare:
		return TCBool
	case OpBoxBool:
		return TBool
	case OpPrimitiveUnaryOp:
		if i.unOp == UnaryNot {
			return TCBool
		}
		return in(0)
	case OpGuardIs:
		return i.cnst.Type()
	case OpCheckVar, OpCheckExc, OpCheckField:
		t := in(0).Intersect(TObject)
		if t.IsBottom() {
			return TObject
		}
		return t
	case OpCast:
		return i.typ
	case OpPrimitiveBox:
		switch {
		case i.typ.IsDouble():
			return TFloat.WithLifetime(false)
		case i.typ == TCBool:
			return TBool
		}
		return TLong
	case OpIsTruthy, OpStoreAttr, OpStoreGlobal, OpStoreSubscr, OpRunPeriodicTasks:
		return TCInt32
	case OpMakeTuple:
		return TTuple.WithLifetime(false)
	case OpMakeList:
		return TList
	case OpMakeDict:
		return TDict
	case OpRaise:
		return TBottom
	}
	return TTop
}
