package lir

import (
	"github.com/chazu/jitcore/check"
	"github.com/chazu/jitcore/deopt"
	"github.com/chazu/jitcore/hir"
)

var intBinaryOps = map[hir.BinaryOpKind][2]Opcode{
	hir.BinAdd:         {OpAdd, OpAdd},
	hir.BinSubtract:    {OpSub, OpSub},
	hir.BinMultiply:    {OpMul, OpMul},
	hir.BinAnd:         {OpAnd, OpAnd},
	hir.BinOr:          {OpOr, OpOr},
	hir.BinXor:         {OpXor, OpXor},
	hir.BinLShift:      {OpLShift, OpLShift},
	hir.BinRShift:      {OpRShift, OpRShiftUn},
	hir.BinFloorDivide: {OpDiv, OpDivUn},
	hir.BinModulo:      {OpMod, OpModUn},
}

var doubleBinaryOps = map[hir.BinaryOpKind]Opcode{
	hir.BinAdd:        OpFadd,
	hir.BinSubtract:   OpFsub,
	hir.BinMultiply:   OpFmul,
	hir.BinTrueDivide: OpFdiv,
}

var signedCompares = map[hir.CompareKind]Opcode{
	hir.CmpLessThan:         OpLessThanSigned,
	hir.CmpLessThanEqual:    OpLessThanEqualSigned,
	hir.CmpEqual:            OpEqual,
	hir.CmpNotEqual:         OpNotEqual,
	hir.CmpGreaterThan:      OpGreaterThanSigned,
	hir.CmpGreaterThanEqual: OpGreaterThanEqualSigned,
}

// Unsigned codes also serve doubles: a floating compare sets the carry
// and zero flags the way an unsigned integer compare does.
var unsignedCompares = map[hir.CompareKind]Opcode{
	hir.CmpLessThan:         OpLessThanUnsigned,
	hir.CmpLessThanEqual:    OpLessThanEqualUnsigned,
	hir.CmpEqual:            OpEqual,
	hir.CmpNotEqual:         OpNotEqual,
	hir.CmpGreaterThan:      OpGreaterThanUnsigned,
	hir.CmpGreaterThanEqual: OpGreaterThanEqualUnsigned,
}

var numberHelpers = map[hir.BinaryOpKind]string{
	hir.BinAdd:            "PyNumber_Add",
	hir.BinSubtract:       "PyNumber_Subtract",
	hir.BinMultiply:       "PyNumber_Multiply",
	hir.BinTrueDivide:     "PyNumber_TrueDivide",
	hir.BinFloorDivide:    "PyNumber_FloorDivide",
	hir.BinModulo:         "PyNumber_Remainder",
	hir.BinPower:          "JITRT_Power",
	hir.BinAnd:            "PyNumber_And",
	hir.BinOr:             "PyNumber_Or",
	hir.BinXor:            "PyNumber_Xor",
	hir.BinLShift:         "PyNumber_Lshift",
	hir.BinRShift:         "PyNumber_Rshift",
	hir.BinMatrixMultiply: "PyNumber_MatrixMultiply",
}

// builtinArity lists the builtins with a direct lowering and the argument
// count each accepts.
var builtinArity = map[string]int{
	"len":        1,
	"type":       1,
	"isinstance": 2,
	"abs":        1,
}

func (l *lowering) lower(i *hir.Instr) {
	op := i.Opcode()
	switch op {
	case hir.OpSnapshot, hir.OpHintType, hir.OpUseType, hir.OpRefineType, hir.OpAssign:
		// Metadata only; passthrough outputs were folded into their sources.

	case hir.OpPhi:
		p := l.emit(OpPhi, l.def(i.Output()))
		l.phis = append(l.phis, pendingPhi{lir: p, hir: i})

	case hir.OpLoadArg:
		l.emit(OpLoadArg, l.def(i.Output()), Imm(int64(i.Index())))

	case hir.OpLoadConst:
		out := l.def(i.Output())
		c := i.Const()
		switch {
		case c.Kind == hir.ConstPrimitive && out.Type == Double:
			l.emit(OpMove, out, FPImm(c.Float))
		case c.Kind == hir.ConstPrimitive:
			l.emit(OpMove, out, ImmT(c.Int, out.Type))
		default:
			l.emit(OpMove, out, constOperand(c))
		}

	case hir.OpLoadField:
		out := l.def(i.Output())
		l.emit(OpLoad, out, Mem(l.use(i.Operand(0)).Reg, int32(i.Index()), out.Type))

	case hir.OpStoreField:
		v := l.use(i.Operand(1))
		l.emit(OpStore, nil, Mem(l.use(i.Operand(0)).Reg, int32(i.Index()), v.Type), v)

	case hir.OpLoadGlobalCached:
		l.emit(OpLoad, l.def(i.Output()), MemSym(GlobalCacheSymbol(i.Name()), Object))

	case hir.OpIncref, hir.OpXIncref:
		r := i.Operand(0)
		l.incref(l.use(r), r.Type(), op == hir.OpXIncref)

	case hir.OpDecref, hir.OpXDecref:
		r := i.Operand(0)
		l.decref(l.use(r), r.Type(), op == hir.OpXDecref)

	case hir.OpIntBinaryOp:
		l.lowerIntBinaryOp(i)

	case hir.OpDoubleBinaryOp:
		out := l.def(i.Output())
		a, b := l.use(i.Operand(0)), l.use(i.Operand(1))
		if i.BinaryOp() == hir.BinPower {
			l.call(out, "pow", a, b)
			break
		}
		lop, ok := doubleBinaryOps[i.BinaryOp()]
		check.That(ok, "lir: no double lowering for %s", i.BinaryOp())
		l.emit(lop, out, a, b)

	case hir.OpPrimitiveCompare:
		l.lowerPrimitiveCompare(i)

	case hir.OpPrimitiveUnaryOp:
		out := l.def(i.Output())
		v := l.use(i.Operand(0))
		switch i.UnaryOp() {
		case hir.UnaryNegate:
			if v.Type == Double {
				l.emit(OpFmul, out, v, FPImm(-1))
			} else {
				l.emit(OpNegate, out, v)
			}
		case hir.UnaryInvert:
			l.emit(OpInvert, out, v)
		case hir.UnaryNot:
			l.emit(OpEqual, out, v, ImmT(0, v.Type))
		}

	case hir.OpIntConvert:
		out := l.def(i.Output())
		src := i.Operand(0)
		v := l.use(src)
		switch {
		case out.Type.Size() <= v.Type.Size():
			l.emit(OpMove, out, v)
		case src.Type().IsSigned():
			l.emit(OpMovSX, out, v)
		default:
			l.emit(OpMovZX, out, v)
		}

	case hir.OpBoxBool:
		l.call(l.def(i.Output()), "JITRT_BoxBool", l.use(i.Operand(0)))

	case hir.OpGuard:
		l.guard(i, GuardNotZero, deopt.GuardFailure, l.use(i.Operand(0)), Operand{})

	case hir.OpGuardIs:
		l.guard(i, GuardIs, deopt.GuardFailure, l.use(i.Operand(0)), constOperand(i.Const()))

	case hir.OpGuardType:
		l.guard(i, GuardHasType, deopt.GuardFailure, l.use(i.Operand(0)), Sym(typeSymbol(i.Type())))

	case hir.OpCheckVar, hir.OpCheckField, hir.OpCheckExc:
		l.guard(i, GuardNotZero, deopt.Exception, l.use(i.Operand(0)), Operand{})

	case hir.OpCheckNeg:
		l.guard(i, GuardNotNegative, deopt.Exception, l.use(i.Operand(0)), Operand{})

	case hir.OpDeoptPatchpoint:
		id, live := l.deoptMetadata(i, deopt.Invalidated)
		p := l.emit(OpDeoptPatchpoint, nil, live...)
		p.deoptID, p.numLive = id, len(live)
		l.fn.Patchpoints = append(l.fn.Patchpoints, PatchpointSite{DeoptID: id, Key: i.Name()})

	case hir.OpCast:
		v := l.use(i.Operand(0))
		if i.IsPassthrough() {
			l.guard(i, GuardHasType, deopt.GuardFailure, v, Sym(i.Name()))
			break
		}
		out := l.def(i.Output())
		l.call(out, "JITRT_CastToFloat", v)
		l.guard(i, GuardNotZero, deopt.Exception, R(out), Operand{})

	case hir.OpPrimitiveBox:
		l.lowerBox(i)

	case hir.OpPrimitiveUnbox:
		out := l.def(i.Output())
		helper := "JITRT_UnboxI64"
		switch t := i.Type(); {
		case t.IsDouble():
			helper = "JITRT_UnboxDouble"
		case t.IsUnsigned():
			helper = "JITRT_UnboxU64"
		}
		l.call(out, helper, l.use(i.Operand(0)))

	case hir.OpBinaryOp:
		l.call(l.def(i.Output()), numberHelpers[i.BinaryOp()], l.use(i.Operand(0)), l.use(i.Operand(1)))

	case hir.OpCompareOp:
		l.call(l.def(i.Output()), "PyObject_RichCompare",
			l.use(i.Operand(0)), l.use(i.Operand(1)), ImmT(int64(i.CompareOp()), I32))

	case hir.OpUnaryOp:
		helper := map[hir.UnaryOpKind]string{
			hir.UnaryNegate: "PyNumber_Negative",
			hir.UnaryInvert: "PyNumber_Invert",
			hir.UnaryNot:    "JITRT_UnaryNot",
		}[i.UnaryOp()]
		l.call(l.def(i.Output()), helper, l.use(i.Operand(0)))

	case hir.OpIsTruthy:
		l.call(l.def(i.Output()), "PyObject_IsTrue", l.use(i.Operand(0)))

	case hir.OpLoadAttr:
		l.call(l.def(i.Output()), "PyObject_GetAttr", l.use(i.Operand(0)), Sym("name:"+i.Name()))

	case hir.OpStoreAttr:
		l.call(l.def(i.Output()), "PyObject_SetAttr",
			l.use(i.Operand(0)), Sym("name:"+i.Name()), l.use(i.Operand(1)))

	case hir.OpLoadGlobal:
		l.call(l.def(i.Output()), "JITRT_LoadGlobal", Sym("name:"+i.Name()))

	case hir.OpStoreGlobal:
		l.call(l.def(i.Output()), "JITRT_StoreGlobal", Sym("name:"+i.Name()), l.use(i.Operand(0)))

	case hir.OpBinarySubscr:
		l.call(l.def(i.Output()), "PyObject_GetItem", l.use(i.Operand(0)), l.use(i.Operand(1)))

	case hir.OpStoreSubscr:
		l.call(l.def(i.Output()), "PyObject_SetItem", l.uses(i.Operands())...)

	case hir.OpMakeTuple, hir.OpMakeList, hir.OpMakeDict:
		helper := map[hir.Opcode]string{
			hir.OpMakeTuple: "JITRT_MakeTuple",
			hir.OpMakeList:  "JITRT_MakeList",
			hir.OpMakeDict:  "JITRT_MakeDict",
		}[op]
		args := append([]Operand{Imm(int64(i.NumOperands()))}, l.uses(i.Operands())...)
		l.call(l.def(i.Output()), helper, args...)

	case hir.OpGetIter:
		l.call(l.def(i.Output()), "PyObject_GetIter", l.use(i.Operand(0)))

	case hir.OpInvokeIterNext:
		l.call(l.def(i.Output()), "JITRT_IterNext", l.use(i.Operand(0)))

	case hir.OpVectorCall:
		l.lowerVectorCall(i)

	case hir.OpCallStatic:
		l.lowerCallStatic(i)

	case hir.OpRunPeriodicTasks:
		l.call(l.def(i.Output()), "JITRT_RunPeriodicTasks")

	case hir.OpRaise:
		exc := ImmT(0, Object)
		if i.NumOperands() > 0 {
			exc = l.use(i.Operand(0))
		}
		l.call(nil, "JITRT_Raise", exc)

	case hir.OpInitialYield:
		id, live := l.deoptMetadata(i, deopt.Yield)
		y := l.emit(OpYieldInitial, l.def(i.Output()), live...)
		y.deoptID, y.numLive = id, len(live)

	case hir.OpYieldValue:
		id, live := l.deoptMetadata(i, deopt.Yield)
		y := l.emit(OpYieldValue, l.def(i.Output()), append([]Operand{l.use(i.Operand(0))}, live...)...)
		y.deoptID, y.numLive = id, len(live)

	case hir.OpReturn:
		l.emit(OpReturn, nil, l.use(i.Operand(0)))

	case hir.OpBranch:
		l.emit(OpBranch, nil)

	case hir.OpCondBranch:
		l.emit(OpCondBranch, nil, l.use(i.Operand(0)))

	case hir.OpCondBranchCheckType:
		typ := l.tmp(Object)
		l.emit(OpLoad, typ, Mem(l.use(i.Operand(0)).Reg, obTypeOffset, Object))
		c := l.tmp(I8)
		l.emit(OpEqual, c, R(typ), Sym(typeSymbol(i.Type())))
		l.emit(OpCondBranch, nil, R(c))

	case hir.OpCondBranchIterNotDone:
		c := l.tmp(I8)
		l.emit(OpNotEqual, c, l.use(i.Operand(0)), Sym("JITRT_IterDoneSentinel"))
		l.emit(OpCondBranch, nil, R(c))

	case hir.OpDeopt:
		l.guard(i, GuardAlwaysFail, deopt.GuardFailure, Operand{}, Operand{})
		l.emit(OpUnreachable, nil)

	case hir.OpUnreachable:
		l.emit(OpUnreachable, nil)

	default:
		check.Unreachable(op)
	}
}

// widen sign- or zero-extends a sub-word integer to 32 bits; the division
// and power helpers have no narrower forms.
func (l *lowering) widen(v Operand, signed bool) Operand {
	if v.Type.Size() >= 4 {
		return v
	}
	w := l.tmp(I32)
	if signed {
		l.emit(OpMovSX, w, v)
	} else {
		l.emit(OpMovZX, w, v)
	}
	return R(w)
}

func (l *lowering) lowerIntBinaryOp(i *hir.Instr) {
	out := l.def(i.Output())
	signed := i.Operand(0).Type().IsSigned()
	a, b := l.use(i.Operand(0)), l.use(i.Operand(1))
	kind := i.BinaryOp()

	if kind == hir.BinPower {
		a, b = l.widen(a, signed), l.widen(b, signed)
		helper := map[[2]bool]string{
			{true, false}:  "JITRT_PowerInt32",
			{false, false}: "JITRT_PowerUInt32",
			{true, true}:   "JITRT_PowerInt64",
			{false, true}:  "JITRT_PowerUInt64",
		}[[2]bool{signed, a.Type == I64}]
		l.narrowInto(out, a.Type, func(dst *VReg) { l.call(dst, helper, a, b) })
		return
	}

	ops, ok := intBinaryOps[kind]
	check.That(ok, "lir: no integer lowering for %s", kind)
	lop := ops[0]
	if !signed {
		lop = ops[1]
	}
	switch lop {
	case OpDiv, OpDivUn, OpMod, OpModUn:
		a, b = l.widen(a, signed), l.widen(b, signed)
		l.narrowInto(out, a.Type, func(dst *VReg) { l.emit(lop, dst, a, b) })
	default:
		l.emit(lop, out, a, b)
	}
}

// narrowInto runs emit into a register of type wide, truncating into out
// when out is narrower.
func (l *lowering) narrowInto(out *VReg, wide DataType, emit func(*VReg)) {
	if out.Type.Size() >= wide.Size() {
		emit(out)
		return
	}
	w := l.tmp(wide)
	emit(w)
	l.emit(OpMove, out, R(w))
}

func (l *lowering) lowerPrimitiveCompare(i *hir.Instr) {
	out := l.def(i.Output())
	lt := i.Operand(0).Type()
	a, b := l.use(i.Operand(0)), l.use(i.Operand(1))
	table := unsignedCompares
	switch {
	case lt.IsDouble():
	case lt.IsSigned():
		table = signedCompares
	case lt.IsObject() || lt.IsNullptr():
		check.That(i.CompareOp() == hir.CmpEqual || i.CompareOp() == hir.CmpNotEqual,
			"lir: objects only compare for identity, got %s", i.CompareOp())
	}
	l.emit(table[i.CompareOp()], out, a, b)
}

func (l *lowering) lowerBox(i *hir.Instr) {
	out := l.def(i.Output())
	src := i.Operand(0)
	v := l.use(src)
	switch t := i.Type(); {
	case t.IsDouble():
		l.call(out, "PyFloat_FromDouble", v)
	case t == hir.TCBool:
		l.call(out, "JITRT_BoxBool", v)
	case t.IsSigned():
		l.call(out, "PyLong_FromSsize_t", l.extend(v, true))
	default:
		l.call(out, "PyLong_FromSize_t", l.extend(v, false))
	}
}

// extend widens v to 64 bits.
func (l *lowering) extend(v Operand, signed bool) Operand {
	if v.Type == I64 {
		return v
	}
	w := l.tmp(I64)
	if signed {
		l.emit(OpMovSX, w, v)
	} else {
		l.emit(OpMovZX, w, v)
	}
	return R(w)
}

// builtinCallee finds the builtin a callable register is known to hold.
func builtinCallee(r *hir.Register) (string, bool) {
	for r != nil && r.Instr() != nil {
		i := r.Instr()
		switch i.Opcode() {
		case hir.OpLoadConst, hir.OpLoadGlobalCached, hir.OpGuardIs:
			if c := i.Const(); c.Kind == hir.ConstBuiltin {
				return c.Str, true
			}
		}
		if !i.IsPassthrough() {
			break
		}
		r = i.Operand(0)
	}
	return "", false
}

func (l *lowering) lowerVectorCall(i *hir.Instr) {
	nargs := i.Index()
	callable := i.Operand(0)
	args := l.uses(i.Operands()[1 : 1+nargs])
	if !i.HasKwNames() {
		if name, ok := builtinCallee(callable); ok && builtinArity[name] == nargs {
			l.lowerBuiltin(i, name, args)
			return
		}
	}
	kw := ImmT(0, Object)
	if i.HasKwNames() {
		kw = l.use(i.Operand(i.NumOperands() - 1))
	}
	in := append([]Operand{l.use(callable), Imm(int64(nargs))}, args...)
	l.emit(OpVectorCall, l.def(i.Output()), append(in, kw)...)
}

func (l *lowering) lowerBuiltin(i *hir.Instr, name string, args []Operand) {
	out := l.def(i.Output())
	switch name {
	case "len":
		l.call(out, "JITRT_Len", args[0])
	case "type":
		l.emit(OpLoad, out, Mem(args[0].Reg, obTypeOffset, Object))
		l.incref(R(out), hir.TTypeObject, false)
	case "isinstance":
		l.call(out, "JITRT_IsInstance", args[0], args[1])
	case "abs":
		l.call(out, "PyNumber_Absolute", args[0])
	default:
		check.Unreachable(name)
	}
}

func (l *lowering) lowerCallStatic(i *hir.Instr) {
	out := l.def(i.Output())
	nargs := i.Index()
	args := l.uses(i.Operands()[1 : 1+nargs])
	if l.slots != nil {
		if addr, ok := l.slots.SlotAddress(i.Name()); ok {
			target := l.tmp(Object)
			l.emit(OpLoad, target, MemAbs(int64(addr), Object))
			l.emit(OpCall, out, append([]Operand{R(target)}, args...)...)
			return
		}
	}
	in := append([]Operand{l.use(i.Operand(0)), Imm(int64(nargs))}, args...)
	l.emit(OpVectorCall, out, append(in, ImmT(0, Object))...)
}
