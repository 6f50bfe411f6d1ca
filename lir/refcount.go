package lir

import (
	"github.com/chazu/jitcore/hir"
)

// Object header layout.
const (
	refcntOffset = 0
	obTypeOffset = 8
)

var typeObjects = map[string]string{
	"NoneType": "_PyNone_Type",
	"bool":     "PyBool_Type",
	"int":      "PyLong_Type",
	"float":    "PyFloat_Type",
	"str":      "PyUnicode_Type",
	"tuple":    "PyTuple_Type",
	"list":     "PyList_Type",
	"dict":     "PyDict_Type",
	"function": "PyFunction_Type",
	"type":     "PyType_Type",
}

var destructors = map[string]string{
	"int":      "long_dealloc",
	"float":    "float_dealloc",
	"str":      "unicode_dealloc",
	"tuple":    "tupledealloc",
	"list":     "list_dealloc",
	"dict":     "dict_dealloc",
	"function": "func_dealloc",
}

// typeSymbol names the runtime type object for t.
func typeSymbol(t hir.Type) string {
	if name, ok := t.ExactObjectType(); ok {
		if sym, ok := typeObjects[name]; ok {
			return sym
		}
	}
	return t.String()
}

// isZero emits a compare of v against zero.
func (l *lowering) isZero(v Operand) Operand {
	c := l.tmp(I8)
	l.emit(OpEqual, c, v, ImmT(0, v.Type))
	return R(c)
}

// skipIfNull branches to done when v may be null and is.
func (l *lowering) skipIfNull(v Operand, t hir.Type, nullable bool, done *BasicBlock) {
	if !nullable || !t.CouldBe(hir.TNullptr) {
		return
	}
	body := l.newBlock(Hot)
	l.condBranch(l.isZero(v), done, body)
	l.cur = body
}

// incref adds a reference to v. The low 32 bits of an immortal object's
// count are all ones, so an increment that wraps them to zero is dropped.
func (l *lowering) incref(v Operand, t hir.Type, nullable bool) {
	if !t.IsRefcounted() {
		return
	}
	if !t.CouldBeImmortal() && !(nullable && t.CouldBe(hir.TNullptr)) {
		cnt, next := l.tmp(I64), l.tmp(I64)
		l.emit(OpLoad, cnt, Mem(v.Reg, refcntOffset, I64))
		l.emit(OpAdd, next, R(cnt), ImmT(1, I64))
		l.emit(OpStore, nil, Mem(v.Reg, refcntOffset, I64), R(next))
		return
	}
	done := l.newBlock(Hot)
	l.skipIfNull(v, t, nullable, done)
	if t.CouldBeImmortal() {
		cnt, next := l.tmp(I32), l.tmp(I32)
		l.emit(OpLoad, cnt, Mem(v.Reg, refcntOffset, I32))
		l.emit(OpAdd, next, R(cnt), ImmT(1, I32))
		store := l.newBlock(Hot)
		l.condBranch(l.isZero(R(next)), done, store)
		l.cur = store
		l.emit(OpStore, nil, Mem(v.Reg, refcntOffset, I32), R(next))
	} else {
		cnt, next := l.tmp(I64), l.tmp(I64)
		l.emit(OpLoad, cnt, Mem(v.Reg, refcntOffset, I64))
		l.emit(OpAdd, next, R(cnt), ImmT(1, I64))
		l.emit(OpStore, nil, Mem(v.Reg, refcntOffset, I64), R(next))
	}
	l.branch(done)
	l.cur = done
}

// decref drops a reference to v, calling the destructor from a cold block
// when the count reaches zero. Immortal objects have a negative low word.
func (l *lowering) decref(v Operand, t hir.Type, nullable bool) {
	if !t.IsRefcounted() {
		return
	}
	done := l.newBlock(Hot)
	l.skipIfNull(v, t, nullable, done)
	if t.CouldBeImmortal() {
		low, neg := l.tmp(I32), l.tmp(I8)
		l.emit(OpLoad, low, Mem(v.Reg, refcntOffset, I32))
		l.emit(OpLessThanSigned, neg, R(low), ImmT(0, I32))
		dec := l.newBlock(Hot)
		l.condBranch(R(neg), done, dec)
		l.cur = dec
	}
	cnt, next := l.tmp(I64), l.tmp(I64)
	l.emit(OpLoad, cnt, Mem(v.Reg, refcntOffset, I64))
	l.emit(OpSub, next, R(cnt), ImmT(1, I64))
	l.emit(OpStore, nil, Mem(v.Reg, refcntOffset, I64), R(next))
	dealloc := l.newBlock(Cold)
	l.condBranch(l.isZero(R(next)), dealloc, done)
	l.cur = dealloc
	l.emit(OpCall, nil, Sym(destructorFor(t)), v)
	l.branch(done)
	l.cur = done
}

func destructorFor(t hir.Type) string {
	if name, ok := t.ExactObjectType(); ok {
		if d, ok := destructors[name]; ok {
			return d
		}
	}
	return "_Py_Dealloc"
}
