package hir

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/jitcore/bytecode"
)

var (
	// ErrUnsupported is returned for bytecode the compiler does not
	// translate. The function keeps running in the interpreter.
	ErrUnsupported = errors.New("hir: unsupported bytecode")
	// ErrMalformed is returned for bytecode that breaks stack discipline.
	ErrMalformed = errors.New("hir: malformed bytecode")
)

// BuildOptions tunes HIR construction.
type BuildOptions struct {
	// SpecializeGlobals reads globals from their cache cells behind a
	// deopt patchpoint instead of doing a dictionary lookup.
	SpecializeGlobals bool

	// Builtins names globals known to be bound to builtin functions. Loads
	// of them are speculated on, which implies SpecializeGlobals for those
	// names.
	Builtins map[string]bool

	// StaticCallees names globals bound to functions that have a compiled
	// entry point. Calls to them go through the function slot table.
	StaticCallees map[string]bool
}

// GlobalWatchKey is the invalidation key a global load patchpoint
// subscribes to.
func GlobalWatchKey(name string) string { return "global:" + name }

type buildError struct{ err error }

func malformed(format string, args ...any) {
	panic(buildError{fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))})
}

func unsupported(format string, args ...any) {
	panic(buildError{fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))})
}

type incoming struct {
	from  *BasicBlock
	state *FrameState
}

// bcBlock is a maximal run of bytecode with one entry.
type bcBlock struct {
	start, end int
	block      *BasicBlock
	entry      *FrameState
	preds      int
	phis       []*Instr
	in         []incoming
}

type builder struct {
	fn      *Function
	code    *CodeObject
	opts    BuildOptions
	instrs  []bytecode.Instruction
	blocks  map[int]*bcBlock
	cur     *BasicBlock
	at      bytecode.Instruction
	nullReg *Register
	kwnames *Const
	work    []*bcBlock
}

// Build translates code into HIR. Every DeoptBase instruction of the
// result carries a bound frame state and live-value list.
func Build(code *CodeObject, opts BuildOptions) (fn *Function, err error) {
	defer func() {
		if r := recover(); r != nil {
			be, ok := r.(buildError)
			if !ok {
				panic(r)
			}
			fn, err = nil, be.err
		}
	}()
	b := &builder{
		fn:     NewFunction(code),
		code:   code,
		opts:   opts,
		blocks: map[int]*bcBlock{},
	}
	b.decode()
	b.findBlocks()
	b.prologue()
	for len(b.work) > 0 {
		bb := b.work[0]
		b.work = b.work[1:]
		b.translate(bb)
	}
	b.fillPhis()
	b.fn.CFG.RemoveUnreachable()
	b.eliminateTrivialPhis()
	b.fn.ReflowTypes()
	BindSnapshots(b.fn)
	if err := Check(b.fn); err != nil {
		return nil, fmt.Errorf("hir: %s failed verification: %w", code.Name, err)
	}
	return b.fn, nil
}

func (b *builder) decode() {
	if b.code.Code == nil || b.code.Code.Len() == 0 {
		malformed("%s has no bytecode", b.code.Name)
	}
	for in, err := range b.code.Code.All().Seq() {
		if err != nil {
			panic(buildError{fmt.Errorf("%w: %w", ErrMalformed, err)})
		}
		if !b.code.Code.Encoding().Supports(in.Opcode()) {
			unsupported("%s in %s encoding", in.Opcode(), b.code.Code.Encoding())
		}
		b.instrs = append(b.instrs, in)
	}
}

func (b *builder) findBlocks() {
	leaders := map[int]bool{b.instrs[0].BaseIndex(): true}
	end := b.code.Code.Len()
	for _, in := range b.instrs {
		if in.IsBranch() {
			t := in.JumpTarget()
			if t < 0 || t >= end {
				malformed("%s at %d jumps to %d outside the code", in.Opcode(), in.Index(), t)
			}
			leaders[t] = true
		}
		if (in.IsBranch() || in.IsTerminator()) && in.NextIndex() < end {
			leaders[in.NextIndex()] = true
		}
	}
	starts := make([]int, 0, len(leaders))
	for s := range leaders {
		starts = append(starts, s)
	}
	slices.Sort(starts)
	for n, s := range starts {
		e := end
		if n+1 < len(starts) {
			e = starts[n+1]
		}
		b.blocks[s] = &bcBlock{start: s, end: e}
	}
	// An instruction's prefixes and the instruction itself share a block,
	// so every leader has to be an instruction boundary.
	bases := map[int]bool{}
	for _, in := range b.instrs {
		bases[in.BaseIndex()] = true
	}
	for _, s := range starts {
		if !bases[s] {
			malformed("jump into the middle of an instruction at %d", s)
		}
	}

	b.blocks[starts[0]].preds++ // the prologue
	for _, in := range b.instrs {
		if in.IsBranch() {
			b.blocks[in.JumpTarget()].preds++
		}
		if !in.IsTerminator() && in.NextIndex() < end && leaders[in.NextIndex()] {
			b.blocks[in.NextIndex()].preds++
		}
	}
}

func (b *builder) reg() *Register { return b.fn.Env.AllocateRegister() }

func (b *builder) emit(i *Instr) *Instr {
	i.SetBytecodeIndex(b.at.BaseIndex())
	return b.cur.Append(i)
}

func (b *builder) terminate(i *Instr, targets ...*BasicBlock) {
	i.SetBytecodeIndex(b.at.BaseIndex())
	b.cur.Terminate(i, targets...)
}

func (b *builder) prologue() {
	cfg := &b.fn.CFG
	entry := cfg.AllocateBlock()
	cfg.Entry = entry
	b.cur = entry
	b.at = b.instrs[0]

	st := NewFrameState(b.code)
	st.NextIndex = b.instrs[0].BaseIndex()
	b.nullReg = b.reg()
	b.emit(NewLoadConst(b.nullReg, NullConst))
	for n := range st.Locals {
		if n < b.code.NumArgs {
			r := b.reg()
			b.emit(NewLoadArg(r, n))
			st.Locals[n] = r
		} else {
			st.Locals[n] = b.nullReg
		}
	}
	if b.code.Generator && !b.code.Code.Encoding().Supports(bytecode.RETURN_GENERATOR) {
		b.snapshot(st)
		sent := b.reg()
		b.emit(NewInitialYield(sent))
		b.decref(sent)
	}
	first := b.blocks[b.instrs[0].BaseIndex()]
	b.jump(st, first)
}

// jump ends the current block with a branch to target.
func (b *builder) jump(st *FrameState, target *bcBlock) {
	from := b.cur
	b.reach(target)
	b.terminate(NewBranch(), target.block)
	b.flow(from, target, st)
}

func (b *builder) reach(target *bcBlock) {
	if target.block == nil {
		target.block = b.fn.CFG.AllocateBlock()
	}
}

// flow records the state leaving from along its edge to target.
func (b *builder) flow(from *BasicBlock, target *bcBlock, st *FrameState) {
	b.reach(target)
	if target.entry == nil {
		if target.preds > 1 {
			target.entry = b.makePhis(target, st)
		} else {
			target.entry = st.Clone()
		}
		b.work = append(b.work, target)
	} else if len(target.entry.Stack) != len(st.Stack) {
		malformed("stack depth %d vs %d entering block at %d",
			len(st.Stack), len(target.entry.Stack), target.start)
	} else if target.phis == nil && target.preds <= 1 {
		malformed("block at %d reached twice", target.start)
	}
	target.in = append(target.in, incoming{from: from, state: st.Clone()})
}

func (b *builder) makePhis(target *bcBlock, shape *FrameState) *FrameState {
	st := shape.Clone()
	st.NextIndex = target.start
	mk := func() *Register {
		out := b.reg()
		phi := NewPhi(out)
		out.typ = TTop
		target.block.Append(phi)
		target.phis = append(target.phis, phi)
		return out
	}
	for n := range st.Locals {
		st.Locals[n] = mk()
	}
	for n := range st.Stack {
		st.Stack[n] = mk()
	}
	return st
}

func (b *builder) fillPhis() {
	for _, bb := range b.blocks {
		if len(bb.phis) == 0 {
			continue
		}
		nl := len(bb.entry.Locals)
		for k, phi := range bb.phis {
			args := map[*BasicBlock]*Register{}
			for _, in := range bb.in {
				if k < nl {
					args[in.from] = in.state.Locals[k]
				} else {
					args[in.from] = in.state.Stack[k-nl]
				}
			}
			phi.SetPhiArgs(args)
		}
	}
}

func (b *builder) eliminateTrivialPhis() {
	for changed := true; changed; {
		changed = false
		for _, blk := range b.fn.CFG.Blocks() {
			for _, phi := range slices.Clone(blk.Phis()) {
				same, ok := phi.IsTrivialPhi()
				if !ok {
					continue
				}
				blk.Remove(phi)
				b.fn.ReplaceUses(phi.output, same)
				changed = true
			}
		}
	}
}

func (b *builder) snapshot(st *FrameState) {
	fs := st.Clone()
	fs.NextIndex = b.at.BaseIndex()
	fs.BlockStack = nil
	if t := b.code.ExceptionTable; t != nil {
		if e, ok := t.HandlerAt(b.at.Index()); ok {
			fs.BlockStack = []BlockStackEntry{{HandlerIndex: e.Target, StackLevel: e.Depth, Lasti: e.Lasti}}
		}
	}
	b.emit(NewSnapshot(fs))
}

func (b *builder) incref(v *Register) {
	if v.typ.IsRefcounted() {
		if v.typ.CouldBe(TNullptr) {
			b.emit(NewXIncref(v))
		} else {
			b.emit(NewIncref(v))
		}
	}
}

func (b *builder) decref(v *Register) {
	if v.typ.IsRefcounted() {
		if v.typ.CouldBe(TNullptr) {
			b.emit(NewXDecref(v))
		} else {
			b.emit(NewDecref(v))
		}
	}
}

func (b *builder) pop(st *FrameState) *Register {
	if len(st.Stack) == 0 {
		malformed("%s at %d pops an empty stack", b.at.Opcode(), b.at.Index())
	}
	return st.Pop()
}

func (b *builder) popN(st *FrameState, n int) []*Register {
	if n > len(st.Stack) {
		malformed("%s at %d pops %d of %d", b.at.Opcode(), b.at.Index(), n, len(st.Stack))
	}
	return st.PopN(n)
}

func (b *builder) peek(st *FrameState, n int) *Register {
	if n < 1 || n > len(st.Stack) {
		malformed("%s at %d reaches %d deep into a stack of %d", b.at.Opcode(), b.at.Index(), n, len(st.Stack))
	}
	return st.Peek(n)
}

func (b *builder) local(st *FrameState, n uint32) int {
	if int(n) >= len(st.Locals) {
		malformed("local %d out of range at %d", n, b.at.Index())
	}
	return int(n)
}

func (b *builder) constant(n uint32) Const {
	if int(n) >= len(b.code.Consts) {
		malformed("constant %d out of range at %d", n, b.at.Index())
	}
	c := b.code.Consts[n]
	c.Index = int(n)
	return c
}

func (b *builder) name(n uint32) string {
	if int(n) >= len(b.code.Names) {
		malformed("name %d out of range at %d", n, b.at.Index())
	}
	return b.code.Names[n]
}

func (b *builder) cached() bool { return b.code.Code.Encoding().InlineCaches }

func (b *builder) blockAt(index int) *bcBlock {
	bb, ok := b.blocks[index]
	if !ok {
		malformed("no block starts at %d", index)
	}
	return bb
}

func (b *builder) translate(bb *bcBlock) {
	b.cur = bb.block
	st := bb.entry.Clone()
	for _, in := range b.instrs {
		if in.BaseIndex() < bb.start || in.BaseIndex() >= bb.end {
			continue
		}
		b.at = in
		st.NextIndex = in.BaseIndex()
		if b.step(st, in) {
			return
		}
	}
	// Fell off the end of the block into the next leader.
	next, ok := b.blocks[bb.end]
	if !ok {
		malformed("control falls off the end of %s", b.code.Name)
	}
	b.jump(st, next)
}

// step translates one bytecode instruction and reports whether it ended
// the block.
func (b *builder) step(st *FrameState, in bytecode.Instruction) bool {
	arg := in.Arg()
	switch op := in.Opcode(); op {
	case bytecode.NOP, bytecode.RESUME:

	case bytecode.LOAD_FAST:
		n := b.local(st, arg)
		v := st.Locals[n]
		if v.typ.CouldBe(TNullptr) {
			b.snapshot(st)
			out := b.reg()
			b.emit(NewCheckVar(out, v, b.code.VarNames[n]))
			st.Locals[n] = out
			v = out
		}
		b.incref(v)
		st.Push(v)

	case bytecode.STORE_FAST:
		n := b.local(st, arg)
		v := b.pop(st)
		old := st.Locals[n]
		st.Locals[n] = v
		b.decref(old)

	case bytecode.DELETE_FAST:
		n := b.local(st, arg)
		old := st.Locals[n]
		if old.typ.CouldBe(TNullptr) {
			b.snapshot(st)
			out := b.reg()
			b.emit(NewCheckVar(out, old, b.code.VarNames[n]))
			old = out
		}
		st.Locals[n] = b.nullReg
		b.decref(old)

	case bytecode.LOAD_CONST:
		v := b.reg()
		b.emit(NewLoadConst(v, b.constant(arg)))
		b.incref(v)
		st.Push(v)

	case bytecode.RETURN_CONST:
		v := b.reg()
		b.emit(NewLoadConst(v, b.constant(arg)))
		b.incref(v)
		b.ret(st, v)
		return true

	case bytecode.RETURN_VALUE:
		b.ret(st, b.pop(st))
		return true

	case bytecode.POP_TOP:
		b.decref(b.pop(st))

	case bytecode.END_FOR:
		b.decref(b.pop(st))
		b.decref(b.pop(st))

	case bytecode.PUSH_NULL:
		st.Push(b.nullReg)

	case bytecode.COPY:
		v := b.peek(st, int(arg))
		b.incref(v)
		st.Push(v)

	case bytecode.SWAP:
		n := int(arg)
		b.peek(st, n)
		top, other := len(st.Stack)-1, len(st.Stack)-n
		st.Stack[top], st.Stack[other] = st.Stack[other], st.Stack[top]

	case bytecode.BINARY_OP:
		b.binaryOp(st, arg)

	case bytecode.COMPARE_OP:
		kind := arg
		if b.cached() {
			kind >>= 4
		}
		if kind > bytecode.CmpGE {
			unsupported("comparison %d", kind)
		}
		b.snapshot(st)
		r, l := b.pop(st), b.pop(st)
		out := b.reg()
		b.emit(NewCompareOp(out, CompareKind(kind), l, r))
		b.decref(l)
		b.decref(r)
		st.Push(out)

	case bytecode.UNARY_NEGATIVE, bytecode.UNARY_INVERT:
		kind := UnaryNegate
		if op == bytecode.UNARY_INVERT {
			kind = UnaryInvert
		}
		b.snapshot(st)
		v := b.pop(st)
		out := b.reg()
		b.emit(NewUnaryOp(out, kind, v))
		b.decref(v)
		st.Push(out)

	case bytecode.UNARY_NOT:
		b.snapshot(st)
		v := b.pop(st)
		t := b.reg()
		b.emit(NewIsTruthy(t, v))
		n := b.reg()
		b.emit(NewPrimitiveUnaryOp(n, UnaryNot, t))
		out := b.reg()
		b.emit(NewBoxBool(out, n))
		b.decref(v)
		st.Push(out)

	case bytecode.BINARY_SUBSCR:
		b.snapshot(st)
		k, c := b.pop(st), b.pop(st)
		out := b.reg()
		b.emit(NewBinarySubscr(out, c, k))
		b.decref(c)
		b.decref(k)
		st.Push(out)

	case bytecode.STORE_SUBSCR:
		b.snapshot(st)
		k, c, v := b.pop(st), b.pop(st), b.pop(st)
		b.emit(NewStoreSubscr(b.reg(), c, k, v))
		b.decref(c)
		b.decref(k)
		b.decref(v)

	case bytecode.LOAD_ATTR:
		idx, method := arg, false
		if b.cached() {
			idx, method = arg>>1, arg&1 != 0
		}
		b.snapshot(st)
		recv := b.pop(st)
		out := b.reg()
		b.emit(NewLoadAttr(out, recv, b.name(idx)))
		b.decref(recv)
		if method {
			st.Push(b.nullReg)
		}
		st.Push(out)

	case bytecode.STORE_ATTR:
		b.snapshot(st)
		recv, v := b.pop(st), b.pop(st)
		b.emit(NewStoreAttr(b.reg(), recv, v, b.name(arg)))
		b.decref(recv)
		b.decref(v)

	case bytecode.LOAD_GLOBAL:
		idx, pushNull := arg, false
		if b.cached() {
			idx, pushNull = arg>>1, arg&1 != 0
		}
		if pushNull {
			st.Push(b.nullReg)
		}
		st.Push(b.loadGlobal(st, b.name(idx)))

	case bytecode.STORE_GLOBAL:
		b.snapshot(st)
		v := b.pop(st)
		b.emit(NewStoreGlobal(b.reg(), v, b.name(arg)))
		b.decref(v)

	case bytecode.BUILD_TUPLE, bytecode.BUILD_LIST:
		b.snapshot(st)
		items := b.popN(st, int(arg))
		out := b.reg()
		if op == bytecode.BUILD_TUPLE {
			b.emit(NewMakeTuple(out, items...))
		} else {
			b.emit(NewMakeList(out, items...))
		}
		st.Push(out)

	case bytecode.BUILD_MAP:
		b.snapshot(st)
		kvs := b.popN(st, 2*int(arg))
		out := b.reg()
		b.emit(NewMakeDict(out, kvs...))
		for _, v := range kvs {
			b.decref(v)
		}
		st.Push(out)

	case bytecode.GET_ITER:
		b.snapshot(st)
		v := b.pop(st)
		out := b.reg()
		b.emit(NewGetIter(out, v))
		b.decref(v)
		st.Push(out)

	case bytecode.FOR_ITER:
		b.forIter(st, in)
		return true

	case bytecode.POP_JUMP_IF_FALSE, bytecode.POP_JUMP_IF_TRUE:
		b.snapshot(st)
		v := b.pop(st)
		t := b.reg()
		b.emit(NewIsTruthy(t, v))
		b.decref(v)
		taken, fall := b.blockAt(in.JumpTarget()), b.blockAt(in.NextIndex())
		if op == bytecode.POP_JUMP_IF_TRUE {
			b.condBranch(st, t, taken, fall)
		} else {
			b.condBranch(st, t, fall, taken)
		}
		return true

	case bytecode.POP_JUMP_IF_NONE, bytecode.POP_JUMP_IF_NOT_NONE:
		v := b.pop(st)
		none := b.reg()
		b.emit(NewLoadConst(none, NoneConst))
		c := b.reg()
		b.emit(NewPrimitiveCompare(c, CmpEqual, v, none))
		b.decref(v)
		taken, fall := b.blockAt(in.JumpTarget()), b.blockAt(in.NextIndex())
		if op == bytecode.POP_JUMP_IF_NONE {
			b.condBranch(st, c, taken, fall)
		} else {
			b.condBranch(st, c, fall, taken)
		}
		return true

	case bytecode.JUMP_FORWARD, bytecode.JUMP_ABSOLUTE, bytecode.JUMP_BACKWARD:
		target := in.JumpTarget()
		if target <= in.BaseIndex() {
			b.snapshot(st)
			b.emit(NewRunPeriodicTasks(b.reg()))
		}
		b.jump(st, b.blockAt(target))
		return true

	case bytecode.KW_NAMES:
		c := b.constant(arg)
		if c.Kind != ConstTuple {
			malformed("KW_NAMES operand %d is not a tuple", arg)
		}
		b.kwnames = &c

	case bytecode.CALL:
		b.call(st, int(arg))

	case bytecode.YIELD_VALUE:
		b.snapshot(st)
		v := b.pop(st)
		sent := b.reg()
		b.emit(NewYieldValue(sent, v))
		st.Push(sent)

	case bytecode.RETURN_GENERATOR:
		if !b.code.Generator {
			malformed("RETURN_GENERATOR in non-generator %s", b.code.Name)
		}
		b.snapshot(st)
		sent := b.reg()
		b.emit(NewInitialYield(sent))
		st.Push(sent)

	case bytecode.RAISE_VARARGS:
		b.snapshot(st)
		switch arg {
		case 0:
			b.emit(NewRaise(b.reg(), nil))
		case 1:
			b.emit(NewRaise(b.reg(), b.peek(st, 1)))
		default:
			unsupported("RAISE_VARARGS %d", arg)
		}
		b.terminate(NewUnreachable())
		return true

	default:
		unsupported("%s at %d", op, in.Index())
	}
	return false
}

func (b *builder) ret(st *FrameState, v *Register) {
	for _, l := range st.Locals {
		b.decref(l)
	}
	for _, s := range st.Stack {
		b.decref(s)
	}
	b.terminate(NewReturn(v))
}

func (b *builder) condBranch(st *FrameState, cond *Register, ifTrue, ifFalse *bcBlock) {
	from := b.cur
	if ifTrue == ifFalse {
		b.jump(st, ifTrue)
		return
	}
	b.reach(ifTrue)
	b.reach(ifFalse)
	b.terminate(NewCondBranch(cond), ifTrue.block, ifFalse.block)
	b.flow(from, ifTrue, st)
	b.flow(from, ifFalse, st)
}

var binaryOps = map[uint32]BinaryOpKind{
	bytecode.NbAdd:            BinAdd,
	bytecode.NbAnd:            BinAnd,
	bytecode.NbFloorDivide:    BinFloorDivide,
	bytecode.NbLshift:         BinLShift,
	bytecode.NbMatrixMultiply: BinMatrixMultiply,
	bytecode.NbMultiply:       BinMultiply,
	bytecode.NbRemainder:      BinModulo,
	bytecode.NbOr:             BinOr,
	bytecode.NbPower:          BinPower,
	bytecode.NbRshift:         BinRShift,
	bytecode.NbSubtract:       BinSubtract,
	bytecode.NbTrueDivide:     BinTrueDivide,
	bytecode.NbXor:            BinXor,
}

func (b *builder) binaryOp(st *FrameState, arg uint32) {
	if arg >= bytecode.NbInplaceAdd {
		arg -= bytecode.NbInplaceAdd
	}
	kind, ok := binaryOps[arg]
	if !ok {
		unsupported("binary operator %d", arg)
	}
	b.snapshot(st)
	r, l := b.pop(st), b.pop(st)
	out := b.reg()
	switch {
	case l.IsA(TFloat) && r.IsA(TFloat) && (kind == BinAdd || kind == BinSubtract || kind == BinMultiply):
		ul, ur, d := b.reg(), b.reg(), b.reg()
		b.emit(NewPrimitiveUnbox(ul, l, TCDouble))
		b.emit(NewPrimitiveUnbox(ur, r, TCDouble))
		b.emit(NewDoubleBinaryOp(d, kind, ul, ur))
		b.emit(NewPrimitiveBox(out, d, TCDouble))
	default:
		b.emit(NewBinaryOp(out, kind, l, r))
	}
	b.decref(l)
	b.decref(r)
	st.Push(out)
}

func (b *builder) loadGlobal(st *FrameState, name string) *Register {
	out := b.reg()
	b.snapshot(st)
	if !b.opts.SpecializeGlobals && !b.opts.Builtins[name] {
		b.emit(NewLoadGlobal(out, name))
		return out
	}
	b.emit(NewDeoptPatchpoint(GlobalWatchKey(name)))
	known := NullConst
	if b.opts.Builtins[name] {
		known = BuiltinConst(name)
	}
	b.emit(NewLoadGlobalCached(out, name, known))
	b.incref(out)
	return out
}

func (b *builder) call(st *FrameState, n int) {
	kw := b.kwnames
	b.kwnames = nil
	b.snapshot(st)
	args := b.popN(st, n)
	var callable *Register
	if b.code.Code.Encoding().Supports(bytecode.PUSH_NULL) {
		selfOrCallable, callableOrNull := b.pop(st), b.pop(st)
		switch {
		case callableOrNull == b.nullReg:
			callable = selfOrCallable
		case !callableOrNull.typ.CouldBe(TNullptr):
			callable = callableOrNull
			args = append([]*Register{selfOrCallable}, args...)
		default:
			unsupported("call at %d with a callable that may be NULL", b.at.Index())
		}
	} else {
		callable = b.pop(st)
	}

	out := b.reg()
	if def := callable.Instr(); kw == nil && def != nil && def.op == OpLoadGlobalCached && b.opts.StaticCallees[def.name] {
		b.emit(NewCallStatic(out, def.name, callable, args...))
	} else {
		var kwReg *Register
		if kw != nil {
			if len(kw.Items) > len(args) {
				malformed("%d keyword names for %d arguments", len(kw.Items), len(args))
			}
			kwReg = b.reg()
			b.emit(NewLoadConst(kwReg, *kw))
		}
		b.emit(NewVectorCall(out, callable, args, kwReg))
	}
	b.decref(callable)
	for _, a := range args {
		b.decref(a)
	}
	st.Push(out)
}

func (b *builder) forIter(st *FrameState, in bytecode.Instruction) {
	b.snapshot(st)
	it := b.peek(st, 1)
	next := b.reg()
	b.emit(NewInvokeIterNext(next, it))

	body := b.blockAt(in.NextIndex())
	exit := b.blockAt(in.JumpTarget())
	b.reach(body)
	split := b.fn.CFG.AllocateBlock()
	from := b.cur
	b.terminate(NewCondBranchIterNotDone(next), body.block, split)

	bodyState := st.Clone()
	bodyState.Push(next)
	b.flow(from, body, bodyState)

	b.cur = split
	exitState := st.Clone()
	b.decref(exitState.Pop())
	b.jump(exitState, exit)
}
