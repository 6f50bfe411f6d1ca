package hir

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/jitcore/bytecode"
	"github.com/chazu/jitcore/check"
)

func TestBuildAddArguments(t *testing.T) {
	u := unit{name: "add", args: 2, varnames: []string{"a", "b"}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.LOAD_FAST, 1)
		b.Emit(bytecode.BINARY_OP, bytecode.NbAdd)
		b.Emit0(bytecode.RETURN_VALUE)
	})

	require.Empty(t, instrsOf(fn, OpCheckVar), "arguments are always bound")
	ops := instrsOf(fn, OpBinaryOp)
	require.Len(t, ops, 1)
	add := ops[0]
	require.Equal(t, BinAdd, add.BinaryOp())

	d := add.DeoptInfo()
	require.Equal(t, 2, d.Frame.NextIndex, "resumes at the BINARY_OP")
	require.Len(t, d.Frame.Stack, 2)
	require.Len(t, d.Live, 2, "each value is listed once even when held twice")
	for _, s := range d.Live {
		require.Equal(t, Owned, s.Ref)
		require.Equal(t, KindObject, s.Value)
	}
	require.Len(t, instrsOf(fn, OpIncref), 2)
	require.Len(t, instrsOf(fn, OpReturn), 1)
}

func TestTerminatorEdgeCounts(t *testing.T) {
	u := unit{name: "choose", args: 1, varnames: []string{"x"}, consts: []Const{IntConst(1), IntConst(2)}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		other := b.NewLabel()
		b.Emit(bytecode.LOAD_FAST, 0)
		b.EmitJump(bytecode.POP_JUMP_IF_FALSE, other)
		b.Emit(bytecode.RETURN_CONST, 0)
		b.Mark(other)
		b.Emit(bytecode.RETURN_CONST, 1)
	})

	for _, blk := range fn.CFG.RPO() {
		term := blk.Terminator()
		require.NotNil(t, term, "bb %d", blk.ID())
		require.Equal(t, term.Opcode().NumSuccessors(), len(blk.OutEdges()))
		for _, e := range blk.OutEdges() {
			require.Contains(t, e.To().InEdges(), e)
		}
	}
	require.Len(t, instrsOf(fn, OpCondBranch), 1)
	require.Len(t, instrsOf(fn, OpReturn), 2)
}

func TestLoopHeaderGetsPhi(t *testing.T) {
	u := unit{name: "countdown", varnames: []string{"i"}, consts: []Const{IntConst(10), IntConst(1), NoneConst}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		head, exit := b.NewLabel(), b.NewLabel()
		b.Emit(bytecode.LOAD_CONST, 0)
		b.Emit(bytecode.STORE_FAST, 0)
		b.Mark(head)
		b.Emit(bytecode.LOAD_FAST, 0)
		b.EmitJump(bytecode.POP_JUMP_IF_FALSE, exit)
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.LOAD_CONST, 1)
		b.Emit(bytecode.BINARY_OP, bytecode.NbSubtract)
		b.Emit(bytecode.STORE_FAST, 0)
		b.EmitJump(bytecode.JUMP_BACKWARD, head)
		b.Mark(exit)
		b.Emit(bytecode.RETURN_CONST, 2)
	})

	phis := instrsOf(fn, OpPhi)
	require.Len(t, phis, 1)
	phi := phis[0]
	require.Len(t, phi.Operands(), 2)
	require.True(t, phi.Output().IsA(TObject))
	preds := phi.PhiPredecessors()
	require.Less(t, preds[0].ID(), preds[1].ID())
	require.Len(t, instrsOf(fn, OpRunPeriodicTasks), 1)
	require.NoError(t, Check(fn))
}

func TestUnboundLocalIsChecked(t *testing.T) {
	u := unit{name: "unbound", varnames: []string{"x"}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit0(bytecode.RETURN_VALUE)
	})
	checks := instrsOf(fn, OpCheckVar)
	require.Len(t, checks, 1)
	cv := checks[0]
	require.Equal(t, "x", cv.Name())
	d := cv.DeoptInfo()
	require.Equal(t, cv.Operand(0), d.Guilty)
	require.True(t, d.Guilty.Type().IsNullptr())
	require.Len(t, d.Live, 1)
	require.Equal(t, Uncounted, d.Live[0].Ref)
}

func TestFloatArithmeticIsUnboxed(t *testing.T) {
	u := unit{name: "fadd", consts: []Const{FloatConst(1.5), FloatConst(2.5)}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		b.Emit(bytecode.LOAD_CONST, 0)
		b.Emit(bytecode.LOAD_CONST, 1)
		b.Emit(bytecode.BINARY_OP, bytecode.NbAdd)
		b.Emit0(bytecode.RETURN_VALUE)
	})
	require.Empty(t, instrsOf(fn, OpBinaryOp))
	unboxes := instrsOf(fn, OpPrimitiveUnbox)
	require.Len(t, unboxes, 2)
	box := instrsOf(fn, OpPrimitiveBox)
	require.Len(t, box, 1)
	require.True(t, unboxes[0].Output().Type().IsDouble())
	require.Equal(t, TCDouble, instrsOf(fn, OpDoubleBinaryOp)[0].Output().Type())

	// every deopting piece of the expansion resumes at the same bytecode
	for _, i := range append(unboxes, box...) {
		require.Equal(t, 2, i.DeoptInfo().Frame.NextIndex)
	}
}

func TestForIterSplitsExitEdge(t *testing.T) {
	u := unit{name: "loop", args: 1, varnames: []string{"xs", "x"}, consts: []Const{NoneConst}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		head, end := b.NewLabel(), b.NewLabel()
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit0(bytecode.GET_ITER)
		b.Mark(head)
		b.EmitJump(bytecode.FOR_ITER, end)
		b.Emit(bytecode.STORE_FAST, 1)
		b.EmitJump(bytecode.JUMP_BACKWARD, head)
		b.Mark(end)
		b.Emit0(bytecode.END_FOR)
		b.Emit(bytecode.RETURN_CONST, 0)
	})
	br := instrsOf(fn, OpCondBranchIterNotDone)
	require.Len(t, br, 1)
	exit := br[0].Successor(1)
	require.Len(t, exit.Instrs(), 2)
	// the iterator flows through a loop phi, so it is only known to be
	// possibly null when the exit edge releases it
	require.Equal(t, OpXDecref, exit.Instrs()[0].Opcode())
	require.Equal(t, OpBranch, exit.Instrs()[1].Opcode())
	require.Empty(t, instrsOf(fn, OpUnreachable), "END_FOR is never translated")
}

func TestGlobalsAndCalls(t *testing.T) {
	u := unit{
		name:     "calls",
		args:     1,
		varnames: []string{"x"},
		names:    []string{"len", "helper"},
		consts:   []Const{TupleConst(StrConst("key"))},
	}
	opts := BuildOptions{
		Builtins:          map[string]bool{"len": true},
		StaticCallees:     map[string]bool{"helper": true},
		SpecializeGlobals: true,
	}
	fn := u.build(t, opts, func(b *bytecode.Builder) {
		b.Emit(bytecode.LOAD_GLOBAL, 0<<1|1)
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.CALL, 1)
		b.Emit0(bytecode.POP_TOP)
		b.Emit(bytecode.LOAD_GLOBAL, 1<<1|1)
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.CALL, 1)
		b.Emit0(bytecode.POP_TOP)
		b.Emit(bytecode.LOAD_GLOBAL, 1<<1|1)
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.KW_NAMES, 0)
		b.Emit(bytecode.CALL, 1)
		b.Emit0(bytecode.RETURN_VALUE)
	})

	pps := instrsOf(fn, OpDeoptPatchpoint)
	require.Len(t, pps, 3)
	require.Equal(t, GlobalWatchKey("len"), pps[0].Name())

	loads := instrsOf(fn, OpLoadGlobalCached)
	require.Equal(t, ConstBuiltin, loads[0].Const().Kind)
	require.True(t, loads[0].Output().Type().KnownImmortal())

	calls := instrsOf(fn, OpVectorCall)
	require.Len(t, calls, 2)
	require.False(t, calls[0].HasKwNames())
	require.True(t, calls[1].HasKwNames(), "keyword calls never go through the slot table")

	static := instrsOf(fn, OpCallStatic)
	require.Len(t, static, 1)
	require.Equal(t, "helper", static[0].Name())
}

func TestRaiseProducesBottom(t *testing.T) {
	u := unit{name: "boom", args: 1, varnames: []string{"e"}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.RAISE_VARARGS, 1)
	})
	r := instrsOf(fn, OpRaise)
	require.Len(t, r, 1)
	require.True(t, r[0].Output().Type().IsBottom())
	require.Equal(t, OpUnreachable, r[0].Block().Terminator().Opcode())
}

func TestGeneratorYields(t *testing.T) {
	u := unit{name: "gen", gen: true, consts: []Const{IntConst(1), NoneConst}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		b.Emit0(bytecode.RETURN_GENERATOR)
		b.Emit0(bytecode.POP_TOP)
		b.Emit(bytecode.RESUME, 0)
		b.Emit(bytecode.LOAD_CONST, 0)
		b.Emit(bytecode.YIELD_VALUE, 0)
		b.Emit(bytecode.RESUME, 1)
		b.Emit0(bytecode.POP_TOP)
		b.Emit(bytecode.RETURN_CONST, 1)
	})
	require.Len(t, instrsOf(fn, OpInitialYield), 1)
	ys := instrsOf(fn, OpYieldValue)
	require.Len(t, ys, 1)
	require.Equal(t, 4, ys[0].DeoptInfo().Frame.NextIndex)
}

func TestBuildErrors(t *testing.T) {
	u := unit{name: "bad"}
	_, err := Build(u.code(func(b *bytecode.Builder) {
		b.Emit0(bytecode.POP_TOP)
		b.Emit(bytecode.RETURN_CONST, 0)
	}), BuildOptions{})
	require.True(t, errors.Is(err, ErrMalformed), "%v", err)

	u = unit{name: "cause", args: 2, varnames: []string{"a", "b"}}
	_, err = Build(u.code(func(b *bytecode.Builder) {
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.LOAD_FAST, 1)
		b.Emit(bytecode.RAISE_VARARGS, 2)
	}), BuildOptions{})
	require.True(t, errors.Is(err, ErrUnsupported), "%v", err)
}

func TestBindSnapshotsRejectsNonReplayableGap(t *testing.T) {
	fn := NewFunction(&CodeObject{Name: "gap", VarNames: []string{"a"}})
	blk := fn.CFG.AllocateBlock()
	fn.CFG.Entry = blk
	a := fn.Env.AllocateRegister()
	blk.Append(NewLoadArg(a, 0))
	fs := NewFrameState(fn.Code)
	fs.Locals[0] = a
	blk.Append(NewSnapshot(fs))
	blk.Append(NewIncref(a))
	blk.Append(NewGetIter(fn.Env.AllocateRegister(), a))
	blk.Terminate(NewUnreachable())

	require.PanicsWithError(t, (&check.Failure{Msg: "non-replayable Incref between snapshot and GetIter in bb 0"}).Error(), func() {
		BindSnapshots(fn)
	})
}
