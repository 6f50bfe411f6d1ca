package bytecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func wordcode(units ...byte) *Code {
	return NewCode(units, Wordcode)
}

func TestExtendedArgFolding(t *testing.T) {
	code := wordcode(
		byte(EXTENDED_ARG), 1,
		byte(EXTENDED_ARG), 2,
		byte(LOAD_CONST), 3,
		byte(EXTENDED_ARG), 1,
		byte(LOAD_CONST), 2,
	)
	instrs, err := code.All().Instructions()
	require.NoError(t, err)
	require.Len(t, instrs, 2)

	require.Equal(t, LOAD_CONST, instrs[0].Opcode())
	require.Equal(t, uint32(0x010203), instrs[0].Arg())
	require.Equal(t, 0, instrs[0].BaseIndex())
	require.Equal(t, 2, instrs[0].Index())
	require.Equal(t, 0, instrs[0].BaseOffset())
	require.Equal(t, 4, instrs[0].Offset())
	require.Equal(t, 2, instrs[0].Prefixes())

	require.Equal(t, LOAD_CONST, instrs[1].Opcode())
	require.Equal(t, uint32(0x0102), instrs[1].Arg())
	require.Equal(t, 3, instrs[1].BaseIndex())
	require.Equal(t, 4, instrs[1].Index())
}

func TestOpcodeNeverExtendedArg(t *testing.T) {
	b := NewBuilder(WordcodeCached)
	for _, arg := range []uint32{0, 0xff, 0x100, 0xffff, 0x123456, 0x7fffffff} {
		b.Emit(LOAD_FAST, arg)
	}
	b.Emit0(RETURN_VALUE)
	s := b.Code().All().Scanner()
	n := 0
	for s.Next() {
		require.NotEqual(t, EXTENDED_ARG, s.Instr().Opcode())
		n++
	}
	require.NoError(t, s.Err())
	require.Equal(t, 7, n)
}

func TestLegacyEncodingFoldsSixteenBitGroups(t *testing.T) {
	raw := []byte{
		byte(EXTENDED_ARG), 0x02, 0x01,
		byte(LOAD_CONST), 0x04, 0x03,
		byte(POP_TOP),
		byte(RETURN_VALUE),
	}
	code := NewCode(raw, Legacy)
	instrs, err := code.All().Instructions()
	require.NoError(t, err)
	require.Len(t, instrs, 3)
	require.Equal(t, uint32(0x01020304), instrs[0].Arg())
	require.Equal(t, 3, instrs[0].Index())
	require.Equal(t, instrs[0].Index(), instrs[0].Offset())
	require.Equal(t, 6, instrs[1].Offset())
	require.Equal(t, 7, instrs[1].NextIndex())
}

func TestInlineCachesAreSkipped(t *testing.T) {
	b := NewBuilder(WordcodeCached)
	b.Emit(LOAD_GLOBAL, 2)
	b.Emit(LOAD_ATTR, 4)
	b.Emit0(RETURN_VALUE)
	code := b.Code()
	require.Equal(t, 1+4+1+9+1, code.Len())

	instrs, err := code.All().Instructions()
	require.NoError(t, err)
	require.Len(t, instrs, 3)
	require.Equal(t, 0, instrs[0].Index())
	require.Equal(t, 5, instrs[1].Index())
	require.Equal(t, 15, instrs[2].Index())
}

func TestJumpTargets(t *testing.T) {
	tests := []struct {
		name   string
		enc    *Encoding
		build  func(b *Builder) *Label
		jumpAt int
	}{
		{
			name: "relative forward",
			enc:  WordcodeCached,
			build: func(b *Builder) *Label {
				l := b.NewLabel()
				b.EmitJump(POP_JUMP_IF_FALSE, l)
				b.Emit0(NOP)
				b.Emit0(NOP)
				b.Mark(l)
				b.Emit0(RETURN_VALUE)
				return l
			},
		},
		{
			name: "relative backward",
			enc:  WordcodeCached,
			build: func(b *Builder) *Label {
				l := b.NewLabel()
				b.Emit0(NOP)
				b.Mark(l)
				b.Emit0(NOP)
				b.Emit0(NOP)
				b.EmitJump(JUMP_BACKWARD, l)
				return l
			},
			jumpAt: 3,
		},
		{
			name: "absolute",
			enc:  Wordcode,
			build: func(b *Builder) *Label {
				l := b.NewLabel()
				b.Emit0(NOP)
				b.EmitJump(POP_JUMP_IF_TRUE, l)
				b.Emit0(NOP)
				b.Mark(l)
				b.Emit0(RETURN_VALUE)
				return l
			},
			jumpAt: 1,
		},
		{
			name: "legacy absolute in bytes",
			enc:  Legacy,
			build: func(b *Builder) *Label {
				l := b.NewLabel()
				b.Emit(LOAD_FAST, 0)
				b.EmitJump(POP_JUMP_IF_FALSE, l)
				b.Emit0(POP_TOP)
				b.Mark(l)
				b.Emit0(RETURN_VALUE)
				return l
			},
			jumpAt: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.enc)
			tt.build(b)
			code := b.Code()
			in, err := code.At(tt.jumpAt)
			require.NoError(t, err)
			require.True(t, in.IsBranch())
			target, err := code.At(in.JumpTarget())
			require.NoError(t, err)
			switch tt.name {
			case "relative backward":
				require.Equal(t, 1, in.JumpTarget())
			default:
				require.Equal(t, RETURN_VALUE, target.Opcode())
			}
		})
	}
}

func TestForIterSkipsEndFor(t *testing.T) {
	b := NewBuilder(WordcodeCached)
	exit := b.NewLabel()
	top := b.NewLabel()
	b.Emit(LOAD_FAST, 0)
	b.Emit0(GET_ITER)
	b.Mark(top)
	b.EmitJump(FOR_ITER, exit)
	b.Emit(STORE_FAST, 1)
	b.EmitJump(JUMP_BACKWARD, top)
	b.Mark(exit)
	b.Emit0(END_FOR)
	b.Emit(RETURN_CONST, 0)
	code := b.Code()

	forIter, err := code.At(2)
	require.NoError(t, err)
	require.Equal(t, FOR_ITER, forIter.Opcode())

	target, err := code.At(forIter.JumpTarget())
	require.NoError(t, err)
	require.Equal(t, RETURN_CONST, target.Opcode())

	// Without the redirect the same layout lands on END_FOR.
	require.Equal(t, forIter.NextIndex()+int(forIter.Arg())+1, forIter.JumpTarget())
}

func TestDecodePastEndIsAnError(t *testing.T) {
	t.Run("dangling prefix", func(t *testing.T) {
		code := wordcode(byte(EXTENDED_ARG), 1)
		_, err := code.At(0)
		require.True(t, errors.Is(err, ErrDanglingExtendedArg), "got %v", err)
	})
	t.Run("truncated caches", func(t *testing.T) {
		code := NewCode([]byte{byte(LOAD_ATTR), 0, byte(CACHE), 0}, WordcodeCached)
		_, err := code.At(0)
		require.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("legacy truncated argument", func(t *testing.T) {
		code := NewCode([]byte{byte(LOAD_FAST), 1}, Legacy)
		_, err := code.At(0)
		require.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("index out of range", func(t *testing.T) {
		code := wordcode(byte(NOP), 0)
		_, err := code.At(1)
		require.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("unknown opcode", func(t *testing.T) {
		code := wordcode(byte(JUMP_BACKWARD), 0)
		_, err := code.At(0)
		require.ErrorIs(t, err, ErrUnknownOpcode)
	})
}

func TestJumpTargetOnNonBranchIsFatal(t *testing.T) {
	code := wordcode(byte(NOP), 0)
	in, err := code.At(0)
	require.NoError(t, err)
	require.Panics(t, func() { in.JumpTarget() })
}

func TestClassification(t *testing.T) {
	tests := []struct {
		op         Opcode
		branch     bool
		ret        bool
		terminator bool
	}{
		{RETURN_VALUE, false, true, true},
		{RETURN_CONST, false, true, true},
		{JUMP_FORWARD, true, false, true},
		{JUMP_BACKWARD, true, false, true},
		{POP_JUMP_IF_FALSE, true, false, false},
		{FOR_ITER, true, false, false},
		{RAISE_VARARGS, false, false, true},
		{LOAD_FAST, false, false, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.branch, tt.op.IsBranch(), tt.op.String())
		require.Equal(t, tt.ret, tt.op.IsReturn(), tt.op.String())
		require.Equal(t, tt.terminator, tt.op.IsTerminator(), tt.op.String())
	}
}
