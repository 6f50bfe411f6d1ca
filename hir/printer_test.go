package hir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/jitcore/bytecode"
)

func TestPrintFunction(t *testing.T) {
	u := unit{name: "add", args: 2, varnames: []string{"a", "b"}}
	fn := u.build(t, BuildOptions{}, func(b *bytecode.Builder) {
		b.Emit(bytecode.LOAD_FAST, 0)
		b.Emit(bytecode.LOAD_FAST, 1)
		b.Emit(bytecode.BINARY_OP, bytecode.NbAdd)
		b.Emit0(bytecode.RETURN_VALUE)
	})
	out := Print(fn)
	require.Contains(t, out, "fun add {")
	require.Contains(t, out, "v1:Object = LoadArg<0>")
	require.Contains(t, out, ":Object = BinaryOp<Add> v1 v2")
	require.Contains(t, out, "Return v")

	p := &Printer{ShowDeopt: true}
	withDeopt := p.Function(fn)
	require.Contains(t, withDeopt, "LiveValues<2> owned:v1 owned:v2")
	require.Contains(t, withDeopt, "FrameState add @2 locals<v1 v2> stack<v1 v2>")
}
