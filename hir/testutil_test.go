package hir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/jitcore/bytecode"
)

type unit struct {
	name     string
	args     int
	varnames []string
	consts   []Const
	names    []string
	gen      bool
}

func (u unit) build(t *testing.T, opts BuildOptions, emit func(b *bytecode.Builder)) *Function {
	t.Helper()
	fn, err := Build(u.code(emit), opts)
	require.NoError(t, err)
	return fn
}

func (u unit) code(emit func(b *bytecode.Builder)) *CodeObject {
	b := bytecode.NewBuilder(bytecode.WordcodeCached)
	emit(b)
	return &CodeObject{
		Name:      u.name,
		Code:      b.Code(),
		Consts:    u.consts,
		Names:     u.names,
		VarNames:  u.varnames,
		NumArgs:   u.args,
		Generator: u.gen,
	}
}

func instrsOf(fn *Function, op Opcode) []*Instr {
	var out []*Instr
	for _, i := range fn.Instrs() {
		if i.Opcode() == op {
			out = append(out, i)
		}
	}
	return out
}
