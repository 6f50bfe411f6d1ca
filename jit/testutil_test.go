package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const identUnit = `
name = "ident"
args = 1
varnames = ["x"]
code = """
LOAD_FAST 0
RETURN_VALUE
"""
`

const callsUnit = `
name = "calls"
encoding = "wordcode-cached"
args = 1
varnames = ["x"]
names = ["len", "helper"]
static = ["helper"]
code = """
LOAD_GLOBAL 1  # len, with a NULL below it
LOAD_FAST 0
CALL 1
POP_TOP
LOAD_GLOBAL 3  # helper
LOAD_FAST 0
CALL 1
RETURN_VALUE
"""
`

const unsupportedUnit = `
name = "reraise"
args = 1
varnames = ["x"]
code = """
LOAD_FAST 0
LOAD_FAST 0
RAISE_VARARGS 2
"""
`

func unit(t *testing.T, src string) *Unit {
	t.Helper()
	u, err := ParseUnit([]byte(src))
	require.NoError(t, err)
	return u
}

func newContext(t *testing.T, mutate ...func(*Config)) *Context {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Code.Size = 4096
	for _, m := range mutate {
		m(&cfg)
	}
	ctx, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Shutdown() })
	return ctx
}
