package jit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chazu/jitcore/bytecode"
	"github.com/chazu/jitcore/hir"
)

func TestParseUnit(t *testing.T) {
	u := unit(t, `
name = "f"
encoding = "wordcode-cached"
args = 1
varnames = ["x", "y"]
names = ["g"]
generator = true
builtins = ["len"]
static = ["g"]
code = "LOAD_CONST 0\nRETURN_VALUE"

[[consts]]
int = 7
[[consts]]
float = 1.5
[[consts]]
str = "s"
[[consts]]
bool = true
[[consts]]
none = true

[[handlers]]
start = 0
end = 2
target = 4
depth = 1
`)
	require.NotEqual(t, uuid.Nil, u.ID)
	require.Equal(t, "f", u.Name())
	co := u.Code
	require.Same(t, bytecode.WordcodeCached, co.Code.Encoding())
	require.Equal(t, 1, co.NumArgs)
	require.Equal(t, 2, co.NumLocals())
	require.True(t, co.Generator)
	require.Equal(t, []hir.Const{
		hir.IntConst(7),
		hir.FloatConst(1.5),
		hir.StrConst("s"),
		hir.BoolConst(true),
		hir.NoneConst,
	}, co.Consts)
	require.Equal(t, []bytecode.ExceptionEntry{{Start: 0, End: 2, Target: 4, Depth: 1}}, co.ExceptionTable.Entries())
	require.Equal(t, []string{"len"}, u.Builtins)
	require.Equal(t, []string{"g"}, u.StaticCallees)

	want, err := bytecode.Assemble(bytecode.WordcodeCached, "LOAD_CONST 0\nRETURN_VALUE")
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), co.Code.Bytes())
}

func TestParseUnitDefaultsToWordcode(t *testing.T) {
	u := unit(t, identUnit)
	require.Same(t, bytecode.Wordcode, u.Code.Code.Encoding())
	require.Nil(t, u.Code.ExceptionTable)
}

func TestParseUnitErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		bad  bool
	}{
		{"toml", `name = `, false},
		{"no name", `code = "RETURN_VALUE"`, true},
		{"encoding", "name = \"f\"\nencoding = \"zip\"", true},
		{"args", "name = \"f\"\nargs = 2\nvarnames = [\"x\"]", true},
		{"two values", "name = \"f\"\n[[consts]]\nint = 1\nstr = \"a\"", true},
		{"no value", "name = \"f\"\n[[consts]]", true},
		{"assembly", "name = \"f\"\ncode = \"NOT_AN_OP\"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUnit([]byte(tt.src))
			require.Error(t, err)
			if tt.bad {
				require.ErrorIs(t, err, ErrBadUnit)
			}
		})
	}
	_, err := ParseUnit([]byte("name = \"f\"\ncode = \"NOT_AN_OP\""))
	require.ErrorIs(t, err, bytecode.ErrSyntax)
}

func TestLoadUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ident.toml")
	require.NoError(t, os.WriteFile(path, []byte(identUnit), 0o644))
	u, err := LoadUnit(path)
	require.NoError(t, err)
	require.Equal(t, "ident", u.Name())
}
