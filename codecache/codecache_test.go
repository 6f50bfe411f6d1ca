package codecache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chazu/jitcore/bytecode"
	"github.com/chazu/jitcore/deopt"
	"github.com/chazu/jitcore/hir"
)

func sampleTable() *deopt.Table {
	var t deopt.Table
	t.Add(&deopt.Metadata{
		Live:   []deopt.LiveValue{{Reg: 3, Ref: deopt.Owned, Kind: deopt.Object}},
		Frames: []deopt.FrameMeta{{Code: "f", ResumeIndex: 4, Locals: []int{0, -1}}},
		Guilty: -1,
		Reason: deopt.GuardFailure,
	})
	return &t
}

func sampleCode(t *testing.T) *hir.CodeObject {
	code, err := bytecode.Assemble(bytecode.Wordcode, "LOAD_CONST 0\nRETURN_VALUE")
	require.NoError(t, err)
	return &hir.CodeObject{
		Name:     "f",
		Code:     code,
		Consts:   []hir.Const{hir.IntConst(1)},
		VarNames: []string{"x"},
		NumArgs:  1,
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)

	a := &Artifact{
		UnitID:     uuid.New(),
		Name:       "f",
		Hash:       Hash(sampleCode(t)),
		Encoding:   bytecode.Wordcode.Name,
		Deopts:     sampleTable(),
		CodeSize:   64,
		CompiledAt: time.Unix(1700000000, 42),
	}
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(a.Hash)
	require.NoError(t, err)
	require.Equal(t, a.UnitID, got.UnitID)
	require.Equal(t, "f", got.Name)
	require.Equal(t, 64, got.CodeSize)
	require.True(t, a.CompiledAt.Equal(got.CompiledAt))
	require.Equal(t, 1, got.Deopts.Len())
	require.Equal(t, []int{0, -1}, got.Deopts.Get(0).Frames[0].Locals)
}

func TestLoadMissing(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Load("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReplacesAndDeletes(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	a := &Artifact{UnitID: uuid.New(), Name: "g", Hash: "h1", Deopts: sampleTable()}
	require.NoError(t, s.Save(a))
	a.Name = "g2"
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Save(&Artifact{UnitID: uuid.New(), Name: "a", Hash: "h2", Deopts: &deopt.Table{}}))

	names, err := s.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "g2"}, names)

	require.NoError(t, s.Delete("h1"))
	require.NoError(t, s.Delete("h1"))
	_, err = s.Load("h1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHashCoversTheWholeCodeObject(t *testing.T) {
	base := sampleCode(t)
	same := *base
	require.Equal(t, Hash(base), Hash(&same))

	tests := []struct {
		name   string
		mutate func(*hir.CodeObject)
	}{
		{"encoding", func(co *hir.CodeObject) {
			co.Code = bytecode.NewCode(co.Code.Bytes(), bytecode.WordcodeCached)
		}},
		{"consts", func(co *hir.CodeObject) { co.Consts = []hir.Const{hir.IntConst(2)} }},
		{"name", func(co *hir.CodeObject) { co.Name = "g" }},
		{"names", func(co *hir.CodeObject) { co.Names = []string{"len"} }},
		{"varnames", func(co *hir.CodeObject) { co.VarNames = []string{"y"} }},
		{"args", func(co *hir.CodeObject) { co.NumArgs = 0 }},
		{"generator", func(co *hir.CodeObject) { co.Generator = true }},
		{"handlers", func(co *hir.CodeObject) {
			co.ExceptionTable = bytecode.NewExceptionTable(bytecode.ExceptionEntry{Start: 0, End: 1, Target: 1})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := *base
			tt.mutate(&co)
			require.NotEqual(t, Hash(base), Hash(&co))
		})
	}
}

func TestSameBytecodeKeepsSeparateArtifacts(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	one := sampleCode(t)
	two := *one
	two.Name = "two"
	two.Consts = []hir.Const{hir.IntConst(2)}
	for _, co := range []*hir.CodeObject{one, &two} {
		require.NoError(t, s.Save(&Artifact{UnitID: uuid.New(), Name: co.Name, Hash: Hash(co), Deopts: sampleTable()}))
	}
	names, err := s.Names()
	require.NoError(t, err)
	require.Equal(t, []string{"f", "two"}, names)
}
