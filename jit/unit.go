package jit

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/chazu/jitcore/bytecode"
	"github.com/chazu/jitcore/hir"
)

// Unit is one function queued for compilation.
type Unit struct {
	ID   uuid.UUID
	Code *hir.CodeObject

	// Builtins and StaticCallees extend the context's configuration for
	// this unit only.
	Builtins      []string
	StaticCallees []string
}

// NewUnit wraps code in a unit with a fresh id.
func NewUnit(code *hir.CodeObject) *Unit {
	return &Unit{ID: uuid.New(), Code: code}
}

// Name returns the code object's name.
func (u *Unit) Name() string { return u.Code.Name }

// unitFile is the TOML form of a unit, with the bytecode in assembler
// syntax.
type unitFile struct {
	Name      string        `toml:"name"`
	Encoding  string        `toml:"encoding"`
	Args      int           `toml:"args"`
	VarNames  []string      `toml:"varnames"`
	Names     []string      `toml:"names"`
	Consts    []constFile   `toml:"consts"`
	Generator bool          `toml:"generator"`
	Builtins  []string      `toml:"builtins"`
	Static    []string      `toml:"static"`
	Handlers  []handlerFile `toml:"handlers"`
	Code      string        `toml:"code"`
}

type constFile struct {
	Int   *int64   `toml:"int"`
	Float *float64 `toml:"float"`
	Str   *string  `toml:"str"`
	Bool  *bool    `toml:"bool"`
	None  bool     `toml:"none"`
}

type handlerFile struct {
	Start  int  `toml:"start"`
	End    int  `toml:"end"`
	Target int  `toml:"target"`
	Depth  int  `toml:"depth"`
	Lasti  bool `toml:"lasti"`
}

// ErrBadUnit is wrapped by every unit file error that is not a TOML or
// assembler error.
var ErrBadUnit = errors.New("jit: bad unit file")

// ParseUnit decodes a TOML unit file.
func ParseUnit(data []byte) (*Unit, error) {
	var f unitFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("jit: parse unit: %w", err)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrBadUnit)
	}
	if f.Encoding == "" {
		f.Encoding = bytecode.Wordcode.Name
	}
	enc := bytecode.EncodingByName(f.Encoding)
	if enc == nil {
		return nil, fmt.Errorf("%w: %s: unknown encoding %q", ErrBadUnit, f.Name, f.Encoding)
	}
	if f.Args > len(f.VarNames) {
		return nil, fmt.Errorf("%w: %s: %d args but %d varnames", ErrBadUnit, f.Name, f.Args, len(f.VarNames))
	}
	code, err := bytecode.Assemble(enc, f.Code)
	if err != nil {
		return nil, fmt.Errorf("jit: unit %s: %w", f.Name, err)
	}
	co := &hir.CodeObject{
		Name:      f.Name,
		Code:      code,
		Names:     f.Names,
		VarNames:  f.VarNames,
		NumArgs:   f.Args,
		Generator: f.Generator,
	}
	for n, c := range f.Consts {
		v, err := c.value()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: const %d: %v", ErrBadUnit, f.Name, n, err)
		}
		co.Consts = append(co.Consts, v)
	}
	if len(f.Handlers) > 0 {
		entries := make([]bytecode.ExceptionEntry, len(f.Handlers))
		for n, h := range f.Handlers {
			entries[n] = bytecode.ExceptionEntry(h)
		}
		co.ExceptionTable = bytecode.NewExceptionTable(entries...)
	}
	return &Unit{
		ID:            uuid.New(),
		Code:          co,
		Builtins:      f.Builtins,
		StaticCallees: f.Static,
	}, nil
}

// LoadUnit reads a TOML unit file.
func LoadUnit(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jit: cannot read %s: %w", path, err)
	}
	return ParseUnit(data)
}

func (c constFile) value() (hir.Const, error) {
	var (
		set []string
		v   hir.Const
	)
	if c.Int != nil {
		set, v = append(set, "int"), hir.IntConst(*c.Int)
	}
	if c.Float != nil {
		set, v = append(set, "float"), hir.FloatConst(*c.Float)
	}
	if c.Str != nil {
		set, v = append(set, "str"), hir.StrConst(*c.Str)
	}
	if c.Bool != nil {
		set, v = append(set, "bool"), hir.BoolConst(*c.Bool)
	}
	if c.None {
		set, v = append(set, "none"), hir.NoneConst
	}
	if len(set) != 1 {
		return hir.Const{}, fmt.Errorf("want exactly one value, got [%s]", strings.Join(set, " "))
	}
	return v, nil
}
