package bytecode

// JumpKind describes how an opcode's argument names its target.
type JumpKind uint8

const (
	NoJump           JumpKind = iota
	JumpAbsolute              // target = arg
	JumpRelative              // target = next + arg
	JumpRelativeBack          // target = next - arg
)

// Encoding describes one historical layout of the instruction stream.
//
// An index counts code units; a byte offset is index * UnitSize. In the
// legacy variable-width layout a unit is one byte, so index and offset are
// the same number. In the wordcode layouts every opcode and every inline
// cache entry occupies one two-byte unit.
type Encoding struct {
	Name string

	// UnitSize is the number of bytes per code unit.
	UnitSize int

	// ArgBits is how far the accumulated argument shifts per EXTENDED_ARG.
	ArgBits uint

	// VariableWidth is true when argument-less opcodes take one byte and
	// opcodes with arguments take three (legacy layout).
	VariableWidth bool

	// InlineCaches is true when opcodes are followed by CACHE units.
	InlineCaches bool

	// SkipEndFor redirects the FOR_ITER exit past the END_FOR it targets.
	SkipEndFor bool

	jumps   map[Opcode]JumpKind
	removed map[Opcode]bool
}

// Legacy is the variable-width layout: one opcode byte, then a 16-bit
// little-endian argument when the opcode has one. Jumps are byte offsets.
var Legacy = &Encoding{
	Name:          "legacy",
	UnitSize:      1,
	ArgBits:       16,
	VariableWidth: true,
	jumps: map[Opcode]JumpKind{
		JUMP_FORWARD:         JumpRelative,
		FOR_ITER:             JumpRelative,
		JUMP_ABSOLUTE:        JumpAbsolute,
		POP_JUMP_IF_FALSE:    JumpAbsolute,
		POP_JUMP_IF_TRUE:     JumpAbsolute,
		POP_JUMP_IF_NONE:     JumpAbsolute,
		POP_JUMP_IF_NOT_NONE: JumpAbsolute,
	},
	removed: map[Opcode]bool{
		CACHE: true, JUMP_BACKWARD: true, END_FOR: true, RETURN_CONST: true,
		KW_NAMES: true, RESUME: true, RETURN_GENERATOR: true, PUSH_NULL: true,
	},
}

// Wordcode is the fixed-width layout without inline caches. Jumps count
// code units.
var Wordcode = &Encoding{
	Name:     "wordcode",
	UnitSize: 2,
	ArgBits:  8,
	jumps: map[Opcode]JumpKind{
		JUMP_FORWARD:         JumpRelative,
		FOR_ITER:             JumpRelative,
		JUMP_ABSOLUTE:        JumpAbsolute,
		POP_JUMP_IF_FALSE:    JumpAbsolute,
		POP_JUMP_IF_TRUE:     JumpAbsolute,
		POP_JUMP_IF_NONE:     JumpAbsolute,
		POP_JUMP_IF_NOT_NONE: JumpAbsolute,
	},
	removed: map[Opcode]bool{
		CACHE: true, JUMP_BACKWARD: true, END_FOR: true, RETURN_CONST: true,
		KW_NAMES: true, RETURN_GENERATOR: true,
	},
}

// WordcodeCached is the fixed-width layout with inline caches and only
// relative jumps.
var WordcodeCached = &Encoding{
	Name:         "wordcode-cached",
	UnitSize:     2,
	ArgBits:      8,
	InlineCaches: true,
	SkipEndFor:   true,
	jumps: map[Opcode]JumpKind{
		JUMP_FORWARD:         JumpRelative,
		JUMP_BACKWARD:        JumpRelativeBack,
		FOR_ITER:             JumpRelative,
		POP_JUMP_IF_FALSE:    JumpRelative,
		POP_JUMP_IF_TRUE:     JumpRelative,
		POP_JUMP_IF_NONE:     JumpRelative,
		POP_JUMP_IF_NOT_NONE: JumpRelative,
	},
	removed: map[Opcode]bool{
		JUMP_ABSOLUTE: true,
	},
}

// Encodings lists every supported layout.
var Encodings = []*Encoding{Legacy, Wordcode, WordcodeCached}

// EncodingByName returns the encoding with the given name, or nil.
func EncodingByName(name string) *Encoding {
	for _, e := range Encodings {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Supports reports whether op may appear as an executable opcode.
func (e *Encoding) Supports(op Opcode) bool {
	return op.Known() && !e.removed[op] && op != CACHE
}

// JumpKind returns how op's argument encodes its target.
func (e *Encoding) JumpKind(op Opcode) JumpKind {
	return e.jumps[op]
}

// CacheUnits returns the inline cache units that follow op.
func (e *Encoding) CacheUnits(op Opcode) int {
	if !e.InlineCaches {
		return 0
	}
	return op.Info().CacheUnits
}

// MaxArg is the largest argument a single opcode can hold without a prefix.
func (e *Encoding) MaxArg() uint32 {
	return 1<<e.ArgBits - 1
}

// String implements the Stringer interface.
func (e *Encoding) String() string {
	return e.Name
}
