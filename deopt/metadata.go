// Package deopt holds everything needed to leave compiled code: the
// per-exit metadata table, the generic frame reconstruction routine, and
// the patchers that redirect speculative code to its deopt exit.
package deopt

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/jitcore/check"
)

// RefKind says how a live value's reference is held when the exit fires.
type RefKind uint8

const (
	Uncounted RefKind = iota
	Borrowed
	Owned
)

func (k RefKind) String() string {
	switch k {
	case Uncounted:
		return "uncounted"
	case Borrowed:
		return "borrowed"
	case Owned:
		return "owned"
	}
	return fmt.Sprintf("RefKind(%d)", uint8(k))
}

// ValueKind says how to interpret a live value's bits.
type ValueKind uint8

const (
	Object ValueKind = iota
	Signed
	Unsigned
	Double
	Bool
)

func (k ValueKind) String() string {
	switch k {
	case Object:
		return "object"
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	case Double:
		return "double"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// Reason records why an exit was taken.
type Reason uint8

const (
	// GuardFailure re-executes the instruction at the resume index.
	GuardFailure Reason = iota
	// Exception unwinds from the resume index with an error set.
	Exception
	// Raise is an explicit raise; it also unwinds.
	Raise
	// Yield is a generator suspension point.
	Yield
	// Invalidated is a patchpoint whose speculation no longer holds.
	Invalidated
)

func (r Reason) String() string {
	switch r {
	case GuardFailure:
		return "GuardFailure"
	case Exception:
		return "Exception"
	case Raise:
		return "Raise"
	case Yield:
		return "Yield"
	case Invalidated:
		return "Invalidated"
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// LiveValue is one value the exit needs, identified by the HIR register
// it came from.
type LiveValue struct {
	Reg  int       `cbor:"1,keyasint"`
	Ref  RefKind   `cbor:"2,keyasint"`
	Kind ValueKind `cbor:"3,keyasint"`
}

// BlockEntry is an active exception handler region of a frame.
type BlockEntry struct {
	HandlerIndex int  `cbor:"1,keyasint"`
	StackLevel   int  `cbor:"2,keyasint"`
	Lasti        bool `cbor:"3,keyasint,omitempty"`
}

// FrameMeta describes one interpreter frame to rebuild. Locals and Stack
// hold indexes into Metadata.Live; -1 marks an unbound local.
type FrameMeta struct {
	Code        string       `cbor:"1,keyasint"`
	ResumeIndex int          `cbor:"2,keyasint"`
	Locals      []int        `cbor:"3,keyasint"`
	Stack       []int        `cbor:"4,keyasint"`
	BlockStack  []BlockEntry `cbor:"5,keyasint,omitempty"`
}

// Metadata describes one deopt exit.
type Metadata struct {
	ID          int         `cbor:"1,keyasint"`
	Live        []LiveValue `cbor:"2,keyasint"`
	Frames      []FrameMeta `cbor:"3,keyasint"` // outermost first
	Guilty      int         `cbor:"4,keyasint"` // index into Live, or -1
	Reason      Reason      `cbor:"5,keyasint"`
	Description string      `cbor:"6,keyasint,omitempty"`
	Nonce       int         `cbor:"7,keyasint"`
}

// InlineDepth is 0 when the exit rebuilds a single frame.
func (m *Metadata) InlineDepth() int { return len(m.Frames) - 1 }

// Validate checks that every frame slot refers to a live value.
func (m *Metadata) Validate() error {
	if len(m.Frames) == 0 {
		return fmt.Errorf("deopt %d: no frames", m.ID)
	}
	seen := map[int]bool{}
	for _, v := range m.Live {
		if seen[v.Reg] {
			return fmt.Errorf("deopt %d: v%d is live twice", m.ID, v.Reg)
		}
		seen[v.Reg] = true
	}
	inRange := func(i int) bool { return i >= 0 && i < len(m.Live) }
	for _, f := range m.Frames {
		for _, l := range f.Locals {
			if l != -1 && !inRange(l) {
				return fmt.Errorf("deopt %d: local refers to live value %d of %d", m.ID, l, len(m.Live))
			}
		}
		for _, s := range f.Stack {
			if !inRange(s) {
				return fmt.Errorf("deopt %d: stack refers to live value %d of %d", m.ID, s, len(m.Live))
			}
		}
	}
	if m.Guilty != -1 && !inRange(m.Guilty) {
		return fmt.Errorf("deopt %d: guilty value %d of %d", m.ID, m.Guilty, len(m.Live))
	}
	return nil
}

// Table collects the metadata of one compiled function. IDs are indexes.
type Table struct {
	Entries []*Metadata `cbor:"1,keyasint"`
}

// Add assigns m the next id and stores it.
func (t *Table) Add(m *Metadata) int {
	m.ID = len(t.Entries)
	t.Entries = append(t.Entries, m)
	return m.ID
}

// Get returns the entry for id.
func (t *Table) Get(id int) *Metadata {
	check.That(id >= 0 && id < len(t.Entries), "deopt id %d out of range [0,%d)", id, len(t.Entries))
	return t.Entries[id]
}

// Len returns the number of exits.
func (t *Table) Len() int { return len(t.Entries) }

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("deopt: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalTable serializes a table to canonical CBOR, so equal tables
// produce equal bytes.
func MarshalTable(t *Table) ([]byte, error) {
	return cborEncMode.Marshal(t)
}

// UnmarshalTable deserializes a table and validates every entry.
func UnmarshalTable(data []byte) (*Table, error) {
	var t Table
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("deopt: unmarshal table: %w", err)
	}
	for n, m := range t.Entries {
		if m == nil || m.ID != n {
			return nil, fmt.Errorf("deopt: entry %d is missing or misnumbered", n)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
