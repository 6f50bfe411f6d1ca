package bytecode

import (
	"errors"
	"fmt"
	"sort"
)

// ErrBadExceptionTable is returned for malformed exception table bytes.
var ErrBadExceptionTable = errors.New("bytecode: malformed exception table")

// ExceptionEntry maps the code unit range [Start, End) to a handler.
type ExceptionEntry struct {
	Start  int  // first covered unit
	End    int  // one past the last covered unit
	Target int  // handler unit index
	Depth  int  // operand stack depth to unwind to
	Lasti  bool // push the offset of the raising instruction
}

// Contains reports whether index falls inside the entry.
func (e ExceptionEntry) Contains(index int) bool {
	return e.Start <= index && index < e.End
}

// ExceptionTable is the ordered list of handler ranges of a code unit.
type ExceptionTable struct {
	entries []ExceptionEntry
}

// NewExceptionTable builds a table from entries, sorted by Start.
func NewExceptionTable(entries ...ExceptionEntry) *ExceptionTable {
	t := &ExceptionTable{entries: append([]ExceptionEntry(nil), entries...)}
	sort.SliceStable(t.entries, func(i, j int) bool { return t.entries[i].Start < t.entries[j].Start })
	return t
}

// Entries returns the table entries in order.
func (t *ExceptionTable) Entries() []ExceptionEntry {
	if t == nil {
		return nil
	}
	return t.entries
}

// HandlerAt returns the entry covering index, if any.
func (t *ExceptionTable) HandlerAt(index int) (ExceptionEntry, bool) {
	if t == nil {
		return ExceptionEntry{}, false
	}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].End > index })
	for ; i < len(t.entries); i++ {
		e := t.entries[i]
		if e.Start > index {
			break
		}
		if e.Contains(index) {
			return e, true
		}
	}
	return ExceptionEntry{}, false
}

// ---------------------------------------------------------------------------
// Packed form
// ---------------------------------------------------------------------------
//
// Each entry is four varints: start, length, target, depth<<1|lasti. A varint
// is big-endian 6-bit groups; bit 0x40 marks a continuation and bit 0x80
// marks the first byte of an entry.

const (
	etContinue = 0x40
	etEntry    = 0x80
	etPayload  = 0x3f
)

// ParseExceptionTable decodes the packed table format.
func ParseExceptionTable(data []byte) (*ExceptionTable, error) {
	var entries []ExceptionEntry
	pos := 0
	read := func(first bool) (int, error) {
		if pos >= len(data) {
			return 0, fmt.Errorf("%w: truncated at byte %d", ErrBadExceptionTable, pos)
		}
		if first != (data[pos]&etEntry != 0) {
			return 0, fmt.Errorf("%w: entry marker mismatch at byte %d", ErrBadExceptionTable, pos)
		}
		v := 0
		for {
			if pos >= len(data) {
				return 0, fmt.Errorf("%w: truncated varint", ErrBadExceptionTable)
			}
			b := data[pos]
			pos++
			v = v<<6 | int(b&etPayload)
			if b&etContinue == 0 {
				return v, nil
			}
		}
	}
	for pos < len(data) {
		start, err := read(true)
		if err != nil {
			return nil, err
		}
		var fields [3]int
		for i := range fields {
			if fields[i], err = read(false); err != nil {
				return nil, err
			}
		}
		entries = append(entries, ExceptionEntry{
			Start:  start,
			End:    start + fields[0],
			Target: fields[1],
			Depth:  fields[2] >> 1,
			Lasti:  fields[2]&1 != 0,
		})
	}
	return NewExceptionTable(entries...), nil
}

// Bytes encodes the table in packed form.
func (t *ExceptionTable) Bytes() []byte {
	var out []byte
	write := func(v int, first bool) {
		var groups []byte
		for {
			groups = append(groups, byte(v&etPayload))
			v >>= 6
			if v == 0 {
				break
			}
		}
		for i := len(groups) - 1; i >= 0; i-- {
			b := groups[i]
			if i > 0 {
				b |= etContinue
			}
			if first && i == len(groups)-1 {
				b |= etEntry
			}
			out = append(out, b)
		}
	}
	for _, e := range t.Entries() {
		dl := e.Depth << 1
		if e.Lasti {
			dl |= 1
		}
		write(e.Start, true)
		write(e.End-e.Start, false)
		write(e.Target, false)
		write(dl, false)
	}
	return out
}
