package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExceptionTableRoundTrip(t *testing.T) {
	table := NewExceptionTable(
		ExceptionEntry{Start: 100, End: 180, Target: 500, Depth: 3, Lasti: true},
		ExceptionEntry{Start: 2, End: 10, Target: 40, Depth: 0},
	)
	parsed, err := ParseExceptionTable(table.Bytes())
	require.NoError(t, err)
	require.Equal(t, table.Entries(), parsed.Entries())
	require.Equal(t, 2, parsed.Entries()[0].Start)
}

func TestExceptionTableHandlerAt(t *testing.T) {
	table := NewExceptionTable(
		ExceptionEntry{Start: 2, End: 10, Target: 40},
		ExceptionEntry{Start: 12, End: 20, Target: 50, Depth: 1},
	)
	e, ok := table.HandlerAt(12)
	require.True(t, ok)
	require.Equal(t, 50, e.Target)

	_, ok = table.HandlerAt(10)
	require.False(t, ok)

	e, ok = table.HandlerAt(9)
	require.True(t, ok)
	require.Equal(t, 40, e.Target)

	var none *ExceptionTable
	_, ok = none.HandlerAt(0)
	require.False(t, ok)
}

func TestExceptionTableRejectsGarbage(t *testing.T) {
	_, err := ParseExceptionTable([]byte{0x01})
	require.ErrorIs(t, err, ErrBadExceptionTable)

	_, err = ParseExceptionTable([]byte{0x81, 0x02})
	require.ErrorIs(t, err, ErrBadExceptionTable)
}
