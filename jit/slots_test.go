package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotLifecycle(t *testing.T) {
	s := NewFunctionSlots()
	_, state := s.Entry("f")
	require.Equal(t, SlotEmpty, state)
	_, ok := s.SlotAddress("f")
	require.False(t, ok)

	s.Declare("f", 0x100)
	addr, ok := s.SlotAddress("f")
	require.True(t, ok)
	entry, state := s.Entry("f")
	require.Equal(t, uintptr(0x100), entry)
	require.Equal(t, SlotInterpreted, state)

	s.Declare("f", 0x200)
	entry, _ = s.Entry("f")
	require.Equal(t, uintptr(0x100), entry, "redeclaring keeps the cell")

	s.Publish("f", 0x300)
	entry, state = s.Entry("f")
	require.Equal(t, uintptr(0x300), entry)
	require.Equal(t, SlotCompiled, state)

	again, _ := s.SlotAddress("f")
	require.Equal(t, addr, again, "cell address is stable across publishes")
	require.Equal(t, 1, s.Len())
}

func TestPublishWithoutDeclare(t *testing.T) {
	s := NewFunctionSlots()
	s.Publish("g", 0x40)
	entry, state := s.Entry("g")
	require.Equal(t, uintptr(0x40), entry)
	require.Equal(t, SlotCompiled, state)
	require.Equal(t, "compiled", state.String())
}
