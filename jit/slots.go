package jit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// SlotState is the lifecycle of a function slot, like an inline cache
// going from empty to filled.
type SlotState uint8

const (
	SlotEmpty SlotState = iota
	SlotInterpreted
	SlotCompiled
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotInterpreted:
		return "interpreted"
	case SlotCompiled:
		return "compiled"
	}
	return fmt.Sprintf("SlotState(%d)", uint8(s))
}

type slotCell struct {
	entry uint64
	state atomic.Uint32
}

// FunctionSlots hands out one stable cell per statically callable
// function. Compiled callers load the cell and call through it, so
// publishing a new entry point never patches them.
type FunctionSlots struct {
	mu    sync.RWMutex
	cells map[string]*slotCell

	// assertLocked, when set, checks that the owning context's lock is
	// held before an entry changes.
	assertLocked func()
}

// NewFunctionSlots creates an empty table.
func NewFunctionSlots() *FunctionSlots {
	return &FunctionSlots{cells: map[string]*slotCell{}}
}

// Declare creates the cell for name if needed, pointing it at the
// interpreter trampoline.
func (s *FunctionSlots) Declare(name string, trampoline uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cells[name]; ok {
		return
	}
	c := &slotCell{entry: uint64(trampoline)}
	c.state.Store(uint32(SlotInterpreted))
	s.cells[name] = c
}

// Publish points name's cell at compiled code. Slots owned by a Context
// must be published under its lock.
func (s *FunctionSlots) Publish(name string, entry uintptr) {
	if s.assertLocked != nil {
		s.assertLocked()
	}
	s.mu.Lock()
	c, ok := s.cells[name]
	if !ok {
		c = &slotCell{}
		s.cells[name] = c
	}
	s.mu.Unlock()
	atomic.StoreUint64(&c.entry, uint64(entry))
	c.state.Store(uint32(SlotCompiled))
}

// Entry returns the current entry point and state of name.
func (s *FunctionSlots) Entry(name string) (uintptr, SlotState) {
	c := s.cell(name)
	if c == nil {
		return 0, SlotEmpty
	}
	return uintptr(atomic.LoadUint64(&c.entry)), SlotState(c.state.Load())
}

// SlotAddress returns the address of name's cell.
func (s *FunctionSlots) SlotAddress(name string) (uintptr, bool) {
	c := s.cell(name)
	if c == nil {
		return 0, false
	}
	return uintptr(unsafe.Pointer(&c.entry)), true
}

// Len returns how many cells exist.
func (s *FunctionSlots) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

func (s *FunctionSlots) cell(name string) *slotCell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells[name]
}
