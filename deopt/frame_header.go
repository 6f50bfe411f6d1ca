package deopt

// FrameHeader is the fixed prefix of every compiled frame. A stack walker
// finds the code object and the most recent deopt id at fixed offsets
// below the frame pointer, which lets it present a compiled frame as an
// interpreter frame. Spill slots follow the callee-saved registers.
type FrameHeader struct {
	WordSize  int32
	SavedRegs int32
}

// DefaultFrameHeader is the x86-64 layout: rbx and r12-r15 are saved.
var DefaultFrameHeader = FrameHeader{WordSize: 8, SavedRegs: 5}

const (
	codeSlot = 1 + iota
	deoptIDSlot
	headerSlots = deoptIDSlot
)

// CodeOffset is where the code object pointer lives.
func (h FrameHeader) CodeOffset() int32 { return -h.WordSize * codeSlot }

// DeoptIDOffset is where the id of the last exit taken is stored.
func (h FrameHeader) DeoptIDOffset() int32 { return -h.WordSize * deoptIDSlot }

// SpillOffset returns the frame-pointer-relative offset of spill slot n.
func (h FrameHeader) SpillOffset(n int) int32 {
	return -h.WordSize * (headerSlots + h.SavedRegs + 1 + int32(n))
}

// FrameSize returns the bytes to reserve below the frame pointer for the
// header and spills, rounded to keep the stack 16-byte aligned.
func (h FrameHeader) FrameSize(spills int) int32 {
	size := h.WordSize * (headerSlots + h.SavedRegs + int32(spills))
	return (size + 15) &^ 15
}
