package deopt

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/chazu/jitcore/check"
)

// ErrCodeBufferFull is returned when an emit does not fit.
var ErrCodeBufferFull = errors.New("deopt: code buffer full")

// PatchpointSize is the length of a patchable site.
const PatchpointSize = 5

// Nop5 is the five-byte no-op that fills an unpatched patchpoint.
var Nop5 = [PatchpointSize]byte{0x0f, 0x1f, 0x44, 0x00, 0x00}

const nop1 = 0x90

// CodeBuffer is executable-code memory addressed by absolute addresses
// starting at Base. It is backed by 8-byte words so a patchpoint that does
// not straddle a word boundary can be rewritten with a single atomic
// store while other threads execute it.
type CodeBuffer struct {
	words []uint64
	base  uintptr
	used  int
}

// NewCodeBuffer reserves size bytes (rounded up to a word) at base, which
// must be word aligned.
func NewCodeBuffer(base uintptr, size int) *CodeBuffer {
	check.That(base%8 == 0, "code buffer base %#x is not word aligned", base)
	return &CodeBuffer{words: make([]uint64, (size+7)/8), base: base}
}

// Base is the address of the first byte.
func (c *CodeBuffer) Base() uintptr { return c.base }

// Len is the number of bytes emitted.
func (c *CodeBuffer) Len() int { return c.used }

// Cap is the reserved size in bytes.
func (c *CodeBuffer) Cap() int { return len(c.words) * 8 }

// Bytes views the emitted code. The view aliases the buffer.
func (c *CodeBuffer) Bytes() []byte {
	if len(c.words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&c.words[0])), len(c.words)*8)[:c.used]
}

// Truncate discards everything emitted after the first n bytes, as when
// an install fails partway. The discarded bytes are zeroed.
func (c *CodeBuffer) Truncate(n int) {
	check.That(n >= 0 && n <= c.used, "truncate to %d of %d emitted bytes", n, c.used)
	clear(c.Bytes()[n:])
	c.used = n
}

// Contains reports whether [addr, addr+n) lies in emitted code.
func (c *CodeBuffer) Contains(addr uintptr, n int) bool {
	return addr >= c.base && addr+uintptr(n) <= c.base+uintptr(c.used)
}

// Emit appends code and returns its address.
func (c *CodeBuffer) Emit(code []byte) (uintptr, error) {
	if c.used+len(code) > c.Cap() {
		return 0, ErrCodeBufferFull
	}
	addr := c.base + uintptr(c.used)
	all := unsafe.Slice((*byte)(unsafe.Pointer(&c.words[0])), len(c.words)*8)
	copy(all[c.used:], code)
	c.used += len(code)
	return addr, nil
}

// EmitPatchpoint pads with one-byte no-ops until a five-byte site fits in
// one word, then emits Nop5 and returns the site's address.
func (c *CodeBuffer) EmitPatchpoint() (uintptr, error) {
	for c.used%8 > 8-PatchpointSize {
		if _, err := c.Emit([]byte{nop1}); err != nil {
			return 0, err
		}
	}
	return c.Emit(Nop5[:])
}

// write5 atomically replaces the five bytes at addr.
func (c *CodeBuffer) write5(addr uintptr, seq [PatchpointSize]byte) {
	check.That(c.Contains(addr, PatchpointSize), "patch site %#x outside code buffer", addr)
	off := int(addr - c.base)
	w, in := off/8, off%8
	check.That(in <= 8-PatchpointSize, "patch site %#x straddles a word", addr)
	for {
		old := atomic.LoadUint64(&c.words[w])
		var buf [8]byte
		binary.NativeEndian.PutUint64(buf[:], old)
		copy(buf[in:], seq[:])
		if atomic.CompareAndSwapUint64(&c.words[w], old, binary.NativeEndian.Uint64(buf[:])) {
			return
		}
	}
}

// read5 returns the five bytes at addr.
func (c *CodeBuffer) read5(addr uintptr) [PatchpointSize]byte {
	var out [PatchpointSize]byte
	copy(out[:], c.Bytes()[addr-c.base:])
	return out
}
