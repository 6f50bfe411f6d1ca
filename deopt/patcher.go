package deopt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/jitcore/check"
)

// ErrDisplacementOverflow is returned by Link when the exit is out of
// reach of a 32-bit relative jump.
var ErrDisplacementOverflow = errors.New("deopt: jump displacement does not fit in 32 bits")

// State is the lifecycle of a Patcher.
type State uint8

const (
	Unlinked State = iota
	Linked
	Patched
)

func (s State) String() string {
	switch s {
	case Unlinked:
		return "unlinked"
	case Linked:
		return "linked"
	case Patched:
		return "patched"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

const jmpRel32 = 0xe9

// Patcher owns one patchpoint. Once linked to a deopt exit it can redirect
// the patchpoint to the exit and back. Patch and Unpatch must be called
// with the runtime's global lock held; the write itself is atomic with
// respect to threads executing the code.
type Patcher struct {
	// DeoptID is the exit the patchpoint redirects to.
	DeoptID int
	// Key names what the patcher watches; see WatchRegistry.
	Key string

	code       *CodeBuffer
	patchpoint uintptr
	exit       uintptr
	jump       [PatchpointSize]byte
	state      State
	onLink     func(*Patcher)
}

// NewPatcher creates an unlinked patcher. onLink, if non-nil, runs after a
// successful Link; it is where the patcher subscribes to invalidation.
func NewPatcher(deoptID int, key string, onLink func(*Patcher)) *Patcher {
	return &Patcher{DeoptID: deoptID, Key: key, onLink: onLink}
}

// Link binds the patchpoint at patchpoint to the exit at exit and
// precomputes the jump. A patcher links at most once.
func (p *Patcher) Link(code *CodeBuffer, patchpoint, exit uintptr) error {
	check.That(p.state == Unlinked, "patcher for deopt %d linked twice", p.DeoptID)
	check.That(code.Contains(patchpoint, PatchpointSize), "patchpoint %#x outside code", patchpoint)
	disp := int64(exit) - int64(patchpoint+PatchpointSize)
	if disp < math.MinInt32 || disp > math.MaxInt32 {
		return fmt.Errorf("%w: patchpoint %#x exit %#x", ErrDisplacementOverflow, patchpoint, exit)
	}
	p.code, p.patchpoint, p.exit = code, patchpoint, exit
	p.jump[0] = jmpRel32
	binary.LittleEndian.PutUint32(p.jump[1:], uint32(int32(disp)))
	p.state = Linked
	if p.onLink != nil {
		p.onLink(p)
	}
	return nil
}

// Patch redirects the patchpoint to the exit.
func (p *Patcher) Patch() {
	check.That(p.state != Unlinked, "patch of unlinked patcher for deopt %d", p.DeoptID)
	p.code.write5(p.patchpoint, p.jump)
	p.state = Patched
}

// Unpatch restores the no-op so execution falls through again.
func (p *Patcher) Unpatch() {
	check.That(p.state != Unlinked, "unpatch of unlinked patcher for deopt %d", p.DeoptID)
	p.code.write5(p.patchpoint, Nop5)
	p.state = Linked
}

// State returns the lifecycle state.
func (p *Patcher) State() State { return p.state }

// IsPatched reports whether the patchpoint currently jumps to the exit.
func (p *Patcher) IsPatched() bool { return p.state == Patched }

// Patchpoint returns the linked site address.
func (p *Patcher) Patchpoint() uintptr { return p.patchpoint }

// Exit returns the linked exit address.
func (p *Patcher) Exit() uintptr { return p.exit }

// Site returns the bytes currently at the patchpoint.
func (p *Patcher) Site() [PatchpointSize]byte {
	check.That(p.state != Unlinked, "site of unlinked patcher for deopt %d", p.DeoptID)
	return p.code.read5(p.patchpoint)
}
