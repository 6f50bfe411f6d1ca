package deopt

import (
	"fmt"
)

// Host is the interpreter side of a deopt. Values are raw machine words:
// object pointers for Object values, bit patterns for primitives.
type Host interface {
	// Incref takes a new reference to obj.
	Incref(obj uint64)
	// Decref drops a reference to obj.
	Decref(obj uint64)
	// Box allocates an object for a primitive value and returns a new
	// reference.
	Box(kind ValueKind, bits uint64) (uint64, error)
}

// Action tells the interpreter what to do with a rebuilt frame.
type Action uint8

const (
	// ResumeAt re-executes the instruction at ResumeIndex.
	ResumeAt Action = iota
	// UnwindAt raises the pending error as if from ResumeIndex.
	UnwindAt
	// ResumeCaller marks an inlined caller; it continues when its callee
	// frame returns.
	ResumeCaller
)

func (a Action) String() string {
	switch a {
	case ResumeAt:
		return "resume"
	case UnwindAt:
		return "unwind"
	case ResumeCaller:
		return "resume-caller"
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Frame is an interpreter frame rebuilt from compiled state. A zero local
// is unbound.
type Frame struct {
	Code        string
	ResumeIndex int
	Action      Action
	Locals      []uint64
	Stack       []uint64
	BlockStack  []BlockEntry
}

// Reconstruct rebuilds the interpreter frames for an exit from the raw
// live values, which are ordered like m.Live. Frames are returned
// outermost first. Malformed metadata is an error.
//
// After it returns every frame slot holds its own reference: owned values
// already do, borrowed values gain one reference per slot, and primitives
// are boxed once and shared. If boxing fails no reference is taken and the
// values boxed so far are released.
func Reconstruct(m *Metadata, values []uint64, host Host) ([]*Frame, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(values) != len(m.Live) {
		return nil, fmt.Errorf("deopt %d: got %d values for %d live slots", m.ID, len(values), len(m.Live))
	}
	uses := make([]int, len(m.Live))
	for _, f := range m.Frames {
		for _, l := range f.Locals {
			if l >= 0 {
				uses[l]++
			}
		}
		for _, s := range f.Stack {
			uses[s]++
		}
	}

	resolved := append([]uint64(nil), values...)
	var boxed []int
	for n, lv := range m.Live {
		if uses[n] == 0 || lv.Kind == Object {
			continue
		}
		obj, err := host.Box(lv.Kind, values[n])
		if err != nil {
			for _, b := range boxed {
				host.Decref(resolved[b])
			}
			return nil, fmt.Errorf("deopt %d: box v%d: %w", m.ID, lv.Reg, err)
		}
		resolved[n] = obj
		boxed = append(boxed, n)
	}
	for n, lv := range m.Live {
		switch {
		case uses[n] == 0:
		case lv.Kind != Object:
			for range uses[n] - 1 {
				host.Incref(resolved[n])
			}
		case values[n] != 0 && lv.Ref == Borrowed:
			for range uses[n] {
				host.Incref(values[n])
			}
		}
	}

	frames := make([]*Frame, len(m.Frames))
	for n, fm := range m.Frames {
		f := &Frame{
			Code:        fm.Code,
			ResumeIndex: fm.ResumeIndex,
			Action:      ResumeCaller,
			Locals:      make([]uint64, len(fm.Locals)),
			Stack:       make([]uint64, len(fm.Stack)),
			BlockStack:  append([]BlockEntry(nil), fm.BlockStack...),
		}
		for i, l := range fm.Locals {
			if l >= 0 {
				f.Locals[i] = resolved[l]
			}
		}
		for i, s := range fm.Stack {
			f.Stack[i] = resolved[s]
		}
		frames[n] = f
	}
	inner := frames[len(frames)-1]
	switch m.Reason {
	case Exception, Raise:
		inner.Action = UnwindAt
	default:
		inner.Action = ResumeAt
	}
	return frames, nil
}
