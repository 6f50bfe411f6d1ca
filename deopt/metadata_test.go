package deopt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	t := &Table{}
	t.Add(&Metadata{
		Live: []LiveValue{
			{Reg: 1, Ref: Owned, Kind: Object},
			{Reg: 4, Ref: Uncounted, Kind: Double},
			{Reg: 7, Ref: Borrowed, Kind: Object},
		},
		Frames: []FrameMeta{{
			Code:        "f",
			ResumeIndex: 12,
			Locals:      []int{0, -1},
			Stack:       []int{0, 1},
			BlockStack:  []BlockEntry{{HandlerIndex: 30, StackLevel: 1}},
		}},
		Guilty: 2,
		Reason: GuardFailure,
		Nonce:  9,
	})
	t.Add(&Metadata{
		Live:   []LiveValue{{Reg: 2, Ref: Owned, Kind: Object}},
		Frames: []FrameMeta{{Code: "f", ResumeIndex: 20, Locals: []int{0, 0}, Stack: []int{}}},
		Guilty: -1,
		Reason: Exception,
	})
	return t
}

func TestTableEncodingIsCanonical(t *testing.T) {
	a, err := MarshalTable(sampleTable())
	require.NoError(t, err)
	b, err := MarshalTable(sampleTable())
	require.NoError(t, err)
	require.Equal(t, a, b)

	back, err := UnmarshalTable(a)
	require.NoError(t, err)
	require.Equal(t, 2, back.Len())
	require.Equal(t, 1, back.Get(1).ID)
	require.Equal(t, []int{0, -1}, back.Get(0).Frames[0].Locals)
	again, err := MarshalTable(back)
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestUnmarshalRejectsBadReferences(t *testing.T) {
	bad := &Table{}
	bad.Add(&Metadata{
		Live:   []LiveValue{{Reg: 1}},
		Frames: []FrameMeta{{Code: "f", Stack: []int{3}}},
		Guilty: -1,
	})
	data, err := MarshalTable(bad)
	require.NoError(t, err)
	_, err = UnmarshalTable(data)
	require.ErrorContains(t, err, "stack refers to live value 3 of 1")

	_, err = UnmarshalTable([]byte{0xff})
	require.Error(t, err)
}

func TestGetOutOfRangeIsFatal(t *testing.T) {
	require.Panics(t, func() { sampleTable().Get(2) })
}

type fakeHost struct {
	increfs map[uint64]int
	decrefs []uint64
	boxed   []ValueKind
	fail    bool
	// failAt makes the Box call with this 1-based number fail.
	failAt int
}

func (h *fakeHost) Incref(obj uint64) { h.increfs[obj]++ }

func (h *fakeHost) Decref(obj uint64) { h.decrefs = append(h.decrefs, obj) }

func (h *fakeHost) Box(kind ValueKind, bits uint64) (uint64, error) {
	if h.fail || len(h.boxed)+1 == h.failAt {
		return 0, errors.New("out of memory")
	}
	h.boxed = append(h.boxed, kind)
	return 0xb0000 + bits, nil
}

func TestReconstruct(t *testing.T) {
	m := sampleTable().Get(0)
	h := &fakeHost{increfs: map[uint64]int{}}
	frames, err := Reconstruct(m, []uint64{0x1000, 0x4, 0x7000}, h)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	f := frames[0]
	require.Equal(t, ResumeAt, f.Action)
	require.Equal(t, 12, f.ResumeIndex)
	require.Equal(t, []uint64{0x1000, 0}, f.Locals)
	require.Equal(t, []uint64{0x1000, 0xb0004}, f.Stack)
	require.Equal(t, []ValueKind{Double}, h.boxed)
	// owned values already carry their references and the borrowed
	// guilty value is not stored anywhere
	require.Empty(t, h.increfs)
}

func TestReconstructBorrowedAndShared(t *testing.T) {
	m := &Metadata{
		Live: []LiveValue{
			{Reg: 1, Ref: Borrowed, Kind: Object},
			{Reg: 2, Ref: Uncounted, Kind: Signed},
			{Reg: 3, Ref: Owned, Kind: Object},
		},
		Frames: []FrameMeta{
			{Code: "outer", ResumeIndex: 4, Locals: []int{2}, Stack: []int{0}},
			{Code: "inner", ResumeIndex: 8, Locals: []int{0, 1}, Stack: []int{1}},
		},
		Guilty: -1,
		Reason: Raise,
	}
	h := &fakeHost{increfs: map[uint64]int{}}
	frames, err := Reconstruct(m, []uint64{0xa0, 42, 0xc0}, h)
	require.NoError(t, err)
	require.Equal(t, 1, m.InlineDepth())
	require.Equal(t, ResumeCaller, frames[0].Action)
	require.Equal(t, UnwindAt, frames[1].Action)
	require.Equal(t, 2, h.increfs[0xa0], "one reference per slot holding a borrowed value")
	require.Equal(t, 1, h.increfs[0xb0000+42], "a boxed primitive is shared by both slots")
	require.Equal(t, frames[1].Locals[1], frames[1].Stack[0])
}

func TestReconstructErrors(t *testing.T) {
	m := sampleTable().Get(0)
	_, err := Reconstruct(m, []uint64{1}, &fakeHost{})
	require.ErrorContains(t, err, "got 1 values for 3 live slots")

	_, err = Reconstruct(m, []uint64{1, 2, 3}, &fakeHost{increfs: map[uint64]int{}, fail: true})
	require.ErrorContains(t, err, "out of memory")
}

func TestReconstructRejectsMalformedMetadata(t *testing.T) {
	tests := []struct {
		name string
		m    *Metadata
	}{
		{"no frames", &Metadata{Guilty: -1}},
		{"stack slot out of range", &Metadata{
			Live:   []LiveValue{{Reg: 1, Ref: Owned}},
			Frames: []FrameMeta{{Code: "f", Stack: []int{3}}},
			Guilty: -1,
		}},
		{"local slot out of range", &Metadata{
			Live:   []LiveValue{{Reg: 1, Ref: Owned}},
			Frames: []FrameMeta{{Code: "f", Locals: []int{-2}}},
			Guilty: -1,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make([]uint64, len(tt.m.Live))
			var (
				frames []*Frame
				err    error
			)
			require.NotPanics(t, func() {
				frames, err = Reconstruct(tt.m, values, &fakeHost{increfs: map[uint64]int{}})
			})
			require.Error(t, err)
			require.Nil(t, frames)
		})
	}
}

func TestReconstructBoxFailureTakesNoReferences(t *testing.T) {
	m := &Metadata{
		Live: []LiveValue{
			{Reg: 1, Ref: Borrowed, Kind: Object},
			{Reg: 2, Ref: Uncounted, Kind: Signed},
			{Reg: 3, Ref: Uncounted, Kind: Double},
		},
		Frames: []FrameMeta{{Code: "f", Locals: []int{0, 1, 1}, Stack: []int{2}}},
		Guilty: -1,
	}
	h := &fakeHost{increfs: map[uint64]int{}, failAt: 2}
	_, err := Reconstruct(m, []uint64{0xa0, 5, 6}, h)
	require.ErrorContains(t, err, "box v3")
	require.Empty(t, h.increfs, "borrowed values are not increfed before boxing succeeds")
	require.Equal(t, []uint64{0xb0005}, h.decrefs, "the value boxed before the failure is released")
}

func TestFrameHeader(t *testing.T) {
	h := DefaultFrameHeader
	require.Equal(t, int32(-8), h.CodeOffset())
	require.Equal(t, int32(-16), h.DeoptIDOffset())
	require.Equal(t, int32(-64), h.SpillOffset(0))
	require.Equal(t, int32(-72), h.SpillOffset(1))
	require.Equal(t, int32(64), h.FrameSize(1))
	require.Equal(t, int32(80), h.FrameSize(3))
	require.Zero(t, h.FrameSize(4)%16)
}
