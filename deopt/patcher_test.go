package deopt

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/jitcore/check"
)

func buffer(t *testing.T) (*CodeBuffer, uintptr, uintptr) {
	t.Helper()
	code := NewCodeBuffer(0x10000, 256)
	_, err := code.Emit([]byte{0x55, 0x48, 0x89, 0xe5}) // push rbp; mov rbp, rsp
	require.NoError(t, err)
	pp, err := code.EmitPatchpoint()
	require.NoError(t, err)
	exit, err := code.Emit([]byte{0xcc})
	require.NoError(t, err)
	return code, pp, exit
}

func TestPatchpointNeverStraddlesAWord(t *testing.T) {
	code, pp, _ := buffer(t)
	require.Equal(t, uintptr(0x10008), pp, "four bytes in, the site is pushed to the next word")
	for _, b := range code.Bytes()[4:8] {
		require.Equal(t, byte(nop1), b)
	}
}

func TestPatchAndUnpatch(t *testing.T) {
	code, pp, exit := buffer(t)
	p := NewPatcher(3, "global:len", nil)
	require.Equal(t, Unlinked, p.State())
	require.NoError(t, p.Link(code, pp, exit))
	require.Equal(t, Linked, p.State())
	require.Equal(t, Nop5, p.Site())

	p.Patch()
	require.True(t, p.IsPatched())
	site := p.Site()
	require.Equal(t, byte(0xe9), site[0])
	// exit - (patchpoint + 5) = 0x1000d - 0x1000d
	require.Equal(t, [5]byte{0xe9, 0, 0, 0, 0}, site)

	p.Unpatch()
	require.Equal(t, Linked, p.State())
	require.Equal(t, [5]byte{0x0f, 0x1f, 0x44, 0x00, 0x00}, p.Site())
	require.Equal(t, byte(0xcc), code.Bytes()[exit-code.Base()], "neighbouring code is untouched")
}

func TestBackwardDisplacement(t *testing.T) {
	code := NewCodeBuffer(0x20000, 64)
	exit, err := code.Emit([]byte{0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc})
	require.NoError(t, err)
	pp, err := code.EmitPatchpoint()
	require.NoError(t, err)
	p := NewPatcher(0, "", nil)
	require.NoError(t, p.Link(code, pp, exit))
	p.Patch()
	// -(8 + 5) = -13
	require.Equal(t, [5]byte{0xe9, 0xf3, 0xff, 0xff, 0xff}, p.Site())
}

func TestLinkOverflow(t *testing.T) {
	code, pp, _ := buffer(t)
	p := NewPatcher(0, "", nil)
	err := p.Link(code, pp, pp+1<<33)
	require.True(t, errors.Is(err, ErrDisplacementOverflow))
	require.Equal(t, Unlinked, p.State())
}

func TestUnlinkedPatcherIsFatal(t *testing.T) {
	p := NewPatcher(7, "", nil)
	require.Panics(t, p.Patch)
	require.Panics(t, p.Unpatch)
}

func TestDoubleLinkIsFatal(t *testing.T) {
	code, pp, exit := buffer(t)
	p := NewPatcher(0, "", nil)
	require.NoError(t, p.Link(code, pp, exit))
	require.Panics(t, func() { _ = p.Link(code, pp, exit) })
}

func TestWatchRegistry(t *testing.T) {
	var mu sync.Mutex
	reg := NewWatchRegistry(&mu)
	code := NewCodeBuffer(0x30000, 128)
	var ps []*Patcher
	for range 3 {
		pp, err := code.EmitPatchpoint()
		require.NoError(t, err)
		exit, err := code.Emit([]byte{0xcc})
		require.NoError(t, err)
		p := NewPatcher(len(ps), "global:x", reg.Subscribe)
		require.NoError(t, p.Link(code, pp, exit))
		ps = append(ps, p)
	}
	require.Equal(t, 3, reg.Watchers("global:x"))
	require.Equal(t, 0, reg.Invalidate("global:y"))

	require.Equal(t, 3, reg.Invalidate("global:x"))
	for _, p := range ps {
		require.True(t, p.IsPatched())
	}
	require.Equal(t, 0, reg.Invalidate("global:x"), "already patched")

	require.Equal(t, 3, reg.Revalidate("global:x"))
	require.False(t, ps[0].IsPatched())

	reg.Forget(ps[0], ps[1])
	require.Equal(t, 1, reg.Watchers("global:x"))
	reg.Forget(ps[2])
	require.Equal(t, 0, reg.Watchers("global:x"))
}

func TestConcurrentPatchKeepsWordsConsistent(t *testing.T) {
	code := NewCodeBuffer(0x40000, 64)
	var ps []*Patcher
	for range 4 {
		pp, err := code.EmitPatchpoint()
		require.NoError(t, err)
		p := NewPatcher(0, "", nil)
		require.NoError(t, p.Link(code, pp, code.Base()))
		ps = append(ps, p)
	}
	var wg sync.WaitGroup
	for _, p := range ps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				p.Patch()
				p.Unpatch()
			}
		}()
	}
	wg.Wait()
	for _, p := range ps {
		require.Equal(t, Nop5, p.Site())
	}
}

func TestTruncateDiscardsFailedInstall(t *testing.T) {
	code, _, _ := buffer(t)
	mark := code.Len()
	_, err := code.EmitPatchpoint()
	require.NoError(t, err)
	_, err = code.Emit([]byte{0x68, 1, 0, 0, 0})
	require.NoError(t, err)

	code.Truncate(mark)
	require.Equal(t, mark, code.Len())
	addr, err := code.Emit([]byte{0xc3})
	require.NoError(t, err)
	require.Equal(t, code.Base()+uintptr(mark), addr, "truncated space is reused")
	require.Equal(t, byte(0xc3), code.Bytes()[mark])

	require.Panics(t, func() { code.Truncate(code.Len() + 1) })
}

// ownedLock reports itself as never held by the caller.
type ownedLock struct{ sync.Mutex }

func (*ownedLock) AssertLocked() { check.Failf("lock not held") }

func TestWatchRegistryAssertsItsLock(t *testing.T) {
	reg := NewWatchRegistry(&ownedLock{})
	code, pp, exit := buffer(t)
	p := NewPatcher(0, "global:x", reg.Subscribe)
	require.NoError(t, p.Link(code, pp, exit))

	require.PanicsWithError(t, (&check.Failure{Msg: "lock not held"}).Error(), func() { reg.Invalidate("global:x") })
	require.False(t, p.IsPatched(), "nothing is written without the lock")
	require.Panics(t, func() { reg.Revalidate("global:x") })
}
