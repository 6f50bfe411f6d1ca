package jit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfilerReportsOnce(t *testing.T) {
	p := NewProfiler(ProfileConfig{HotThreshold: 3})
	u := unit(t, identUnit)
	var hot []*Unit
	p.OnHot = func(u *Unit, prof *UnitProfile) {
		require.True(t, prof.IsHot())
		hot = append(hot, u)
	}
	require.False(t, p.RecordInvocation(u))
	require.False(t, p.RecordInvocation(u))
	require.True(t, p.RecordInvocation(u))
	require.False(t, p.RecordInvocation(u))
	require.Equal(t, []*Unit{u}, hot)
	require.Equal(t, uint64(4), p.Profile(u).Invocations.Load())
	require.False(t, p.RecordInvocation(nil))
}

func TestProfilerConcurrentThreshold(t *testing.T) {
	p := NewProfiler(ProfileConfig{HotThreshold: 50})
	u := unit(t, identUnit)
	var (
		mu   sync.Mutex
		hits int
		wg   sync.WaitGroup
	)
	p.OnHot = func(*Unit, *UnitProfile) {
		mu.Lock()
		hits++
		mu.Unlock()
	}
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				p.RecordInvocation(u)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, hits)
	require.Equal(t, ProfilerStats{Units: 1, HotUnits: 1, Invocations: 200}, p.Stats())
}

func TestProfilerTopAndReset(t *testing.T) {
	p := NewProfiler(ProfileConfig{HotThreshold: 100})
	a, b := unit(t, identUnit), unit(t, callsUnit)
	for range 3 {
		p.RecordInvocation(a)
	}
	p.RecordInvocation(b)

	top := p.Top(1)
	require.Len(t, top, 1)
	require.Same(t, a, top[0].Unit)
	require.Equal(t, uint64(3), top[0].Count)
	require.Len(t, p.Top(10), 2)

	p.Reset()
	require.Nil(t, p.Profile(a))
	require.Equal(t, ProfilerStats{}, p.Stats())
}
