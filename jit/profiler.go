package jit

import (
	"sort"
	"sync"
	"sync/atomic"
)

// UnitProfile holds the invocation count of one unit.
type UnitProfile struct {
	Invocations atomic.Uint64
	hot         atomic.Bool
}

// IsHot reports whether the unit crossed the threshold.
func (p *UnitProfile) IsHot() bool { return p.hot.Load() }

// Profiler counts unit invocations and reports each unit once when it
// crosses HotThreshold.
type Profiler struct {
	profiles sync.Map // *Unit -> *UnitProfile

	HotThreshold uint64

	// OnHot runs on the invoking goroutine when a unit becomes hot.
	OnHot func(*Unit, *UnitProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a profiler with the configured threshold.
func NewProfiler(cfg ProfileConfig) *Profiler {
	return &Profiler{HotThreshold: cfg.HotThreshold}
}

// RecordInvocation counts one call of u and returns true if this call made
// it hot.
func (p *Profiler) RecordInvocation(u *Unit) bool {
	if u == nil {
		return false
	}
	val, _ := p.profiles.LoadOrStore(u, &UnitProfile{})
	profile := val.(*UnitProfile)
	count := profile.Invocations.Add(1)
	if count < p.HotThreshold || !profile.hot.CompareAndSwap(false, true) {
		return false
	}
	p.hotCount.Add(1)
	if p.OnHot != nil {
		p.OnHot(u, profile)
	}
	return true
}

// Profile returns u's profile, or nil if it was never invoked.
func (p *Profiler) Profile(u *Unit) *UnitProfile {
	if val, ok := p.profiles.Load(u); ok {
		return val.(*UnitProfile)
	}
	return nil
}

// ProfilerStats holds aggregate counts.
type ProfilerStats struct {
	Units       int
	HotUnits    uint64
	Invocations uint64
}

// Stats returns aggregate counts.
func (p *Profiler) Stats() ProfilerStats {
	var s ProfilerStats
	p.profiles.Range(func(_, val any) bool {
		s.Units++
		s.Invocations += val.(*UnitProfile).Invocations.Load()
		return true
	})
	s.HotUnits = p.hotCount.Load()
	return s
}

// UnitCount pairs a unit with its invocation count.
type UnitCount struct {
	Unit  *Unit
	Count uint64
}

// Top returns up to n units by invocation count, highest first.
func (p *Profiler) Top(n int) []UnitCount {
	var all []UnitCount
	p.profiles.Range(func(key, val any) bool {
		all = append(all, UnitCount{key.(*Unit), val.(*UnitProfile).Invocations.Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Unit.Name() < all[j].Unit.Name()
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Reset forgets every profile.
func (p *Profiler) Reset() {
	p.profiles.Clear()
	p.hotCount.Store(0)
}
