package jit

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/chazu/jitcore/check"
)

// recursiveLock is a mutex its owning goroutine may take again.
type recursiveLock struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
}

func (l *recursiveLock) Lock() {
	id := goid.Get()
	if l.owner.Load() == id {
		l.depth++
		return
	}
	l.mu.Lock()
	l.owner.Store(id)
	l.depth = 1
}

func (l *recursiveLock) Unlock() {
	check.That(l.heldByCaller(), "jit: unlock of a lock held by another goroutine")
	l.depth--
	if l.depth == 0 {
		l.owner.Store(0)
		l.mu.Unlock()
	}
}

// AssertLocked fails unless the calling goroutine holds the lock.
func (l *recursiveLock) AssertLocked() {
	check.That(l.heldByCaller(), "jit: context lock not held")
}

func (l *recursiveLock) heldByCaller() bool {
	return l.owner.Load() == goid.Get()
}
