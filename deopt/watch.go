package deopt

import (
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jitcore.deopt")

// WatchRegistry tracks which patchers speculate on which keys, such as a
// global's binding. Invalidating a key patches every subscriber so compiled
// code stops relying on the old value.
//
// The registry serializes its own bookkeeping. Patch writes additionally
// happen under lock, which should be the runtime's global compile lock.
type WatchRegistry struct {
	lock sync.Locker

	mu       sync.Mutex
	watchers map[string][]*Patcher
}

// lockAsserter is implemented by locks that can check their holder.
type lockAsserter interface {
	AssertLocked()
}

// NewWatchRegistry creates a registry whose patch writes run under lock.
// If lock has an AssertLocked method it is checked before every write.
func NewWatchRegistry(lock sync.Locker) *WatchRegistry {
	return &WatchRegistry{lock: lock, watchers: map[string][]*Patcher{}}
}

// Subscribe is a Patcher onLink callback that registers the patcher under
// its Key.
func (r *WatchRegistry) Subscribe(p *Patcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers[p.Key] = append(r.watchers[p.Key], p)
}

// Watchers returns how many linked patchers watch key.
func (r *WatchRegistry) Watchers(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers[key])
}

// Invalidate patches every patcher watching key and returns how many were
// patched. Subscribers stay registered so Revalidate can undo it.
func (r *WatchRegistry) Invalidate(key string) int {
	ps := r.snapshot(key)
	if len(ps) == 0 {
		return 0
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.assertLocked()
	n := 0
	for _, p := range ps {
		if !p.IsPatched() {
			p.Patch()
			n++
		}
	}
	log.Infof("invalidated %q: patched %d of %d sites", key, n, len(ps))
	return n
}

// Revalidate restores every patched site watching key, for a speculation
// that holds again.
func (r *WatchRegistry) Revalidate(key string) int {
	ps := r.snapshot(key)
	r.lock.Lock()
	defer r.lock.Unlock()
	r.assertLocked()
	n := 0
	for _, p := range ps {
		if p.IsPatched() {
			p.Unpatch()
			n++
		}
	}
	if n > 0 {
		log.Debugf("revalidated %q: restored %d sites", key, n)
	}
	return n
}

// Forget drops every subscription of the given patchers, as when their code
// is freed.
func (r *WatchRegistry) Forget(ps ...*Patcher) {
	drop := map[*Patcher]bool{}
	for _, p := range ps {
		drop[p] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, list := range r.watchers {
		kept := list[:0]
		for _, p := range list {
			if !drop[p] {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(r.watchers, key)
		} else {
			r.watchers[key] = kept
		}
	}
}

func (r *WatchRegistry) assertLocked() {
	if a, ok := r.lock.(lockAsserter); ok {
		a.AssertLocked()
	}
}

func (r *WatchRegistry) snapshot(key string) []*Patcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Patcher(nil), r.watchers[key]...)
}
