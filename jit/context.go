// Package jit drives compilation: it owns the shared state compiled code
// depends on (code memory, function slots, speculation watches) and runs
// bytecode through HIR construction, LIR generation and deopt linking.
package jit

import (
	"errors"
	"fmt"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"

	"github.com/chazu/jitcore/codecache"
	"github.com/chazu/jitcore/deopt"
)

var log = commonlog.GetLogger("jitcore.jit")

var (
	// ErrShutdown is returned by operations on a context that has shut
	// down.
	ErrShutdown = errors.New("jit: context is shut down")
	// ErrPaused is returned by Compile while compilation is paused.
	ErrPaused = errors.New("jit: compilation is paused")
)

// State is the lifecycle state of a Context.
type State uint8

const (
	Running State = iota
	Paused
	Shutdown
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Shutdown:
		return "shutdown"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Context is the process-wide compiler state. Code memory, watch
// registrations and patch writes are guarded by its lock, which a
// goroutine may take recursively.
type Context struct {
	Config  Config
	Slots   *FunctionSlots
	Watches *deopt.WatchRegistry
	Metrics *Metrics

	lock  recursiveLock
	code  *deopt.CodeBuffer
	cache *codecache.Store

	stateMu sync.Mutex
	state   State
}

// New creates a running context. Metrics register with reg when it is
// non-nil; the code cache is opened when the config names one.
func New(cfg Config, reg prom.Registerer) (*Context, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ctx := &Context{
		Config:  cfg,
		Slots:   NewFunctionSlots(),
		Metrics: NewMetrics(reg),
		code:    deopt.NewCodeBuffer(uintptr(cfg.Code.Base), cfg.Code.Size),
	}
	ctx.Watches = deopt.NewWatchRegistry(&ctx.lock)
	ctx.Slots.assertLocked = ctx.AssertLocked
	if cfg.CodeCache != "" {
		store, err := codecache.Open(cfg.CodeCache)
		if err != nil {
			return nil, fmt.Errorf("jit: %w", err)
		}
		ctx.cache = store
	}
	log.Infof("context ready: %d workers, %d bytes of code at %#x", cfg.Workers, cfg.Code.Size, cfg.Code.Base)
	return ctx, nil
}

// Lock takes the context lock. The holder may take it again.
func (c *Context) Lock() { c.lock.Lock() }

// Unlock releases one level of the context lock.
func (c *Context) Unlock() { c.lock.Unlock() }

// AssertLocked fails unless the calling goroutine holds the lock.
func (c *Context) AssertLocked() { c.lock.AssertLocked() }

// State returns the lifecycle state.
func (c *Context) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Pause stops new compilations until Resume.
func (c *Context) Pause() error { return c.transition(Running, Paused) }

// Resume restarts compilation after Pause.
func (c *Context) Resume() error { return c.transition(Paused, Running) }

func (c *Context) transition(from, to State) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch c.state {
	case Shutdown:
		return ErrShutdown
	case from:
		c.state = to
		log.Infof("%s", to)
		return nil
	}
	return fmt.Errorf("jit: cannot go from %s to %s", c.state, to)
}

// Shutdown stops the context for good and closes the code cache. Calling
// it again does nothing.
func (c *Context) Shutdown() error {
	c.stateMu.Lock()
	if c.state == Shutdown {
		c.stateMu.Unlock()
		return nil
	}
	c.state = Shutdown
	c.stateMu.Unlock()
	log.Info("shutdown")
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

// checkRunning reports why a compile may not start.
func (c *Context) checkRunning() error {
	switch c.State() {
	case Shutdown:
		return ErrShutdown
	case Paused:
		return ErrPaused
	}
	return nil
}

// Invalidate redirects every patchpoint speculating on key to its exit,
// as when a watched global is rebound.
func (c *Context) Invalidate(key string) int {
	c.Lock()
	defer c.Unlock()
	n := c.Watches.Invalidate(key)
	if n > 0 {
		c.Metrics.Invalidation.WithLabelValues(key).Add(float64(n))
	}
	return n
}

// Revalidate restores the patchpoints watching key.
func (c *Context) Revalidate(key string) int {
	c.Lock()
	defer c.Unlock()
	return c.Watches.Revalidate(key)
}

// emit appends code to code memory. The caller holds the lock.
func (c *Context) emit(code []byte) (uintptr, error) {
	c.AssertLocked()
	return c.code.Emit(code)
}

// emitPatchpoint appends a patchable site. The caller holds the lock.
func (c *Context) emitPatchpoint() (uintptr, error) {
	c.AssertLocked()
	return c.code.EmitPatchpoint()
}

// CodeSize returns the bytes of code memory in use.
func (c *Context) CodeSize() int {
	c.Lock()
	defer c.Unlock()
	return c.code.Len()
}

// Cache returns the code cache, or nil when none is configured.
func (c *Context) Cache() *codecache.Store { return c.cache }
