package jit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/jitcore/codecache"
	"github.com/chazu/jitcore/deopt"
	"github.com/chazu/jitcore/hir"
	"github.com/chazu/jitcore/lir"
)

// Native sequences the compiler lays into code memory around the lowered
// function: a frame-setup prologue at the entry and one stub per deopt
// exit that pushes the exit's id and jumps to the shared deopt handler.
var prologue = []byte{0x55, 0x48, 0x89, 0xe5} // push rbp; mov rbp, rsp

const exitStubSize = 10

func exitStub(id int) []byte {
	stub := make([]byte, exitStubSize)
	stub[0] = 0x68 // push imm32
	binary.LittleEndian.PutUint32(stub[1:], uint32(id))
	stub[5] = 0xe9 // jmp rel32, resolved when the handler is installed
	return stub
}

// Compiled is the result of compiling one unit.
type Compiled struct {
	Unit     *Unit
	HIR      *hir.Function
	LIR      *lir.Function
	Entry    uintptr
	Exits    []uintptr // indexed by deopt id
	Patchers []*deopt.Patcher
	Hash     string
	Duration time.Duration
}

// CompilerStats summarizes a compiler's activity.
type CompilerStats struct {
	Compiled    uint64
	Failed      uint64
	QueueLength int
}

// Compiler compiles units against a context. Compile may be called from
// many goroutines; each unit compiles on one.
type Compiler struct {
	ctx *Context
	gen *lir.Generator

	pending chan *Unit
	done    chan struct{}
	workers sync.WaitGroup

	mu           sync.RWMutex
	compiledKeys map[string]bool

	compiled atomic.Uint64
	failed   atomic.Uint64
}

// NewCompiler creates a compiler for ctx. Static calls resolve through
// the context's function slots.
func NewCompiler(ctx *Context) *Compiler {
	return &Compiler{
		ctx:          ctx,
		gen:          lir.NewGenerator(ctx.Slots),
		compiledKeys: map[string]bool{},
	}
}

func (c *Compiler) buildOptions(u *Unit) hir.BuildOptions {
	cfg := &c.ctx.Config
	opts := hir.BuildOptions{
		SpecializeGlobals: cfg.SpecializeGlobals,
		Builtins:          cfg.builtinSet(),
	}
	for _, b := range u.Builtins {
		opts.Builtins[b] = true
	}
	if cfg.SpecializeCalls && len(u.StaticCallees) > 0 {
		opts.StaticCallees = map[string]bool{}
		for _, s := range u.StaticCallees {
			opts.StaticCallees[s] = true
		}
	}
	return opts
}

// Compile runs u through HIR construction and LIR generation, lays its
// entry, patchpoints and deopt exits into code memory, links every
// patchpoint to its watch key and publishes the entry in u's function
// slot.
func (c *Compiler) Compile(u *Unit) (*Compiled, error) {
	if err := c.ctx.checkRunning(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := c.compile(u)
	elapsed := time.Since(start)
	c.ctx.Metrics.CompileTime.Observe(elapsed.Seconds())
	switch {
	case err == nil:
		c.compiled.Add(1)
		c.ctx.Metrics.Compiles.WithLabelValues(resultOK).Inc()
		out.Duration = elapsed
		log.Infof("compiled %s in %s: %d deopt exits, %d patchpoints", u.Name(), elapsed, len(out.Exits), len(out.Patchers))
	case errors.Is(err, hir.ErrUnsupported):
		c.failed.Add(1)
		c.ctx.Metrics.Compiles.WithLabelValues(resultUnsupported).Inc()
		log.Debugf("not compiling %s: %s", u.Name(), err)
	default:
		c.failed.Add(1)
		c.ctx.Metrics.Compiles.WithLabelValues(resultError).Inc()
		log.Errorf("compiling %s: %s", u.Name(), err)
	}
	return out, err
}

func (c *Compiler) compile(u *Unit) (*Compiled, error) {
	cfg := &c.ctx.Config
	hfn, err := hir.Build(u.Code, c.buildOptions(u))
	if err != nil {
		return nil, fmt.Errorf("jit: %s: %w", u.Name(), err)
	}
	if cfg.Dump.HIR {
		p := hir.Printer{Color: cfg.Dump.Color, ShowDeopt: true}
		log.Infof("HIR for %s:\n%s", u.Name(), p.Function(hfn))
	}
	lfn, err := c.gen.Generate(hfn)
	if err != nil {
		return nil, fmt.Errorf("jit: %w", err)
	}
	if cfg.Dump.LIR {
		log.Infof("LIR for %s:\n%s", u.Name(), lir.Print(lfn))
	}

	out := &Compiled{Unit: u, HIR: hfn, LIR: lfn, Hash: codecache.Hash(u.Code)}
	if err := c.install(out); err != nil {
		return nil, fmt.Errorf("jit: installing %s: %w", u.Name(), err)
	}

	if store := c.ctx.Cache(); store != nil {
		err := store.Save(&codecache.Artifact{
			UnitID:     u.ID,
			Name:       u.Name(),
			Hash:       out.Hash,
			Encoding:   u.Code.Code.Encoding().Name,
			Deopts:     &lfn.Deopts,
			CodeSize:   c.ctx.CodeSize(),
			CompiledAt: time.Now(),
		})
		if err != nil {
			// The code is installed and runs without a cache entry.
			log.Warningf("%s", err)
		}
	}
	c.mu.Lock()
	c.compiledKeys[out.Hash] = true
	c.mu.Unlock()
	return out, nil
}

// install writes the entry, patchpoints and exit stubs of out under the
// context lock, links every patchpoint, and publishes the entry. Patchers
// subscribe to their watch key as they link. On failure the code memory
// used by the attempt is released.
func (c *Compiler) install(out *Compiled) (err error) {
	c.ctx.Lock()
	defer c.ctx.Unlock()
	c.ctx.AssertLocked()
	mark := c.ctx.code.Len()
	defer func() {
		if err != nil {
			c.ctx.Watches.Forget(out.Patchers...)
			out.Patchers, out.Exits = nil, nil
			c.ctx.code.Truncate(mark)
		}
	}()

	entry, err := c.ctx.emit(prologue)
	if err != nil {
		return err
	}
	sites := out.LIR.Patchpoints
	points := make([]uintptr, len(sites))
	for n := range sites {
		if points[n], err = c.ctx.emitPatchpoint(); err != nil {
			return err
		}
	}
	out.Exits = make([]uintptr, out.LIR.Deopts.Len())
	for id := range out.Exits {
		if out.Exits[id], err = c.ctx.emit(exitStub(id)); err != nil {
			return err
		}
	}
	for n, site := range sites {
		p := deopt.NewPatcher(site.DeoptID, site.Key, c.ctx.Watches.Subscribe)
		if err = p.Link(c.ctx.code, points[n], out.Exits[site.DeoptID]); err != nil {
			return err
		}
		out.Patchers = append(out.Patchers, p)
	}
	out.Entry = entry
	c.ctx.Slots.Publish(out.Unit.Name(), entry)
	c.ctx.Metrics.DeoptExits.Add(float64(len(out.Exits)))
	c.ctx.Metrics.Patchpoints.Add(float64(len(out.Patchers)))
	return nil
}

// CompileAll compiles units on a pool of Config.Workers goroutines. Every
// unit is attempted; results are indexed like units, nil where compilation
// failed, and the error lists every failure.
func (c *Compiler) CompileAll(units []*Unit) ([]*Compiled, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		errs    error
		results = make([]*Compiled, len(units))
	)
	g.SetLimit(c.ctx.Config.Workers)
	for n, u := range units {
		g.Go(func() error {
			out, err := c.Compile(u)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return nil
			}
			results[n] = out
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// Stats returns compile counters and the background queue length.
func (c *Compiler) Stats() CompilerStats {
	s := CompilerStats{
		Compiled: c.compiled.Load(),
		Failed:   c.failed.Load(),
	}
	if c.pending != nil {
		s.QueueLength = len(c.pending)
	}
	return s
}

// IsCompiled reports whether a code object identical to u's has been
// compiled.
func (c *Compiler) IsCompiled(u *Unit) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compiledKeys[codecache.Hash(u.Code)]
}

// Start connects the compiler to p: units p reports hot are queued and
// compiled by Config.Workers background goroutines until Stop.
func (c *Compiler) Start(p *Profiler) {
	c.pending = make(chan *Unit, c.ctx.Config.Profile.QueueSize)
	c.done = make(chan struct{})
	p.OnHot = c.onHot
	for range c.ctx.Config.Workers {
		c.workers.Add(1)
		go c.compilationWorker()
	}
}

// Stop ends the background workers and waits for them. Queued units are
// dropped. The profiler keeps reporting into the now idle queue.
func (c *Compiler) Stop() {
	if c.done == nil {
		return
	}
	close(c.done)
	c.workers.Wait()
	c.done = nil
}

func (c *Compiler) onHot(u *Unit, _ *UnitProfile) {
	if c.IsCompiled(u) {
		return
	}
	select {
	case c.pending <- u:
		c.ctx.Metrics.QueueDepth.Inc()
	default:
		log.Debugf("hot queue full, dropping %s", u.Name())
	}
}

func (c *Compiler) compilationWorker() {
	defer c.workers.Done()
	for {
		select {
		case u := <-c.pending:
			c.ctx.Metrics.QueueDepth.Dec()
			if !c.IsCompiled(u) {
				// Failures are logged and counted by Compile.
				_, _ = c.Compile(u)
			}
		case <-c.done:
			return
		}
	}
}
