package jit

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/chazu/jitcore/deopt"
	"github.com/chazu/jitcore/hir"
	"github.com/chazu/jitcore/lir"
)

func TestCompilePublishesEntry(t *testing.T) {
	ctx := newContext(t)
	c := NewCompiler(ctx)
	u := unit(t, identUnit)

	out, err := c.Compile(u)
	require.NoError(t, err)
	require.Equal(t, uintptr(ctx.Config.Code.Base), out.Entry)
	entry, state := ctx.Slots.Entry("ident")
	require.Equal(t, out.Entry, entry)
	require.Equal(t, SlotCompiled, state)
	require.Empty(t, out.Patchers)
	require.Len(t, out.Exits, out.LIR.Deopts.Len())
	require.True(t, c.IsCompiled(u))
	require.Equal(t, CompilerStats{Compiled: 1}, c.Stats())
}

func TestCompileLinksPatchpoints(t *testing.T) {
	ctx := newContext(t)
	ctx.Slots.Declare("helper", 0x9000)
	c := NewCompiler(ctx)

	out, err := c.Compile(unit(t, callsUnit))
	require.NoError(t, err)
	require.Len(t, out.Patchers, 2)
	require.Equal(t, hir.GlobalWatchKey("len"), out.Patchers[0].Key)
	require.Equal(t, hir.GlobalWatchKey("helper"), out.Patchers[1].Key)
	for _, p := range out.Patchers {
		require.Equal(t, deopt.Linked, p.State())
		require.Equal(t, out.Exits[p.DeoptID], p.Exit())
		require.Equal(t, deopt.Nop5, p.Site())
	}
	require.Equal(t, 1, ctx.Watches.Watchers(hir.GlobalWatchKey("len")))

	var indirect int
	for _, i := range out.LIR.Instrs() {
		if i.Opcode() == lir.OpCall && i.CallTarget().Kind == lir.OperandVReg {
			indirect++
		}
	}
	require.Equal(t, 1, indirect, "helper is called through its slot")
}

func TestInvalidatePatchesWatchers(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Code.Size = 4096
	ctx, err := New(cfg, reg)
	require.NoError(t, err)
	defer ctx.Shutdown()

	out, err := NewCompiler(ctx).Compile(unit(t, callsUnit))
	require.NoError(t, err)
	lenKey := hir.GlobalWatchKey("len")

	require.Equal(t, 1, ctx.Invalidate(lenKey))
	require.True(t, out.Patchers[0].IsPatched())
	require.False(t, out.Patchers[1].IsPatched())
	require.Equal(t, byte(0xe9), out.Patchers[0].Site()[0])
	require.Equal(t, 0, ctx.Invalidate(lenKey), "already patched")
	require.Equal(t, 1.0, testutil.ToFloat64(ctx.Metrics.Invalidation.WithLabelValues(lenKey)))

	require.Equal(t, 1, ctx.Revalidate(lenKey))
	require.Equal(t, deopt.Nop5, out.Patchers[0].Site())
}

func TestCompileFailures(t *testing.T) {
	ctx := newContext(t)
	c := NewCompiler(ctx)

	_, err := c.Compile(unit(t, unsupportedUnit))
	require.ErrorIs(t, err, hir.ErrUnsupported)

	bad := unit(t, "name = \"bad\"\nvarnames = [\"x\"]\ncode = \"LOAD_FAST 5\\nRETURN_VALUE\"")
	_, err = c.Compile(bad)
	require.ErrorIs(t, err, hir.ErrMalformed)

	require.Equal(t, 1.0, testutil.ToFloat64(ctx.Metrics.Compiles.WithLabelValues(resultUnsupported)))
	require.Equal(t, 1.0, testutil.ToFloat64(ctx.Metrics.Compiles.WithLabelValues(resultError)))
	require.Equal(t, uint64(2), c.Stats().Failed)
	_, state := ctx.Slots.Entry("bad")
	require.Equal(t, SlotEmpty, state)
}

func TestCompileRespectsLifecycle(t *testing.T) {
	ctx := newContext(t)
	c := NewCompiler(ctx)
	u := unit(t, identUnit)

	require.NoError(t, ctx.Pause())
	_, err := c.Compile(u)
	require.ErrorIs(t, err, ErrPaused)
	require.Error(t, ctx.Pause())

	require.NoError(t, ctx.Resume())
	_, err = c.Compile(u)
	require.NoError(t, err)

	require.NoError(t, ctx.Shutdown())
	require.NoError(t, ctx.Shutdown())
	require.Equal(t, Shutdown, ctx.State())
	_, err = c.Compile(u)
	require.ErrorIs(t, err, ErrShutdown)
	require.ErrorIs(t, ctx.Resume(), ErrShutdown)
}

func TestCodeBufferExhaustion(t *testing.T) {
	ctx := newContext(t, func(cfg *Config) { cfg.Code.Size = 8 })
	c := NewCompiler(ctx)
	_, err := c.Compile(unit(t, callsUnit))
	require.ErrorIs(t, err, deopt.ErrCodeBufferFull)
	require.Zero(t, ctx.Watches.Watchers(hir.GlobalWatchKey("len")))
	require.Zero(t, ctx.CodeSize(), "a failed install releases its code memory")
	_, state := ctx.Slots.Entry("calls")
	require.Equal(t, SlotEmpty, state)
}

func TestFailedInstallKeepsEarlierCode(t *testing.T) {
	ctx := newContext(t, func(cfg *Config) { cfg.Code.Size = 32 })
	c := NewCompiler(ctx)
	_, err := c.Compile(unit(t, identUnit))
	require.NoError(t, err)
	used := ctx.CodeSize()

	_, err = c.Compile(unit(t, callsUnit))
	require.ErrorIs(t, err, deopt.ErrCodeBufferFull)
	require.Equal(t, used, ctx.CodeSize())
	require.Zero(t, ctx.Watches.Watchers(hir.GlobalWatchKey("len")))
}

func TestSameBytecodeDifferentConstsCompilesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.db")
	ctx := newContext(t, func(cfg *Config) { cfg.CodeCache = path })
	c := NewCompiler(ctx)
	src := "name = %q\ncode = \"LOAD_CONST 0\\nRETURN_VALUE\"\n[[consts]]\nint = %d\n"
	one := unit(t, fmt.Sprintf(src, "one", 1))
	two := unit(t, fmt.Sprintf(src, "two", 2))
	require.Equal(t, one.Code.Code.Bytes(), two.Code.Code.Bytes())

	a, err := c.Compile(one)
	require.NoError(t, err)
	require.True(t, c.IsCompiled(one))
	require.False(t, c.IsCompiled(two))

	b, err := c.Compile(two)
	require.NoError(t, err)
	require.NotEqual(t, a.Hash, b.Hash)
	names, err := ctx.Cache().Names()
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, names)
}

func TestCompileAllCollectsEveryFailure(t *testing.T) {
	ctx := newContext(t, func(cfg *Config) { cfg.Workers = 2 })
	c := NewCompiler(ctx)
	units := []*Unit{
		unit(t, identUnit),
		unit(t, unsupportedUnit),
		unit(t, callsUnit),
		unit(t, unsupportedUnit),
	}
	results, err := c.CompileAll(units)
	require.Error(t, err)
	require.ErrorIs(t, err, hir.ErrUnsupported)
	require.Len(t, results, 4)
	require.NotNil(t, results[0])
	require.Nil(t, results[1])
	require.NotNil(t, results[2])
	require.Nil(t, results[3])
	require.Equal(t, CompilerStats{Compiled: 2, Failed: 2}, c.Stats())
}

func TestCompileWritesCodeCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.db")
	ctx := newContext(t, func(cfg *Config) { cfg.CodeCache = path })
	u := unit(t, callsUnit)
	out, err := NewCompiler(ctx).Compile(u)
	require.NoError(t, err)

	a, err := ctx.Cache().Load(out.Hash)
	require.NoError(t, err)
	require.Equal(t, u.ID, a.UnitID)
	require.Equal(t, "calls", a.Name)
	require.Equal(t, "wordcode-cached", a.Encoding)
	require.Equal(t, out.LIR.Deopts.Len(), a.Deopts.Len())
}

func TestHotUnitsCompileInBackground(t *testing.T) {
	ctx := newContext(t, func(cfg *Config) { cfg.Profile.HotThreshold = 3 })
	c := NewCompiler(ctx)
	p := NewProfiler(ctx.Config.Profile)
	c.Start(p)
	defer c.Stop()

	u := unit(t, identUnit)
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RecordInvocation(u)
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		_, state := ctx.Slots.Entry("ident")
		return state == SlotCompiled
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(1), c.Stats().Compiled)
}
