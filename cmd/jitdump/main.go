// jitdump prints the stages of compiling TOML unit files: the decoded
// bytecode, the HIR with its deopt bindings, and the lowered LIR.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/jitcore/bytecode"
	"github.com/chazu/jitcore/hir"
	"github.com/chazu/jitcore/jit"
	"github.com/chazu/jitcore/lir"
)

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0 logs warnings and errors only)")
	configPath := flag.String("config", "", "Compiler config file (TOML)")
	showBytecode := flag.Bool("bytecode", true, "Print decoded bytecode")
	showHIR := flag.Bool("hir", true, "Print HIR")
	showLIR := flag.Bool("lir", true, "Print LIR")
	showDeopt := flag.Bool("deopt", false, "Print frame states and live values in the HIR")
	useColor := flag.Bool("color", false, "Colorize HIR output")
	install := flag.Bool("install", false, "Install into code memory and report exits and patchpoints")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jitdump [options] unit.toml...\n\n")
		fmt.Fprintf(os.Stderr, "Compiles each unit file and prints its intermediate forms.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jitdump f.toml                  # bytecode, HIR and LIR\n")
		fmt.Fprintf(os.Stderr, "  jitdump -bytecode=false -deopt f.toml\n")
		fmt.Fprintf(os.Stderr, "  jitdump -config jit.toml -install f.toml g.toml\n")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	commonlog.Configure(*verbose, nil)

	cfg := jit.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = jit.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	ctx, err := jit.New(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Shutdown()
	compiler := jit.NewCompiler(ctx)
	printer := hir.Printer{Color: *useColor || cfg.Dump.Color, ShowDeopt: *showDeopt}

	failed := false
	for _, path := range flag.Args() {
		u, err := jit.LoadUnit(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
			continue
		}
		if *showBytecode {
			fmt.Printf("== %s bytecode (%s)\n%s\n", u.Name(), u.Code.Code.Encoding(), bytecode.Disassemble(u.Code.Code))
		}
		out, err := compiler.Compile(u)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
			continue
		}
		if *showHIR {
			fmt.Printf("== %s HIR\n%s\n", u.Name(), printer.Function(out.HIR))
		}
		if *showLIR {
			fmt.Printf("== %s LIR\n%s\n", u.Name(), lir.Print(out.LIR))
		}
		if *install {
			fmt.Printf("== %s installed at %#x\n", u.Name(), out.Entry)
			for id, exit := range out.Exits {
				m := out.LIR.Deopts.Get(id)
				fmt.Printf("  exit %d at %#x: %s (%s)\n", id, exit, m.Reason, m.Description)
			}
			for _, p := range out.Patchers {
				fmt.Printf("  patchpoint %#x -> exit %d, watching %s\n", p.Patchpoint(), p.DeoptID, p.Key)
			}
			fmt.Println()
		}
	}
	if failed {
		os.Exit(1)
	}
}
