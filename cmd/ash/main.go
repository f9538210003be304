// Ash CLI - compiles and runs Ash programs
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/ashlang/ash/cache"
	"github.com/ashlang/ash/compiler"
	"github.com/ashlang/ash/dist"
	"github.com/ashlang/ash/manifest"
	"github.com/ashlang/ash/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("ash.cli")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	check := flag.Bool("check", false, "Analyze only; do not run")
	emit := flag.String("o", "", "Write the compiled image to this path")
	noCache := flag.Bool("no-cache", false, "Skip the compiled-module cache")
	noFold := flag.Bool("no-fold", false, "Disable constant folding")
	gcStats := flag.Bool("gc-stats", false, "Log collection statistics after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ash [options] [file.ash]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles and runs an Ash program. Without a file argument the\n")
		fmt.Fprintf(os.Stderr, "entry point from the nearest ash.toml is used.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	// Resolve the source file: command line first, manifest second.
	var sourcePath string
	var m *manifest.Manifest
	if flag.NArg() > 0 {
		sourcePath = flag.Arg(0)
		m, _ = manifest.FindAndLoad(filepath.Dir(sourcePath))
	} else {
		var err error
		m, err = manifest.FindAndLoad(".")
		if err != nil {
			fatalf("error loading manifest: %v", err)
		}
		if m == nil {
			flag.Usage()
			os.Exit(2)
		}
		sourcePath = m.EntryPath()
	}

	folding := !*noFold
	logGC := *gcStats
	if m != nil {
		if m.Options.ConstantFolding && !*noFold {
			folding = true
		}
		logGC = logGC || m.Options.GCStats
	}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		fatalf("cannot read %s: %v", sourcePath, err)
	}

	// Try the compiled-module cache first.
	var store *cache.Store
	hash := cache.HashSource(source)
	if m != nil && !*noCache {
		store = openCache(m)
		if store != nil {
			defer store.Close()
		}
	}
	if store != nil && !*check && *emit == "" {
		if data, ok, err := store.Get(hash); err == nil && ok {
			img, err := dist.UnmarshalImage(data)
			if err == nil {
				log.Debugf("cache hit for %s", sourcePath)
				os.Exit(run(img, logGC))
			}
			log.Warningf("discarding bad cache entry: %v", err)
		}
	}

	// Compile: lex, parse, analyze, emit.
	lexer := compiler.NewLexer(string(source), sourcePath)
	parser := compiler.NewParser(lexer.ScanTokens(), sourcePath)
	unit := parser.Parse()

	state := compiler.NewCompilerState()
	state.Options.ConstantFolding = folding
	state.Diagnostics = append(state.Diagnostics, parser.Errors()...)

	analyzer := compiler.NewSemanticAnalyzer(state)
	analyzer.Analyze(unit)

	for _, diag := range state.Diagnostics {
		fmt.Fprintln(os.Stderr, diag)
	}
	if state.HasErrors() {
		os.Exit(1)
	}
	if *check {
		return
	}

	codegen := compiler.NewCodegen(state)
	prog, err := codegen.Compile(unit)
	if err != nil {
		fatalf("codegen: %v", err)
	}

	img := &dist.Image{
		Version: dist.FormatVersion,
		Module:  unit.Name,
		Entry:   prog.Entry,
		Code:    prog.Code,
	}
	for _, fn := range prog.Functions {
		img.Functions = append(img.Functions, dist.FunctionEntry{
			Name:        fn.Name,
			Address:     fn.Address,
			NumArgs:     fn.NumArgs,
			GlobalIndex: fn.GlobalIndex,
		})
	}

	if *emit != "" {
		if err := dist.WriteImage(*emit, img); err != nil {
			fatalf("%v", err)
		}
		log.Infof("wrote image to %s", *emit)
		return
	}

	if store != nil {
		if data, err := dist.MarshalImage(img); err == nil {
			if err := store.Put(hash, unit.Name, data); err != nil {
				log.Warningf("cache: %v", err)
			}
		}
	}

	os.Exit(run(img, logGC))
}

// run installs the image's functions and executes its top-level code.
func run(img *dist.Image, logGC bool) int {
	machine := vm.NewVM()
	for _, fn := range img.Functions {
		ref := machine.Heap.Alloc(vm.NewFunc(fn.Address, fn.NumArgs, false))
		for len(machine.Globals) <= fn.GlobalIndex {
			machine.Globals = append(machine.Globals, vm.Reference{})
		}
		machine.Globals[fn.GlobalIndex] = ref
	}

	err := machine.Run(img.Code, img.Entry)

	stats := machine.Collect()
	if logGC {
		log.Noticef("gc: %d collected, %d live, %s", stats.Swept, stats.Live, stats.Duration)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %v\n", err)
		return 1
	}
	return 0
}

func openCache(m *manifest.Manifest) *cache.Store {
	dir := filepath.Join(m.Dir, ".ash")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warningf("cache: %v", err)
		return nil
	}
	store, err := cache.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		log.Warningf("cache: %v", err)
		return nil
	}
	return store
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
