// hackwasm compiles stack VM programs (.vm files) to WebAssembly modules.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/manifest"
	"github.com/chazu/hackwasm/server"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "cache" {
		handleCacheCommand(os.Args[2:])
		return
	}

	verbose := flag.Bool("v", false, "Verbose output")
	output := flag.String("o", "", "Output module path, or object directory with -c")
	textPath := flag.String("S", "", "Also write a text listing of the module to this path")
	mapPath := flag.String("map", "", "Also write a YAML link map to this path")
	compileOnly := flag.Bool("c", false, "Compile each unit to an object file without linking")
	runFunc := flag.String("run", "", "Call an exported function after building (e.g. 'Main.main')")
	runArgs := flag.String("args", "", "Comma-separated i32 arguments for -run")
	stride := flag.String("stride", "", "Cell stride: word or halfword")
	temp := flag.String("temp", "", "Temp segment storage: globals or memory")
	arity := flag.String("arity", "", "Parameter count policy: derived or widen")
	yield := flag.Bool("yield", false, "Call the imported yield function at every dispatch")
	noCache := flag.Bool("no-cache", false, "Do not use the object cache")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hackwasm [options] [paths...]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles .vm files (and links .hwo objects) from the given paths, or from\n")
		fmt.Fprintf(os.Stderr, "the sources listed in the nearest %s.\n\n", manifest.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hackwasm                          # Build the project in this directory\n")
		fmt.Fprintf(os.Stderr, "  hackwasm -o prog.wasm src/        # Build every .vm under src/\n")
		fmt.Fprintf(os.Stderr, "  hackwasm -c -o obj/ src/Math.vm   # Compile Math.vm to obj/Math.hwo\n")
		fmt.Fprintf(os.Stderr, "  hackwasm obj/Math.hwo src/Main.vm # Link an object with a fresh unit\n")
		fmt.Fprintf(os.Stderr, "  hackwasm -run Main.fib -args 10   # Build, then call Main.fib(10)\n")
		fmt.Fprintf(os.Stderr, "  hackwasm -lsp                     # Language server for editors\n")
		fmt.Fprintf(os.Stderr, "\nCache:\n")
		fmt.Fprintf(os.Stderr, "  hackwasm cache stats|prune|clear\n")
	}
	flag.Parse()

	verbosity := -1
	if *verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fatalf("Error loading manifest: %v", err)
	}

	target := manifest.TargetConfig{}
	if m != nil {
		target = m.Target
	}
	if *stride != "" {
		target.Stride = *stride
	}
	if *temp != "" {
		target.Temp = *temp
	}
	if *arity != "" {
		target.Arity = *arity
	}
	if *yield {
		target.Yield = true
	}
	opts, err := target.Options()
	if err != nil {
		fatalf("Error: %v", err)
	}

	// Start language server if requested
	if *lspMode {
		if err := server.NewLSP(opts).Run(); err != nil {
			fatalf("Server error: %v", err)
		}
		os.Exit(0)
	}

	sources, objects, err := inputs(flag.Args(), m)
	if err != nil {
		fatalf("Error: %v", err)
	}

	ctx := context.Background()

	if *compileOnly {
		dir := *output
		if dir == "" {
			dir = "."
		}
		if err := compileObjects(sources, objects, opts, dir, *verbose); err != nil {
			fatalf("Error: %v", err)
		}
		os.Exit(0)
	}

	cfg := buildConfig{
		opts:     opts,
		output:   *output,
		textPath: *textPath,
		mapPath:  *mapPath,
		verbose:  *verbose,
	}
	if m != nil {
		if cfg.output == "" {
			cfg.output = m.OutputPath()
		}
		if cfg.textPath == "" {
			cfg.textPath = m.TextPath()
		}
		if cfg.mapPath == "" {
			cfg.mapPath = m.MapPath()
		}
	}
	if cfg.output == "" {
		cfg.output = "out.wasm"
	}

	useCache := !*noCache && (m == nil || m.Cache.Enabled)
	if useCache {
		cachePath := ""
		if m != nil {
			cachePath = m.CachePath()
		}
		cache, err := openCache(cachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: object cache disabled: %v\n", err)
		} else {
			defer cache.Close()
			cfg.cache = cache
		}
	}

	bin, err := build(ctx, sources, objects, cfg)
	if err != nil {
		fatalf("Error: %v", err)
	}

	// Run entry point if specified
	if *runFunc != "" {
		args, err := parseArgs(*runArgs)
		if err != nil {
			fatalf("Error: %v", err)
		}
		result, err := runModule(ctx, bin, opts, *runFunc, args, *verbose)
		if err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Println(result)
	}
}

// inputs splits command-line paths into .vm sources and .hwo objects.
// Without paths the manifest's sources are used.
func inputs(paths []string, m *manifest.Manifest) (sources, objects []string, err error) {
	if len(paths) == 0 {
		if m == nil {
			return nil, nil, fmt.Errorf("no input files and no %s found", manifest.FileName)
		}
		sources, err = m.SourceFiles()
		return sources, nil, err
	}

	var rest []string
	for _, p := range paths {
		if filepath.Ext(p) == compiler.ObjectExt {
			objects = append(objects, p)
		} else {
			rest = append(rest, p)
		}
	}
	if len(rest) > 0 {
		if sources, err = manifest.CollectSources(rest); err != nil {
			return nil, nil, err
		}
	}
	return sources, objects, nil
}

func parseArgs(s string) ([]int32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args []int32
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad argument %q: %w", f, err)
		}
		args = append(args, int32(v))
	}
	return args, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
