// Servo CLI - compiles and runs Servo expressions
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/servo/compiler"
	"github.com/chazu/servo/manifest"
	"github.com/chazu/servo/pkg/bytecode"
	"github.com/chazu/servo/pkg/memory"
	"github.com/chazu/servo/server"
	"github.com/chazu/servo/store"
)

var log = commonlog.GetLogger("servo.cli")

// Exit codes beyond the interpreter's own (0, 65, 70).
const (
	exitUsage = 64
	exitIO    = 74
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options holds the parsed command line.
type options struct {
	interactive bool
	disasm      bool
	lsp         bool
	expr        string
	trace       bool
	printCode   bool
	verbose     bool
	debug       bool
	configDir   string
	noConfig    bool
	cache       bool
	noCache     bool
	cacheStats  bool
	cachePurge  bool
	paths       []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("servo", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.BoolVar(&opts.interactive, "i", false, "Start interactive REPL")
	fs.BoolVar(&opts.disasm, "d", false, "Disassemble instead of running")
	fs.BoolVar(&opts.lsp, "lsp", false, "Serve the language server protocol on stdio")
	fs.StringVar(&opts.expr, "e", "", "Evaluate an expression given on the command line")
	fs.BoolVar(&opts.trace, "trace", false, "Trace every instruction with the operand stack")
	fs.BoolVar(&opts.printCode, "print-code", false, "Disassemble each chunk after compiling")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	fs.BoolVar(&opts.debug, "debug", false, "Debug logging")
	fs.StringVar(&opts.configDir, "config", "", "Directory containing servo.toml (default: search upward from the working directory)")
	fs.BoolVar(&opts.noConfig, "no-config", false, "Ignore servo.toml and use defaults")
	fs.BoolVar(&opts.cache, "cache", false, "Use the compiled-chunk cache")
	fs.BoolVar(&opts.noCache, "no-cache", false, "Disable the compiled-chunk cache")
	fs.BoolVar(&opts.cacheStats, "cache-stats", false, "Print cache statistics and exit")
	fs.BoolVar(&opts.cachePurge, "cache-purge", false, "Delete every cache entry and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: servo [options] [file]\n\n")
		fmt.Fprintf(stderr, "Compiles and runs a Servo expression file, or starts a REPL when no file is given.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  servo                  # Start REPL\n")
		fmt.Fprintf(stderr, "  servo calc.servo       # Run a file\n")
		fmt.Fprintf(stderr, "  servo -e '3 + 4 * 2'   # Evaluate an expression\n")
		fmt.Fprintf(stderr, "  servo -d calc.servo    # Show bytecode\n")
		fmt.Fprintf(stderr, "  servo -lsp             # Language server for editors\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.paths = fs.Args()

	if len(opts.paths) > 1 {
		fs.Usage()
		return nil, errors.New("at most one file may be given")
	}
	if opts.expr != "" && len(opts.paths) > 0 {
		fs.Usage()
		return nil, errors.New("-e cannot be combined with a file")
	}
	if opts.cache && opts.noCache {
		return nil, errors.New("-cache and -no-cache are mutually exclusive")
	}
	return opts, nil
}

// loadConfig resolves servo.toml and applies command-line overrides.
func loadConfig(opts *options) (*manifest.Manifest, error) {
	var (
		cfg *manifest.Manifest
		err error
	)
	switch {
	case opts.noConfig:
		cfg = manifest.Default()
	case opts.configDir != "":
		cfg, err = manifest.Load(opts.configDir)
	default:
		cfg, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	if opts.trace {
		cfg.VM.Trace = true
	}
	if opts.printCode {
		cfg.Compiler.PrintCode = true
	}
	if opts.cache || opts.cacheStats || opts.cachePurge {
		cfg.Cache.Enabled = true
	}
	if opts.noCache {
		cfg.Cache.Enabled = false
	}
	if opts.verbose && cfg.Log.Verbosity < 1 {
		cfg.Log.Verbosity = 1
	}
	if opts.debug {
		cfg.Log.Verbosity = 2
	}
	return cfg, nil
}

func configureLogging(cfg *manifest.Manifest) {
	if path := cfg.LogPath(); path != "" {
		commonlog.Configure(cfg.Log.Verbosity, &path)
		return
	}
	commonlog.Configure(cfg.Log.Verbosity, nil)
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	configureLogging(cfg)

	vm, err := newVM(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return bytecode.InterpretRuntimeError.ExitCode()
	}
	defer vm.Free()

	if opts.lsp {
		// stdout carries the protocol stream.
		if cfg.VM.Trace {
			log.Notice("trace disabled in language server mode")
		}
		if err := server.NewLSP(vm).Run(); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	}

	var cache *store.Cache
	if cfg.Cache.Enabled {
		cache, err = store.Open(cfg.CachePath())
		if err != nil {
			if opts.cacheStats || opts.cachePurge {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return exitIO
			}
			log.Warningf("cache disabled: %v", err)
		} else {
			defer cache.Close()
		}
	}

	if opts.cacheStats || opts.cachePurge {
		return cacheCommand(cache, opts, stdout, stderr)
	}

	if cfg.VM.Trace {
		vm.Trace = stdout
	}

	r := &runner{
		vm:        vm,
		cache:     cache,
		printCode: cfg.Compiler.PrintCode,
		stdout:    stdout,
		stderr:    stderr,
	}

	switch {
	case opts.expr != "":
		return r.execute("<expr>", opts.expr, opts.disasm)
	case len(opts.paths) == 1:
		path := opts.paths[0]
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: could not read %s: %v\n", path, err)
			return exitIO
		}
		return r.execute(path, string(source), opts.disasm)
	default:
		return r.repl(stdin)
	}
}

// newVM creates a VM wired to the compiler with the configured stack limits.
func newVM(cfg *manifest.Manifest) (*bytecode.VM, error) {
	vm := bytecode.NewVM()
	vm.UseCompiler(compiler.Compile)
	if err := vm.SetStackLimits(cfg.VM.StackCapacity, cfg.VM.MaxStack); err != nil {
		vm.Free()
		return nil, err
	}
	return vm, nil
}

func cacheCommand(cache *store.Cache, opts *options, stdout, stderr io.Writer) int {
	if opts.cachePurge {
		n, err := cache.Purge()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitIO
		}
		fmt.Fprintf(stdout, "Purged %d entries from %s\n", n, cache.Path())
	}
	if opts.cacheStats {
		stats, err := cache.Stats()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitIO
		}
		fmt.Fprintf(stdout, "Cache:   %s\n", cache.Path())
		fmt.Fprintf(stdout, "Entries: %d\n", stats.Entries)
		fmt.Fprintf(stdout, "Bytes:   %d\n", stats.Bytes)
		fmt.Fprintf(stdout, "Hits:    %d\n", stats.Hits)
	}
	return 0
}

// runner compiles and executes source on one VM.
type runner struct {
	vm        *bytecode.VM
	cache     *store.Cache
	printCode bool
	stdout    io.Writer
	stderr    io.Writer
	fatal     bool // set once an allocation failure has been reported
}

// compile returns the chunk for source, from the cache when enabled.
func (r *runner) compile(source string) (*bytecode.Chunk, error) {
	if r.cache == nil {
		return compiler.CompileChunk(source)
	}
	chunk, hit, err := r.cache.GetOrCompile(source, compiler.CompileChunk)
	if err == nil {
		log.Debugf("cache hit: %v", hit)
	}
	return chunk, err
}

// execute compiles and runs (or disassembles) source, reporting errors
// and printing the result. It returns the exit code.
func (r *runner) execute(name, source string, disasm bool) int {
	if r.cache == nil && !disasm && !r.printCode {
		return r.finish(r.vm.Interpret(source))
	}

	chunk, err := r.compile(source)
	if err != nil {
		r.report(err)
		if memory.IsFatal(err) {
			return bytecode.InterpretRuntimeError.ExitCode()
		}
		return bytecode.InterpretCompileError.ExitCode()
	}
	defer chunk.Free()

	if disasm {
		fmt.Fprint(r.stdout, chunk.Disassemble(name))
		return 0
	}
	if r.printCode {
		fmt.Fprint(r.stdout, chunk.Disassemble(name))
	}
	return r.finish(r.vm.Run(chunk))
}

// finish reports the outcome of a run and returns its exit code.
func (r *runner) finish(result bytecode.InterpretResult, err error) int {
	if err != nil {
		r.report(err)
	} else if top, ok := r.vm.Top(); ok {
		fmt.Fprintln(r.stdout, top)
	}
	return result.ExitCode()
}

// report prints an error the way the interpreter describes it.
func (r *runner) report(err error) {
	var list compiler.ErrorList
	switch {
	case memory.IsFatal(err):
		r.fatal = true
		fmt.Fprintf(r.stderr, "fatal: %v\n", err)
	case errors.As(err, &list):
		for _, e := range list {
			fmt.Fprintln(r.stderr, e)
		}
	default:
		fmt.Fprintln(r.stderr, err)
	}
}
