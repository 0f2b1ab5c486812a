// Package host runs compiled modules under wazero.
//
// A Runner provides the imports a compiled module expects: a linear
// memory exported by a small provider module registered under the memory
// import's module name, and optionally the yield function. Exported
// functions are then called by name with i32 arguments.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tliron/commonlog"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/wasm"
)

var log = commonlog.GetLogger("hackwasm.host")

var (
	ErrNoFunction  = errors.New("no such exported function")
	ErrOutOfBounds = errors.New("memory access out of bounds")
	ErrImportClash = errors.New("memory and yield imports share a module name")
)

// Config describes the imports to provide.
type Config struct {
	MemoryModule string
	MemoryName   string
	MemoryPages  uint32
	Stride       uint32

	Yield       bool
	YieldModule string
	YieldName   string
	// OnYield is called on every yield, after the counter is bumped.
	OnYield func(ctx context.Context)
}

// ConfigFor returns the host configuration matching compiler options.
func ConfigFor(opts compiler.Options) Config {
	return Config{
		MemoryModule: opts.MemoryModule,
		MemoryName:   opts.MemoryName,
		MemoryPages:  opts.MemoryPages,
		Stride:       uint32(opts.Stride),
		Yield:        opts.Yield,
		YieldModule:  opts.YieldModule,
		YieldName:    opts.YieldName,
	}
}

// Runner is an instantiated module with its imports.
type Runner struct {
	cfg    Config
	rt     wazero.Runtime
	mem    api.Memory
	mod    api.Module
	yields int
}

// New instantiates bin. Calls made through the runner stop when their
// context is cancelled.
func New(ctx context.Context, bin []byte, cfg Config) (*Runner, error) {
	if cfg.Stride == 0 {
		cfg.Stride = uint32(compiler.StrideWord)
	}
	if cfg.Yield && cfg.YieldModule == cfg.MemoryModule {
		return nil, fmt.Errorf("%w: %q", ErrImportClash, cfg.MemoryModule)
	}

	r := &Runner{
		cfg: cfg,
		rt:  wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true)),
	}
	if err := r.provideMemory(ctx); err != nil {
		r.rt.Close(ctx)
		return nil, err
	}
	if cfg.Yield {
		if err := r.provideYield(ctx); err != nil {
			r.rt.Close(ctx)
			return nil, err
		}
	}

	mod, err := r.rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		r.rt.Close(ctx)
		return nil, fmt.Errorf("host: instantiate: %w", err)
	}
	r.mod = mod
	log.Debugf("instantiated module with %d exported functions", len(mod.ExportedFunctionDefinitions()))
	return r, nil
}

// provideMemory instantiates a module that only defines and exports the
// memory the compiled module imports.
func (r *Runner) provideMemory(ctx context.Context) error {
	m := wasm.NewModule()
	m.AddMemory(wasm.Limits{Min: r.cfg.MemoryPages, Max: r.cfg.MemoryPages, HasMax: true})
	m.Export(r.cfg.MemoryName, wasm.ExternMemory, "")
	bin, err := m.Encode()
	if err != nil {
		return fmt.Errorf("host: memory module: %w", err)
	}
	provider, err := r.rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(r.cfg.MemoryModule))
	if err != nil {
		return fmt.Errorf("host: memory module: %w", err)
	}
	r.mem = provider.ExportedMemory(r.cfg.MemoryName)
	return nil
}

func (r *Runner) provideYield(ctx context.Context) error {
	_, err := r.rt.NewHostModuleBuilder(r.cfg.YieldModule).
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context) {
			r.yields++
			if r.cfg.OnYield != nil {
				r.cfg.OnYield(ctx)
			}
		}).
		Export(r.cfg.YieldName).
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("host: yield module: %w", err)
	}
	return nil
}

// Close releases the runtime.
func (r *Runner) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// Functions returns the exported function names in sorted order.
func (r *Runner) Functions() []string {
	defs := r.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params returns the parameter count of an exported function.
func (r *Runner) Params(name string) (int, error) {
	def, ok := r.mod.ExportedFunctionDefinitions()[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoFunction, name)
	}
	return len(def.ParamTypes()), nil
}

// Call invokes an exported function. Missing trailing arguments are
// passed as zero; surplus arguments are an error.
func (r *Runner) Call(ctx context.Context, name string, args ...int32) (int32, error) {
	fn := r.mod.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoFunction, name)
	}
	n := len(fn.Definition().ParamTypes())
	if len(args) > n {
		return 0, fmt.Errorf("host: %s takes %d arguments, got %d", name, n, len(args))
	}
	params := make([]uint64, n)
	for i, a := range args {
		params[i] = api.EncodeI32(a)
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("host: call %s: %w", name, err)
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("host: %s returned %d values", name, len(res))
	}
	return api.DecodeI32(res[0]), nil
}

// Yields returns how often the module called the yield import.
func (r *Runner) Yields() int {
	return r.yields
}

// Cell reads memory cell i, the unit addressed by this/that at the
// configured stride.
func (r *Runner) Cell(i uint32) (int32, error) {
	addr := uint64(i) * uint64(r.cfg.Stride)
	if addr > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: cell %d", ErrOutOfBounds, i)
	}
	if r.cfg.Stride == uint32(compiler.StrideHalfword) {
		v, ok := r.mem.ReadUint16Le(uint32(addr))
		if !ok {
			return 0, fmt.Errorf("%w: cell %d", ErrOutOfBounds, i)
		}
		return int32(int16(v)), nil
	}
	v, ok := r.mem.ReadUint32Le(uint32(addr))
	if !ok {
		return 0, fmt.Errorf("%w: cell %d", ErrOutOfBounds, i)
	}
	return int32(v), nil
}

// SetCell writes memory cell i.
func (r *Runner) SetCell(i uint32, v int32) error {
	addr := uint64(i) * uint64(r.cfg.Stride)
	if addr > uint64(^uint32(0)) {
		return fmt.Errorf("%w: cell %d", ErrOutOfBounds, i)
	}
	var ok bool
	if r.cfg.Stride == uint32(compiler.StrideHalfword) {
		ok = r.mem.WriteUint16Le(uint32(addr), uint16(v))
	} else {
		ok = r.mem.WriteUint32Le(uint32(addr), uint32(v))
	}
	if !ok {
		return fmt.Errorf("%w: cell %d", ErrOutOfBounds, i)
	}
	return nil
}

// MemorySize returns the size of the linear memory in bytes.
func (r *Runner) MemorySize() uint32 {
	return r.mem.Size()
}
