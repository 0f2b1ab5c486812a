package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/hackwasm/pkg/vmcode"
	"github.com/chazu/hackwasm/pkg/wasm"
)

// ErrIncompatibleObject is returned when objects built for different
// targets are linked together.
var ErrIncompatibleObject = errors.New("incompatible object")

// Link combines objects into one module: the memory import, the yield
// import when enabled, the temp globals in globals mode, then for each
// object its static globals followed by its functions. Every function is
// exported under its source name. Calls to functions no object defines
// are left for wasm.Module.Validate to report.
func Link(objs []*Object, opts Options) (*wasm.Module, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	target := opts.Fingerprint()

	m := wasm.NewModule()
	m.ImportMemory(opts.MemoryModule, opts.MemoryName, wasm.Limits{
		Min:    opts.MemoryPages,
		Max:    opts.MemoryPages,
		HasMax: true,
	})
	if opts.Yield {
		m.ImportFunc(opts.YieldModule, opts.YieldName, yieldSymbol, wasm.FuncType{})
	}
	if opts.Temp == TempGlobals {
		for i := uint32(0); i < vmcode.TempSlots; i++ {
			m.AddGlobal(wasm.Global{Name: TempName(i), Type: wasm.I32, Mutable: true})
		}
	}

	units := make(map[string]bool)
	funcs := make(map[string]string)
	for _, o := range objs {
		if o.Target != target {
			return nil, fmt.Errorf("%w: unit %s was compiled for %q, linking for %q",
				ErrIncompatibleObject, o.Unit, o.Target, target)
		}
		if units[o.Unit] {
			return nil, &vmcode.Error{Kind: vmcode.ErrDuplicateUnit, Unit: o.Unit, Msg: o.Path}
		}
		units[o.Unit] = true

		for _, name := range o.Statics {
			m.AddGlobal(wasm.Global{Name: name, Type: wasm.I32, Mutable: true})
		}
		for _, f := range o.Funcs {
			name := f.Code.Name
			if opts.Yield && name == yieldSymbol {
				return nil, &vmcode.Error{
					Kind: vmcode.ErrDuplicateFunctionName,
					Unit: o.Unit,
					Pos:  vmcode.Pos{Line: f.Line},
					Msg:  fmt.Sprintf("%s is the yield import", name),
				}
			}
			if prev, dup := funcs[name]; dup {
				return nil, &vmcode.Error{
					Kind: vmcode.ErrDuplicateFunctionName,
					Unit: o.Unit,
					Pos:  vmcode.Pos{Line: f.Line},
					Msg:  fmt.Sprintf("%s already defined in %s", name, prev),
				}
			}
			funcs[name] = o.Unit
			m.AddFunc(f.Code)
		}
	}
	for _, o := range objs {
		for _, f := range o.Funcs {
			m.Export(f.Code.Name, wasm.ExternFunc, f.Code.Name)
		}
	}
	return m, nil
}
