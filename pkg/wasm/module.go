// Package wasm builds WebAssembly MVP modules and encodes them to the
// binary format.
//
// Modules are assembled from symbolic parts: functions and globals are
// referred to by name and only receive indices during Lower, which hands
// the indexed module to wabin's binary encoder. This lets a linker
// concatenate independently compiled code without rewriting it.
package wasm

import (
	"fmt"
	"strings"
)

// ValType is a value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

func (t ValType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case BlockVoid:
		return "void"
	default:
		return fmt.Sprintf("ValType(0x%02X)", byte(t))
	}
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType `cbor:"1,keyasint,omitempty"`
	Results []ValType `cbor:"2,keyasint,omitempty"`
}

// I32Func returns the signature taking params i32 values and returning
// results i32 values.
func I32Func(params, results int) FuncType {
	t := FuncType{}
	for i := 0; i < params; i++ {
		t.Params = append(t.Params, I32)
	}
	for i := 0; i < results; i++ {
		t.Results = append(t.Results, I32)
	}
	return t
}

func (t FuncType) String() string {
	var b strings.Builder
	b.WriteString("(")
	for i, p := range t.Params {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range t.Results {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(r.String())
	}
	b.WriteString(")")
	return b.String()
}

// Equal reports whether two signatures are identical.
func (t FuncType) Equal(o FuncType) bool {
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// ExternKind is the kind of an import or export.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0x00
	ExternTable  ExternKind = 0x01
	ExternMemory ExternKind = 0x02
	ExternGlobal ExternKind = 0x03
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	}
	return fmt.Sprintf("ExternKind(%d)", byte(k))
}

// Limits bounds a memory in 64KiB pages.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// PageSize is the size of one linear memory page.
const PageSize = 65536

// Import is an imported function or memory. Function imports are called
// through Symbol.
type Import struct {
	Module string
	Name   string
	Kind   ExternKind
	Symbol string   // function imports
	Type   FuncType // function imports
	Memory Limits   // memory imports
}

// Global is a module-defined global initialised with an i32 constant.
type Global struct {
	Name    string
	Type    ValType
	Mutable bool
	Init    int32
}

// Func is a module-defined function. Body excludes the final end opcode.
type Func struct {
	Name   string    `cbor:"1,keyasint"`
	Type   FuncType  `cbor:"2,keyasint"`
	Locals []ValType `cbor:"3,keyasint,omitempty"`
	Body   []Instr   `cbor:"4,keyasint,omitempty"`
}

// Export makes a function, global or memory visible to the host. Symbol
// names the exported function or global; memories are exported by index
// and ignore it.
type Export struct {
	Name   string
	Kind   ExternKind
	Symbol string
}

// Module is a WebAssembly module under construction.
type Module struct {
	Imports  []Import
	Memories []Limits
	Globals  []Global
	Funcs    []*Func
	Exports  []Export
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{}
}

// ImportMemory adds a memory import.
func (m *Module) ImportMemory(module, name string, limits Limits) {
	m.Imports = append(m.Imports, Import{Module: module, Name: name, Kind: ExternMemory, Memory: limits})
}

// ImportFunc adds a function import reachable by call $symbol.
func (m *Module) ImportFunc(module, name, symbol string, typ FuncType) {
	m.Imports = append(m.Imports, Import{Module: module, Name: name, Kind: ExternFunc, Symbol: symbol, Type: typ})
}

// AddMemory defines a memory.
func (m *Module) AddMemory(limits Limits) {
	m.Memories = append(m.Memories, limits)
}

// AddGlobal defines a global.
func (m *Module) AddGlobal(g Global) {
	m.Globals = append(m.Globals, g)
}

// AddFunc defines a function.
func (m *Module) AddFunc(f *Func) {
	m.Funcs = append(m.Funcs, f)
}

// Export adds an export.
func (m *Module) Export(name string, kind ExternKind, symbol string) {
	m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Symbol: symbol})
}

// Func returns the defined function named name, or nil.
func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// HasMemory reports whether the module defines or imports a memory.
func (m *Module) HasMemory() bool {
	if len(m.Memories) > 0 {
		return true
	}
	for _, imp := range m.Imports {
		if imp.Kind == ExternMemory {
			return true
		}
	}
	return false
}

// symbols holds the resolved index spaces of a module.
type symbols struct {
	funcs   map[string]uint32
	types   map[uint32]FuncType // by function index
	globals map[string]uint32
	mutable map[string]bool
}

// resolve assigns indices to function and global symbols. Imported
// functions come first in the function index space.
func (m *Module) resolve() (*symbols, error) {
	s := &symbols{
		funcs:   make(map[string]uint32),
		types:   make(map[uint32]FuncType),
		globals: make(map[string]uint32),
		mutable: make(map[string]bool),
	}
	var idx uint32
	for _, imp := range m.Imports {
		if imp.Kind != ExternFunc {
			continue
		}
		if _, dup := s.funcs[imp.Symbol]; dup {
			return nil, fmt.Errorf("%w: function $%s", ErrDuplicateSymbol, imp.Symbol)
		}
		s.funcs[imp.Symbol] = idx
		s.types[idx] = imp.Type
		idx++
	}
	for _, f := range m.Funcs {
		if _, dup := s.funcs[f.Name]; dup {
			return nil, fmt.Errorf("%w: function $%s", ErrDuplicateSymbol, f.Name)
		}
		s.funcs[f.Name] = idx
		s.types[idx] = f.Type
		idx++
	}
	for i, g := range m.Globals {
		if _, dup := s.globals[g.Name]; dup {
			return nil, fmt.Errorf("%w: global $%s", ErrDuplicateSymbol, g.Name)
		}
		s.globals[g.Name] = uint32(i)
		s.mutable[g.Name] = g.Mutable
	}
	return s, nil
}
