package wasm

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBodies(t *testing.T) {
	tests := []struct {
		name string
		typ  FuncType
		body []Instr
		want error
	}{
		{
			name: "balanced",
			typ:  I32Func(1, 1),
			body: []Instr{LocalGet(0), I32Const(1), Op(OpI32Add)},
		},
		{
			name: "underflow",
			typ:  I32Func(0, 1),
			body: []Instr{I32Const(1), Op(OpI32Add)},
			want: ErrInvalidBody,
		},
		{
			name: "leftover value",
			typ:  I32Func(0, 1),
			body: []Instr{I32Const(1), I32Const(2)},
			want: ErrInvalidBody,
		},
		{
			name: "unclosed block",
			typ:  I32Func(0, 0),
			body: []Instr{Block()},
			want: ErrInvalidBody,
		},
		{
			name: "stray end",
			typ:  I32Func(0, 0),
			body: []Instr{End()},
			want: ErrInvalidBody,
		},
		{
			name: "branch too deep",
			typ:  I32Func(0, 0),
			body: []Instr{Block(), Br(2), End()},
			want: ErrInvalidBody,
		},
		{
			name: "empty br_table",
			typ:  I32Func(0, 0),
			body: []Instr{I32Const(0), {Op: OpBrTable}},
			want: ErrInvalidBody,
		},
		{
			name: "local out of range",
			typ:  I32Func(1, 1),
			body: []Instr{LocalGet(1)},
			want: ErrInvalidBody,
		},
		{
			name: "unreachable is polymorphic",
			typ:  I32Func(0, 1),
			body: []Instr{Loop(), Unreachable(), End(), Unreachable()},
		},
		{
			name: "return then end",
			typ:  I32Func(0, 1),
			body: []Instr{Block(), I32Const(4), Return(), End(), Unreachable()},
		},
		{
			name: "if needs condition",
			typ:  I32Func(0, 0),
			body: []Instr{If(), End()},
			want: ErrInvalidBody,
		},
		{
			name: "if arm balanced",
			typ:  I32Func(1, 0),
			body: []Instr{LocalGet(0), If(), I32Const(1), LocalSet(0), Br(1), End()},
		},
		{
			name: "unknown opcode",
			typ:  I32Func(0, 0),
			body: []Instr{{Op: Opcode(0xFC)}},
			want: ErrUnsupportedOpcode,
		},
		{
			name: "memory without memory",
			typ:  I32Func(0, 1),
			body: []Instr{I32Const(0), Load(OpI32Load, 0)},
			want: ErrInvalidBody,
		},
		{
			name: "call of missing function",
			typ:  I32Func(0, 1),
			body: []Instr{Call("nowhere")},
			want: ErrUnresolvedSymbol,
		},
		{
			name: "unknown global",
			typ:  I32Func(0, 1),
			body: []Instr{GlobalGet("g")},
			want: ErrUnresolvedSymbol,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModule()
			m.AddFunc(&Func{Name: "f", Type: tt.typ, Body: tt.body})
			err := m.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateCallArity(t *testing.T) {
	m := NewModule()
	m.AddFunc(&Func{Name: "pair", Type: I32Func(2, 1), Body: []Instr{LocalGet(0)}})
	m.AddFunc(&Func{Name: "f", Type: I32Func(0, 1), Body: []Instr{I32Const(1), Call("pair")}})
	if err := m.Validate(); !errors.Is(err, ErrInvalidBody) {
		t.Errorf("Validate() = %v, want ErrInvalidBody", err)
	}
}

func TestValidateImmutableGlobal(t *testing.T) {
	m := NewModule()
	m.AddGlobal(Global{Name: "k", Type: I32, Init: 1})
	m.AddFunc(&Func{Name: "f", Type: I32Func(0, 0), Body: []Instr{I32Const(2), GlobalSet("k")}})
	err := m.Validate()
	if !errors.Is(err, ErrInvalidBody) || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("Validate() = %v, want immutable global error", err)
	}
}

func TestValidateSymbols(t *testing.T) {
	dupFunc := NewModule()
	dupFunc.AddFunc(&Func{Name: "f", Type: I32Func(0, 0)})
	dupFunc.AddFunc(&Func{Name: "f", Type: I32Func(0, 0)})

	dupImport := NewModule()
	dupImport.ImportFunc("host", "yield", "f", FuncType{})
	dupImport.AddFunc(&Func{Name: "f", Type: I32Func(0, 0)})

	dupGlobal := NewModule()
	dupGlobal.AddGlobal(Global{Name: "g", Type: I32})
	dupGlobal.AddGlobal(Global{Name: "g", Type: I32})

	dupExport := NewModule()
	dupExport.AddFunc(&Func{Name: "f", Type: I32Func(0, 0)})
	dupExport.Export("f", ExternFunc, "f")
	dupExport.Export("f", ExternFunc, "f")

	badExport := NewModule()
	badExport.Export("g", ExternFunc, "g")

	twoMemories := NewModule()
	twoMemories.ImportMemory("js", "mem", Limits{Min: 1})
	twoMemories.AddMemory(Limits{Min: 1})

	tests := []struct {
		name string
		m    *Module
		want error
	}{
		{"duplicate function", dupFunc, ErrDuplicateSymbol},
		{"import collides with function", dupImport, ErrDuplicateSymbol},
		{"duplicate global", dupGlobal, ErrDuplicateSymbol},
		{"duplicate export", dupExport, ErrDuplicateExport},
		{"export of missing function", badExport, ErrUnresolvedSymbol},
		{"imported and defined memory", twoMemories, ErrTooManyMemories},
	}
	for _, tt := range tests {
		if err := tt.m.Validate(); !errors.Is(err, tt.want) {
			t.Errorf("%s: Validate() = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestResolveImportsFirst(t *testing.T) {
	m := NewModule()
	m.AddFunc(&Func{Name: "main", Type: I32Func(0, 0)})
	m.ImportFunc("host", "yield", "yield", FuncType{})
	syms, err := m.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if syms.funcs["yield"] != 0 || syms.funcs["main"] != 1 {
		t.Errorf("indices = yield:%d main:%d, want 0 and 1", syms.funcs["yield"], syms.funcs["main"])
	}
}
