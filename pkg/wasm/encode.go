package wasm

import (
	"fmt"
	"io"

	"github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/leb128"
	wabin "github.com/tetratelabs/wabin/wasm"
)

// Magic and version of the binary format.
var (
	Magic   = binary.Magic
	Version = []byte{0x01, 0x00, 0x00, 0x00}
)

// Encode validates the module and returns its binary encoding.
func (m *Module) Encode() ([]byte, error) {
	bm, err := m.Lower()
	if err != nil {
		return nil, err
	}
	return binary.EncodeModule(bm), nil
}

// EncodeTo validates the module and writes its binary encoding to w.
func (m *Module) EncodeTo(w io.Writer) error {
	bin, err := m.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(bin)
	return err
}

// Lower validates the module and resolves every symbol to its index,
// producing the indexed module the binary encoder writes. Function types
// are deduplicated and function names go to the name section.
func (m *Module) Lower() (*wabin.Module, error) {
	syms, err := m.validate()
	if err != nil {
		return nil, err
	}
	l := &lowering{m: m, syms: syms, out: &wabin.Module{}, typeIndex: make(map[string]uint32)}

	for _, imp := range m.Imports {
		if err := l.lowerImport(imp); err != nil {
			return nil, err
		}
	}
	for _, f := range m.Funcs {
		l.out.FunctionSection = append(l.out.FunctionSection, l.typeOf(f.Type))
	}
	if len(m.Memories) > 0 {
		lim := m.Memories[0]
		l.out.MemorySection = &wabin.Memory{Min: lim.Min, Max: lim.Max, IsMaxEncoded: lim.HasMax}
	}
	for _, g := range m.Globals {
		l.out.GlobalSection = append(l.out.GlobalSection, &wabin.Global{
			Type: &wabin.GlobalType{ValType: wabin.ValueType(g.Type), Mutable: g.Mutable},
			Init: &wabin.ConstantExpression{Opcode: wabin.OpcodeI32Const, Data: leb128.EncodeInt32(g.Init)},
		})
	}
	for _, ex := range m.Exports {
		l.out.ExportSection = append(l.out.ExportSection, &wabin.Export{
			Type:  wabin.ExternType(ex.Kind),
			Name:  ex.Name,
			Index: l.exportIndex(ex),
		})
	}
	for _, f := range m.Funcs {
		code, err := l.lowerFunc(f)
		if err != nil {
			return nil, fmt.Errorf("function $%s: %w", f.Name, err)
		}
		l.out.CodeSection = append(l.out.CodeSection, code)
	}
	l.nameSection()
	return l.out, nil
}

type lowering struct {
	m         *Module
	syms      *symbols
	out       *wabin.Module
	typeIndex map[string]uint32
}

// typeOf returns the index of t in the type section, adding it on first
// use.
func (l *lowering) typeOf(t FuncType) uint32 {
	k := t.String()
	if idx, ok := l.typeIndex[k]; ok {
		return idx
	}
	idx := uint32(len(l.out.TypeSection))
	l.typeIndex[k] = idx
	l.out.TypeSection = append(l.out.TypeSection, &wabin.FunctionType{
		Params:  valueTypes(t.Params),
		Results: valueTypes(t.Results),
	})
	return idx
}

func valueTypes(ts []ValType) []wabin.ValueType {
	out := make([]wabin.ValueType, len(ts))
	for i, t := range ts {
		out[i] = wabin.ValueType(t)
	}
	return out
}

func (l *lowering) lowerImport(imp Import) error {
	out := &wabin.Import{Type: wabin.ExternType(imp.Kind), Module: imp.Module, Name: imp.Name}
	switch imp.Kind {
	case ExternFunc:
		out.DescFunc = l.typeOf(imp.Type)
	case ExternMemory:
		out.DescMem = &wabin.Memory{Min: imp.Memory.Min, Max: imp.Memory.Max, IsMaxEncoded: imp.Memory.HasMax}
	default:
		return fmt.Errorf("cannot import %s %s.%s", imp.Kind, imp.Module, imp.Name)
	}
	l.out.ImportSection = append(l.out.ImportSection, out)
	return nil
}

func (l *lowering) exportIndex(ex Export) uint32 {
	switch ex.Kind {
	case ExternFunc:
		return l.syms.funcs[ex.Symbol]
	case ExternGlobal:
		return l.syms.globals[ex.Symbol]
	}
	return 0
}

func (l *lowering) lowerFunc(f *Func) (*wabin.Code, error) {
	var body []byte
	for _, in := range f.Body {
		var err error
		if body, err = l.appendInstr(body, in); err != nil {
			return nil, err
		}
	}
	body = append(body, wabin.OpcodeEnd)
	return &wabin.Code{LocalTypes: valueTypes(f.Locals), Body: body}, nil
}

func (l *lowering) appendInstr(buf []byte, in Instr) ([]byte, error) {
	info, ok := GetOpcodeInfo(in.Op)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, in.Op)
	}
	buf = append(buf, byte(in.Op))
	switch info.imm {
	case immBlock:
		bt := in.Block
		if bt == 0 {
			bt = BlockVoid
		}
		buf = append(buf, byte(bt))
	case immIndex:
		buf = append(buf, leb128.EncodeUint32(in.Index)...)
	case immLabels:
		buf = append(buf, leb128.EncodeUint32(uint32(len(in.Labels)-1))...)
		for _, lbl := range in.Labels {
			buf = append(buf, leb128.EncodeUint32(lbl)...)
		}
	case immSymbolFunc:
		idx, ok := l.syms.funcs[in.Symbol]
		if !ok {
			return nil, fmt.Errorf("%w: function $%s", ErrUnresolvedSymbol, in.Symbol)
		}
		buf = append(buf, leb128.EncodeUint32(idx)...)
	case immSymbolGlobal:
		idx, ok := l.syms.globals[in.Symbol]
		if !ok {
			return nil, fmt.Errorf("%w: global $%s", ErrUnresolvedSymbol, in.Symbol)
		}
		buf = append(buf, leb128.EncodeUint32(idx)...)
	case immMem:
		buf = append(buf, leb128.EncodeUint32(in.Align)...)
		buf = append(buf, leb128.EncodeUint32(in.Offset)...)
	case immValue:
		buf = append(buf, leb128.EncodeInt32(in.Value)...)
	}
	return buf, nil
}

// nameSection records imported and defined function names so runtimes
// can symbolise stack traces.
func (l *lowering) nameSection() {
	var names wabin.NameMap
	for _, imp := range l.m.Imports {
		if imp.Kind == ExternFunc {
			names = append(names, &wabin.NameAssoc{Index: l.syms.funcs[imp.Symbol], Name: imp.Symbol})
		}
	}
	for _, f := range l.m.Funcs {
		names = append(names, &wabin.NameAssoc{Index: l.syms.funcs[f.Name], Name: f.Name})
	}
	if len(names) > 0 {
		l.out.NameSection = &wabin.NameSection{FunctionNames: names}
	}
}
