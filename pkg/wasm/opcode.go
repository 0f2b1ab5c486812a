package wasm

import "fmt"

// Opcode is a WebAssembly MVP instruction opcode.
type Opcode byte

const (
	// ========================================================================
	// Control
	// ========================================================================

	OpUnreachable Opcode = 0x00
	OpNop         Opcode = 0x01
	OpBlock       Opcode = 0x02 // Block: block type
	OpLoop        Opcode = 0x03 // Block: block type
	OpIf          Opcode = 0x04 // Block: block type
	OpElse        Opcode = 0x05
	OpEnd         Opcode = 0x0B
	OpBr          Opcode = 0x0C // Index: label depth
	OpBrIf        Opcode = 0x0D // Index: label depth
	OpBrTable     Opcode = 0x0E // Labels: targets, last entry is the default
	OpReturn      Opcode = 0x0F
	OpCall        Opcode = 0x10 // Symbol: function

	// ========================================================================
	// Parametric
	// ========================================================================

	OpDrop   Opcode = 0x1A
	OpSelect Opcode = 0x1B

	// ========================================================================
	// Variables
	// ========================================================================

	OpLocalGet  Opcode = 0x20 // Index: local
	OpLocalSet  Opcode = 0x21 // Index: local
	OpLocalTee  Opcode = 0x22 // Index: local
	OpGlobalGet Opcode = 0x23 // Symbol: global
	OpGlobalSet Opcode = 0x24 // Symbol: global

	// ========================================================================
	// Memory
	// ========================================================================

	OpI32Load    Opcode = 0x28 // Align, Offset
	OpI32Load16S Opcode = 0x2E // Align, Offset
	OpI32Store   Opcode = 0x36 // Align, Offset
	OpI32Store16 Opcode = 0x3B // Align, Offset

	// ========================================================================
	// Numeric (i32)
	// ========================================================================

	OpI32Const Opcode = 0x41 // Value
	OpI32Eqz   Opcode = 0x45
	OpI32Eq    Opcode = 0x46
	OpI32Ne    Opcode = 0x47
	OpI32LtS   Opcode = 0x48
	OpI32GtS   Opcode = 0x4A
	OpI32LeS   Opcode = 0x4C
	OpI32GeS   Opcode = 0x4E
	OpI32Add   Opcode = 0x6A
	OpI32Sub   Opcode = 0x6B
	OpI32Mul   Opcode = 0x6C
	OpI32And   Opcode = 0x71
	OpI32Or    Opcode = 0x72
	OpI32Xor   Opcode = 0x73
)

// immKind classifies the immediate operands of an opcode.
type immKind uint8

const (
	immNone immKind = iota
	immBlock
	immIndex
	immLabels
	immSymbolFunc
	immSymbolGlobal
	immMem
	immValue
)

// OpcodeInfo describes an opcode for the encoder, validator and printer.
type OpcodeInfo struct {
	Name string
	imm  immKind
	// Natural alignment exponent for memory instructions.
	natural uint32
	// Stack effect for straight-line type checking; -1 means special.
	pops, pushes int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpUnreachable: {Name: "unreachable", pops: -1},
	OpNop:         {Name: "nop"},
	OpBlock:       {Name: "block", imm: immBlock, pops: -1},
	OpLoop:        {Name: "loop", imm: immBlock, pops: -1},
	OpIf:          {Name: "if", imm: immBlock, pops: -1},
	OpElse:        {Name: "else", pops: -1},
	OpEnd:         {Name: "end", pops: -1},
	OpBr:          {Name: "br", imm: immIndex, pops: -1},
	OpBrIf:        {Name: "br_if", imm: immIndex, pops: -1},
	OpBrTable:     {Name: "br_table", imm: immLabels, pops: -1},
	OpReturn:      {Name: "return", pops: -1},
	OpCall:        {Name: "call", imm: immSymbolFunc, pops: -1},

	OpDrop:   {Name: "drop", pops: 1},
	OpSelect: {Name: "select", pops: 3, pushes: 1},

	OpLocalGet:  {Name: "local.get", imm: immIndex, pushes: 1},
	OpLocalSet:  {Name: "local.set", imm: immIndex, pops: 1},
	OpLocalTee:  {Name: "local.tee", imm: immIndex, pops: 1, pushes: 1},
	OpGlobalGet: {Name: "global.get", imm: immSymbolGlobal, pushes: 1},
	OpGlobalSet: {Name: "global.set", imm: immSymbolGlobal, pops: 1},

	OpI32Load:    {Name: "i32.load", imm: immMem, natural: 2, pops: 1, pushes: 1},
	OpI32Load16S: {Name: "i32.load16_s", imm: immMem, natural: 1, pops: 1, pushes: 1},
	OpI32Store:   {Name: "i32.store", imm: immMem, natural: 2, pops: 2},
	OpI32Store16: {Name: "i32.store16", imm: immMem, natural: 1, pops: 2},

	OpI32Const: {Name: "i32.const", imm: immValue, pushes: 1},
	OpI32Eqz:   {Name: "i32.eqz", pops: 1, pushes: 1},
	OpI32Eq:    {Name: "i32.eq", pops: 2, pushes: 1},
	OpI32Ne:    {Name: "i32.ne", pops: 2, pushes: 1},
	OpI32LtS:   {Name: "i32.lt_s", pops: 2, pushes: 1},
	OpI32GtS:   {Name: "i32.gt_s", pops: 2, pushes: 1},
	OpI32LeS:   {Name: "i32.le_s", pops: 2, pushes: 1},
	OpI32GeS:   {Name: "i32.ge_s", pops: 2, pushes: 1},
	OpI32Add:   {Name: "i32.add", pops: 2, pushes: 1},
	OpI32Sub:   {Name: "i32.sub", pops: 2, pushes: 1},
	OpI32Mul:   {Name: "i32.mul", pops: 2, pushes: 1},
	OpI32And:   {Name: "i32.and", pops: 2, pushes: 1},
	OpI32Or:    {Name: "i32.or", pops: 2, pushes: 1},
	OpI32Xor:   {Name: "i32.xor", pops: 2, pushes: 1},
}

// GetOpcodeInfo returns the descriptor for op and whether op is supported.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("op(0x%02X)", byte(op))
}

// IsMemory reports whether op addresses linear memory.
func (op Opcode) IsMemory() bool {
	return opcodeTable[op].imm == immMem
}
