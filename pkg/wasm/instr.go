package wasm

import (
	"fmt"
	"strings"
)

// BlockVoid is the block type of a block that yields no value.
const BlockVoid ValType = 0x40

// Instr is one instruction with its immediates. Function and global
// operands are symbolic and resolved to indices when the module is
// encoded, so instruction sequences can be built before the final index
// spaces are known.
type Instr struct {
	Op     Opcode   `cbor:"1,keyasint"`
	Index  uint32   `cbor:"2,keyasint,omitempty"` // local index or label depth
	Value  int32    `cbor:"3,keyasint,omitempty"` // i32.const
	Align  uint32   `cbor:"4,keyasint,omitempty"` // memarg alignment exponent
	Offset uint32   `cbor:"5,keyasint,omitempty"` // memarg offset
	Symbol string   `cbor:"6,keyasint,omitempty"` // call target or global
	Labels []uint32 `cbor:"7,keyasint,omitempty"` // br_table targets, default last
	Block  ValType  `cbor:"8,keyasint,omitempty"` // block type
}

func (in Instr) String() string {
	info, ok := GetOpcodeInfo(in.Op)
	if !ok {
		return in.Op.String()
	}
	switch info.imm {
	case immBlock:
		if in.Block != BlockVoid && in.Block != 0 {
			return fmt.Sprintf("%s (result %s)", info.Name, in.Block)
		}
		return info.Name
	case immIndex:
		return fmt.Sprintf("%s %d", info.Name, in.Index)
	case immLabels:
		parts := make([]string, len(in.Labels))
		for i, l := range in.Labels {
			parts[i] = fmt.Sprintf("%d", l)
		}
		return info.Name + " " + strings.Join(parts, " ")
	case immSymbolFunc, immSymbolGlobal:
		return fmt.Sprintf("%s $%s", info.Name, in.Symbol)
	case immMem:
		s := info.Name
		if in.Offset != 0 {
			s += fmt.Sprintf(" offset=%d", in.Offset)
		}
		if in.Align != info.natural {
			s += fmt.Sprintf(" align=%d", 1<<in.Align)
		}
		return s
	case immValue:
		return fmt.Sprintf("%s %d", info.Name, in.Value)
	}
	return info.Name
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func Op(op Opcode) Instr { return Instr{Op: op} }
func I32Const(v int32) Instr { return Instr{Op: OpI32Const, Value: v} }
func LocalGet(idx uint32) Instr { return Instr{Op: OpLocalGet, Index: idx} }
func LocalSet(idx uint32) Instr { return Instr{Op: OpLocalSet, Index: idx} }
func LocalTee(idx uint32) Instr { return Instr{Op: OpLocalTee, Index: idx} }
func GlobalGet(name string) Instr { return Instr{Op: OpGlobalGet, Symbol: name} }
func GlobalSet(name string) Instr { return Instr{Op: OpGlobalSet, Symbol: name} }
func Call(name string) Instr { return Instr{Op: OpCall, Symbol: name} }
func Br(depth uint32) Instr { return Instr{Op: OpBr, Index: depth} }
func BrIf(depth uint32) Instr { return Instr{Op: OpBrIf, Index: depth} }
func Block() Instr { return Instr{Op: OpBlock, Block: BlockVoid} }
func Loop() Instr { return Instr{Op: OpLoop, Block: BlockVoid} }
func If() Instr { return Instr{Op: OpIf, Block: BlockVoid} }
func End() Instr { return Instr{Op: OpEnd} }
func Return() Instr { return Instr{Op: OpReturn} }
func Unreachable() Instr { return Instr{Op: OpUnreachable} }

// BrTable branches to targets[i] for selector i, or to def when the
// selector is out of range.
func BrTable(targets []uint32, def uint32) Instr {
	labels := make([]uint32, 0, len(targets)+1)
	labels = append(labels, targets...)
	return Instr{Op: OpBrTable, Labels: append(labels, def)}
}

// Load builds a memory load with natural alignment.
func Load(op Opcode, offset uint32) Instr {
	return Instr{Op: op, Align: opcodeTable[op].natural, Offset: offset}
}

// Store builds a memory store with natural alignment.
func Store(op Opcode, offset uint32) Instr {
	return Instr{Op: op, Align: opcodeTable[op].natural, Offset: offset}
}
