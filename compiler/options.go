package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/hackwasm/pkg/wasm"
)

// ErrInvalidOptions is returned for a target configuration the compiler
// cannot honour.
var ErrInvalidOptions = errors.New("invalid target options")

// ---------------------------------------------------------------------------
// Memory convention
// ---------------------------------------------------------------------------

// Stride is the byte width of one this/that cell.
type Stride uint32

const (
	StrideWord     Stride = 4 // i32.load / i32.store
	StrideHalfword Stride = 2 // i32.load16_s / i32.store16
)

func (s Stride) String() string {
	switch s {
	case StrideWord:
		return "word"
	case StrideHalfword:
		return "halfword"
	}
	return fmt.Sprintf("Stride(%d)", uint32(s))
}

// ParseStride accepts "word" or "halfword".
func ParseStride(s string) (Stride, error) {
	switch s {
	case "word", "4":
		return StrideWord, nil
	case "halfword", "2":
		return StrideHalfword, nil
	}
	return 0, fmt.Errorf("%w: stride %q (want word or halfword)", ErrInvalidOptions, s)
}

func (s Stride) loadOp() wasm.Opcode {
	if s == StrideHalfword {
		return wasm.OpI32Load16S
	}
	return wasm.OpI32Load
}

func (s Stride) storeOp() wasm.Opcode {
	if s == StrideHalfword {
		return wasm.OpI32Store16
	}
	return wasm.OpI32Store
}

// TempMode selects where the temp segment lives.
type TempMode uint8

const (
	TempGlobals TempMode = iota // globals temp.0 .. temp.7
	TempMemory                  // memory cells TempCellBase .. TempCellBase+7
)

// TempCellBase is the first memory cell of the temp segment in memory mode.
const TempCellBase = 5

func (m TempMode) String() string {
	switch m {
	case TempGlobals:
		return "globals"
	case TempMemory:
		return "memory"
	}
	return fmt.Sprintf("TempMode(%d)", uint8(m))
}

// ParseTempMode accepts "globals" or "memory".
func ParseTempMode(s string) (TempMode, error) {
	switch s {
	case "globals":
		return TempGlobals, nil
	case "memory":
		return TempMemory, nil
	}
	return 0, fmt.Errorf("%w: temp %q (want globals or memory)", ErrInvalidOptions, s)
}

// ArityPolicy decides how many parameters a function is given.
type ArityPolicy uint8

const (
	// ArityDerived uses 1 + the highest argument index the body reads.
	ArityDerived ArityPolicy = iota
	// ArityWiden raises the derived count to the largest argument count
	// any call site in the module passes.
	ArityWiden
)

func (a ArityPolicy) String() string {
	switch a {
	case ArityDerived:
		return "derived"
	case ArityWiden:
		return "widen"
	}
	return fmt.Sprintf("ArityPolicy(%d)", uint8(a))
}

// ParseArity accepts "derived" or "widen".
func ParseArity(s string) (ArityPolicy, error) {
	switch s {
	case "derived":
		return ArityDerived, nil
	case "widen":
		return ArityWiden, nil
	}
	return 0, fmt.Errorf("%w: arity %q (want derived or widen)", ErrInvalidOptions, s)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures code generation and linking.
type Options struct {
	Stride Stride
	Temp   TempMode
	Arity  ArityPolicy

	// Imported linear memory.
	MemoryModule string
	MemoryName   string
	MemoryPages  uint32

	// Yield imports YieldModule.YieldName () -> () and calls it at the
	// head of every dispatch loop.
	Yield       bool
	YieldModule string
	YieldName   string
}

// Symbol the yield import is called through.
const yieldSymbol = "hackwasm.yield"

// DefaultOptions returns the word-stride, globals-temp, derived-arity
// target importing js.mem with two pages.
func DefaultOptions() Options {
	return Options{
		Stride:       StrideWord,
		Temp:         TempGlobals,
		Arity:        ArityDerived,
		MemoryModule: "js",
		MemoryName:   "mem",
		MemoryPages:  2,
		YieldModule:  "host",
		YieldName:    "yield",
	}
}

// Validate reports the first unusable setting.
func (o Options) Validate() error {
	switch o.Stride {
	case StrideWord, StrideHalfword:
	default:
		return fmt.Errorf("%w: stride %d", ErrInvalidOptions, uint32(o.Stride))
	}
	if o.Temp > TempMemory {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, o.Temp)
	}
	if o.Arity > ArityWiden {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, o.Arity)
	}
	if o.MemoryModule == "" || o.MemoryName == "" {
		return fmt.Errorf("%w: memory import needs a module and a name", ErrInvalidOptions)
	}
	if o.MemoryPages == 0 || o.MemoryPages > 65536 {
		return fmt.Errorf("%w: memory pages %d out of range 1..65536", ErrInvalidOptions, o.MemoryPages)
	}
	if o.Yield && (o.YieldModule == "" || o.YieldName == "") {
		return fmt.Errorf("%w: yield import needs a module and a name", ErrInvalidOptions)
	}
	return nil
}

// Fingerprint identifies the settings that shape generated code. Objects
// are only linked together when their fingerprints match.
func (o Options) Fingerprint() string {
	return fmt.Sprintf("stride=%s temp=%s arity=%s yield=%t", o.Stride, o.Temp, o.Arity, o.Yield)
}
