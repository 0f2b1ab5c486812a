package compiler

import (
	"fmt"
	"math"

	"github.com/chazu/hackwasm/pkg/vmcode"
	"github.com/chazu/hackwasm/pkg/wasm"
)

// CodegenVersion is bumped whenever the code generated for the same unit
// and options changes, so cached objects from older compilers are not
// reused.
const CodegenVersion = 2

// ---------------------------------------------------------------------------
// Local layout
// ---------------------------------------------------------------------------

// Layout records where a function keeps its state: parameters, declared
// locals, the this/that bases, the dispatch selector, the carry locals
// that hold stack values across blocks and the scratch locals used to
// order reads before writes.
type Layout struct {
	Params   uint32 `cbor:"1,keyasint" yaml:"params"`
	Declared uint32 `cbor:"2,keyasint" yaml:"locals"`
	Carries  uint32 `cbor:"3,keyasint,omitempty" yaml:"carries,omitempty"`
	Scratch  uint32 `cbor:"4,keyasint,omitempty" yaml:"scratch,omitempty"`
	Blocks   int    `cbor:"5,keyasint" yaml:"blocks"`
}

func (l Layout) thisBase() uint32    { return l.Params + l.Declared }
func (l Layout) thatBase() uint32    { return l.thisBase() + 1 }
func (l Layout) selector() uint32    { return l.thatBase() + 1 }
func (l Layout) carry(j int) uint32  { return l.selector() + 1 + uint32(j) }
func (l Layout) scratchBase() uint32 { return l.selector() + 1 + l.Carries }

// LocalCount is the number of non-parameter locals the function declares
// to the target.
func (l Layout) LocalCount() uint32 {
	return l.Declared + 3 + l.Carries + l.Scratch
}

// ---------------------------------------------------------------------------
// Operands and storage locations
// ---------------------------------------------------------------------------

// operand is a pending stack value: code that pushes exactly one i32.
// Stable operands read something no store can change before the operand
// is consumed (a constant, a scratch local or a carry local). owns lists
// scratch locals that become free once the code is emitted.
type operand struct {
	code   []wasm.Instr
	stable bool
	owns   []uint32
}

type locKind uint8

const (
	locLocal locKind = iota
	locGlobal
	locMemory
	locConst
)

// location is a storage cell named by a segment and index.
type location struct {
	kind   locKind
	local  uint32
	global string
	addr   []wasm.Instr
	offset uint32
	value  int32
}

func (l location) load(stride Stride) operand {
	switch l.kind {
	case locConst:
		return operand{code: []wasm.Instr{wasm.I32Const(l.value)}, stable: true}
	case locLocal:
		return operand{code: []wasm.Instr{wasm.LocalGet(l.local)}}
	case locGlobal:
		return operand{code: []wasm.Instr{wasm.GlobalGet(l.global)}}
	}
	code := append(append([]wasm.Instr(nil), l.addr...), wasm.Load(stride.loadOp(), l.offset))
	return operand{code: code}
}

// store returns the code writing the value pushed by v into l.
func (l location) store(stride Stride, v []wasm.Instr) []wasm.Instr {
	switch l.kind {
	case locLocal:
		return append(append([]wasm.Instr(nil), v...), wasm.LocalSet(l.local))
	case locGlobal:
		return append(append([]wasm.Instr(nil), v...), wasm.GlobalSet(l.global))
	}
	code := append(append([]wasm.Instr(nil), l.addr...), v...)
	return append(code, wasm.Store(stride.storeOp(), l.offset))
}

// ---------------------------------------------------------------------------
// Function-wide generator state
// ---------------------------------------------------------------------------

type funcGen struct {
	unit   *unitEnv
	name   string
	layout Layout
	flow   *flow
	free   []uint32
}

func (g *funcGen) allocScratch() uint32 {
	if n := len(g.free); n > 0 {
		idx := g.free[n-1]
		g.free = g.free[:n-1]
		return idx
	}
	idx := g.layout.scratchBase() + g.layout.Scratch
	g.layout.Scratch++
	return idx
}

func (g *funcGen) release(locals []uint32) {
	g.free = append(g.free, locals...)
}

func segmentError(pos vmcode.Pos, format string, args ...interface{}) error {
	return vmcode.Errorf(vmcode.ErrInvalidSegmentUse, pos, fmt.Sprintf(format, args...))
}

// locate resolves a segment reference to its storage.
func (g *funcGen) locate(seg vmcode.Segment, idx uint32, pos vmcode.Pos) (location, error) {
	opts := g.unit.opts
	switch seg {
	case vmcode.SegConstant:
		if idx > math.MaxInt32 {
			return location{}, segmentError(pos, "constant %d does not fit in i32", idx)
		}
		return location{kind: locConst, value: int32(idx)}, nil

	case vmcode.SegArgument:
		if idx >= g.layout.Params {
			return location{}, segmentError(pos, "argument %d but function has %d parameters", idx, g.layout.Params)
		}
		return location{kind: locLocal, local: idx}, nil

	case vmcode.SegLocal:
		if idx >= g.layout.Declared {
			return location{}, segmentError(pos, "local %d but function declares %d", idx, g.layout.Declared)
		}
		return location{kind: locLocal, local: g.layout.Params + idx}, nil

	case vmcode.SegPointer:
		switch idx {
		case 0:
			return location{kind: locLocal, local: g.layout.thisBase()}, nil
		case 1:
			return location{kind: locLocal, local: g.layout.thatBase()}, nil
		}
		return location{}, segmentError(pos, "pointer %d (want 0 or 1)", idx)

	case vmcode.SegThis, vmcode.SegThat:
		off := uint64(idx) * uint64(opts.Stride)
		if off > math.MaxUint32 {
			return location{}, segmentError(pos, "%s %d is outside linear memory", seg, idx)
		}
		base := g.layout.thisBase()
		if seg == vmcode.SegThat {
			base = g.layout.thatBase()
		}
		addr := []wasm.Instr{wasm.LocalGet(base), wasm.I32Const(int32(opts.Stride)), wasm.Op(wasm.OpI32Mul)}
		return location{kind: locMemory, addr: addr, offset: uint32(off)}, nil

	case vmcode.SegTemp:
		if idx >= vmcode.TempSlots {
			return location{}, segmentError(pos, "temp %d (want 0..%d)", idx, vmcode.TempSlots-1)
		}
		if opts.Temp == TempMemory {
			off := (TempCellBase + idx) * uint32(opts.Stride)
			return location{kind: locMemory, addr: []wasm.Instr{wasm.I32Const(0)}, offset: off}, nil
		}
		return location{kind: locGlobal, global: TempName(idx)}, nil

	case vmcode.SegStatic:
		name, ok := g.unit.statics.Global(idx)
		if !ok {
			return location{}, segmentError(pos, "static %d was not allocated", idx)
		}
		return location{kind: locGlobal, global: name}, nil
	}
	return location{}, segmentError(pos, "unknown segment %s", seg)
}

// ---------------------------------------------------------------------------
// Block generator
// ---------------------------------------------------------------------------

// blockGen translates the instructions of one block. It keeps the operand
// stack at compile time and only materialises values into locals when
// ordering or block boundaries require it.
type blockGen struct {
	g        *funcGen
	ordinal  int
	stack    []operand
	out      []wasm.Instr
	returned bool
}

var _ vmcode.Visitor = (*blockGen)(nil)

func newBlockGen(g *funcGen, ordinal int) *blockGen {
	b := &blockGen{g: g, ordinal: ordinal}
	for j := 0; j < g.flow.entry[ordinal]; j++ {
		b.push(operand{code: []wasm.Instr{wasm.LocalGet(g.layout.carry(j))}, stable: true})
	}
	return b
}

func (b *blockGen) push(op operand) {
	b.stack = append(b.stack, op)
}

func (b *blockGen) pop(in vmcode.Instr, n int) ([]operand, error) {
	if len(b.stack) < n {
		return nil, vmcode.Errorf(vmcode.ErrStackUnderflow, in.Position(),
			fmt.Sprintf("%s needs %d values, stack has %d", in, n, len(b.stack)))
	}
	ops := append([]operand(nil), b.stack[len(b.stack)-n:]...)
	b.stack = b.stack[:len(b.stack)-n]
	return ops, nil
}

func (b *blockGen) emit(code ...wasm.Instr) {
	b.out = append(b.out, code...)
}

// emitOperand writes op's code and frees the scratch locals it owned.
func (b *blockGen) emitOperand(op operand) {
	b.emit(op.code...)
	b.g.release(op.owns)
}

// discard drops an operand without evaluating it. Operands are pure
// reads, so nothing is lost.
func (b *blockGen) discard(op operand) {
	b.g.release(op.owns)
}

// spill stores every unstable pending operand into a scratch local, so
// the operands keep the values they had before the next store or call.
func (b *blockGen) spill() {
	for i, op := range b.stack {
		if op.stable {
			continue
		}
		b.emitOperand(op)
		s := b.g.allocScratch()
		b.emit(wasm.LocalSet(s))
		b.stack[i] = operand{code: []wasm.Instr{wasm.LocalGet(s)}, stable: true, owns: []uint32{s}}
	}
}

func merge(ops ...operand) (code []wasm.Instr, owns []uint32) {
	for _, op := range ops {
		code = append(code, op.code...)
		owns = append(owns, op.owns...)
	}
	return code, owns
}

var binaryOpcodes = [...]wasm.Opcode{
	vmcode.OpAdd: wasm.OpI32Add,
	vmcode.OpSub: wasm.OpI32Sub,
	vmcode.OpNeg: wasm.OpI32Sub,
	vmcode.OpEq:  wasm.OpI32Eq,
	vmcode.OpGt:  wasm.OpI32GtS,
	vmcode.OpLt:  wasm.OpI32LtS,
	vmcode.OpAnd: wasm.OpI32And,
	vmcode.OpOr:  wasm.OpI32Or,
	vmcode.OpNot: wasm.OpI32Xor,
}

var _ = [1]struct{}{}[len(binaryOpcodes)-vmcode.NumArithOps]

func (b *blockGen) VisitArith(in *vmcode.Arith) error {
	info := in.Op.Info()
	ops, err := b.pop(in, info.Operands)
	if err != nil {
		return err
	}
	wop := binaryOpcodes[in.Op]
	var code []wasm.Instr
	var owns []uint32
	switch {
	case in.Op == vmcode.OpNeg:
		// 0 - x
		code, owns = merge(operand{code: []wasm.Instr{wasm.I32Const(0)}}, ops[0])
		code = append(code, wasm.Op(wop))
	case in.Op == vmcode.OpNot:
		// x xor -1
		code, owns = merge(ops[0])
		code = append(code, wasm.I32Const(-1), wasm.Op(wop))
	case info.Comparison:
		// 0 - (a cmp b) turns 1/0 into -1/0.
		code, owns = merge(operand{code: []wasm.Instr{wasm.I32Const(0)}}, ops[0], ops[1])
		code = append(code, wasm.Op(wop), wasm.Op(wasm.OpI32Sub))
	default:
		code, owns = merge(ops[0], ops[1])
		code = append(code, wasm.Op(wop))
	}
	b.push(operand{code: code, owns: owns})
	return nil
}

func (b *blockGen) VisitPush(in *vmcode.Push) error {
	loc, err := b.g.locate(in.Segment, in.Index, in.Pos)
	if err != nil {
		return err
	}
	b.push(loc.load(b.g.unit.opts.Stride))
	return nil
}

func (b *blockGen) VisitPop(in *vmcode.Pop) error {
	if !in.Segment.Writable() {
		return segmentError(in.Pos, "pop %s %d: segment is read-only", in.Segment, in.Index)
	}
	loc, err := b.g.locate(in.Segment, in.Index, in.Pos)
	if err != nil {
		return err
	}
	ops, err := b.pop(in, 1)
	if err != nil {
		return err
	}
	b.spill()
	v := ops[0]
	b.emit(loc.store(b.g.unit.opts.Stride, v.code)...)
	b.g.release(v.owns)
	return nil
}

func (b *blockGen) VisitCall(in *vmcode.Call) error {
	args, err := b.pop(in, int(in.Args))
	if err != nil {
		return err
	}
	b.spill()

	params := in.Args
	if p, ok := b.g.unit.sigs[in.Name]; ok {
		params = p
	}
	if params > vmcode.MaxParams {
		return vmcode.Errorf(vmcode.ErrLimitExceeded, in.Pos,
			fmt.Sprintf("%s takes %d parameters (max %d)", in.Name, params, vmcode.MaxParams))
	}
	for i, a := range args {
		if uint32(i) < params {
			b.emitOperand(a)
		} else {
			b.discard(a)
		}
	}
	for i := in.Args; i < params; i++ {
		b.emit(wasm.I32Const(0))
	}
	b.emit(wasm.Call(in.Name))

	s := b.g.allocScratch()
	b.emit(wasm.LocalSet(s))
	b.push(operand{code: []wasm.Instr{wasm.LocalGet(s)}, stable: true, owns: []uint32{s}})
	return nil
}

func (b *blockGen) VisitReturn(in *vmcode.Return) error {
	ops, err := b.pop(in, 1)
	if err != nil {
		return err
	}
	b.emitOperand(ops[0])
	b.emit(wasm.Return())
	b.returned = true
	return nil
}

// Labels open blocks and carry no code.
func (b *blockGen) VisitLabel(*vmcode.Label) error { return nil }

func (b *blockGen) VisitFunction(in *vmcode.Function) error {
	panic(fmt.Sprintf("compiler: %s inside a function body", in))
}

// loopDepth is the branch depth of the dispatch loop from this block's
// code.
func (b *blockGen) loopDepth() uint32 {
	return uint32(len(b.g.flow.entry) - 1 - b.ordinal)
}

func (b *blockGen) VisitGoto(in *vmcode.Goto) error {
	target := b.g.flow.ordinals[in.Target]
	if !b.storeCarries(target) {
		return nil
	}
	b.emit(wasm.I32Const(int32(target)), wasm.LocalSet(b.g.layout.selector()), wasm.Br(b.loopDepth()))
	return nil
}

func (b *blockGen) VisitIfGoto(in *vmcode.IfGoto) error {
	ops, err := b.pop(in, 1)
	if err != nil {
		return err
	}
	target := b.g.flow.ordinals[in.Target]
	cond := ops[0]
	if !b.storeCarries(target) {
		b.discard(cond)
		return nil
	}
	b.emitOperand(cond)
	b.emit(
		wasm.If(),
		wasm.I32Const(int32(target)), wasm.LocalSet(b.g.layout.selector()), wasm.Br(b.loopDepth()+1),
		wasm.End(),
	)
	return nil
}

// storeCarries moves the pending stack into the carry locals successor
// expects. Operand j only reads carries j and above, so storing in
// position order never clobbers a carry that is still to be read. When
// the depth does not match, which only happens in blocks that are never
// reached, the exit is replaced by a trap.
func (b *blockGen) storeCarries(successor int) bool {
	want := b.g.flow.entry[successor]
	if len(b.stack) != want {
		for _, op := range b.stack {
			b.discard(op)
		}
		b.stack = nil
		b.emit(wasm.Unreachable())
		return false
	}
	for j, op := range b.stack {
		carry := b.g.layout.carry(j)
		if isLocalGet(op.code, carry) {
			continue
		}
		b.emitOperand(op)
		b.emit(wasm.LocalSet(carry))
		b.stack[j] = operand{code: []wasm.Instr{wasm.LocalGet(carry)}, stable: true}
	}
	return true
}

func isLocalGet(code []wasm.Instr, idx uint32) bool {
	return len(code) == 1 && code[0].Op == wasm.OpLocalGet && code[0].Index == idx
}

// finish closes a block without a branch: the stack is handed to the
// next block, or dropped when the block is the last one.
func (b *blockGen) finish() {
	if b.returned {
		return
	}
	next := b.ordinal + 1
	if next >= len(b.g.flow.entry) {
		for _, op := range b.stack {
			b.discard(op)
		}
		b.stack = nil
		return
	}
	b.storeCarries(next)
}
