package compiler

import (
	"fmt"
	"math"
	"sort"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

// ---------------------------------------------------------------------------
// Argument counts and signatures
// ---------------------------------------------------------------------------

// ArgCount returns 1 + the highest argument index the body pushes or pops,
// or 0 when the argument segment is never touched.
func ArgCount(body []vmcode.Instr) uint32 {
	var n uint32
	for _, in := range body {
		var seg vmcode.Segment
		var idx uint32
		switch in := in.(type) {
		case *vmcode.Push:
			seg, idx = in.Segment, in.Index
		case *vmcode.Pop:
			seg, idx = in.Segment, in.Index
		default:
			continue
		}
		if seg == vmcode.SegArgument && idx >= n {
			n = idx + 1
			if n == 0 {
				n = math.MaxUint32
			}
		}
	}
	return n
}

// checkFrame rejects functions whose parameters or declared locals do
// not fit the target's frame limits. Excess parameters are reported at
// the first argument reference past the limit, or at the declaration
// when a call site widened the function.
func checkFrame(src *FuncSource, params uint32) error {
	if params > vmcode.MaxParams {
		pos := src.Decl.Pos
		for _, in := range src.Body {
			var seg vmcode.Segment
			var idx uint32
			switch in := in.(type) {
			case *vmcode.Push:
				seg, idx = in.Segment, in.Index
			case *vmcode.Pop:
				seg, idx = in.Segment, in.Index
			default:
				continue
			}
			if seg == vmcode.SegArgument && idx >= vmcode.MaxParams {
				pos = in.Position()
				break
			}
		}
		return vmcode.Errorf(vmcode.ErrLimitExceeded, pos,
			fmt.Sprintf("%d parameters (max %d)", params, vmcode.MaxParams))
	}
	if src.Decl.Locals > vmcode.MaxLocals {
		return vmcode.Errorf(vmcode.ErrLimitExceeded, src.Decl.Pos,
			fmt.Sprintf("%d locals (max %d)", src.Decl.Locals, vmcode.MaxLocals))
	}
	return nil
}

// Signatures maps function names to the parameter count they are
// compiled with. Call sites consult it to pad or trim their arguments.
type Signatures map[string]uint32

// CollectSignatures computes the parameter count of every function.
// Under ArityWiden a function is widened to the largest argument count
// any call site among funcs passes to it.
func CollectSignatures(funcs []*FuncSource, policy ArityPolicy) Signatures {
	sigs := make(Signatures, len(funcs))
	for _, f := range funcs {
		sigs[f.Name()] = ArgCount(f.Body)
	}
	if policy != ArityWiden {
		return sigs
	}
	for _, f := range funcs {
		for _, in := range f.Body {
			call, ok := in.(*vmcode.Call)
			if !ok {
				continue
			}
			if p, known := sigs[call.Name]; known && call.Args > p {
				sigs[call.Name] = call.Args
			}
		}
	}
	return sigs
}

// Subset returns the entries a unit depends on: its own functions and
// every function it calls.
func (s Signatures) Subset(funcs []*FuncSource) Signatures {
	sub := make(Signatures)
	add := func(name string) {
		if p, ok := s[name]; ok {
			sub[name] = p
		}
	}
	for _, f := range funcs {
		add(f.Name())
		for _, in := range f.Body {
			if call, ok := in.(*vmcode.Call); ok {
				add(call.Name)
			}
		}
	}
	return sub
}

// Names returns the function names in sorted order.
func (s Signatures) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Static allocation
// ---------------------------------------------------------------------------

// StaticName is the global backing static slot of unit.
func StaticName(unit string, slot uint32) string {
	return fmt.Sprintf("static.%s.%d", unit, slot)
}

// TempName is the global backing temp slot i in globals mode.
func TempName(i uint32) string {
	return fmt.Sprintf("temp.%d", i)
}

// StaticTable allocates the static segment of one unit to globals. Slots
// are declared in order of first reference.
type StaticTable struct {
	Unit  string
	slots []uint32
	seen  map[uint32]bool
}

// AllocateStatics scans a unit for static references.
func AllocateStatics(u *vmcode.Unit) *StaticTable {
	t := &StaticTable{Unit: u.ID, seen: make(map[uint32]bool)}
	for _, in := range u.Instrs {
		switch in := in.(type) {
		case *vmcode.Push:
			if in.Segment == vmcode.SegStatic {
				t.add(in.Index)
			}
		case *vmcode.Pop:
			if in.Segment == vmcode.SegStatic {
				t.add(in.Index)
			}
		}
	}
	return t
}

func (t *StaticTable) add(slot uint32) {
	if t.seen[slot] {
		return
	}
	t.seen[slot] = true
	t.slots = append(t.slots, slot)
}

// Global returns the global backing slot.
func (t *StaticTable) Global(slot uint32) (string, bool) {
	if !t.seen[slot] {
		return "", false
	}
	return StaticName(t.Unit, slot), true
}

// Slots returns the referenced slots in declaration order.
func (t *StaticTable) Slots() []uint32 {
	return append([]uint32(nil), t.slots...)
}

// Globals returns the global names in declaration order.
func (t *StaticTable) Globals() []string {
	names := make([]string, len(t.slots))
	for i, s := range t.slots {
		names[i] = StaticName(t.Unit, s)
	}
	return names
}

// ---------------------------------------------------------------------------
// Control flow: labels and operand stack depth at block entry
// ---------------------------------------------------------------------------

// flow is the per-function result of the block pre-pass.
type flow struct {
	ordinals map[string]int
	entry    []int
	reached  []bool
	carries  int
}

// analyzeFlow numbers labels, resolves every branch target and computes
// the operand stack depth each block is entered with. Block 0 starts
// empty and every successor inherits its predecessor's exit depth; a
// block reachable with two different depths is rejected. Blocks never
// reached from block 0 are entered with depth 0.
func analyzeFlow(blocks []*Block) (*flow, error) {
	f := &flow{
		ordinals: make(map[string]int),
		entry:    make([]int, len(blocks)),
		reached:  make([]bool, len(blocks)),
	}
	for i, b := range blocks {
		if b.Label == nil {
			continue
		}
		if prev, dup := f.ordinals[b.Label.Name]; dup {
			return nil, vmcode.Errorf(vmcode.ErrDuplicateLabel, b.Label.Pos,
				fmt.Sprintf("%s (first defined at line %s)", b.Label.Name, blocks[prev].Label.Pos))
		}
		f.ordinals[b.Label.Name] = i
	}
	for _, b := range blocks {
		if b.Branch == nil {
			continue
		}
		if _, ok := f.ordinals[b.Target()]; !ok {
			return nil, vmcode.Errorf(vmcode.ErrUnknownLabel, b.Branch.Position(), b.Target())
		}
	}

	f.reached[0] = true
	work := []int{0}
	for len(work) > 0 {
		k := work[0]
		work = work[1:]
		b := blocks[k]

		exit, returns, err := exitDepth(b, f.entry[k])
		if err != nil {
			return nil, err
		}
		if returns {
			continue
		}
		var succ []int
		if b.Branch != nil {
			succ = append(succ, f.ordinals[b.Target()])
		}
		if b.FallsThrough() && k+1 < len(blocks) {
			succ = append(succ, k+1)
		}
		for _, s := range succ {
			if !f.reached[s] {
				f.reached[s] = true
				f.entry[s] = exit
				work = append(work, s)
				continue
			}
			if f.entry[s] != exit {
				return nil, vmcode.Errorf(vmcode.ErrInconsistentStack, blockPos(blocks[s]),
					fmt.Sprintf("block %s entered with %d and %d values", blockName(blocks[s], s), f.entry[s], exit))
			}
		}
	}

	for _, d := range f.entry {
		if d > f.carries {
			f.carries = d
		}
	}
	return f, nil
}

// exitDepth walks a block's stack effects starting from depth. A block
// that returns has no successors, but the instructions after the return
// are still checked.
func exitDepth(b *Block, depth int) (exit int, returns bool, err error) {
	step := func(in vmcode.Instr) error {
		pops, pushes := vmcode.StackEffect(in)
		if depth < pops {
			return vmcode.Errorf(vmcode.ErrStackUnderflow, in.Position(),
				fmt.Sprintf("%s needs %d values, stack has %d", in, pops, depth))
		}
		depth += pushes - pops
		return nil
	}
	for _, in := range b.Body {
		if err := step(in); err != nil {
			return 0, false, err
		}
		if _, ok := in.(*vmcode.Return); ok {
			returns = true
		}
	}
	if b.Branch != nil {
		if err := step(b.Branch); err != nil {
			return 0, false, err
		}
	}
	return depth, returns, nil
}

func blockPos(b *Block) vmcode.Pos {
	switch {
	case b.Label != nil:
		return b.Label.Pos
	case len(b.Body) > 0:
		return b.Body[0].Position()
	case b.Branch != nil:
		return b.Branch.Position()
	}
	return vmcode.Pos{}
}

func blockName(b *Block, ordinal int) string {
	if b.Label != nil {
		return b.Label.Name
	}
	return fmt.Sprintf("#%d", ordinal)
}
