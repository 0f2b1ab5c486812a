package compiler

import (
	"fmt"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// FuncSource is one function of a unit: its declaration and the
// instructions up to the next declaration or the end of the unit.
type FuncSource struct {
	Decl *vmcode.Function
	Body []vmcode.Instr
}

// Name returns the declared function name.
func (f *FuncSource) Name() string { return f.Decl.Name }

// SplitFunctions partitions a unit into functions. Any instruction before
// the first function declaration is an error.
func SplitFunctions(u *vmcode.Unit) ([]*FuncSource, error) {
	var funcs []*FuncSource
	var cur *FuncSource
	for _, in := range u.Instrs {
		if decl, ok := in.(*vmcode.Function); ok {
			cur = &FuncSource{Decl: decl}
			funcs = append(funcs, cur)
			continue
		}
		if cur == nil {
			err := vmcode.Errorf(vmcode.ErrInstructionOutsideFunc, in.Position(), in.String())
			return nil, vmcode.WithContext(err, u.ID, "")
		}
		cur.Body = append(cur.Body, in)
	}
	return funcs, nil
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// Block is a straight-line run of a function body. It is entered at its
// label (or by falling in from the previous block) and left through its
// branch, by falling through, or by a return in Body.
type Block struct {
	Label  *vmcode.Label // nil for blocks only reachable by fall-through
	Body   []vmcode.Instr
	Branch vmcode.Instr // *vmcode.Goto, *vmcode.IfGoto or nil
}

// LabelName returns the block's label or "".
func (b *Block) LabelName() string {
	if b.Label == nil {
		return ""
	}
	return b.Label.Name
}

// Target returns the label the block branches to, or "" when it has no
// branch.
func (b *Block) Target() string {
	switch br := b.Branch.(type) {
	case *vmcode.Goto:
		return br.Target
	case *vmcode.IfGoto:
		return br.Target
	}
	return ""
}

// FallsThrough reports whether control can continue into the next block.
func (b *Block) FallsThrough() bool {
	_, uncond := b.Branch.(*vmcode.Goto)
	return !uncond && !b.Returns()
}

// Returns reports whether the block leaves the function.
func (b *Block) Returns() bool {
	for _, in := range b.Body {
		if _, ok := in.(*vmcode.Return); ok {
			return true
		}
	}
	return false
}

func (b *Block) empty() bool {
	return b.Label == nil && len(b.Body) == 0 && b.Branch == nil
}

func (b *Block) setBranch(in vmcode.Instr) {
	if b.Branch != nil {
		panic(fmt.Sprintf("compiler: block already ends in %s, cannot add %s", b.Branch, in))
	}
	b.Branch = in
}

// SplitBlocks partitions a function body into blocks in source order.
// Empty unlabeled blocks are dropped; the result always has at least one
// block.
func SplitBlocks(body []vmcode.Instr) []*Block {
	var blocks []*Block
	cur := &Block{}
	flush := func() {
		if !cur.empty() {
			blocks = append(blocks, cur)
		}
	}
	for _, in := range body {
		switch in := in.(type) {
		case *vmcode.Label:
			flush()
			cur = &Block{Label: in}
		case *vmcode.Goto, *vmcode.IfGoto:
			cur.setBranch(in)
			blocks = append(blocks, cur)
			cur = &Block{}
		case *vmcode.Function:
			panic("compiler: function declaration inside a function body")
		default:
			cur.Body = append(cur.Body, in)
		}
	}
	flush()
	if len(blocks) == 0 {
		blocks = append(blocks, &Block{})
	}
	return blocks
}
