package compiler

import (
	"fmt"

	"github.com/chazu/hackwasm/pkg/vmcode"
	"github.com/chazu/hackwasm/pkg/wasm"
)

// Function is a compiled function whose calls and globals are still
// symbolic.
type Function struct {
	Code   *wasm.Func `cbor:"1,keyasint"`
	Line   int        `cbor:"2,keyasint,omitempty"`
	Layout Layout     `cbor:"3,keyasint"`
}

// unitEnv is what compiling one unit's functions needs from outside.
type unitEnv struct {
	id      string
	opts    Options
	statics *StaticTable
	sigs    Signatures
}

// compileFunction runs the block splitter, the flow pre-pass, the
// operand-stack generator for every block and the dispatch loop.
func (e *unitEnv) compileFunction(src *FuncSource) (*Function, error) {
	fn, err := e.assemble(src)
	if err != nil {
		return nil, vmcode.WithContext(err, e.id, src.Name())
	}
	return fn, nil
}

func (e *unitEnv) assemble(src *FuncSource) (*Function, error) {
	blocks := SplitBlocks(src.Body)
	fl, err := analyzeFlow(blocks)
	if err != nil {
		return nil, err
	}

	params, ok := e.sigs[src.Name()]
	if !ok {
		params = ArgCount(src.Body)
	}
	if err := checkFrame(src, params); err != nil {
		return nil, err
	}
	g := &funcGen{
		unit: e,
		name: src.Name(),
		flow: fl,
		layout: Layout{
			Params:   params,
			Declared: src.Decl.Locals,
			Carries:  uint32(fl.carries),
			Blocks:   len(blocks),
		},
	}

	bodies := make([][]wasm.Instr, len(blocks))
	for k, blk := range blocks {
		bg := newBlockGen(g, k)
		// Code after a return is checked but not emitted.
		live := -1
		for _, in := range blk.Body {
			if err := in.Accept(bg); err != nil {
				return nil, err
			}
			if bg.returned && live < 0 {
				live = len(bg.out)
			}
		}
		if live >= 0 {
			bg.out = bg.out[:live]
		}
		_, jumps := blk.Branch.(*vmcode.Goto)
		if blk.Branch != nil && !bg.returned {
			if err := blk.Branch.Accept(bg); err != nil {
				return nil, err
			}
		}
		if !jumps {
			bg.finish()
		}
		bodies[k] = bg.out
	}

	if n := g.layout.Params + g.layout.LocalCount(); n > vmcode.MaxLocals {
		return nil, vmcode.Errorf(vmcode.ErrLimitExceeded, src.Decl.Pos,
			fmt.Sprintf("frame needs %d locals (max %d)", n, vmcode.MaxLocals))
	}
	locals := make([]wasm.ValType, g.layout.LocalCount())
	for i := range locals {
		locals[i] = wasm.I32
	}
	code := &wasm.Func{
		Name:   src.Name(),
		Type:   wasm.I32Func(int(params), 1),
		Locals: locals,
		Body:   dispatchLoop(bodies, g.layout.selector(), e.opts.Yield),
	}
	return &Function{Code: code, Line: src.Decl.Pos.Line, Layout: g.layout}, nil
}
