package wasm

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateSymbol   = errors.New("duplicate symbol")
	ErrUnresolvedSymbol  = errors.New("unresolved symbol")
	ErrDuplicateExport   = errors.New("duplicate export")
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	ErrInvalidBody       = errors.New("invalid function body")
	ErrTooManyMemories   = errors.New("more than one memory")
)

// Validate checks that every symbol resolves, exports are unique and each
// function body is well nested and balanced on the operand stack. It is
// run by Encode as well.
func (m *Module) Validate() error {
	_, err := m.validate()
	return err
}

func (m *Module) validate() (*symbols, error) {
	syms, err := m.resolve()
	if err != nil {
		return nil, err
	}
	memories := len(m.Memories)
	for _, imp := range m.Imports {
		if imp.Kind == ExternMemory {
			memories++
		}
	}
	if memories > 1 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyMemories, memories)
	}
	seen := make(map[string]bool)
	for _, ex := range m.Exports {
		if seen[ex.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateExport, ex.Name)
		}
		seen[ex.Name] = true
		switch ex.Kind {
		case ExternFunc:
			if _, ok := syms.funcs[ex.Symbol]; !ok {
				return nil, fmt.Errorf("%w: exported function $%s", ErrUnresolvedSymbol, ex.Symbol)
			}
		case ExternGlobal:
			if _, ok := syms.globals[ex.Symbol]; !ok {
				return nil, fmt.Errorf("%w: exported global $%s", ErrUnresolvedSymbol, ex.Symbol)
			}
		case ExternMemory:
			if !m.HasMemory() {
				return nil, fmt.Errorf("%w: exported memory %q", ErrUnresolvedSymbol, ex.Name)
			}
		}
	}
	for _, f := range m.Funcs {
		v := &bodyValidator{m: m, syms: syms, f: f}
		if err := v.run(); err != nil {
			return nil, fmt.Errorf("function $%s: %w", f.Name, err)
		}
	}
	return syms, nil
}

// ---------------------------------------------------------------------------
// Body validation: structured control and operand stack heights
// ---------------------------------------------------------------------------

type ctrlFrame struct {
	op          Opcode
	height      int
	results     int
	unreachable bool
}

// labelArity is the number of values a branch to this frame carries.
func (c *ctrlFrame) labelArity() int {
	if c.op == OpLoop {
		return 0
	}
	return c.results
}

type bodyValidator struct {
	m      *Module
	syms   *symbols
	f      *Func
	frames []*ctrlFrame
	height int
	pc     int
}

func (v *bodyValidator) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: at %d: %s", ErrInvalidBody, v.pc, fmt.Sprintf(format, args...))
}

func (v *bodyValidator) top() *ctrlFrame {
	return v.frames[len(v.frames)-1]
}

func (v *bodyValidator) pop(n int) error {
	top := v.top()
	if v.height-n < top.height {
		if top.unreachable {
			v.height = top.height
			return nil
		}
		return v.errorf("operand stack underflow")
	}
	v.height -= n
	return nil
}

func (v *bodyValidator) setUnreachable() {
	top := v.top()
	v.height = top.height
	top.unreachable = true
}

func (v *bodyValidator) label(depth uint32) (*ctrlFrame, error) {
	if int(depth) >= len(v.frames) {
		return nil, v.errorf("branch depth %d exceeds nesting %d", depth, len(v.frames))
	}
	return v.frames[len(v.frames)-1-int(depth)], nil
}

func blockResults(bt ValType) int {
	if bt == 0 || bt == BlockVoid {
		return 0
	}
	return 1
}

func (v *bodyValidator) run() error {
	nlocals := uint32(len(v.f.Type.Params) + len(v.f.Locals))
	v.frames = []*ctrlFrame{{op: OpBlock, results: len(v.f.Type.Results)}}

	for pc, in := range v.f.Body {
		v.pc = pc
		info, ok := GetOpcodeInfo(in.Op)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedOpcode, in.Op)
		}

		switch in.Op {
		case OpBlock, OpLoop:
			v.frames = append(v.frames, &ctrlFrame{op: in.Op, height: v.height, results: blockResults(in.Block)})

		case OpIf:
			if err := v.pop(1); err != nil {
				return err
			}
			v.frames = append(v.frames, &ctrlFrame{op: OpIf, height: v.height, results: blockResults(in.Block)})

		case OpElse:
			top := v.top()
			if top.op != OpIf || len(v.frames) == 1 {
				return v.errorf("else without if")
			}
			if !top.unreachable && v.height != top.height+top.results {
				return v.errorf("if arm leaves %d values, want %d", v.height-top.height, top.results)
			}
			v.height = top.height
			top.unreachable = false
			top.op = OpElse

		case OpEnd:
			if len(v.frames) == 1 {
				return v.errorf("end without block")
			}
			top := v.top()
			if !top.unreachable && v.height != top.height+top.results {
				return v.errorf("%s leaves %d values, want %d", top.op, v.height-top.height, top.results)
			}
			v.frames = v.frames[:len(v.frames)-1]
			v.height = top.height + top.results

		case OpBr:
			target, err := v.label(in.Index)
			if err != nil {
				return err
			}
			if err := v.pop(target.labelArity()); err != nil {
				return err
			}
			v.setUnreachable()

		case OpBrIf:
			if err := v.pop(1); err != nil {
				return err
			}
			target, err := v.label(in.Index)
			if err != nil {
				return err
			}
			if err := v.pop(target.labelArity()); err != nil {
				return err
			}
			v.height += target.labelArity()

		case OpBrTable:
			if len(in.Labels) == 0 {
				return v.errorf("br_table without default")
			}
			if err := v.pop(1); err != nil {
				return err
			}
			var arity = -1
			for _, l := range in.Labels {
				target, err := v.label(l)
				if err != nil {
					return err
				}
				if arity >= 0 && target.labelArity() != arity {
					return v.errorf("br_table targets disagree on arity")
				}
				arity = target.labelArity()
			}
			if err := v.pop(arity); err != nil {
				return err
			}
			v.setUnreachable()

		case OpReturn:
			if err := v.pop(len(v.f.Type.Results)); err != nil {
				return err
			}
			v.setUnreachable()

		case OpUnreachable:
			v.setUnreachable()

		case OpCall:
			idx, ok := v.syms.funcs[in.Symbol]
			if !ok {
				return fmt.Errorf("%w: function $%s", ErrUnresolvedSymbol, in.Symbol)
			}
			typ := v.syms.types[idx]
			if err := v.pop(len(typ.Params)); err != nil {
				return err
			}
			v.height += len(typ.Results)

		case OpLocalGet, OpLocalSet, OpLocalTee:
			if in.Index >= nlocals {
				return v.errorf("local %d out of range (%d locals)", in.Index, nlocals)
			}
			if err := v.pop(info.pops); err != nil {
				return err
			}
			v.height += info.pushes

		case OpGlobalGet, OpGlobalSet:
			mutable, ok := v.syms.mutable[in.Symbol]
			if !ok {
				return fmt.Errorf("%w: global $%s", ErrUnresolvedSymbol, in.Symbol)
			}
			if in.Op == OpGlobalSet && !mutable {
				return v.errorf("global.set of immutable $%s", in.Symbol)
			}
			if err := v.pop(info.pops); err != nil {
				return err
			}
			v.height += info.pushes

		default:
			if info.imm == immMem {
				if !v.m.HasMemory() {
					return v.errorf("%s without memory", in.Op)
				}
				if in.Align > info.natural {
					return v.errorf("%s alignment 2^%d exceeds natural 2^%d", in.Op, in.Align, info.natural)
				}
			}
			if err := v.pop(info.pops); err != nil {
				return err
			}
			v.height += info.pushes
		}
	}

	if len(v.frames) != 1 {
		return v.errorf("%d unclosed blocks", len(v.frames)-1)
	}
	top := v.top()
	if !top.unreachable && v.height != top.results {
		return v.errorf("function body leaves %d values, want %d", v.height, top.results)
	}
	return nil
}
