package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

var instructionDocs = map[string]string{
	"add":      "Pops y and x, pushes x + y (wrapping).",
	"sub":      "Pops y and x, pushes x - y (wrapping).",
	"neg":      "Pops x, pushes -x.",
	"eq":       "Pops y and x, pushes -1 if x = y, else 0.",
	"gt":       "Pops y and x, pushes -1 if x > y (signed), else 0.",
	"lt":       "Pops y and x, pushes -1 if x < y (signed), else 0.",
	"and":      "Pops y and x, pushes the bitwise and.",
	"or":       "Pops y and x, pushes the bitwise or.",
	"not":      "Pops x, pushes the bitwise complement.",
	"push":     "`push segment index` pushes the value stored at segment[index].",
	"pop":      "`pop segment index` pops the top value into segment[index].",
	"label":    "`label NAME` marks a jump target within the current function.",
	"goto":     "`goto NAME` jumps to a label of the current function.",
	"if-goto":  "`if-goto NAME` pops a value and jumps when it is not zero.",
	"function": "`function NAME nLocals` starts a function with nLocals zeroed locals.",
	"call":     "`call NAME nArgs` calls a function with the top nArgs values and pushes its result.",
	"return":   "`return` pops the return value and leaves the function.",
}

func instructionDoc(kw string) string {
	doc, ok := instructionDocs[kw]
	if !ok {
		return ""
	}
	return fmt.Sprintf("**%s**\n\n%s", kw, doc)
}

func segmentDoc(seg vmcode.Segment, opts compiler.Options) string {
	var where string
	switch seg {
	case vmcode.SegArgument:
		where = "the function's parameters"
	case vmcode.SegLocal:
		where = "locals declared by `function`, zeroed on entry"
	case vmcode.SegStatic:
		where = "one global per slot, private to this file"
	case vmcode.SegConstant:
		where = "the literal index; read only"
	case vmcode.SegThis, vmcode.SegThat:
		base := "pointer 0"
		if seg == vmcode.SegThat {
			base = "pointer 1"
		}
		where = fmt.Sprintf("memory cells from %s, %d bytes per cell", base, opts.Stride)
	case vmcode.SegPointer:
		where = "0 is the this base, 1 the that base"
	case vmcode.SegTemp:
		if opts.Temp == compiler.TempMemory {
			where = fmt.Sprintf("memory cells %d..%d", compiler.TempCellBase, compiler.TempCellBase+vmcode.TempSlots-1)
		} else {
			where = "globals temp.0 .. temp.7, shared by all files"
		}
	}
	return fmt.Sprintf("**%s** segment: %s", seg, where)
}

// slotDoc describes where `push/pop segment index` reads or writes.
func slotDoc(d *Document, c cursor, opts compiler.Options) string {
	if len(c.fields) < 3 {
		return ""
	}
	seg, ok := vmcode.LookupSegment(c.fields[1])
	if !ok {
		return ""
	}
	idx, err := strconv.ParseUint(c.fields[2], 10, 32)
	if err != nil {
		return ""
	}
	i := uint32(idx)
	stride := uint32(opts.Stride)

	switch seg {
	case vmcode.SegConstant:
		return fmt.Sprintf("constant `%d`", i)
	case vmcode.SegStatic:
		if d.Unit == nil {
			return ""
		}
		return fmt.Sprintf("global `%s`", compiler.StaticName(d.Unit.ID, i))
	case vmcode.SegTemp:
		if opts.Temp == compiler.TempMemory {
			return fmt.Sprintf("memory byte %d", (compiler.TempCellBase+i)*stride)
		}
		return fmt.Sprintf("global `%s`", compiler.TempName(i))
	case vmcode.SegThis, vmcode.SegThat:
		base := 0
		if seg == vmcode.SegThat {
			base = 1
		}
		return fmt.Sprintf("memory byte (pointer %d + %d) * %d", base, i, stride)
	}

	f := d.FuncAt(c.line)
	if f == nil {
		return ""
	}
	layout, ok := d.Layout(f.Name)
	if !ok {
		return ""
	}
	switch seg {
	case vmcode.SegArgument:
		return fmt.Sprintf("wasm local %d (parameter %d of %d)", i, i, layout.Params)
	case vmcode.SegLocal:
		return fmt.Sprintf("wasm local %d", layout.Params+i)
	case vmcode.SegPointer:
		return fmt.Sprintf("wasm local %d", layout.Params+layout.Declared+i)
	}
	return ""
}

func functionDoc(ws *Workspace, name string) string {
	d, f := ws.Declaration(name)
	if f == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**function %s**\n\n", name)
	fmt.Fprintf(&b, "Declared in `%s` line %d with %d locals.", unitID(d.URI), f.Line, f.Locals)
	if layout, ok := d.Layout(name); ok {
		fmt.Fprintf(&b, "\n\n%d parameters, %d blocks", layout.Params, layout.Blocks)
		if layout.Carries > 0 {
			fmt.Fprintf(&b, ", %d carried stack values", layout.Carries)
		}
	}
	if n := len(ws.CallSites(name)); n > 0 {
		fmt.Fprintf(&b, "\n\nCalled from %d files.", n)
	}
	return b.String()
}
