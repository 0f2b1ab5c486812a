package wasm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteText writes a WAT-like listing of the module. It is meant for
// reading, not for reassembly: functions and globals keep their symbolic
// names and blocks are indented by nesting depth.
func (m *Module) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "(module")

	for _, imp := range m.Imports {
		switch imp.Kind {
		case ExternFunc:
			fmt.Fprintf(bw, "  (import %q %q (func $%s%s))\n", imp.Module, imp.Name, imp.Symbol, signatureText(imp.Type))
		case ExternMemory:
			fmt.Fprintf(bw, "  (import %q %q (memory %s))\n", imp.Module, imp.Name, limitsText(imp.Memory))
		}
	}
	for _, l := range m.Memories {
		fmt.Fprintf(bw, "  (memory %s)\n", limitsText(l))
	}
	for _, g := range m.Globals {
		typ := g.Type.String()
		if g.Mutable {
			typ = "(mut " + typ + ")"
		}
		fmt.Fprintf(bw, "  (global $%s %s (i32.const %d))\n", g.Name, typ, g.Init)
	}
	for _, f := range m.Funcs {
		writeFuncText(bw, f)
	}
	for _, ex := range m.Exports {
		switch ex.Kind {
		case ExternMemory:
			fmt.Fprintf(bw, "  (export %q (memory 0))\n", ex.Name)
		default:
			fmt.Fprintf(bw, "  (export %q (%s $%s))\n", ex.Name, ex.Kind, ex.Symbol)
		}
	}

	fmt.Fprintln(bw, ")")
	return bw.Flush()
}

func signatureText(t FuncType) string {
	var b strings.Builder
	if len(t.Params) > 0 {
		b.WriteString(" (param")
		for _, p := range t.Params {
			b.WriteString(" " + p.String())
		}
		b.WriteString(")")
	}
	if len(t.Results) > 0 {
		b.WriteString(" (result")
		for _, r := range t.Results {
			b.WriteString(" " + r.String())
		}
		b.WriteString(")")
	}
	return b.String()
}

func limitsText(l Limits) string {
	if l.HasMax {
		return fmt.Sprintf("%d %d", l.Min, l.Max)
	}
	return fmt.Sprintf("%d", l.Min)
}

func writeFuncText(w *bufio.Writer, f *Func) {
	fmt.Fprintf(w, "  (func $%s%s\n", f.Name, signatureText(f.Type))
	if len(f.Locals) > 0 {
		w.WriteString("    (local")
		for _, l := range f.Locals {
			w.WriteString(" " + l.String())
		}
		w.WriteString(")\n")
	}
	depth := 2
	for _, in := range f.Body {
		switch in.Op {
		case OpEnd:
			depth--
		case OpElse:
			depth--
		}
		if depth < 2 {
			depth = 2
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), in)
		switch in.Op {
		case OpBlock, OpLoop, OpIf, OpElse:
			depth++
		}
	}
	w.WriteString("  )\n")
}
