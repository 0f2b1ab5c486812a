package server

import (
	"errors"
	"testing"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

func TestUnitID(t *testing.T) {
	tests := map[string]string{
		"file:///proj/src/Main.vm": "Main",
		"file:///Sys.vm":           "Sys",
		"untitled":                 "untitled",
	}
	for uri, want := range tests {
		if got := unitID(uri); got != want {
			t.Errorf("unitID(%q) = %q, want %q", uri, got, want)
		}
	}
}

func TestWorkspace_IndexFunctions(t *testing.T) {
	ws := newTestWorkspace(t)
	d, ok := ws.Document(mainURI)
	if !ok {
		t.Fatal("main document missing")
	}
	if d.Err != nil {
		t.Fatalf("main document error: %v", d.Err)
	}
	if len(d.Funcs) != 1 {
		t.Fatalf("len(Funcs) = %d, want 1", len(d.Funcs))
	}
	f := d.Funcs[0]
	if f.Name != "Main.main" || f.Line != 1 || f.EndLine != 18 || f.Locals != 1 {
		t.Errorf("func = %+v, want Main.main lines 1..18 with 1 local", f)
	}
	if f.Labels["LOOP"] != 4 || f.Labels["END"] != 15 {
		t.Errorf("labels = %v, want LOOP:4 END:15", f.Labels)
	}
	wantJumps := []Site{{Name: "END", Line: 8}, {Name: "LOOP", Line: 14}}
	if len(f.Jumps) != len(wantJumps) {
		t.Fatalf("jumps = %+v, want %+v", f.Jumps, wantJumps)
	}
	for i, j := range wantJumps {
		if f.Jumps[i] != j {
			t.Errorf("jump %d = %+v, want %+v", i, f.Jumps[i], j)
		}
	}
	if len(f.Calls) != 1 || f.Calls[0] != (Site{Name: "Math.double", Line: 12, Args: 1}) {
		t.Errorf("calls = %+v, want Math.double at 12 with 1 arg", f.Calls)
	}
}

func TestWorkspace_FuncAt(t *testing.T) {
	ws := NewWorkspace(compiler.DefaultOptions())
	d := ws.Open("file:///A.vm", lines(
		"function A.a 0",
		"push constant 1",
		"return",
		"function A.b 0",
		"push constant 2",
		"return",
	))
	tests := []struct {
		line int
		want string
	}{
		{0, ""},
		{1, "A.a"},
		{3, "A.a"},
		{4, "A.b"},
		{7, "A.b"},
		{8, ""},
	}
	for _, tt := range tests {
		got := ""
		if f := d.FuncAt(tt.line); f != nil {
			got = f.Name
		}
		if got != tt.want {
			t.Errorf("FuncAt(%d) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestWorkspace_Layout(t *testing.T) {
	ws := newTestWorkspace(t)

	math, _ := ws.Document(mathURI)
	l, ok := math.Layout("Math.double")
	if !ok {
		t.Fatal("no layout for Math.double")
	}
	if l.Params != 1 || l.Declared != 0 || l.Blocks != 1 {
		t.Errorf("Math.double layout = %+v, want 1 param, 0 locals, 1 block", l)
	}

	main, _ := ws.Document(mainURI)
	l, ok = main.Layout("Main.main")
	if !ok {
		t.Fatal("no layout for Main.main")
	}
	if l.Params != 0 || l.Declared != 1 || l.Blocks != 4 {
		t.Errorf("Main.main layout = %+v, want 0 params, 1 local, 4 blocks", l)
	}

	if _, ok := main.Layout("Main.missing"); ok {
		t.Error("layout reported for undeclared function")
	}
}

func TestWorkspace_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind error
		line int
	}{
		{"parse", lines("function E.f 0", "push nowhere 1"), vmcode.ErrMalformedInstruction, 2},
		{"underflow", lines("function E.f 0", "add", "return"), vmcode.ErrStackUnderflow, 2},
		{"label", lines("function E.f 0", "goto MISSING"), vmcode.ErrUnknownLabel, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := NewWorkspace(compiler.DefaultOptions())
			d := ws.Open("file:///E.vm", tt.src)
			if !errors.Is(d.Err, tt.kind) {
				t.Fatalf("error = %v, want %v", d.Err, tt.kind)
			}
			if d.Object != nil {
				t.Error("object kept for a failing unit")
			}
			probs := ws.Problems("file:///E.vm")
			if len(probs) != 1 || probs[0].Line != tt.line || probs[0].Warning {
				t.Errorf("problems = %+v, want one error at line %d", probs, tt.line)
			}
		})
	}
}

func TestWorkspace_Queries(t *testing.T) {
	ws := newTestWorkspace(t)

	names := ws.FunctionNames()
	if len(names) != 2 || names[0] != "Main.main" || names[1] != "Math.double" {
		t.Errorf("FunctionNames() = %v", names)
	}

	d, f := ws.Declaration("Math.double")
	if f == nil || d.URI != mathURI || f.Line != 1 {
		t.Errorf("Declaration(Math.double) = %v, %+v", d, f)
	}
	if _, f := ws.Declaration("Nope.nope"); f != nil {
		t.Errorf("Declaration(Nope.nope) = %+v, want nil", f)
	}

	sites := ws.CallSites("Math.double")
	if len(sites) != 1 || len(sites[mainURI]) != 1 || sites[mainURI][0].Line != 12 {
		t.Errorf("CallSites(Math.double) = %+v", sites)
	}

	ws.Close(mathURI)
	if _, ok := ws.Document(mathURI); ok {
		t.Error("closed document still open")
	}
	if uris := ws.URIs(); len(uris) != 1 || uris[0] != mainURI {
		t.Errorf("URIs() = %v, want [%s]", uris, mainURI)
	}
	if probs := ws.Problems(mainURI); len(probs) != 1 || !probs[0].Warning {
		t.Errorf("problems after close = %+v, want one warning", probs)
	}
}

func TestWorkspace_SignaturesFromOtherDocuments(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.Arity = compiler.ArityWiden
	ws := NewWorkspace(opts)
	ws.Open(mathURI, mathSrc)
	ws.Open(mainURI, mainSrc)

	sigs := ws.signatures(mainURI)
	if p, ok := sigs["Math.double"]; !ok || p != 1 {
		t.Errorf("signatures = %v, want Math.double:1", sigs)
	}
	if _, ok := sigs["Main.main"]; ok {
		t.Error("signatures include the excluded document")
	}
}
