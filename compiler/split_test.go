package compiler

import (
	"errors"
	"testing"

	"github.com/chazu/hackwasm/pkg/parser"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

func parseUnit(t *testing.T, id, src string) *vmcode.Unit {
	t.Helper()
	u, err := parser.ParseUnit(id, src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return u
}

func parseBody(t *testing.T, src string) []vmcode.Instr {
	t.Helper()
	funcs, err := SplitFunctions(parseUnit(t, "T", "function f 0\n"+src))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	return funcs[0].Body
}

func TestSplitFunctions(t *testing.T) {
	u := parseUnit(t, "Main", `
function Main.a 0
  push constant 1
  return
function Main.b 2
function Main.c 0
  push constant 3
  return
`)
	funcs, err := SplitFunctions(u)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		name   string
		locals uint32
		body   int
	}{
		{"Main.a", 0, 2},
		{"Main.b", 2, 0},
		{"Main.c", 0, 2},
	}
	if len(funcs) != len(want) {
		t.Fatalf("got %d functions, want %d", len(funcs), len(want))
	}
	for i, w := range want {
		f := funcs[i]
		if f.Name() != w.name || f.Decl.Locals != w.locals || len(f.Body) != w.body {
			t.Errorf("function %d = %s locals %d body %d, want %s locals %d body %d",
				i, f.Name(), f.Decl.Locals, len(f.Body), w.name, w.locals, w.body)
		}
	}
}

func TestSplitFunctionsOutside(t *testing.T) {
	_, err := SplitFunctions(parseUnit(t, "Main", "label X\nfunction f 0\n"))
	if !errors.Is(err, vmcode.ErrInstructionOutsideFunc) {
		t.Fatalf("error = %v, want ErrInstructionOutsideFunc", err)
	}
	var ce *vmcode.Error
	if errors.As(err, &ce) && ce.Unit != "Main" {
		t.Errorf("error unit = %q, want Main", ce.Unit)
	}
}

func TestSplitBlocks(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		labels []string
		sizes  []int
		fall   []bool
	}{
		{
			name:   "straight line",
			src:    "push constant 1\nreturn\n",
			labels: []string{""},
			sizes:  []int{2},
			fall:   []bool{false},
		},
		{
			name:   "empty body",
			src:    "",
			labels: []string{""},
			sizes:  []int{0},
			fall:   []bool{true},
		},
		{
			name:   "leading label",
			src:    "label A\npush constant 1\nreturn\n",
			labels: []string{"A"},
			sizes:  []int{2},
			fall:   []bool{false},
		},
		{
			name:   "goto ends a block",
			src:    "push constant 1\npop temp 0\ngoto B\nlabel B\npush temp 0\nreturn\n",
			labels: []string{"", "B"},
			sizes:  []int{2, 2},
			fall:   []bool{false, false},
		},
		{
			name:   "if-goto falls through",
			src:    "label L\npush constant 0\nif-goto L\npush constant 2\nreturn\n",
			labels: []string{"L", ""},
			sizes:  []int{1, 2},
			fall:   []bool{true, false},
		},
		{
			name:   "adjacent labels",
			src:    "label A\nlabel B\ngoto A\n",
			labels: []string{"A", "B"},
			sizes:  []int{0, 0},
			fall:   []bool{true, false},
		},
		{
			name:   "trailing label",
			src:    "goto END\nlabel END\n",
			labels: []string{"", "END"},
			sizes:  []int{0, 0},
			fall:   []bool{false, true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := SplitBlocks(parseBody(t, tt.src))
			if len(blocks) != len(tt.labels) {
				t.Fatalf("got %d blocks, want %d", len(blocks), len(tt.labels))
			}
			for i, b := range blocks {
				if b.LabelName() != tt.labels[i] {
					t.Errorf("block %d label = %q, want %q", i, b.LabelName(), tt.labels[i])
				}
				if len(b.Body) != tt.sizes[i] {
					t.Errorf("block %d has %d instructions, want %d", i, len(b.Body), tt.sizes[i])
				}
				if b.FallsThrough() != tt.fall[i] {
					t.Errorf("block %d falls through = %v, want %v", i, b.FallsThrough(), tt.fall[i])
				}
				for _, in := range b.Body {
					switch in.(type) {
					case *vmcode.Label, *vmcode.Goto, *vmcode.IfGoto:
						t.Errorf("block %d body contains %s", i, in)
					}
				}
			}
		})
	}
}

func TestBlockTarget(t *testing.T) {
	blocks := SplitBlocks(parseBody(t, "push constant 1\nif-goto X\ngoto Y\nlabel X\nlabel Y\n"))
	want := []string{"X", "Y", "", ""}
	for i, b := range blocks {
		if b.Target() != want[i] {
			t.Errorf("block %d target = %q, want %q", i, b.Target(), want[i])
		}
	}
}

func TestSplitBlocksRejectsNestedFunction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("SplitBlocks accepted a function declaration")
		}
	}()
	SplitBlocks([]vmcode.Instr{&vmcode.Function{Name: "g"}})
}
