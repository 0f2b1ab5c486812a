package host

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/wasm"
)

// counterModule imports memory and yield and exports:
//
//	peek(i) = mem[i*4]
//	spin(n) yields n times and returns n
//	pair(a, b) = a - b
func counterModule(t *testing.T, cfg Config) []byte {
	t.Helper()
	m := wasm.NewModule()
	m.ImportMemory(cfg.MemoryModule, cfg.MemoryName, wasm.Limits{Min: cfg.MemoryPages})
	m.ImportFunc(cfg.YieldModule, cfg.YieldName, "yield", wasm.FuncType{})

	i32 := []wasm.ValType{wasm.I32}
	m.AddFunc(&wasm.Func{
		Name: "peek",
		Type: wasm.FuncType{Params: i32, Results: i32},
		Body: []wasm.Instr{
			wasm.LocalGet(0), wasm.I32Const(4), wasm.Op(wasm.OpI32Mul),
			wasm.Load(wasm.OpI32Load, 0),
		},
	})
	m.AddFunc(&wasm.Func{
		Name:   "spin",
		Type:   wasm.FuncType{Params: i32, Results: i32},
		Locals: i32,
		Body: []wasm.Instr{
			wasm.Block(),
			wasm.Loop(),
			wasm.LocalGet(1), wasm.LocalGet(0), wasm.Op(wasm.OpI32GeS), wasm.BrIf(1),
			wasm.Call("yield"),
			wasm.LocalGet(1), wasm.I32Const(1), wasm.Op(wasm.OpI32Add), wasm.LocalSet(1),
			wasm.Br(0),
			wasm.End(),
			wasm.End(),
			wasm.LocalGet(0),
		},
	})
	m.AddFunc(&wasm.Func{
		Name: "pair",
		Type: wasm.FuncType{Params: []wasm.ValType{wasm.I32, wasm.I32}, Results: i32},
		Body: []wasm.Instr{wasm.LocalGet(0), wasm.LocalGet(1), wasm.Op(wasm.OpI32Sub)},
	})
	for _, name := range []string{"peek", "spin", "pair"} {
		m.Export(name, wasm.ExternFunc, name)
	}
	bin, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return bin
}

func testConfig() Config {
	cfg := ConfigFor(compiler.DefaultOptions())
	cfg.Yield = true
	return cfg
}

func newRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	ctx := context.Background()
	r, err := New(ctx, counterModule(t, cfg), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close(ctx) })
	return r
}

func TestConfigFor(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.Stride = compiler.StrideHalfword
	opts.MemoryPages = 4
	cfg := ConfigFor(opts)
	if cfg.Stride != 2 || cfg.MemoryPages != 4 || cfg.MemoryModule != "js" || cfg.MemoryName != "mem" {
		t.Errorf("ConfigFor() = %+v", cfg)
	}
	if cfg.Yield {
		t.Errorf("yield enabled without the option")
	}
}

func TestCall(t *testing.T) {
	r := newRunner(t, testConfig())
	ctx := context.Background()

	got, err := r.Call(ctx, "pair", 50, 8)
	if err != nil || got != 42 {
		t.Errorf("pair(50, 8) = %d, %v, want 42", got, err)
	}
	got, err = r.Call(ctx, "pair", 7)
	if err != nil || got != 7 {
		t.Errorf("pair(7) = %d, %v, want 7 with the second argument zero", got, err)
	}
	if _, err := r.Call(ctx, "pair", 1, 2, 3); err == nil {
		t.Errorf("surplus arguments accepted")
	}
	if _, err := r.Call(ctx, "missing"); !errors.Is(err, ErrNoFunction) {
		t.Errorf("Call(missing) error = %v, want ErrNoFunction", err)
	}
}

func TestFunctionsAndParams(t *testing.T) {
	r := newRunner(t, testConfig())
	want := []string{"pair", "peek", "spin"}
	got := r.Functions()
	if len(got) != len(want) {
		t.Fatalf("Functions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Functions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n, err := r.Params("pair"); err != nil || n != 2 {
		t.Errorf("Params(pair) = %d, %v, want 2", n, err)
	}
	if _, err := r.Params("nope"); !errors.Is(err, ErrNoFunction) {
		t.Errorf("Params(nope) error = %v, want ErrNoFunction", err)
	}
}

func TestYieldCounting(t *testing.T) {
	cfg := testConfig()
	var seen int
	cfg.OnYield = func(context.Context) { seen++ }
	r := newRunner(t, cfg)

	if _, err := r.Call(context.Background(), "spin", 7); err != nil {
		t.Fatal(err)
	}
	if r.Yields() != 7 || seen != 7 {
		t.Errorf("yields = %d, callback saw %d, want 7", r.Yields(), seen)
	}
}

func TestCells(t *testing.T) {
	r := newRunner(t, testConfig())
	ctx := context.Background()

	if err := r.SetCell(100, -12); err != nil {
		t.Fatal(err)
	}
	if got, err := r.Cell(100); err != nil || got != -12 {
		t.Errorf("Cell(100) = %d, %v, want -12", got, err)
	}
	if got, _ := r.Call(ctx, "peek", 100); got != -12 {
		t.Errorf("module sees cell 100 = %d, want -12", got)
	}

	last := r.MemorySize()/4 - 1
	if _, err := r.Cell(last); err != nil {
		t.Errorf("Cell(last) error = %v", err)
	}
	if _, err := r.Cell(last + 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Cell past the end error = %v, want ErrOutOfBounds", err)
	}
	if err := r.SetCell(last+1, 1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("SetCell past the end error = %v, want ErrOutOfBounds", err)
	}
}

func TestHalfwordCells(t *testing.T) {
	cfg := testConfig()
	cfg.Stride = uint32(compiler.StrideHalfword)
	r := newRunner(t, cfg)

	if err := r.SetCell(3, -2); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Cell(3); got != -2 {
		t.Errorf("Cell(3) = %d, want -2", got)
	}
	if got, _ := r.Cell(2); got != 0 {
		t.Errorf("neighbouring cell 2 = %d, want 0", got)
	}
	// peek reads a word at byte 4: cells 2 and 3 little-endian.
	if got, _ := r.Call(context.Background(), "peek", 1); got != int32(-2<<16) {
		t.Errorf("peek(1) = %#x, want %#x", got, int32(-2<<16))
	}
}

func TestImportClash(t *testing.T) {
	cfg := testConfig()
	cfg.YieldModule = cfg.MemoryModule
	if _, err := New(context.Background(), nil, cfg); !errors.Is(err, ErrImportClash) {
		t.Errorf("New() error = %v, want ErrImportClash", err)
	}
}

func TestMissingImport(t *testing.T) {
	cfg := testConfig()
	bin := counterModule(t, cfg)
	cfg.Yield = false
	if _, err := New(context.Background(), bin, cfg); err == nil {
		t.Errorf("module importing yield instantiated without it")
	}
}
