package compiler

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/hackwasm/compiler/hash"
	"github.com/chazu/hackwasm/pkg/vmcode"
	"github.com/chazu/hackwasm/pkg/wasm"
)

const counterSrc = `
function Counter.incr 0
  push static 0
  push constant 1
  add
  pop static 0
  push static 0
  return

function Counter.twice 0
  call Counter.incr 0
  pop temp 0
  call Counter.incr 0
  return
`

const mainSrc = `
function Main.main 0
  call Counter.twice 0
  return
`

func compileObj(t *testing.T, opts Options, id, src string) *Object {
	t.Helper()
	obj, err := CompileUnit(parseUnit(t, id, src), opts, nil)
	if err != nil {
		t.Fatalf("CompileUnit(%s): %v", id, err)
	}
	return obj
}

func TestObjectRoundTrip(t *testing.T) {
	obj := compileObj(t, DefaultOptions(), "Counter", counterSrc)
	data, err := MarshalObject(obj)
	if err != nil {
		t.Fatal(err)
	}
	again, err := MarshalObject(obj)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Errorf("encoding is not deterministic")
	}

	back, err := UnmarshalObject(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.Unit != "Counter" || back.Target != DefaultOptions().Fingerprint() {
		t.Errorf("decoded unit %q target %q", back.Unit, back.Target)
	}
	if got := strings.Join(back.FuncNames(), ","); got != "Counter.incr,Counter.twice" {
		t.Errorf("FuncNames() = %s", got)
	}
	if back.Funcs[0].Layout != obj.Funcs[0].Layout {
		t.Errorf("layout = %+v, want %+v", back.Funcs[0].Layout, obj.Funcs[0].Layout)
	}
	redone, err := MarshalObject(back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, redone) {
		t.Errorf("decoded object encodes differently")
	}
}

func TestObjectVersion(t *testing.T) {
	data, err := cborEncMode.Marshal(&objectFile{Version: ObjectVersion + 1, Object: &Object{Unit: "X"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalObject(data); !errors.Is(err, ErrObjectVersion) {
		t.Errorf("error = %v, want ErrObjectVersion", err)
	}
	if _, err := UnmarshalObject([]byte{0xff, 0x00}); err == nil {
		t.Errorf("garbage decoded without error")
	}
}

func TestObjectFile(t *testing.T) {
	obj := compileObj(t, DefaultOptions(), "Counter", counterSrc)
	path := filepath.Join(t.TempDir(), "Counter"+ObjectExt)
	if err := WriteObjectFile(path, obj); err != nil {
		t.Fatal(err)
	}
	back, err := ReadObjectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Funcs) != 2 || len(back.Statics) != 1 {
		t.Errorf("read %d functions, %d statics", len(back.Funcs), len(back.Statics))
	}
}

func TestLinkOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.Yield = true
	m, err := Link([]*Object{
		compileObj(t, opts, "Counter", counterSrc),
		compileObj(t, opts, "Main", mainSrc),
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Imports) != 2 || m.Imports[0].Kind != wasm.ExternMemory || m.Imports[1].Symbol != yieldSymbol {
		t.Errorf("imports = %+v", m.Imports)
	}
	var globals []string
	for _, g := range m.Globals {
		globals = append(globals, g.Name)
	}
	if len(globals) != 9 || globals[0] != "temp.0" || globals[8] != "static.Counter.0" {
		t.Errorf("globals = %v", globals)
	}
	var exports []string
	for _, e := range m.Exports {
		exports = append(exports, e.Name)
	}
	if got := strings.Join(exports, ","); got != "Counter.incr,Counter.twice,Main.main" {
		t.Errorf("exports = %s", got)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLinkTempMemoryHasNoTempGlobals(t *testing.T) {
	opts := DefaultOptions()
	opts.Temp = TempMemory
	m, err := Link([]*Object{compileObj(t, opts, "Counter", counterSrc)}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Globals) != 1 {
		t.Errorf("globals = %+v, want only the static", m.Globals)
	}
}

func TestLinkErrors(t *testing.T) {
	opts := DefaultOptions()
	half := opts
	half.Stride = StrideHalfword
	counter := compileObj(t, opts, "Counter", counterSrc)

	tests := []struct {
		name string
		objs []*Object
		want error
	}{
		{"incompatible", []*Object{counter, compileObj(t, half, "Main", mainSrc)}, ErrIncompatibleObject},
		{"duplicate unit", []*Object{counter, compileObj(t, opts, "Counter", mainSrc)}, vmcode.ErrDuplicateUnit},
		{"duplicate function", []*Object{counter, compileObj(t, opts, "Other", "function Counter.incr 0\npush constant 0\nreturn\n")}, vmcode.ErrDuplicateFunctionName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Link(tt.objs, opts); !errors.Is(err, tt.want) {
				t.Errorf("Link() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLinkReservesYieldSymbol(t *testing.T) {
	opts := DefaultOptions()
	opts.Yield = true
	src := "function " + yieldSymbol + " 0\npush constant 0\nreturn\n"

	_, err := Build(context.Background(), []*vmcode.Unit{parseUnit(t, "Y", src)}, opts)
	if !errors.Is(err, vmcode.ErrDuplicateFunctionName) {
		t.Fatalf("Build() error = %v, want %v", err, vmcode.ErrDuplicateFunctionName)
	}
	var ce *vmcode.Error
	if !errors.As(err, &ce) || ce.Unit != "Y" || ce.Pos.Line != 1 {
		t.Errorf("error = %v, want it located at Y:1", err)
	}

	opts.Yield = false
	if _, err := Build(context.Background(), []*vmcode.Unit{parseUnit(t, "Y", src)}, opts); err != nil {
		t.Errorf("without yield the name is free: %v", err)
	}
}

func TestSeparateCompilationMatchesBuild(t *testing.T) {
	opts := DefaultOptions()
	prog, err := Build(context.Background(), []*vmcode.Unit{
		parseUnit(t, "Counter", counterSrc),
		parseUnit(t, "Main", mainSrc),
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	whole, err := prog.Encode()
	if err != nil {
		t.Fatal(err)
	}

	m, err := Link([]*Object{
		compileObj(t, opts, "Counter", counterSrc),
		compileObj(t, opts, "Main", mainSrc),
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	parts, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(whole, parts) {
		t.Errorf("separately compiled objects link to a different module")
	}
}

func TestObjectSignatures(t *testing.T) {
	opts := DefaultOptions()
	opts.Arity = ArityWiden
	counter := compileObj(t, opts, "Counter", counterSrc)
	sigs := counter.Signatures()
	if len(sigs) != 2 || sigs["Counter.incr"] != 0 || sigs["Counter.twice"] != 0 {
		t.Errorf("Signatures() = %v", sigs)
	}

	// Main compiled against the object alone links like a whole build
	main, err := CompileUnit(parseUnit(t, "Main", mainSrc), opts, sigs)
	if err != nil {
		t.Fatal(err)
	}
	m, err := Link([]*Object{counter, main}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLinkMap(t *testing.T) {
	opts := DefaultOptions()
	opts.Yield = true
	prog, err := Build(context.Background(), []*vmcode.Unit{
		parseUnit(t, "Counter", counterSrc),
		parseUnit(t, "Main", mainSrc),
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	lm := NewLinkMap(prog)
	if idx, ok := lm.FuncIndex("Main.main"); !ok || idx != 3 {
		t.Errorf("FuncIndex(Main.main) = %d, %v, want 3", idx, ok)
	}
	if _, ok := lm.FuncIndex("nope"); ok {
		t.Errorf("FuncIndex found an unknown function")
	}

	var buf bytes.Buffer
	if err := lm.WriteYAML(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"import: js.mem",
		"stride: word",
		"import: host.yield",
		"- temp.0",
		"- static.Counter.0",
		"name: Counter.twice",
		"params: 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("link map lacks %q:\n%s", want, out)
		}
	}
}

func TestProgramText(t *testing.T) {
	prog, err := Build(context.Background(), []*vmcode.Unit{parseUnit(t, "Main", "function Main.main 0\npush constant 7\nreturn\n")}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := prog.Text(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "i32.const 7") {
		t.Errorf("listing lacks the constant:\n%s", buf.String())
	}
}

// ---------------------------------------------------------------------------
// Object cache
// ---------------------------------------------------------------------------

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	hits int
	puts int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	d, ok := c.data[key]
	if ok {
		c.hits++
	}
	return d, ok, nil
}

func (c *memCache) Put(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.data[key] = data
	return nil
}

func TestBuilderCache(t *testing.T) {
	cache := newMemCache()
	b := NewBuilder(DefaultOptions())
	b.Cache = cache
	units := func() []*vmcode.Unit {
		return []*vmcode.Unit{parseUnit(t, "Counter", counterSrc), parseUnit(t, "Main", mainSrc)}
	}

	first, err := b.Build(context.Background(), units())
	if err != nil {
		t.Fatal(err)
	}
	if cache.puts != 2 || cache.hits != 0 {
		t.Errorf("first build: %d puts, %d hits, want 2 and 0", cache.puts, cache.hits)
	}

	second, err := b.Build(context.Background(), units())
	if err != nil {
		t.Fatal(err)
	}
	if cache.hits != 2 || cache.puts != 2 {
		t.Errorf("second build: %d puts, %d hits, want 2 and 2", cache.puts, cache.hits)
	}
	a, _ := first.Encode()
	c, _ := second.Encode()
	if !bytes.Equal(a, c) {
		t.Errorf("cached build differs from fresh build")
	}

	b.Options.Stride = StrideHalfword
	if _, err := b.Build(context.Background(), units()); err != nil {
		t.Fatal(err)
	}
	if cache.hits != 2 {
		t.Errorf("a different target hit the cache")
	}
}

func TestBuilderCacheKeyCoversCompilerVersions(t *testing.T) {
	cache := newMemCache()
	b := NewBuilder(DefaultOptions())
	b.Cache = cache
	u := parseUnit(t, "Main", "function Main.main 0\npush constant 7\nreturn\n")
	if _, err := b.Build(context.Background(), []*vmcode.Unit{u}); err != nil {
		t.Fatal(err)
	}

	funcs, err := SplitFunctions(u)
	if err != nil {
		t.Fatal(err)
	}
	sigs := CollectSignatures(funcs, ArityDerived).Subset(funcs)
	tc := hash.Toolchain{Codegen: CodegenVersion, Object: ObjectVersion, Target: b.Options.Fingerprint()}
	if _, ok := cache.data[hash.String(hash.ObjectKey(u, tc, sigs))]; !ok {
		t.Fatalf("object not stored under the current toolchain key")
	}
	tc.Codegen++
	if _, ok := cache.data[hash.String(hash.ObjectKey(u, tc, sigs))]; ok {
		t.Errorf("a newer code generator would reuse this object")
	}
}

func TestBuilderCacheCorruptEntry(t *testing.T) {
	cache := newMemCache()
	b := NewBuilder(DefaultOptions())
	b.Cache = cache
	u := []*vmcode.Unit{parseUnit(t, "Main", "function Main.main 0\npush constant 7\nreturn\n")}
	if _, err := b.Build(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	for k := range cache.data {
		cache.data[k] = []byte("not cbor")
	}
	prog, err := b.Build(context.Background(), u)
	if err != nil {
		t.Fatalf("corrupt entry broke the build: %v", err)
	}
	if len(prog.Objects) != 1 || cache.puts != 2 {
		t.Errorf("corrupt entry was not replaced: %d puts", cache.puts)
	}
}
