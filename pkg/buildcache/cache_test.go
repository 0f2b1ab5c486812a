package buildcache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/parser"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

func openTemp(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sub", "objects.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetPut(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get on empty cache = %v, %v", ok, err)
	}
	if err := c.Put(ctx, "k", []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "k", []byte{4, 5}); err != nil {
		t.Fatal(err)
	}
	data, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(data, []byte{4, 5}) {
		t.Errorf("Get(k) = %v, %v, %v, want [4 5]", data, ok, err)
	}
	if n, _ := c.Len(ctx); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("Stats() = %d hits, %d misses, want 1 and 1", hits, misses)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	ctx := context.Background()

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if data, ok, _ := c.Get(ctx, "k"); !ok || string(data) != "v" {
		t.Errorf("Get(k) after reopen = %q, %v", data, ok)
	}
}

func TestPruneAndClear(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	for _, k := range []string{"a", "b"} {
		if err := c.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := c.Prune(ctx, time.Now().Add(-time.Hour)); err != nil || n != 0 {
		t.Errorf("Prune(past) = %d, %v, want 0", n, err)
	}
	if n, err := c.Prune(ctx, time.Now().Add(time.Hour)); err != nil || n != 2 {
		t.Errorf("Prune(future) = %d, %v, want 2", n, err)
	}
	if err := c.Put(ctx, "c", []byte("c")); err != nil {
		t.Fatal(err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Errorf("Len() after Clear = %d", n)
	}
}

func TestDefaultPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/x/objects.db")
	if p, err := DefaultPath(); err != nil || p != "/tmp/x/objects.db" {
		t.Errorf("DefaultPath() = %q, %v", p, err)
	}
}

func TestBuilderUsesCache(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	src := "function Main.main 0\npush constant 7\nreturn\n"
	units := func() []*vmcode.Unit {
		u, err := parser.ParseUnit("Main", src)
		if err != nil {
			t.Fatal(err)
		}
		return []*vmcode.Unit{u}
	}

	b := compiler.NewBuilder(compiler.DefaultOptions())
	b.Cache = c
	first, err := b.Build(ctx, units())
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(ctx, units())
	if err != nil {
		t.Fatal(err)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("Stats() = %d hits, %d misses, want 1 and 1", hits, misses)
	}
	a, _ := first.Encode()
	bb, _ := second.Encode()
	if !bytes.Equal(a, bb) {
		t.Errorf("cached build encodes differently")
	}
}
