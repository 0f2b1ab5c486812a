package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chazu/hackwasm/manifest"
	"github.com/chazu/hackwasm/pkg/buildcache"
)

// openCache opens the object cache at path, or at the default location
// when path is empty.
func openCache(path string) (*buildcache.Cache, error) {
	if path == "" {
		return buildcache.OpenDefault()
	}
	return buildcache.Open(path)
}

// handleCacheCommand processes the `hackwasm cache` subcommand.
// Usage:
//
//	hackwasm cache stats
//	hackwasm cache prune -older 720h
//	hackwasm cache clear
func handleCacheCommand(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: hackwasm cache stats|prune|clear")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("cache "+args[0], flag.ExitOnError)
	older := fs.Duration("older", 30*24*time.Hour, "Prune objects stored longer ago than this")
	fs.Parse(args[1:])

	path := ""
	if m, err := manifest.FindAndLoad("."); err == nil && m != nil {
		path = m.CachePath()
	}
	cache, err := openCache(path)
	if err != nil {
		fatalf("Error opening cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	switch args[0] {
	case "stats":
		n, err := cache.Len(ctx)
		if err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Printf("%s: %d objects\n", cache.Path(), n)
	case "prune":
		n, err := cache.Prune(ctx, time.Now().Add(-*older))
		if err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Printf("Pruned %d objects\n", n)
	case "clear":
		if err := cache.Clear(ctx); err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Println("Cache cleared")
	default:
		fatalf("Unknown cache command %q", args[0])
	}
}
