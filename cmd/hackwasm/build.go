package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/manifest"
	"github.com/chazu/hackwasm/pkg/host"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

type buildConfig struct {
	opts     compiler.Options
	output   string
	textPath string
	mapPath  string
	cache    compiler.ObjectCache
	verbose  bool
}

// build compiles sources, links them with any prebuilt objects, and
// writes the module plus the optional listing and link map. It returns
// the encoded module.
func build(ctx context.Context, sources, objects []string, cfg buildConfig) ([]byte, error) {
	units, err := manifest.ParseFiles(sources)
	if err != nil {
		return nil, err
	}

	var prog *compiler.Program
	if len(objects) == 0 {
		b := compiler.NewBuilder(cfg.opts)
		b.Cache = cfg.cache
		if prog, err = b.Build(ctx, units); err != nil {
			return nil, err
		}
	} else {
		objs, err := readObjects(objects)
		if err != nil {
			return nil, err
		}
		sigs, err := signatures(units, objs, cfg.opts.Arity)
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			obj, err := compiler.CompileUnit(u, cfg.opts, sigs)
			if err != nil {
				return nil, err
			}
			objs = append(objs, obj)
		}
		mod, err := compiler.Link(objs, cfg.opts)
		if err != nil {
			return nil, err
		}
		prog = &compiler.Program{Module: mod, Objects: objs, Options: cfg.opts}
	}

	bin, err := prog.Encode()
	if err != nil {
		return nil, err
	}
	if err := writeFile(cfg.output, bin); err != nil {
		return nil, err
	}
	if cfg.verbose {
		fmt.Printf("Wrote %s (%d bytes, %d units)\n", cfg.output, len(bin), len(prog.Objects))
	}

	if cfg.textPath != "" {
		var buf bytes.Buffer
		if err := prog.Text(&buf); err != nil {
			return nil, err
		}
		if err := writeFile(cfg.textPath, buf.Bytes()); err != nil {
			return nil, err
		}
	}
	if cfg.mapPath != "" {
		var buf bytes.Buffer
		if err := compiler.NewLinkMap(prog).WriteYAML(&buf); err != nil {
			return nil, err
		}
		if err := writeFile(cfg.mapPath, buf.Bytes()); err != nil {
			return nil, err
		}
	}
	return bin, nil
}

// compileObjects writes one object file per source unit into dir. Each
// unit sees the signatures of every other unit and of the given objects.
func compileObjects(sources, objects []string, opts compiler.Options, dir string, verbose bool) error {
	units, err := manifest.ParseFiles(sources)
	if err != nil {
		return err
	}
	prebuilt, err := readObjects(objects)
	if err != nil {
		return err
	}

	sigs, err := signatures(units, prebuilt, opts.Arity)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, u := range units {
		obj, err := compiler.CompileUnit(u, opts, sigs)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, u.ID+compiler.ObjectExt)
		if err := compiler.WriteObjectFile(path, obj); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("Wrote %s (%d functions)\n", path, len(obj.Funcs))
		}
	}
	return nil
}

// signatures collects parameter counts across the source units and the
// prebuilt objects.
func signatures(units []*vmcode.Unit, objs []*compiler.Object, policy compiler.ArityPolicy) (compiler.Signatures, error) {
	var funcs []*compiler.FuncSource
	for _, u := range units {
		fs, err := compiler.SplitFunctions(u)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, fs...)
	}
	sigs := compiler.CollectSignatures(funcs, policy)
	for _, o := range objs {
		for name, p := range o.Signatures() {
			sigs[name] = p
		}
	}
	return sigs, nil
}

func readObjects(paths []string) ([]*compiler.Object, error) {
	objs := make([]*compiler.Object, 0, len(paths))
	for _, p := range paths {
		o, err := compiler.ReadObjectFile(p)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// runModule instantiates the module under wazero and calls fn.
func runModule(ctx context.Context, bin []byte, opts compiler.Options, fn string, args []int32, verbose bool) (int32, error) {
	r, err := host.New(ctx, bin, host.ConfigFor(opts))
	if err != nil {
		return 0, err
	}
	defer r.Close(ctx)

	result, err := r.Call(ctx, fn, args...)
	if err != nil {
		return 0, err
	}
	if verbose && opts.Yield {
		fmt.Printf("%d yields\n", r.Yields())
	}
	return result, nil
}
