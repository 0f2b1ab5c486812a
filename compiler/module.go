// Package compiler translates stack VM units into a WebAssembly module.
//
// Each function is split into blocks at labels and branches, every block
// is compiled with the operand stack resolved at compile time, and the
// blocks are wrapped in a dispatch loop: a loop around nested blocks with
// a br_table on a selector local, so arbitrary gotos become a selector
// assignment and a branch to the loop head. Units compile independently
// into objects which Link combines into one module.
package compiler

import (
	"context"
	"io"
	"runtime"
	"strconv"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/hackwasm/compiler/hash"
	"github.com/chazu/hackwasm/pkg/vmcode"
	"github.com/chazu/hackwasm/pkg/wasm"
)

var log = commonlog.GetLogger("hackwasm.compiler")

// ObjectCache stores encoded objects by content key.
type ObjectCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Builder compiles programs. The zero value is not usable; start from
// NewBuilder.
type Builder struct {
	Options Options
	// Cache, when set, is consulted before compiling each unit.
	Cache ObjectCache
}

// NewBuilder returns a builder for opts without a cache.
func NewBuilder(opts Options) *Builder {
	return &Builder{Options: opts}
}

// Program is a linked module together with the objects it was built from.
type Program struct {
	Module  *wasm.Module
	Objects []*Object
	Options Options
}

// Encode validates and encodes the program's module.
func (p *Program) Encode() ([]byte, error) {
	return p.Module.Encode()
}

// Text writes the program's module in the text listing format.
func (p *Program) Text(w io.Writer) error {
	return p.Module.WriteText(w)
}

// Build compiles units with opts into one module.
func Build(ctx context.Context, units []*vmcode.Unit, opts Options) (*Program, error) {
	return NewBuilder(opts).Build(ctx, units)
}

// Build assigns missing unit IDs (the unit's ordinal), rejects duplicate
// units and function names, computes signatures across all units,
// compiles the units concurrently and links the objects in unit order.
// The error of the lowest-numbered failing unit aborts the build.
func (b *Builder) Build(ctx context.Context, units []*vmcode.Unit) (*Program, error) {
	opts := b.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	units = append([]*vmcode.Unit(nil), units...)
	ids := make(map[string]bool, len(units))
	for i, u := range units {
		if u.ID == "" {
			named := *u
			named.ID = strconv.Itoa(i)
			units[i] = &named
			u = &named
		}
		if ids[u.ID] {
			return nil, &vmcode.Error{Kind: vmcode.ErrDuplicateUnit, Unit: u.ID, Msg: u.Path}
		}
		ids[u.ID] = true
	}

	perUnit := make([][]*FuncSource, len(units))
	var all []*FuncSource
	owners := make(map[string]string)
	for i, u := range units {
		funcs, err := SplitFunctions(u)
		if err != nil {
			return nil, err
		}
		if err := checkFunctionNames(u.ID, funcs, owners); err != nil {
			return nil, err
		}
		perUnit[i] = funcs
		all = append(all, funcs...)
	}
	sigs := CollectSignatures(all, opts.Arity)

	// Every unit runs to completion so the reported error is the one
	// from the earliest unit, whatever the scheduling.
	objs := make([]*Object, len(units))
	errs := make([]error, len(units))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range units {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			objs[i], errs[i] = b.compile(ctx, units[i], perUnit[i], sigs.Subset(perUnit[i]))
			return nil
		})
	}
	g.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	m, err := Link(objs, opts)
	if err != nil {
		return nil, err
	}
	log.Infof("linked %d units, %d functions", len(objs), len(m.Funcs))
	return &Program{Module: m, Objects: objs, Options: opts}, nil
}

// compile produces one unit's object, through the cache when configured.
func (b *Builder) compile(ctx context.Context, u *vmcode.Unit, funcs []*FuncSource, sigs Signatures) (*Object, error) {
	if b.Cache == nil {
		return compileUnit(u, funcs, b.Options, sigs)
	}

	tc := hash.Toolchain{Codegen: CodegenVersion, Object: ObjectVersion, Target: b.Options.Fingerprint()}
	key := hash.String(hash.ObjectKey(u, tc, sigs))
	data, ok, err := b.Cache.Get(ctx, key)
	if err != nil {
		log.Warningf("cache lookup for %s failed: %s", u.ID, err)
	}
	if ok {
		obj, err := UnmarshalObject(data)
		if err == nil {
			log.Debugf("%s: cache hit %s", u.ID, key[:12])
			return obj, nil
		}
		log.Warningf("discarding cached object for %s: %s", u.ID, err)
	}

	obj, err := compileUnit(u, funcs, b.Options, sigs)
	if err != nil {
		return nil, err
	}
	if data, err := MarshalObject(obj); err != nil {
		log.Warningf("encoding object for %s: %s", u.ID, err)
	} else if err := b.Cache.Put(ctx, key, data); err != nil {
		log.Warningf("caching object for %s: %s", u.ID, err)
	}
	log.Debugf("%s: cache miss %s", u.ID, key[:12])
	return obj, nil
}
