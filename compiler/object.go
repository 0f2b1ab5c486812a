package compiler

import (
	"fmt"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

// Object is a compiled unit whose calls and globals are still symbolic.
// Objects built with the same Options can be linked in any combination.
type Object struct {
	Unit    string      `cbor:"1,keyasint"`
	Path    string      `cbor:"2,keyasint,omitempty"`
	Target  string      `cbor:"3,keyasint"`
	Statics []string    `cbor:"4,keyasint,omitempty"`
	Funcs   []*Function `cbor:"5,keyasint,omitempty"`
}

// FuncNames returns the names of the object's functions in order.
func (o *Object) FuncNames() []string {
	names := make([]string, len(o.Funcs))
	for i, f := range o.Funcs {
		names[i] = f.Code.Name
	}
	return names
}

// Signatures returns the parameter counts of the object's functions, for
// compiling other units against it.
func (o *Object) Signatures() Signatures {
	sigs := make(Signatures, len(o.Funcs))
	for _, f := range o.Funcs {
		sigs[f.Code.Name] = f.Layout.Params
	}
	return sigs
}

// CompileUnit compiles one unit to an object. sigs supplies parameter
// counts for functions defined elsewhere in the program; functions of the
// unit missing from sigs get counts derived under opts.Arity from the unit
// alone.
func CompileUnit(u *vmcode.Unit, opts Options, sigs Signatures) (*Object, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	funcs, err := SplitFunctions(u)
	if err != nil {
		return nil, err
	}
	if err := checkFunctionNames(u.ID, funcs, nil); err != nil {
		return nil, err
	}
	local := CollectSignatures(funcs, opts.Arity)
	for name, p := range sigs {
		local[name] = p
	}
	return compileUnit(u, funcs, opts, local)
}

func compileUnit(u *vmcode.Unit, funcs []*FuncSource, opts Options, sigs Signatures) (*Object, error) {
	env := &unitEnv{
		id:      u.ID,
		opts:    opts,
		statics: AllocateStatics(u),
		sigs:    sigs,
	}
	obj := &Object{
		Unit:    u.ID,
		Path:    u.Path,
		Target:  opts.Fingerprint(),
		Statics: env.statics.Globals(),
		Funcs:   make([]*Function, 0, len(funcs)),
	}
	for _, src := range funcs {
		fn, err := env.compileFunction(src)
		if err != nil {
			return nil, err
		}
		log.Debugf("%s: %s: %d params, %d locals, %d blocks, %d carries, %d scratch",
			u.ID, fn.Code.Name, fn.Layout.Params, fn.Layout.Declared, fn.Layout.Blocks, fn.Layout.Carries, fn.Layout.Scratch)
		obj.Funcs = append(obj.Funcs, fn)
	}
	return obj, nil
}

// checkFunctionNames rejects a function name declared twice, within funcs
// or against the names already in seen. seen is updated when non-nil.
func checkFunctionNames(unit string, funcs []*FuncSource, seen map[string]string) error {
	if seen == nil {
		seen = make(map[string]string)
	}
	for _, f := range funcs {
		if prev, dup := seen[f.Name()]; dup {
			err := vmcode.Errorf(vmcode.ErrDuplicateFunctionName, f.Decl.Pos,
				fmt.Sprintf("%s already defined in %s", f.Name(), prev))
			return vmcode.WithContext(err, unit, "")
		}
		seen[f.Name()] = unit
	}
	return nil
}
