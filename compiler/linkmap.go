package compiler

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

// LinkMap describes where everything ended up in a linked module.
type LinkMap struct {
	Target  string      `yaml:"target"`
	Memory  MemoryMap   `yaml:"memory"`
	Imports []ImportMap `yaml:"imports,omitempty"`
	Temp    []string    `yaml:"temp,omitempty"`
	Units   []UnitMap   `yaml:"units"`
}

// MemoryMap describes the imported linear memory.
type MemoryMap struct {
	Import string `yaml:"import"`
	Pages  uint32 `yaml:"pages"`
	Stride string `yaml:"stride"`
	Temp   string `yaml:"temp"`
}

// ImportMap is one imported function.
type ImportMap struct {
	Import string `yaml:"import"`
	Index  uint32 `yaml:"index"`
}

// UnitMap lists one unit's statics and functions.
type UnitMap struct {
	ID        string        `yaml:"id"`
	Path      string        `yaml:"path,omitempty"`
	Statics   []string      `yaml:"statics,omitempty"`
	Functions []FunctionMap `yaml:"functions"`
}

// FunctionMap is one function with its index and local layout.
type FunctionMap struct {
	Name   string `yaml:"name"`
	Index  uint32 `yaml:"index"`
	Line   int    `yaml:"line,omitempty"`
	Layout Layout `yaml:",inline"`
}

// NewLinkMap builds the link map of a program.
func NewLinkMap(p *Program) *LinkMap {
	opts := p.Options
	lm := &LinkMap{
		Target: opts.Fingerprint(),
		Memory: MemoryMap{
			Import: opts.MemoryModule + "." + opts.MemoryName,
			Pages:  opts.MemoryPages,
			Stride: opts.Stride.String(),
			Temp:   opts.Temp.String(),
		},
	}

	var index uint32
	if opts.Yield {
		lm.Imports = append(lm.Imports, ImportMap{Import: opts.YieldModule + "." + opts.YieldName, Index: index})
		index++
	}
	if opts.Temp == TempGlobals {
		for i := uint32(0); i < vmcode.TempSlots; i++ {
			lm.Temp = append(lm.Temp, TempName(i))
		}
	} else {
		for i := uint32(0); i < vmcode.TempSlots; i++ {
			lm.Temp = append(lm.Temp, fmt.Sprintf("mem[%d]", (TempCellBase+i)*uint32(opts.Stride)))
		}
	}

	for _, o := range p.Objects {
		um := UnitMap{ID: o.Unit, Path: o.Path, Statics: o.Statics}
		for _, f := range o.Funcs {
			um.Functions = append(um.Functions, FunctionMap{
				Name:   f.Code.Name,
				Index:  index,
				Line:   f.Line,
				Layout: f.Layout,
			})
			index++
		}
		lm.Units = append(lm.Units, um)
	}
	return lm
}

// WriteYAML writes the link map as YAML.
func (lm *LinkMap) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(lm); err != nil {
		return fmt.Errorf("compiler: encode link map: %w", err)
	}
	return enc.Close()
}

// FuncIndex looks up a function's index in the module's function space.
func (lm *LinkMap) FuncIndex(name string) (uint32, bool) {
	for _, u := range lm.Units {
		for _, f := range u.Functions {
			if f.Name == name {
				return f.Index, true
			}
		}
	}
	return 0, false
}
