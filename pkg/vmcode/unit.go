// Package vmcode defines the instruction model of the stack VM language:
// segments, the closed instruction set and compilation units.
package vmcode

import (
	"path/filepath"
	"strings"
)

// Unit is the instruction sequence of one source file. ID namespaces the
// unit's static segment; Path is informational.
type Unit struct {
	ID     string
	Path   string
	Instrs []Instr
}

// UnitID derives a unit identity from a source path: the base name
// without extension, so "lib/Main.vm" becomes "Main".
func UnitID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NewUnit builds a unit whose ID is derived from path.
func NewUnit(path string, instrs []Instr) *Unit {
	return &Unit{ID: UnitID(path), Path: path, Instrs: instrs}
}

// Functions returns the names of the functions declared in the unit, in
// declaration order.
func (u *Unit) Functions() []string {
	var names []string
	for _, in := range u.Instrs {
		if fn, ok := in.(*Function); ok {
			names = append(names, fn.Name)
		}
	}
	return names
}
