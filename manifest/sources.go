package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/chazu/hackwasm/pkg/parser"
	"github.com/chazu/hackwasm/pkg/vmcode"
)

// SourceExt is the extension of VM source files.
const SourceExt = ".vm"

// ErrNoSources is returned when a project or path list names no .vm files.
var ErrNoSources = errors.New("no .vm sources found")

// SourceFiles returns the project's source files: every .vm file below
// the source directories in lexical order, then the listed files.
// Duplicates are dropped.
func (m *Manifest) SourceFiles() ([]string, error) {
	paths := m.SourceDirPaths()
	for _, f := range m.Source.Files {
		paths = append(paths, m.abs(f))
	}
	return CollectSources(paths)
}

// LoadUnits parses the project's source files.
func (m *Manifest) LoadUnits() ([]*vmcode.Unit, error) {
	files, err := m.SourceFiles()
	if err != nil {
		return nil, err
	}
	return ParseFiles(files)
}

// CollectSources expands paths into .vm files. Directories are walked
// recursively and their files sorted; plain files are taken as given,
// whatever their extension.
func CollectSources(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if !seen[abs] {
			seen[abs] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == SourceExt {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}
	if len(files) == 0 {
		return nil, ErrNoSources
	}
	return files, nil
}

// ParseFiles parses each file into a unit named after the file.
func ParseFiles(files []string) ([]*vmcode.Unit, error) {
	units := make([]*vmcode.Unit, 0, len(files))
	for _, f := range files {
		u, err := parser.ParseFile(f)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}
