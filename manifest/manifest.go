// Package manifest handles hackwasm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/hackwasm/compiler"
)

// FileName is the manifest file looked up in project directories.
const FileName = "hackwasm.toml"

// Manifest represents a hackwasm.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Source  Source       `toml:"source"`
	Target  TargetConfig `toml:"target"`
	Output  Output       `toml:"output"`
	Cache   CacheConfig  `toml:"cache"`

	// Dir is the directory containing the hackwasm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations. Dirs are searched for .vm
// files; Files are added as listed.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

// TargetConfig selects the code generation conventions. Empty fields
// keep the compiler defaults.
type TargetConfig struct {
	Stride       string `toml:"stride" yaml:"stride,omitempty"`
	Temp         string `toml:"temp" yaml:"temp,omitempty"`
	Arity        string `toml:"arity" yaml:"arity,omitempty"`
	MemoryModule string `toml:"memory-module" yaml:"memory-module,omitempty"`
	MemoryName   string `toml:"memory-name" yaml:"memory-name,omitempty"`
	MemoryPages  uint32 `toml:"memory-pages" yaml:"memory-pages,omitempty"`
	Yield        bool   `toml:"yield" yaml:"yield,omitempty"`
	YieldModule  string `toml:"yield-module" yaml:"yield-module,omitempty"`
	YieldName    string `toml:"yield-name" yaml:"yield-name,omitempty"`
}

// Output configures the files a build writes.
type Output struct {
	Path string `toml:"path"`
	Text string `toml:"text"`
	Map  string `toml:"map"`
}

// CacheConfig configures the object cache. An empty path with the cache
// enabled uses the per-user default location.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load parses a hackwasm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 && len(m.Source.Files) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Output.Path == "" {
		name := m.Project.Name
		if name == "" {
			name = filepath.Base(m.Dir)
		}
		m.Output.Path = name + ".wasm"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a hackwasm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Options converts the target section to compiler options and validates
// them.
func (m *Manifest) Options() (compiler.Options, error) {
	return m.Target.Options()
}

// Options converts the target section to compiler options and validates
// them.
func (t TargetConfig) Options() (compiler.Options, error) {
	opts := compiler.DefaultOptions()
	var err error
	if t.Stride != "" {
		if opts.Stride, err = compiler.ParseStride(t.Stride); err != nil {
			return opts, err
		}
	}
	if t.Temp != "" {
		if opts.Temp, err = compiler.ParseTempMode(t.Temp); err != nil {
			return opts, err
		}
	}
	if t.Arity != "" {
		if opts.Arity, err = compiler.ParseArity(t.Arity); err != nil {
			return opts, err
		}
	}
	if t.MemoryModule != "" {
		opts.MemoryModule = t.MemoryModule
	}
	if t.MemoryName != "" {
		opts.MemoryName = t.MemoryName
	}
	if t.MemoryPages != 0 {
		opts.MemoryPages = t.MemoryPages
	}
	opts.Yield = t.Yield
	if t.YieldModule != "" {
		opts.YieldModule = t.YieldModule
	}
	if t.YieldName != "" {
		opts.YieldName = t.YieldName
	}
	return opts, opts.Validate()
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// OutputPath returns the absolute path of the binary module.
func (m *Manifest) OutputPath() string {
	return m.abs(m.Output.Path)
}

// TextPath returns the absolute path of the text listing, or "".
func (m *Manifest) TextPath() string {
	if m.Output.Text == "" {
		return ""
	}
	return m.abs(m.Output.Text)
}

// MapPath returns the absolute path of the link map, or "".
func (m *Manifest) MapPath() string {
	if m.Output.Map == "" {
		return ""
	}
	return m.abs(m.Output.Map)
}

// CachePath returns the cache database path relative to the project, or
// "" to use the default location.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return ""
	}
	return m.abs(m.Cache.Path)
}

func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
