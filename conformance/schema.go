package conformance

import "github.com/chazu/hackwasm/manifest"

// TestSuite represents a complete YAML test file
type TestSuite struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Target      *manifest.TargetConfig `yaml:"target,omitempty"`
	Units       []Unit                 `yaml:"units,omitempty"` // shared by every test
	Tests       []TestCase             `yaml:"tests"`
}

// Unit is one source file of a program.
type Unit struct {
	Name   string `yaml:"name,omitempty"` // empty units are numbered by position
	Source string `yaml:"source"`
}

// TestCase represents a single test within a suite
type TestCase struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Skip        interface{}            `yaml:"skip,omitempty"`   // bool or string
	Target      *manifest.TargetConfig `yaml:"target,omitempty"` // replaces the suite target
	Units       []Unit                 `yaml:"units,omitempty"`  // appended to the suite units
	Setup       *SetupBlock            `yaml:"setup,omitempty"`
	Call        string                 `yaml:"call,omitempty"`
	Args        []int32                `yaml:"args,omitempty"`
	Expect      Expectation            `yaml:"expect"`
}

// SetupBlock prepares memory before the call.
type SetupBlock struct {
	Cells map[uint32]int32 `yaml:"cells,omitempty"`
}

// Expectation defines what result is expected from a test
type Expectation struct {
	Value  *int32           `yaml:"value,omitempty"`  // return value of the call
	Cells  map[uint32]int32 `yaml:"cells,omitempty"`  // memory after the call
	Yields *int             `yaml:"yields,omitempty"` // yield calls during the call
	Trap   bool             `yaml:"trap,omitempty"`   // the call must trap

	Error string `yaml:"error,omitempty"` // build error kind, e.g. "stack underflow"
	Line  int    `yaml:"line,omitempty"`  // line the build error points at
}

// IsSkipped returns true if this test should be skipped
func (tc *TestCase) IsSkipped() (bool, string) {
	if tc.Skip == nil {
		return false, ""
	}

	switch v := tc.Skip.(type) {
	case bool:
		if v {
			return true, "skipped"
		}
		return false, ""
	case string:
		return true, v
	default:
		return false, ""
	}
}

// target returns the target the test builds for.
func (tc *TestCase) target(suite *TestSuite) manifest.TargetConfig {
	switch {
	case tc.Target != nil:
		return *tc.Target
	case suite.Target != nil:
		return *suite.Target
	}
	return manifest.TargetConfig{}
}
