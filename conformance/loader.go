package conformance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// TestPath is the directory holding the conformance suites, relative to
// this package.
const TestPath = "testdata"

// LoadedTest represents a test with its source file path
type LoadedTest struct {
	File  string
	Suite *TestSuite
	Test  TestCase
}

// Name identifies the test in reports.
func (lt LoadedTest) Name() string {
	return lt.File + "/" + lt.Test.Name
}

// LoadDir walks dir and loads every test case of every .yaml file, in
// file name order.
func LoadDir(dir string) ([]LoadedTest, error) {
	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Only process .yaml files
		if info.IsDir() || filepath.Ext(path) != ".yaml" {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var loaded []LoadedTest
	for _, path := range paths {
		// Get relative path for cleaner test names
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			relPath = path
		}
		tests, err := loadTestFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", relPath, err)
		}
		for i := range tests {
			tests[i].File = relPath
		}
		loaded = append(loaded, tests...)
	}
	return loaded, nil
}

// loadTestFile parses a single YAML file and returns all test cases
func loadTestFile(path string) ([]LoadedTest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, err
	}
	if len(suite.Tests) == 0 {
		return nil, fmt.Errorf("suite %q has no tests", suite.Name)
	}

	var tests []LoadedTest
	for _, test := range suite.Tests {
		if test.Name == "" {
			return nil, fmt.Errorf("suite %q: test without a name", suite.Name)
		}
		tests = append(tests, LoadedTest{
			Suite: &suite,
			Test:  test,
		})
	}

	return tests, nil
}
