package conformance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/hackwasm/compiler"
	"github.com/chazu/hackwasm/pkg/host"
	"github.com/chazu/hackwasm/pkg/parser"
	"github.com/chazu/hackwasm/pkg/vmcode"
	"github.com/chazu/hackwasm/pkg/wasm"
)

var log = commonlog.GetLogger("hackwasm.conformance")

// DefaultTimeout bounds a single test, build included.
const DefaultTimeout = 10 * time.Second

// Build error kinds an expectation may name.
var errorKinds = []error{
	vmcode.ErrMalformedInstruction,
	vmcode.ErrStackUnderflow,
	vmcode.ErrInvalidSegmentUse,
	vmcode.ErrUnknownLabel,
	vmcode.ErrDuplicateLabel,
	vmcode.ErrDuplicateFunctionName,
	vmcode.ErrDuplicateUnit,
	vmcode.ErrInconsistentStack,
	vmcode.ErrInstructionOutsideFunc,
	vmcode.ErrLimitExceeded,
	wasm.ErrUnresolvedSymbol,
}

// TestResult represents the outcome of running a single test
type TestResult struct {
	Test       LoadedTest
	Passed     bool
	Skipped    bool
	SkipReason string
	Error      error
}

// Runner executes conformance tests
type Runner struct {
	Timeout time.Duration
	// Cache, when set, is shared by every build the runner makes.
	Cache compiler.ObjectCache
}

// NewRunner creates a test runner with the default timeout.
func NewRunner() *Runner {
	return &Runner{Timeout: DefaultTimeout}
}

// Run executes a single test case
func (r *Runner) Run(ctx context.Context, test LoadedTest) TestResult {
	// Check if test should be skipped
	if skipped, reason := test.Test.IsSkipped(); skipped {
		return TestResult{
			Test:       test,
			Skipped:    true,
			SkipReason: reason,
		}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	err := r.run(ctx, test)
	if err != nil {
		log.Debugf("%s: %s", test.Name(), err)
	}
	return TestResult{
		Test:   test,
		Passed: err == nil,
		Error:  err,
	}
}

func (r *Runner) run(ctx context.Context, test LoadedTest) error {
	tc := &test.Test
	opts, err := tc.target(test.Suite).Options()
	if err != nil {
		return fmt.Errorf("bad target: %w", err)
	}

	srcs := append(append([]Unit(nil), test.Suite.Units...), tc.Units...)
	if len(srcs) == 0 {
		return errors.New("test has no units")
	}
	bin, buildErr := r.build(ctx, srcs, opts)
	if tc.Expect.Error != "" {
		return checkBuildError(tc.Expect, buildErr)
	}
	if buildErr != nil {
		return fmt.Errorf("build failed: %w", buildErr)
	}
	if tc.Call == "" {
		return nil
	}

	runner, err := host.New(ctx, bin, host.ConfigFor(opts))
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer runner.Close(context.Background())

	if tc.Setup != nil {
		for cell, v := range tc.Setup.Cells {
			if err := runner.SetCell(cell, v); err != nil {
				return fmt.Errorf("setup cell %d: %w", cell, err)
			}
		}
	}

	got, callErr := runner.Call(ctx, tc.Call, tc.Args...)
	return checkRun(tc.Expect, runner, got, callErr)
}

// build compiles, links and encodes the units. Parse errors count as
// build errors.
func (r *Runner) build(ctx context.Context, srcs []Unit, opts compiler.Options) ([]byte, error) {
	units := make([]*vmcode.Unit, len(srcs))
	for i, s := range srcs {
		u, err := parser.ParseUnit(s.Name, s.Source)
		if err != nil {
			return nil, err
		}
		units[i] = u
	}
	b := compiler.NewBuilder(opts)
	b.Cache = r.Cache
	prog, err := b.Build(ctx, units)
	if err != nil {
		return nil, err
	}
	return prog.Encode()
}

func checkBuildError(expect Expectation, err error) error {
	if err == nil {
		return fmt.Errorf("expected build error %q, build succeeded", expect.Error)
	}
	var kind error
	for _, k := range errorKinds {
		if k.Error() == expect.Error {
			kind = k
			break
		}
	}
	if kind == nil {
		return fmt.Errorf("unknown error kind %q", expect.Error)
	}
	if !errors.Is(err, kind) {
		return fmt.Errorf("expected build error %q, got: %v", expect.Error, err)
	}
	if expect.Line != 0 {
		var ce *vmcode.Error
		if !errors.As(err, &ce) || ce.Pos.Line != expect.Line {
			return fmt.Errorf("expected error at line %d, got: %v", expect.Line, err)
		}
	}
	return nil
}

func checkRun(expect Expectation, runner *host.Runner, got int32, callErr error) error {
	if expect.Trap {
		if callErr == nil {
			return fmt.Errorf("expected a trap, call returned %d", got)
		}
		return nil
	}
	if callErr != nil {
		return fmt.Errorf("call failed: %w", callErr)
	}

	var problems []string
	if expect.Value != nil && got != *expect.Value {
		problems = append(problems, fmt.Sprintf("value = %d, want %d", got, *expect.Value))
	}
	for cell, want := range expect.Cells {
		v, err := runner.Cell(cell)
		if err != nil {
			problems = append(problems, fmt.Sprintf("cell %d: %v", cell, err))
		} else if v != want {
			problems = append(problems, fmt.Sprintf("cell %d = %d, want %d", cell, v, want))
		}
	}
	if expect.Yields != nil && runner.Yields() != *expect.Yields {
		problems = append(problems, fmt.Sprintf("yields = %d, want %d", runner.Yields(), *expect.Yields))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// RunAll executes all loaded tests
func (r *Runner) RunAll(ctx context.Context, tests []LoadedTest) []TestResult {
	results := make([]TestResult, len(tests))
	for i, test := range tests {
		results[i] = r.Run(ctx, test)
	}
	return results
}

// SummaryStats computes statistics from test results
type SummaryStats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
}

// ComputeStats generates statistics from test results
func ComputeStats(results []TestResult) SummaryStats {
	stats := SummaryStats{Total: len(results)}
	for _, r := range results {
		if r.Skipped {
			stats.Skipped++
		} else if r.Passed {
			stats.Passed++
		} else {
			stats.Failed++
		}
	}
	return stats
}

// FormatStats returns a human-readable summary
func FormatStats(stats SummaryStats) string {
	return fmt.Sprintf("%d passed, %d failed, %d skipped (%d total)",
		stats.Passed, stats.Failed, stats.Skipped, stats.Total)
}
