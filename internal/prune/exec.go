package prune

import (
	"context"
	"fmt"
	"time"

	"github.com/unbound-force/amplify/internal/suite"
	"github.com/unbound-force/amplify/observe"
)

// Status is the result of running one test.
type Status int

// Test statuses.
const (
	Passed Status = iota
	Failed
	Panicked
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Panicked:
		return "panicked"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// CompileError is one compiler diagnostic in a generated file.
type CompileError struct {
	Line int
	Col  int
	Msg  string
}

// Executor compiles and runs generated test files.
type Executor interface {
	// Compile renders and builds f. Diagnostics located in f are
	// returned; err is reserved for failures that are not about f.
	Compile(ctx context.Context, f *suite.File) (*suite.Rendered, []CompileError, error)

	// Run executes one test with a deadline.
	Run(ctx context.Context, f *suite.File, name string, timeout time.Duration) (Status, error)

	// Observe runs one test runs times with observation capture
	// enabled and returns its observations in execution order.
	Observe(ctx context.Context, f *suite.File, name string, runs int) ([]observe.Entry, error)
}

// CoverageResult is the coverage one test achieves on the target
// package.
type CoverageResult struct {
	// Branches holds the ids of the covered blocks, sorted.
	Branches []string

	CoveredStmts int64
	TotalStmts   int64

	// Functions lists the target functions the test reached.
	Functions []string
}

// CoverageCollector measures per-test coverage.
type CoverageCollector interface {
	Coverage(ctx context.Context, f *suite.File, names []string) (map[string]CoverageResult, error)
}
