// Package prune validates generated test files in three stages:
// removing tests that do not compile or time out, minimizing the
// survivors by branch coverage, and replacing observation points with
// synthesized assertions.
//
// No stage aborts the run. Each reports a StageResult whose Outcome
// tells the caller whether the stage completed, skipped its work, or
// had to drop tests it could not process.
package prune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/unbound-force/amplify/internal/oracle"
	"github.com/unbound-force/amplify/internal/suite"
	"github.com/unbound-force/amplify/probe"
)

// Defaults for Options.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultRuns         = 3
	DefaultBuildTimeout = 5 * time.Minute
)

// StageResult is the outcome of one stage on one file.
type StageResult struct {
	Outcome probe.Outcome
	Removed []string
	Err     error
}

// Options configures a Pipeline.
type Options struct {
	// Timeout bounds a single run of one test.
	Timeout time.Duration

	// Runs is the number of observed executions per test.
	Runs int

	// BuildTimeout bounds compiling a test binary.
	BuildTimeout time.Duration

	Logger *log.Logger
}

// Pipeline runs the stages against an executor.
type Pipeline struct {
	exec   Executor
	cov    CoverageCollector
	opts   Options
	logger *log.Logger
}

// New returns a pipeline. cov may be nil, in which case Minimize is
// always skipped.
func New(exec Executor, cov CoverageCollector, opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Runs <= 0 {
		opts.Runs = DefaultRuns
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = DefaultBuildTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Pipeline{exec: exec, cov: cov, opts: opts, logger: logger}
}

// FileResult collects the stage results of one file. Minimize and
// Synthesize are nil when the file was empty before they ran.
type FileResult struct {
	File       string
	Generated  int
	Smoke      StageResult
	Minimize   *StageResult
	Synthesize *StageResult

	// Coverage is the per-test coverage measured by Minimize.
	Coverage map[string]CoverageResult

	// Kept reports whether any test survived.
	Kept bool
}

// Process runs every stage on f, stopping once f is empty.
func (p *Pipeline) Process(ctx context.Context, f *suite.File) FileResult {
	res := FileResult{File: f.Name, Generated: f.Len()}
	res.Smoke = p.Smoke(ctx, f)
	if f.Len() == 0 {
		return res
	}
	minimized, cov := p.minimize(ctx, f)
	res.Minimize, res.Coverage = &minimized, cov
	if f.Len() == 0 {
		return res
	}
	synthesized := p.Synthesize(ctx, f)
	res.Synthesize = &synthesized
	res.Kept = f.Len() > 0
	return res
}

// compileClean removes tests with compiler errors until f compiles.
// It reports the removed tests and whether f compiled in the end.
func (p *Pipeline) compileClean(ctx context.Context, f *suite.File) ([]string, error) {
	var removed []string
	for f.Len() > 0 {
		bctx, cancel := context.WithTimeout(ctx, p.opts.BuildTimeout)
		rendered, diags, err := p.exec.Compile(bctx, f)
		cancel()
		if err != nil {
			return append(removed, removeAll(f)...), err
		}
		if len(diags) == 0 {
			return removed, nil
		}
		offending := make(map[string]bool)
		for _, d := range diags {
			if name, ok := rendered.MethodAt(d.Line); ok {
				offending[name] = true
			}
		}
		if len(offending) == 0 {
			return append(removed, removeAll(f)...),
				fmt.Errorf("compile errors outside any test: %s", diags[0].Msg)
		}
		for _, name := range f.Names() {
			if offending[name] {
				f.Remove(name)
				removed = append(removed, name)
				p.logger.Debug("test does not compile", "file", f.Name, "test", name)
			}
		}
	}
	return removed, nil
}

func removeAll(f *suite.File) []string {
	names := f.Names()
	for _, n := range names {
		f.Remove(n)
	}
	return names
}

// Smoke compiles f, removing tests that do not compile, then runs
// every test once. Tests that time out are removed; tests that panic
// are rewritten to expect the panic.
func (p *Pipeline) Smoke(ctx context.Context, f *suite.File) StageResult {
	removed, err := p.compileClean(ctx, f)
	if err != nil {
		p.logger.Warn("generated file does not compile", "file", f.Name, "err", err)
		return StageResult{Outcome: probe.Corrupted, Removed: removed, Err: err}
	}
	for _, m := range f.Methods() {
		status, err := p.exec.Run(ctx, f, m.Name, p.opts.Timeout)
		switch {
		case err != nil:
			p.logger.Debug("test run failed", "test", m.Name, "err", err)
			f.Remove(m.Name)
			removed = append(removed, m.Name)
		case status == TimedOut:
			p.logger.Debug("test timed out", "test", m.Name)
			f.Remove(m.Name)
			removed = append(removed, m.Name)
		case status == Panicked && !m.Panics:
			m.Body = f.Idiom.ExpectPanic(m.Body)
			m.Panics = true
		}
	}
	return StageResult{Outcome: probe.Completed, Removed: removed}
}

// Minimize keeps one representative test per covered branch: the
// first test in file order that covers it. Tests representing no
// branch are removed. Any failure leaves f untouched.
func (p *Pipeline) Minimize(ctx context.Context, f *suite.File) StageResult {
	res, _ := p.minimize(ctx, f)
	return res
}

func (p *Pipeline) minimize(ctx context.Context, f *suite.File) (res StageResult, cov map[string]CoverageResult) {
	defer func() {
		if r := recover(); r != nil {
			res = StageResult{Outcome: probe.Skipped, Err: fmt.Errorf("minimization panic: %v", r)}
			cov = nil
		}
	}()
	if p.cov == nil {
		return StageResult{Outcome: probe.Skipped}, nil
	}
	names := f.Names()
	cov, err := p.cov.Coverage(ctx, f, names)
	if err != nil {
		p.logger.Debug("coverage failed, keeping every test", "file", f.Name, "err", err)
		return StageResult{Outcome: probe.Skipped, Err: err}, nil
	}
	for _, n := range names {
		if _, ok := cov[n]; !ok {
			return StageResult{Outcome: probe.Skipped, Err: fmt.Errorf("no coverage reported for %s", n)}, cov
		}
	}
	keep := Representatives(names, cov)
	var removed []string
	for _, n := range names {
		if !keep[n] {
			f.Remove(n)
			removed = append(removed, n)
		}
	}
	return StageResult{Outcome: probe.Completed, Removed: removed}, cov
}

// Representatives maps each covered branch to the first test in names
// covering it and returns the set of tests chosen at least once.
func Representatives(names []string, cov map[string]CoverageResult) map[string]bool {
	owner := make(map[string]string)
	keep := make(map[string]bool)
	for _, n := range names {
		for _, b := range cov[n].Branches {
			if _, taken := owner[b]; !taken {
				owner[b] = n
				keep[n] = true
			}
		}
	}
	return keep
}

// Synthesize observes every test, replaces its observation points
// with assertions on the stable values and verifies the result.
// Tests whose observation or rendering fails are dropped.
func (p *Pipeline) Synthesize(ctx context.Context, f *suite.File) StageResult {
	var (
		removed []string
		errs    []error
	)
	drop := func(name string, err error) {
		p.logger.Debug("dropping test", "test", name, "err", err)
		f.Remove(name)
		removed = append(removed, name)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	for _, m := range f.Methods() {
		if err := p.synthesize(ctx, f, m); err != nil {
			drop(m.Name, err)
		}
	}

	// The rendered assertions must compile and hold.
	if f.Len() > 0 {
		gone, err := p.compileClean(ctx, f)
		for _, n := range gone {
			removed = append(removed, n)
			errs = append(errs, fmt.Errorf("%s: assertions do not compile", n))
		}
		if err != nil {
			errs = append(errs, err)
		}
		for _, m := range f.Methods() {
			status, err := p.exec.Run(ctx, f, m.Name, p.opts.Timeout)
			if err != nil {
				drop(m.Name, err)
				continue
			}
			if status != Passed {
				drop(m.Name, fmt.Errorf("synthesized test %s", status))
			}
		}
	}

	if len(removed) > 0 {
		return StageResult{Outcome: probe.Corrupted, Removed: removed, Err: errors.Join(errs...)}
	}
	return StageResult{Outcome: probe.Completed}
}

func (p *Pipeline) synthesize(ctx context.Context, f *suite.File, m *suite.Method) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesis panic: %v", r)
		}
	}()
	octx, cancel := context.WithTimeout(ctx, p.opts.BuildTimeout+p.opts.Timeout*time.Duration(p.opts.Runs))
	defer cancel()
	entries, err := p.exec.Observe(octx, f, m.Name, p.opts.Runs)
	if err != nil {
		return err
	}

	obs := oracle.New()
	for _, e := range entries {
		obs.Record(e.Expr, e.Value)
	}
	assertions, imports, err := obs.Render(f.Idiom)
	if err != nil {
		return err
	}
	byExpr := make(map[string][]string, len(assertions))
	for _, a := range assertions {
		byExpr[a.Expr] = a.Lines
	}
	m.Body = suite.ReplaceObservations(m.Body, func(expr string) []string {
		if lines, ok := byExpr[expr]; ok {
			return lines
		}
		return []string{"_ = " + expr}
	})
	for _, path := range imports {
		f.AddImport(path, "")
	}
	return nil
}
