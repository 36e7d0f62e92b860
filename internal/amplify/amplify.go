// Package amplify runs the whole pipeline on one target package: load
// the trace and the source, generate candidate tests from sampled
// calls, prune them, and write the surviving files next to the
// package's own tests.
package amplify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/unbound-force/amplify/internal/config"
	"github.com/unbound-force/amplify/internal/generate"
	"github.com/unbound-force/amplify/internal/prune"
	"github.com/unbound-force/amplify/internal/runner"
	"github.com/unbound-force/amplify/internal/source"
	"github.com/unbound-force/amplify/internal/style"
	"github.com/unbound-force/amplify/internal/suite"
	"github.com/unbound-force/amplify/internal/taxonomy"
	"github.com/unbound-force/amplify/internal/tracelog"
	"github.com/unbound-force/amplify/probe"
)

// Backend compiles, runs and measures generated files.
type Backend interface {
	prune.Executor
	prune.CoverageCollector

	// Discard removes the rendered file of f from the package
	// directory.
	Discard(f *suite.File)

	Close() error
}

// Options configures Run.
type Options struct {
	// Dir is the directory Pattern is resolved against.
	Dir string

	// Pattern selects the target package. Defaults to ".".
	Pattern string

	// Config holds the run settings. Defaults to config.DefaultConfig.
	Config *config.AmplifyConfig

	// Version is recorded in the report metadata.
	Version string

	Logger *log.Logger

	// Traces loads the trace. Defaults to tracelog.Default.
	Traces tracelog.Loader

	// Detector picks the assertion idiom when the config does not
	// force one. Defaults to a style.ASTDetector.
	Detector style.Detector

	// NewBackend builds the executor for the target package.
	// Defaults to a go tool runner.
	NewBackend func(dir, pkgPath string) (Backend, error)
}

func (o *Options) defaults() {
	if o.Pattern == "" {
		o.Pattern = "."
	}
	if o.Config == nil {
		o.Config = config.DefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if o.Traces == nil {
		o.Traces = tracelog.Default
	}
	if o.Detector == nil {
		o.Detector = style.ASTDetector{MaxDepth: 3, SkipSuffix: suite.FileSuffix}
	}
	if o.NewBackend == nil {
		logger := o.Logger
		o.NewBackend = func(dir, pkgPath string) (Backend, error) {
			return runner.New(dir, pkgPath, runner.Options{Logger: logger})
		}
	}
}

// Run amplifies the target package. Only configuration and load
// failures are returned as errors; everything that goes wrong with
// individual tests is recorded in the report. A cancelled context
// stops the run after the current file and returns the partial
// report with the context's error.
func Run(ctx context.Context, opts Options) (*taxonomy.RunReport, error) {
	opts.defaults()
	start := time.Now()
	cfg, logger := opts.Config, opts.Logger
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	model, err := source.Load(opts.Dir, opts.Pattern)
	if err != nil {
		return nil, err
	}
	logDir, err := resolveLogDir(cfg.Trace.LogDir, model.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("loading trace", "dir", logDir)
	trace, err := opts.Traces.Load(logDir)
	if err != nil {
		return nil, err
	}
	ids := trace.MethodIDs()

	rpt := &taxonomy.RunReport{
		Package: model.PkgPath,
		Trace: taxonomy.TraceSummary{
			LogDir:     logDir,
			Files:      trace.Files,
			Calls:      len(trace.Calls),
			Methods:    len(ids),
			Malformed:  trace.Malformed,
			Unreadable: trace.Unreadable,
		},
		Metadata: taxonomy.Metadata{
			AmplifyVersion: opts.Version,
			GoVersion:      runtime.Version(),
			RunID:          uuid.NewString(),
			Timestamp:      start,
		},
	}
	warn := func(msg string, kv ...any) {
		logger.Warn(msg, kv...)
		rpt.Metadata.Warnings = append(rpt.Metadata.Warnings, warning(msg, kv...))
	}
	if trace.Malformed > 0 {
		warn("skipped malformed trace lines", "count", trace.Malformed)
	}

	idiom := selectIdiom(cfg, opts.Detector, model.Dir, warn)
	rpt.Idiom = string(idiom.Kind())

	if n := removeStale(model.Dir, logger); n > 0 {
		logger.Info("removed previous amplified files", "count", n)
	}

	seed := cfg.Generate.Seed
	if seed == 0 {
		seed = uint64(start.UnixNano())
	}
	gen := generate.New(model, trace, generate.Options{
		Cap:       cfg.Generate.Cap,
		Seed:      seed,
		Allowlist: cfg.Generate.Allowlist,
		Idiom:     idiom,
		Logger:    logger,
	})
	files, err := gen.Build(ids, trace.ByMethod())
	if err != nil {
		return nil, err
	}
	ct := gen.Counters()
	rpt.Generation = taxonomy.GenerationSummary{
		Seed:       seed,
		Attempted:  ct.Attempted,
		Direct:     ct.Direct,
		Inlined:    ct.Inlined,
		Ineligible: ct.Ineligible,
		Failed:     ct.Failed,
		Duplicate:  ct.Duplicate,
		Ratio:      ct.Ratio(),
	}
	logger.Info("generated candidates", "files", len(files), "tests", ct.Generated(),
		"attempted", ct.Attempted, "seed", seed)

	var runErr error
	if len(files) > 0 {
		runErr = process(ctx, opts, model, files, rpt, warn)
	}

	rpt.Summarize()
	rpt.Metadata.Duration = time.Since(start)
	logger.Info("amplification complete", "written", rpt.Summary.Written, "kept", rpt.Summary.Kept)
	return rpt, runErr
}

func process(ctx context.Context, opts Options, model *source.Model, files []*suite.File,
	rpt *taxonomy.RunReport, warn func(string, ...any)) error {
	backend, err := opts.NewBackend(model.Dir, model.PkgPath)
	if err != nil {
		return err
	}
	defer backend.Close()

	cfg := opts.Config
	pipeline := prune.New(backend, backend, prune.Options{
		Timeout:      cfg.Prune.Timeout,
		Runs:         cfg.Prune.Runs,
		BuildTimeout: cfg.Prune.BuildTimeout,
		Logger:       opts.Logger,
	})
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			warn("run interrupted", "remaining", f.Name)
			return err
		}
		opts.Logger.Info("pruning", "file", f.Name, "tests", f.Len())
		res := pipeline.Process(ctx, f)
		fr := fileReport(model, f, res)
		if res.Kept {
			if err := write(model.Dir, f); err != nil {
				warn("writing generated file", "file", f.Name, "err", err)
				backend.Discard(f)
			} else {
				fr.Written = true
			}
		} else {
			backend.Discard(f)
		}
		if !fr.Written {
			fr.Tests = nil
		}
		rpt.Files = append(rpt.Files, fr)
	}
	return nil
}

// warning flattens a log call into one report line:
// "msg (key=value, key=value)".
func warning(msg string, kv ...any) string {
	if len(kv) == 0 {
		return msg
	}
	pairs := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%v=%v", kv[i], kv[i+1]))
	}
	return msg + " (" + strings.Join(pairs, ", ") + ")"
}

func write(dir string, f *suite.File) error {
	rendered, err := f.Render()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, f.Name), rendered.Source, 0o644)
}

// resolveLogDir returns the configured log directory, relative paths
// taken from the package directory, or searches upward for one.
func resolveLogDir(configured, pkgDir string) (string, error) {
	if configured == "" {
		return probe.FindLogDir(pkgDir)
	}
	if !filepath.IsAbs(configured) {
		configured = filepath.Join(pkgDir, configured)
	}
	if !probe.IsLogDir(configured) {
		return "", fmt.Errorf("%w: %s", probe.ErrNoLogDir, configured)
	}
	return configured, nil
}

func selectIdiom(cfg *config.AmplifyConfig, d style.Detector, dir string, warn func(string, ...any)) style.Idiom {
	if k, ok := cfg.Idiom(); ok {
		return style.For(k)
	}
	k, _, err := d.Detect(dir)
	if err != nil {
		warn("idiom detection failed, using stdlib", "err", err)
		return style.For(style.Stdlib)
	}
	return style.For(k)
}

// removeStale deletes generated files left by an earlier run so they
// neither vote in idiom detection nor clash with new test names.
// Files without the generated header are kept.
func removeStale(dir string, logger *log.Logger) int {
	matches, _ := filepath.Glob(filepath.Join(dir, "*"+suite.FileSuffix))
	n := 0
	for _, path := range matches {
		if !generated(path) {
			logger.Warn("keeping hand-written file with generated name", "file", path)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing previous amplified file", "file", path, "err", err)
			continue
		}
		n++
	}
	return n
}

func generated(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	return strings.TrimSpace(line) == suite.Header
}

func stageReport(r *prune.StageResult) taxonomy.StageReport {
	if r == nil {
		return taxonomy.StageReport{Outcome: taxonomy.OutcomeNotRun}
	}
	out := taxonomy.StageReport{Removed: r.Removed}
	switch r.Outcome {
	case probe.Completed:
		out.Outcome = taxonomy.OutcomeCompleted
	case probe.Corrupted:
		out.Outcome = taxonomy.OutcomeCorrupted
	default:
		out.Outcome = taxonomy.OutcomeSkipped
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func fileReport(model *source.Model, f *suite.File, res prune.FileResult) taxonomy.FileReport {
	fr := taxonomy.FileReport{
		File:       f.Name,
		Type:       f.Type,
		Generated:  res.Generated,
		Smoke:      stageReport(&res.Smoke),
		Minimize:   stageReport(res.Minimize),
		Synthesize: stageReport(res.Synthesize),
	}
	pkgPath, _ := model.Package()
	for _, m := range f.Methods() {
		tr := taxonomy.TestReport{
			ID:       taxonomy.GenerateID(pkgPath, f.Name, m.Name),
			Name:     m.Name,
			Target:   methodTarget(model, m.Origin),
			Strategy: taxonomy.StrategyDirect,
			Panics:   m.Panics,
		}
		if m.Inlined {
			tr.Strategy = taxonomy.StrategyInlined
		}
		if cov, ok := res.Coverage[m.Name]; ok {
			tr.Branches = len(cov.Branches)
			if cov.TotalStmts > 0 {
				tr.CoveragePercent = float64(cov.CoveredStmts) / float64(cov.TotalStmts) * 100
			}
		}
		fr.Tests = append(fr.Tests, tr)
	}
	return fr
}

func methodTarget(model *source.Model, id string) taxonomy.MethodTarget {
	mt := taxonomy.MethodTarget{ID: id}
	m, ok := model.Method(id)
	if !ok {
		return mt
	}
	mt.Function = m.Name
	mt.Complexity = m.Complexity
	if m.Recv != "" {
		mt.Receiver = m.Recv
		if m.PtrRecv {
			mt.Receiver = "*" + m.Recv
		}
	}
	if m.File != "" {
		mt.Location = filepath.Base(m.File) + ":" + strconv.Itoa(m.Line)
	}
	return mt
}
