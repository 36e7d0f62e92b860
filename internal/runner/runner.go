// Package runner builds and runs generated test files with the go
// tool. Each rendered file is compiled into a test binary once and
// the binary is reused until the file changes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/unbound-force/amplify/internal/prune"
	"github.com/unbound-force/amplify/internal/suite"
	"github.com/unbound-force/amplify/observe"
)

// Options configures a Runner.
type Options struct {
	// Go is the go command. Defaults to "go".
	Go string

	Logger *log.Logger
}

// Runner executes generated tests of one target package.
type Runner struct {
	dir     string
	pkgPath string
	goBin   string
	logger  *log.Logger
	scratch string
	built   map[uint64]string
}

// New returns a runner for the package in dir whose import path is
// pkgPath. Scratch files live in a temporary directory removed by
// Close.
func New(dir, pkgPath string, opts Options) (*Runner, error) {
	scratch, err := os.MkdirTemp("", "amplify-run-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	goBin := opts.Go
	if goBin == "" {
		goBin = "go"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{
		dir:     dir,
		pkgPath: pkgPath,
		goBin:   goBin,
		logger:  logger,
		scratch: scratch,
		built:   make(map[uint64]string),
	}, nil
}

// Dir returns the target package directory.
func (r *Runner) Dir() string { return r.dir }

// Close removes the scratch directory. Failures are ignored.
func (r *Runner) Close() error {
	_ = os.RemoveAll(r.scratch)
	return nil
}

// Discard removes the rendered file of f from the package directory.
func (r *Runner) Discard(f *suite.File) {
	if err := os.Remove(filepath.Join(r.dir, f.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("removing generated file", "file", f.Name, "err", err)
	}
}

// errLine matches compiler diagnostics such as
// "./point_amplified_test.go:12:5: undefined: x".
var errLine = regexp.MustCompile(`(?m)^(?:\./)?(\S+\.go):(\d+):(\d+): (.+)$`)

// parseCompileErrors returns the diagnostics reported for file.
func parseCompileErrors(output, file string) []prune.CompileError {
	var out []prune.CompileError
	for _, m := range errLine.FindAllStringSubmatch(output, -1) {
		if filepath.Base(m[1]) != file {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		out = append(out, prune.CompileError{Line: line, Col: col, Msg: m[4]})
	}
	return out
}

// build writes f into the package directory and compiles its test
// binary, with coverage instrumentation when cover is set.
func (r *Runner) build(ctx context.Context, f *suite.File, cover bool) (string, *suite.Rendered, []prune.CompileError, error) {
	rendered, err := f.Render()
	if err != nil {
		return "", nil, nil, err
	}
	if err := os.WriteFile(filepath.Join(r.dir, f.Name), rendered.Source, 0o644); err != nil {
		return "", nil, nil, fmt.Errorf("writing %s: %w", f.Name, err)
	}

	key := xxhash.Sum64(append([]byte(strconv.FormatBool(cover)), rendered.Source...))
	if bin, ok := r.built[key]; ok {
		return bin, rendered, nil, nil
	}
	bin := filepath.Join(r.scratch, fmt.Sprintf("%016x.test", key))
	args := []string{"test", "-c", "-o", bin}
	if cover {
		args = append(args, "-cover", "-covermode=count", "-coverpkg="+r.pkgPath)
	}
	args = append(args, ".")

	cmd := exec.CommandContext(ctx, r.goBin, args...)
	cmd.Dir = r.dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		diags := parseCompileErrors(string(output), f.Name)
		if len(diags) == 0 {
			return "", rendered, nil, fmt.Errorf("go test -c failed: %w\n%s", err, output)
		}
		r.logger.Debug("compile errors", "file", f.Name, "count", len(diags))
		return "", rendered, diags, nil
	}
	r.built[key] = bin
	return bin, rendered, nil, nil
}

// Compile implements prune.Executor.
func (r *Runner) Compile(ctx context.Context, f *suite.File) (*suite.Rendered, []prune.CompileError, error) {
	_, rendered, diags, err := r.build(ctx, f, false)
	return rendered, diags, err
}

func (r *Runner) binary(ctx context.Context, f *suite.File, cover bool) (string, error) {
	bin, _, diags, err := r.build(ctx, f, cover)
	if err != nil {
		return "", err
	}
	if len(diags) > 0 {
		return "", fmt.Errorf("%s does not compile: %s", f.Name, diags[0].Msg)
	}
	return bin, nil
}

func runPattern(name string) string {
	return "-test.run=^" + regexp.QuoteMeta(name) + "$"
}

// Run implements prune.Executor.
func (r *Runner) Run(ctx context.Context, f *suite.File, name string, timeout time.Duration) (prune.Status, error) {
	bin, err := r.binary(ctx, f, false)
	if err != nil {
		return prune.Failed, err
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(runCtx, bin, runPattern(name), "-test.count=1", "-test.v")
	cmd.Dir = r.dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return prune.TimedOut, nil
	}
	if ctx.Err() != nil {
		return prune.Failed, ctx.Err()
	}
	return classify(out.String(), name, runErr), nil
}

// classify reads the verbose output of one test. A test panicked only
// when the binary failed and a line starts with the runtime's panic
// prefix; text logged by a passing test does not count.
func classify(output, name string, runErr error) prune.Status {
	if runErr == nil {
		if strings.Contains(output, "--- PASS: "+name+" ") {
			return prune.Passed
		}
		return prune.Failed
	}
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "panic: ") {
			return prune.Panicked
		}
	}
	return prune.Failed
}

// Observe implements prune.Executor.
func (r *Runner) Observe(ctx context.Context, f *suite.File, name string, runs int) ([]observe.Entry, error) {
	bin, err := r.binary(ctx, f, false)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(r.scratch, "obs-"+name+".jsonl")
	_ = os.Remove(path)
	defer os.Remove(path)

	cmd := exec.CommandContext(ctx, bin, runPattern(name), "-test.count="+strconv.Itoa(runs))
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), observe.EnvFile+"="+path)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("running %s: %w\n%s", name, err, output)
	}

	entries, err := observe.Read(path)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Test == name {
			out = append(out, e)
		}
	}
	return out, nil
}
