package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/unbound-force/amplify/internal/prune"
	"github.com/unbound-force/amplify/internal/runner"
	"github.com/unbound-force/amplify/internal/style"
	"github.com/unbound-force/amplify/internal/suite"
)

const calcPath = "github.com/unbound-force/amplify/internal/runner/testdata/src/calc"

func TestParseCompileErrors(t *testing.T) {
	output := `# example.com/geo_test [example.com/geo.test]
./point_amplified_test.go:12:5: undefined: x
./point_amplified_test.go:20:9: cannot use "a" (untyped string constant) as int value in argument to geo.Double
./geo_test.go:3:1: syntax error
FAIL	example.com/geo [build failed]
`
	got := runner.ParseCompileErrors(output, "point_amplified_test.go")
	want := []prune.CompileError{
		{Line: 12, Col: 5, Msg: "undefined: x"},
		{Line: 20, Col: 9, Msg: `cannot use "a" (untyped string constant) as int value in argument to geo.Double`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseCompileErrors mismatch (-want +got):\n%s", diff)
	}
	if got := runner.ParseCompileErrors("ok", "x_test.go"); got != nil {
		t.Errorf("no diagnostics expected, got %v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   prune.Status
	}{
		{"pass", "=== RUN   TestA\n--- PASS: TestA (0.00s)\nPASS\n", nil, prune.Passed},
		{"fail", "=== RUN   TestA\n--- FAIL: TestA (0.00s)\nFAIL\n", os.ErrInvalid, prune.Failed},
		{"panic", "--- FAIL: TestA (0.00s)\npanic: negative [recovered]\n", os.ErrInvalid, prune.Panicked},
		{"prefix name is not a pass", "--- PASS: TestAB (0.00s)\n", nil, prune.Failed},
		{"no tests ran", "testing: warning: no tests to run\nPASS\n", nil, prune.Failed},
		{"logged panic text in passing test", "=== RUN   TestA\nrecovered: panic: bad input\n--- PASS: TestA (0.00s)\nPASS\n", nil, prune.Passed},
		{"logged panic text in failing test", "=== RUN   TestA\nrecovered: panic: bad input\n--- FAIL: TestA (0.00s)\nFAIL\n", os.ErrInvalid, prune.Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runner.Classify(tt.output, "TestA", tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFindFunctions(t *testing.T) {
	funcs, err := runner.FindFunctions(filepath.Join("testdata", "src", "calc", "calc.go"))
	require.NoError(t, err)
	var names []string
	for _, fn := range funcs {
		names = append(names, runner.FuncName(fn))
	}
	if diff := cmp.Diff([]string{"Abs", "Must", "Slow"}, names); diff != "" {
		t.Errorf("functions mismatch (-want +got):\n%s", diff)
	}
}

func newRunner(t *testing.T) (*runner.Runner, string) {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("testdata", "src", "calc"))
	require.NoError(t, err)
	r, err := runner.New(dir, calcPath, runner.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, dir
}

func TestParseProfile(t *testing.T) {
	r, _ := newRunner(t)
	profile := filepath.Join(t.TempDir(), "cover.out")
	content := "mode: count\n" +
		calcPath + "/calc.go:7.21,8.12 1 1\n" +
		calcPath + "/calc.go:8.12,10.3 1 0\n" +
		calcPath + "/calc.go:11.2,11.10 1 2\n"
	require.NoError(t, os.WriteFile(profile, []byte(content), 0o644))

	got, err := r.ParseProfile(profile)
	require.NoError(t, err)
	want := prune.CoverageResult{
		Branches:     []string{"calc.go:11.2,11.10", "calc.go:7.21,8.12"},
		CoveredStmts: 2,
		TotalStmts:   3,
		Functions:    []string{"Abs"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseProfile mismatch (-want +got):\n%s", diff)
	}

	_, err = r.ParseProfile(filepath.Join(t.TempDir(), "missing.out"))
	require.Error(t, err)
}

// TestRunner_EndToEnd builds and runs a generated file against the
// calc fixture with the go tool.
func TestRunner_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("builds test binaries")
	}
	r, _ := newRunner(t)
	ctx := context.Background()

	f := suite.New("calc_test", "calc_amplified_test.go", "calc", style.For(style.Stdlib))
	f.AddImport(calcPath, "")
	f.AddImport(suite.ObservePath, "")
	f.AddImport("time", "")
	for _, m := range []*suite.Method{
		{Name: "TestAbs_Amplified0", Body: []string{"r0 := calc.Abs(-3)", `observe.Value(t, "r0", r0)`}},
		{Name: "TestMust_Amplified0", Body: []string{"r0 := calc.Must(-1)", "_ = r0"}},
		{Name: "TestSlow_Amplified0", Body: []string{"calc.Slow(time.Minute)"}},
		{Name: "TestBroken", Body: []string{"undefinedThing()"}},
	} {
		require.NoError(t, f.Add(m))
	}
	t.Cleanup(func() { r.Discard(f) })

	rendered, diags, err := r.Compile(ctx, f)
	require.NoError(t, err)
	require.NotEmpty(t, diags)
	name, ok := rendered.MethodAt(diags[0].Line)
	require.True(t, ok)
	require.Equal(t, "TestBroken", name)

	require.True(t, f.Remove("TestBroken"))
	_, diags, err = r.Compile(ctx, f)
	require.NoError(t, err)
	require.Empty(t, diags)

	status, err := r.Run(ctx, f, "TestAbs_Amplified0", time.Minute)
	require.NoError(t, err)
	require.Equal(t, prune.Passed, status)

	status, err = r.Run(ctx, f, "TestMust_Amplified0", time.Minute)
	require.NoError(t, err)
	require.Equal(t, prune.Panicked, status)

	status, err = r.Run(ctx, f, "TestSlow_Amplified0", time.Second)
	require.NoError(t, err)
	require.Equal(t, prune.TimedOut, status)

	entries, err := r.Observe(ctx, f, "TestAbs_Amplified0", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, "r0", e.Expr)
		require.Equal(t, int64(3), e.Value.Int)
	}

	cov, err := r.Coverage(ctx, f, []string{"TestAbs_Amplified0"})
	require.NoError(t, err)
	abs := cov["TestAbs_Amplified0"]
	require.Equal(t, []string{"Abs"}, abs.Functions)
	require.NotEmpty(t, abs.Branches)
	require.Greater(t, abs.TotalStmts, abs.CoveredStmts)

	r.Discard(f)
	_, err = os.Stat(filepath.Join(r.Dir(), f.Name))
	require.ErrorIs(t, err, os.ErrNotExist)
}
