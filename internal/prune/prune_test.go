package prune_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/unbound-force/amplify/internal/prune"
	"github.com/unbound-force/amplify/internal/style"
	"github.com/unbound-force/amplify/internal/suite"
	"github.com/unbound-force/amplify/observe"
	"github.com/unbound-force/amplify/probe"
	"github.com/unbound-force/amplify/value"
)

type fakeExec struct {
	brokenCompile map[string]bool
	compileErr    error
	status        map[string]prune.Status
	observations  map[string][]observe.Entry
	observeErr    map[string]error
}

func (e *fakeExec) Compile(_ context.Context, f *suite.File) (*suite.Rendered, []prune.CompileError, error) {
	if e.compileErr != nil {
		return nil, nil, e.compileErr
	}
	r, err := f.Render()
	if err != nil {
		return nil, nil, err
	}
	var diags []prune.CompileError
	for _, name := range f.Names() {
		if e.brokenCompile[name] {
			diags = append(diags, prune.CompileError{Line: r.Spans[name].Start + 1, Col: 2, Msg: "undefined: x"})
		}
	}
	return r, diags, nil
}

func (e *fakeExec) Run(_ context.Context, f *suite.File, name string, _ time.Duration) (prune.Status, error) {
	s := e.status[name]
	if s == prune.Panicked && f.Method(name).Panics {
		return prune.Passed, nil
	}
	return s, nil
}

func (e *fakeExec) Observe(_ context.Context, _ *suite.File, name string, _ int) ([]observe.Entry, error) {
	if err := e.observeErr[name]; err != nil {
		return nil, err
	}
	return e.observations[name], nil
}

type fakeCov struct {
	res   map[string]prune.CoverageResult
	err   error
	panic bool
}

func (c fakeCov) Coverage(context.Context, *suite.File, []string) (map[string]prune.CoverageResult, error) {
	if c.panic {
		panic("collector bug")
	}
	return c.res, c.err
}

func newFile(t *testing.T, names ...string) *suite.File {
	t.Helper()
	f := suite.New("geo_test", "geo_amplified_test.go", "geo", style.For(style.Stdlib))
	f.AddImport("example.com/geo", "")
	f.AddImport(suite.ObservePath, "")
	for i, n := range names {
		err := f.Add(&suite.Method{Name: n, Body: []string{
			fmt.Sprintf("r0 := geo.Double(%d)", i),
			`observe.Value(t, "r0", r0)`,
		}})
		if err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func entries(name string, vals ...any) []observe.Entry {
	out := make([]observe.Entry, len(vals))
	for i, v := range vals {
		out[i] = observe.Entry{Test: name, Expr: "r0", Value: value.Of(v)}
	}
	return out
}

func TestSmoke(t *testing.T) {
	f := newFile(t, "TestA", "TestB", "TestC", "TestD")
	exec := &fakeExec{
		brokenCompile: map[string]bool{"TestB": true},
		status:        map[string]prune.Status{"TestC": prune.TimedOut, "TestD": prune.Panicked},
	}
	res := prune.New(exec, nil, prune.Options{}).Smoke(context.Background(), f)

	if res.Outcome != probe.Completed || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"TestB", "TestC"}, res.Removed); diff != "" {
		t.Errorf("Removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"TestA", "TestD"}, f.Names()); diff != "" {
		t.Errorf("survivors mismatch (-want +got):\n%s", diff)
	}
	d := f.Method("TestD")
	if !d.Panics || d.Body[0] != "defer func() {" {
		t.Errorf("panicking test not wrapped: %+v", d)
	}
	if f.Method("TestA").Panics {
		t.Error("passing test marked as panicking")
	}
}

func TestSmoke_BuildFailureDropsFile(t *testing.T) {
	f := newFile(t, "TestA", "TestB")
	exec := &fakeExec{compileErr: errors.New("go: cannot find main module")}
	res := prune.New(exec, nil, prune.Options{}).Smoke(context.Background(), f)
	if res.Outcome != probe.Corrupted || res.Err == nil {
		t.Errorf("result = %+v, want corrupted with error", res)
	}
	if f.Len() != 0 || len(res.Removed) != 2 {
		t.Errorf("file still has %d tests, removed %v", f.Len(), res.Removed)
	}
}

func TestSmoke_EveryTestBroken(t *testing.T) {
	f := newFile(t, "TestA", "TestB")
	exec := &fakeExec{brokenCompile: map[string]bool{"TestA": true, "TestB": true}}
	res := prune.New(exec, nil, prune.Options{}).Smoke(context.Background(), f)
	if f.Len() != 0 || len(res.Removed) != 2 || res.Outcome != probe.Completed {
		t.Errorf("result = %+v, remaining %d", res, f.Len())
	}
}

func cov(branches ...string) prune.CoverageResult {
	return prune.CoverageResult{Branches: branches}
}

func TestMinimize(t *testing.T) {
	tests := []struct {
		name    string
		cov     map[string]prune.CoverageResult
		want    []string
		removed []string
	}{
		{
			name:    "identical branch sets keep the first",
			cov:     map[string]prune.CoverageResult{"TestA": cov("b1", "b2"), "TestB": cov("b1", "b2")},
			want:    []string{"TestA"},
			removed: []string{"TestB"},
		},
		{
			name: "disjoint branch sets keep both",
			cov:  map[string]prune.CoverageResult{"TestA": cov("b1"), "TestB": cov("b2")},
			want: []string{"TestA", "TestB"},
		},
		{
			name:    "subset is removed",
			cov:     map[string]prune.CoverageResult{"TestA": cov("b1"), "TestB": cov("b1", "b2")},
			want:    []string{"TestA", "TestB"},
			removed: nil,
		},
		{
			name:    "no coverage is removed",
			cov:     map[string]prune.CoverageResult{"TestA": cov(), "TestB": cov("b1")},
			want:    []string{"TestB"},
			removed: []string{"TestA"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFile(t, "TestA", "TestB")
			res := prune.New(&fakeExec{}, fakeCov{res: tt.cov}, prune.Options{}).Minimize(context.Background(), f)
			if res.Outcome != probe.Completed {
				t.Fatalf("outcome = %s", res.Outcome)
			}
			if diff := cmp.Diff(tt.want, f.Names()); diff != "" {
				t.Errorf("survivors mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.removed, res.Removed); diff != "" {
				t.Errorf("Removed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMinimize_FailsOpen(t *testing.T) {
	tests := []struct {
		name string
		cov  prune.CoverageCollector
	}{
		{"collector error", fakeCov{err: errors.New("profile missing")}},
		{"collector panic", fakeCov{panic: true}},
		{"missing test", fakeCov{res: map[string]prune.CoverageResult{"TestA": cov("b1")}}},
		{"no collector", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFile(t, "TestA", "TestB")
			res := prune.New(&fakeExec{}, tt.cov, prune.Options{}).Minimize(context.Background(), f)
			if res.Outcome != probe.Skipped {
				t.Errorf("outcome = %s, want skipped", res.Outcome)
			}
			if f.Len() != 2 {
				t.Errorf("tests removed during a skipped minimization: %v", f.Names())
			}
		})
	}
}

// TestRepresentatives_PreserveCoverage checks that the kept tests
// cover every branch any test covers.
func TestRepresentatives_PreserveCoverage(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "tests")
		names := make([]string, n)
		res := make(map[string]prune.CoverageResult, n)
		for i := range names {
			names[i] = fmt.Sprintf("Test%d", i)
			bs := rapid.SliceOfDistinct(rapid.IntRange(0, 12), rapid.ID[int]).Draw(t, names[i])
			var branches []string
			for _, b := range bs {
				branches = append(branches, fmt.Sprintf("b%d", b))
			}
			res[names[i]] = cov(branches...)
		}
		keep := prune.Representatives(names, res)
		covered := make(map[string]bool)
		for n := range keep {
			for _, b := range res[n].Branches {
				covered[b] = true
			}
		}
		for _, n := range names {
			for _, b := range res[n].Branches {
				if !covered[b] {
					t.Fatalf("branch %s of %s lost", b, n)
				}
			}
		}
	})
}

func TestSynthesize_StableValueAsserted(t *testing.T) {
	f := newFile(t, "TestDouble_Amplified0")
	f.Method("TestDouble_Amplified0").Body[0] = "r0 := geo.Double(7)"
	exec := &fakeExec{observations: map[string][]observe.Entry{
		"TestDouble_Amplified0": entries("TestDouble_Amplified0", 14, 14, 14),
	}}
	res := prune.New(exec, nil, prune.Options{}).Synthesize(context.Background(), f)
	if res.Outcome != probe.Completed {
		t.Fatalf("result = %+v", res)
	}
	want := []string{
		"r0 := geo.Double(7)",
		"if r0 != 14 {",
		`t.Errorf("r0 = %v, want %v", r0, 14)`,
		"}",
	}
	if diff := cmp.Diff(want, f.Method("TestDouble_Amplified0").Body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	rendered, err := f.Render()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(rendered.Source), "observe") {
		t.Errorf("observe import kept:\n%s", rendered.Source)
	}
}

func TestSynthesize_UnstableValueExcluded(t *testing.T) {
	f := newFile(t, "TestDouble_Amplified0")
	exec := &fakeExec{observations: map[string][]observe.Entry{
		"TestDouble_Amplified0": entries("TestDouble_Amplified0", 14, 15, 14),
	}}
	res := prune.New(exec, nil, prune.Options{}).Synthesize(context.Background(), f)
	if res.Outcome != probe.Completed {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"r0 := geo.Double(0)", "_ = r0"}, f.Method("TestDouble_Amplified0").Body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_DropsFailures(t *testing.T) {
	f := newFile(t, "TestA", "TestB", "TestC")
	exec := &fakeExec{
		observeErr: map[string]error{"TestA": errors.New("exit status 1")},
		observations: map[string][]observe.Entry{
			"TestB": entries("TestB", 1),
			"TestC": entries("TestC", 2),
		},
		status: map[string]prune.Status{"TestC": prune.Failed},
	}
	res := prune.New(exec, nil, prune.Options{}).Synthesize(context.Background(), f)
	if res.Outcome != probe.Corrupted || res.Err == nil {
		t.Fatalf("result = %+v, want corrupted", res)
	}
	if diff := cmp.Diff([]string{"TestA", "TestC"}, res.Removed); diff != "" {
		t.Errorf("Removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"TestB"}, f.Names()); diff != "" {
		t.Errorf("survivors mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess(t *testing.T) {
	f := newFile(t, "TestA", "TestB", "TestC")
	exec := &fakeExec{
		status: map[string]prune.Status{"TestC": prune.TimedOut},
		observations: map[string][]observe.Entry{
			"TestA": entries("TestA", 0, 0),
			"TestB": entries("TestB", 2, 2),
		},
	}
	collector := fakeCov{res: map[string]prune.CoverageResult{"TestA": cov("b1"), "TestB": cov("b1")}}
	res := prune.New(exec, collector, prune.Options{Runs: 2}).Process(context.Background(), f)

	if !res.Kept || res.Generated != 3 {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"TestC"}, res.Smoke.Removed); diff != "" {
		t.Errorf("smoke removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"TestB"}, res.Minimize.Removed); diff != "" {
		t.Errorf("minimize removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"TestA"}, f.Names()); diff != "" {
		t.Errorf("survivors mismatch (-want +got):\n%s", diff)
	}
	if len(res.Coverage) != 2 {
		t.Errorf("coverage not recorded: %v", res.Coverage)
	}
}

func TestProcess_StopsWhenEmpty(t *testing.T) {
	f := newFile(t, "TestA")
	exec := &fakeExec{status: map[string]prune.Status{"TestA": prune.TimedOut}}
	res := prune.New(exec, fakeCov{}, prune.Options{}).Process(context.Background(), f)
	if res.Kept || res.Minimize != nil || res.Synthesize != nil {
		t.Errorf("result = %+v, want later stages unreached", res)
	}
}
