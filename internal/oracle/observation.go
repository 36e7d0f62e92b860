// Package oracle turns repeated runtime observations into regression
// assertions.
package oracle

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/unbound-force/amplify/internal/style"
	"github.com/unbound-force/amplify/value"
)

// Observation accumulates the values seen at each observation point
// of one candidate test across repeated runs.
//
// An expression is assertable while every observation of it agrees.
// The first disagreement (nil against non-nil, or two unequal values)
// excludes the expression permanently.
type Observation struct {
	order    []string
	values   map[string]value.Value
	excluded map[string]bool
}

// New returns an empty Observation.
func New() *Observation {
	return &Observation{
		values:   make(map[string]value.Value),
		excluded: make(map[string]bool),
	}
}

// Record adds one observation of expr and reports whether expr is
// still assertable.
//
// The first observation of expr is stored and accepted only when it
// can appear in the generated test: a value without a literal form,
// or whose literal names unexported types, excludes expr on first
// sight instead of being stored verbatim. Later observations must
// equal the stored one.
func (o *Observation) Record(expr string, v value.Value) bool {
	if o.excluded[expr] {
		return false
	}
	prev, seen := o.values[expr]
	if !seen {
		if !v.Renderable() || !v.Portable() {
			o.exclude(expr)
			return false
		}
		o.values[expr] = v
		o.order = append(o.order, expr)
		return true
	}
	if prev.Kind == value.Nil && v.Kind == value.Nil {
		return true
	}
	if prev.Kind == value.Nil || v.Kind == value.Nil || !value.Equal(prev, v) {
		o.exclude(expr)
		return false
	}
	o.values[expr] = v
	return true
}

func (o *Observation) exclude(expr string) {
	o.excluded[expr] = true
	delete(o.values, expr)
}

// Excluded returns the non-deterministic expressions, sorted.
func (o *Observation) Excluded() []string {
	out := make([]string, 0, len(o.excluded))
	for e := range o.excluded {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Assertable returns the expressions that will be asserted, in the
// order they were first recorded.
func (o *Observation) Assertable() []string {
	out := make([]string, 0, len(o.order))
	for _, e := range o.order {
		if !o.excluded[e] {
			out = append(out, e)
		}
	}
	return out
}

// Value returns the recorded value of an assertable expression.
func (o *Observation) Value(expr string) (value.Value, bool) {
	v, ok := o.values[expr]
	return v, ok && !o.excluded[expr]
}

// Assertion is the rendered oracle for one expression.
type Assertion struct {
	Expr  string
	Lines []string
}

// Render produces one assertion per assertable expression in
// first-recorded order, together with the imports the statements
// need. Slice locals are numbered from zero within one call.
func (o *Observation) Render(idiom style.Idiom) ([]Assertion, []string, error) {
	imports := map[string]bool{}
	for _, p := range idiom.Imports() {
		imports[p] = true
	}
	var (
		out    []Assertion
		slices int
	)
	for _, expr := range o.Assertable() {
		v := o.values[expr]
		lines, err := assertion(idiom, expr, v, &slices)
		if err != nil {
			return nil, nil, fmt.Errorf("rendering oracle for %s: %w", expr, err)
		}
		for _, p := range v.Imports() {
			imports[p] = true
		}
		out = append(out, Assertion{Expr: expr, Lines: lines})
	}
	paths := make([]string, 0, len(imports))
	for p := range imports {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return out, paths, nil
}

func assertion(idiom style.Idiom, expr string, v value.Value, slices *int) ([]string, error) {
	switch v.Kind {
	case value.Nil:
		return idiom.Nil(expr), nil
	case value.Bool:
		if v.Bool {
			return idiom.True(expr), nil
		}
		return idiom.False(expr), nil
	case value.Slice:
		return sliceAssertion(idiom, expr, v, slices)
	}
	lit, err := value.Literal(v)
	if err != nil {
		return nil, err
	}
	if v.Kind == value.Struct {
		return idiom.DeepEqual(expr, lit), nil
	}
	return idiom.Equal(expr, lit), nil
}

// sliceAssertion binds the captured literal and a fresh evaluation of
// expr to locals, checks their lengths, then compares element-wise.
func sliceAssertion(idiom style.Idiom, expr string, v value.Value, slices *int) ([]string, error) {
	lit, err := value.Literal(v)
	if err != nil {
		return nil, err
	}
	n := strconv.Itoa(*slices)
	*slices++
	want, got := "want_"+n, "got_"+n
	lines := []string{
		want + " := " + lit,
		got + " := " + expr,
	}
	lines = append(lines, idiom.LenEqual(got, want)...)
	lines = append(lines, "for i := 0; i < len("+want+") && i < len("+got+"); i++ {")
	elem := idiom.Equal(got+"[i]", want+"[i]")
	if v.Elem == "" {
		elem = idiom.DeepEqual(got+"[i]", want+"[i]")
	}
	lines = append(lines, elem...)
	return append(lines, "}"), nil
}
