// Package style decides how generated assertions are written so they
// match the assertion idiom the surrounding test suite already uses.
package style

import (
	"fmt"
	"strconv"
)

// Kind enumerates the supported assertion idioms. The declaration
// order is the tie-break order used by Select.
type Kind string

// Supported idioms.
const (
	// Stdlib is plain "if got != want { t.Errorf(...) }".
	Stdlib Kind = "stdlib"

	// TestifyAssert uses github.com/stretchr/testify/assert.
	TestifyAssert Kind = "testify_assert"

	// TestifyRequire uses github.com/stretchr/testify/require.
	TestifyRequire Kind = "testify_require"

	// GoCmp uses github.com/google/go-cmp/cmp diffs.
	GoCmp Kind = "gocmp"
)

// Kinds lists every idiom in tie-break order.
var Kinds = []Kind{Stdlib, TestifyAssert, TestifyRequire, GoCmp}

// Idiom renders assertion statements in one style. Expressions and
// wanted values are Go source text; every method returns complete
// statements, one line per element.
type Idiom interface {
	Kind() Kind

	// Imports lists the packages the idiom's statements may refer to.
	Imports() []string

	Nil(expr string) []string
	True(expr string) []string
	False(expr string) []string

	// Equal compares a comparable expression against want.
	Equal(expr, want string) []string

	// DeepEqual compares values that are not comparable with ==.
	DeepEqual(expr, want string) []string

	// LenEqual checks that expr has the length of want.
	LenEqual(expr, want string) []string

	// TestSignature is the opening line of a test function.
	TestSignature(name string) string

	// ExpectPanic wraps body so the test passes only if it panics.
	ExpectPanic(body []string) []string
}

// For returns the idiom for k, falling back to Stdlib for unknown
// kinds.
func For(k Kind) Idiom {
	switch k {
	case TestifyAssert:
		return testify{pkg: "assert"}
	case TestifyRequire:
		return testify{pkg: "require"}
	case GoCmp:
		return gocmp{}
	}
	return stdlib{}
}

// ParseKind validates a configured idiom name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown assertion idiom %q", s)
}

func testSignature(name string) string {
	return "func " + name + "(t *testing.T) {"
}

type stdlib struct{}

func (stdlib) Kind() Kind { return Stdlib }

func (stdlib) Imports() []string { return []string{"reflect", "testing"} }

func (stdlib) Nil(expr string) []string {
	return errorf(expr+" != nil", expr+" = %v, want nil", expr)
}

func (stdlib) True(expr string) []string {
	return errorf("!"+expr, expr+" = false, want true")
}

func (stdlib) False(expr string) []string {
	return errorf(expr, expr+" = true, want false")
}

func (stdlib) Equal(expr, want string) []string {
	return errorf(expr+" != "+want, expr+" = %v, want %v", expr, want)
}

func (stdlib) DeepEqual(expr, want string) []string {
	return errorf("!reflect.DeepEqual("+expr+", "+want+")", expr+" = %+v, want %+v", expr, want)
}

func (stdlib) LenEqual(expr, want string) []string {
	return errorf("len("+expr+") != len("+want+")",
		"len("+expr+") = %d, want %d", "len("+expr+")", "len("+want+")")
}

func (stdlib) TestSignature(name string) string { return testSignature(name) }

func (stdlib) ExpectPanic(body []string) []string { return deferRecover(body) }

// errorf renders "if cond { t.Errorf(format, args...) }".
func errorf(cond, format string, args ...string) []string {
	call := "t.Errorf(" + strconv.Quote(format)
	for _, a := range args {
		call += ", " + a
	}
	return []string{"if " + cond + " {", call + ")", "}"}
}

func deferRecover(body []string) []string {
	out := []string{
		"defer func() {",
		"if recover() == nil {",
		`t.Error("expected a panic")`,
		"}",
		"}()",
	}
	return append(out, body...)
}

type testify struct {
	pkg string
}

func (s testify) Kind() Kind {
	if s.pkg == "require" {
		return TestifyRequire
	}
	return TestifyAssert
}

func (s testify) Imports() []string {
	return []string{"github.com/stretchr/testify/" + s.pkg, "testing"}
}

func (s testify) Nil(expr string) []string {
	return []string{s.pkg + ".Nil(t, " + expr + ")"}
}

func (s testify) True(expr string) []string {
	return []string{s.pkg + ".True(t, " + expr + ")"}
}

func (s testify) False(expr string) []string {
	return []string{s.pkg + ".False(t, " + expr + ")"}
}

func (s testify) Equal(expr, want string) []string {
	return []string{s.pkg + ".Equal(t, " + want + ", " + expr + ")"}
}

func (s testify) DeepEqual(expr, want string) []string { return s.Equal(expr, want) }

func (s testify) LenEqual(expr, want string) []string {
	return []string{s.pkg + ".Len(t, " + expr + ", len(" + want + "))"}
}

func (testify) TestSignature(name string) string { return testSignature(name) }

func (s testify) ExpectPanic(body []string) []string {
	out := []string{s.pkg + ".Panics(t, func() {"}
	out = append(out, body...)
	return append(out, "})")
}

type gocmp struct{}

func (gocmp) Kind() Kind { return GoCmp }

func (gocmp) Imports() []string { return []string{"github.com/google/go-cmp/cmp", "testing"} }

func (gocmp) Nil(expr string) []string { return stdlib{}.Nil(expr) }

func (gocmp) True(expr string) []string { return stdlib{}.True(expr) }

func (gocmp) False(expr string) []string { return stdlib{}.False(expr) }

func (gocmp) Equal(expr, want string) []string {
	return []string{
		"if diff := cmp.Diff(" + want + ", " + expr + "); diff != \"\" {",
		"t.Errorf(" + strconv.Quote(expr+" mismatch (-want +got):\n%s") + ", diff)",
		"}",
	}
}

func (g gocmp) DeepEqual(expr, want string) []string { return g.Equal(expr, want) }

func (gocmp) LenEqual(expr, want string) []string { return stdlib{}.LenEqual(expr, want) }

func (gocmp) TestSignature(name string) string { return testSignature(name) }

func (gocmp) ExpectPanic(body []string) []string { return deferRecover(body) }

// Counts holds the number of assertion sites seen per idiom.
type Counts map[Kind]int

// Select returns the idiom used by the most assertion sites. Ties go
// to the idiom declared first; with no assertions at all the result
// is Stdlib.
func Select(c Counts) Kind {
	best, bestN := Stdlib, 0
	for _, k := range Kinds {
		if c[k] > bestN {
			best, bestN = k, c[k]
		}
	}
	return best
}
