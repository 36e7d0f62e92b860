package value_test

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/unbound-force/amplify/value"
)

func TestLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   value.Value
		want string
	}{
		{"int", value.Of(7), "7"},
		{"int64", value.Of(int64(7)), "int64(7)"},
		{"uint8", value.Of(uint8(3)), "byte(3)"},
		{"float64", value.Of(3.14), "float64(3.14)"},
		{"float32", value.Of(float32(2.5)), "float32(2.5)"},
		{"whole float", value.Of(2.0), "float64(2)"},
		{"rune", value.OfRune('a'), "'a'"},
		{"newline rune", value.OfRune('\n'), `'\n'`},
		{"string", value.Of("say \"hi\""), `"say \"hi\""`},
		{"bool", value.Of(false), "false"},
		{"nil", value.Of(nil), "nil"},
		{"inf", value.Of(math.Inf(1)), "math.Inf(1)"},
		{"nan32", value.Of(float32(math.NaN())), "float32(math.NaN())"},
		{"int slice", value.Of([]int{1, 2, 3}), "[]int{1, 2, 3}"},
		{"float slice", value.Of([]float64{1.5, 2}), "[]float64{1.5, 2}"},
		{"rune slice", value.OfRunes([]rune("ab")), "[]rune{'a', 'b'}"},
		{"string slice", value.Of([]string{"x"}), `[]string{"x"}`},
		{"array", value.Of([2]int{4, 5}), "[2]int{4, 5}"},
		{"named float", value.Of(Celsius(1.5)), "value_test.Celsius(1.5)"},
		{"struct pointer", value.Of(&point{X: 1, Y: 2}), "&value_test.point{X: 1, Y: 2}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := value.Literal(tt.in)
			if err != nil {
				t.Fatalf("Literal: %v", err)
			}
			if got != tt.want {
				t.Errorf("Literal = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		src  string
		want value.Value
	}{
		{"14", value.Of(14)},
		{"float64(3.14)", value.Of(3.14)},
		{"'a'", value.OfRune('a')},
		{"int64(-9)", value.Of(int64(-9))},
		{"byte(255)", value.Of(uint8(255))},
		{`"x\ty"`, value.Of("x\ty")},
		{"[]int{1, 2, 3}", value.Of([]int{1, 2, 3})},
		{"[]rune{'z'}", value.OfRunes([]rune{'z'})},
		{"math.Inf(-1)", value.Of(math.Inf(-1))},
		{"true", value.Of(true)},
		{"nil", value.Of(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := value.ParseLiteral(tt.src)
			if err != nil {
				t.Fatalf("ParseLiteral(%s): %v", tt.src, err)
			}
			if !value.Equal(tt.want, got) {
				t.Errorf("ParseLiteral(%s) = %#v, want %#v", tt.src, got, tt.want)
			}
		})
	}
}

func TestParseLiteral_NamedType(t *testing.T) {
	_, err := value.ParseLiteral("geo.Celsius(3)")
	if !errors.Is(err, value.ErrNamedType) {
		t.Errorf("err = %v, want ErrNamedType", err)
	}
}

func TestParseLiteral_Malformed(t *testing.T) {
	if _, err := value.ParseLiteral("int64("); err == nil {
		t.Error("expected a parse error")
	}
}

// scalarGen draws a renderable value of a predeclared type.
func scalarGen() *rapid.Generator[value.Value] {
	return rapid.OneOf(
		rapid.Map(rapid.Int(), func(n int) value.Value { return value.Of(n) }),
		rapid.Map(rapid.Int64(), func(n int64) value.Value { return value.Of(n) }),
		rapid.Map(rapid.Int8(), func(n int8) value.Value { return value.Of(n) }),
		rapid.Map(rapid.Uint16(), func(n uint16) value.Value { return value.Of(n) }),
		rapid.Map(rapid.Uint64(), func(n uint64) value.Value { return value.Of(n) }),
		rapid.Map(rapid.Float64(), func(f float64) value.Value { return value.Of(f) }),
		rapid.Map(rapid.Float32(), func(f float32) value.Value { return value.Of(f) }),
		rapid.Map(rapid.Bool(), func(b bool) value.Value { return value.Of(b) }),
		rapid.Map(rapid.String(), func(s string) value.Value { return value.Of(s) }),
		rapid.Map(rapid.Rune(), func(r rune) value.Value { return value.OfRune(r) }),
		rapid.Map(rapid.SliceOf(rapid.Int()), func(ns []int) value.Value {
			if ns == nil {
				ns = []int{}
			}
			return value.Of(ns)
		}),
		rapid.Map(rapid.SliceOf(rapid.Float64()), func(fs []float64) value.Value {
			if fs == nil {
				fs = []float64{}
			}
			return value.Of(fs)
		}),
	)
}

func TestLiteral_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := scalarGen().Draw(t, "value")
		lit, err := value.Literal(v)
		if err != nil {
			t.Fatalf("Literal(%#v): %v", v, err)
		}
		got, err := value.ParseLiteral(lit)
		if err != nil {
			t.Fatalf("ParseLiteral(%s): %v", lit, err)
		}
		if !sameValue(v, got) {
			t.Fatalf("round trip of %s produced %#v, want %#v", lit, got, v)
		}
	})
}

// sameValue is value.Equal with NaN treated as equal to itself.
func sameValue(a, b value.Value) bool {
	if (a.Kind == value.Float32 || a.Kind == value.Float64) &&
		math.IsNaN(a.Float) && a.Kind == b.Kind && math.IsNaN(b.Float) {
		return true
	}
	if a.Kind == value.Slice && b.Kind == value.Slice {
		if a.Elem != b.Elem || a.Type != b.Type || len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !sameValue(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	}
	return value.Equal(a, b)
}
