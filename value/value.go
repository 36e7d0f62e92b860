// Package value snapshots runtime values into a closed, serializable
// model. Snapshots can be compared structurally, rendered as Go
// literals for generated tests, and parsed back from those literals.
package value

import (
	"fmt"
	"go/token"
	"reflect"
	"sort"
	"unicode"
)

// Kind enumerates the shapes a snapshot can take.
type Kind string

// Value kinds. Integer and float kinds mirror the Go predeclared
// types; Rune is only produced by explicit rune snapshots because
// rune and int32 are indistinguishable through reflection.
const (
	Nil     Kind = "nil"
	Bool    Kind = "bool"
	Int     Kind = "int"
	Int8    Kind = "int8"
	Int16   Kind = "int16"
	Int32   Kind = "int32"
	Int64   Kind = "int64"
	Uint    Kind = "uint"
	Uint8   Kind = "uint8"
	Uint16  Kind = "uint16"
	Uint32  Kind = "uint32"
	Uint64  Kind = "uint64"
	Float32 Kind = "float32"
	Float64 Kind = "float64"
	Rune    Kind = "rune"
	String  Kind = "string"
	Slice   Kind = "slice"
	Struct  Kind = "struct"
	Opaque  Kind = "opaque"
)

// maxDepth bounds how far Of descends into nested structs and
// slices. Anything deeper is snapshotted as Opaque.
const maxDepth = 4

// Value is an immutable snapshot of one runtime value.
type Value struct {
	Kind Kind

	// Type is the Go type expression to use when rendering, e.g.
	// "geo.Point", "*geo.Point" or "[3]int". Empty for the
	// predeclared type matching Kind.
	Type string

	// Pkg is the import path declaring Type, if any.
	Pkg string

	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Str   string

	// Elem is the element kind of a Slice when every element shares
	// one basic kind. Empty for mixed or composite elements.
	Elem   Kind
	Elems  []Value
	Fields []Field
}

// Field is one exported struct field of a Struct snapshot.
type Field struct {
	Name  string
	Value Value
}

// Of snapshots v. Typed nil pointers, maps, slices, funcs, channels
// and interfaces all snapshot as Nil. A Value is returned unchanged,
// so snapshots taken in another process can be replayed.
func Of(v any) Value {
	switch v := v.(type) {
	case nil:
		return Value{Kind: Nil}
	case Value:
		return v
	}
	return of(reflect.ValueOf(v), 0)
}

// OfRune snapshots r as a rune rather than an int32.
func OfRune(r rune) Value {
	return Value{Kind: Rune, Int: int64(r)}
}

// OfRunes snapshots rs as a rune slice.
func OfRunes(rs []rune) Value {
	if rs == nil {
		return Value{Kind: Nil}
	}
	elems := make([]Value, len(rs))
	for i, r := range rs {
		elems[i] = OfRune(r)
	}
	return Value{Kind: Slice, Elem: Rune, Elems: elems}
}

var basicKinds = map[reflect.Kind]Kind{
	reflect.Bool:    Bool,
	reflect.Int:     Int,
	reflect.Int8:    Int8,
	reflect.Int16:   Int16,
	reflect.Int32:   Int32,
	reflect.Int64:   Int64,
	reflect.Uint:    Uint,
	reflect.Uint8:   Uint8,
	reflect.Uint16:  Uint16,
	reflect.Uint32:  Uint32,
	reflect.Uint64:  Uint64,
	reflect.Float32: Float32,
	reflect.Float64: Float64,
	reflect.String:  String,
}

func of(rv reflect.Value, depth int) Value {
	if !rv.IsValid() {
		return Value{Kind: Nil}
	}
	t := rv.Type()

	if k, ok := basicKinds[rv.Kind()]; ok {
		v := Value{Kind: k}
		if t.PkgPath() != "" {
			v.Type, v.Pkg = t.String(), t.PkgPath()
		}
		switch k {
		case Bool:
			v.Bool = rv.Bool()
		case Int, Int8, Int16, Int32, Int64:
			v.Int = rv.Int()
		case Uint, Uint8, Uint16, Uint32, Uint64:
			v.Uint = rv.Uint()
		case Float32, Float64:
			v.Float = rv.Float()
		case String:
			v.Str = rv.String()
		}
		return v
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return Value{Kind: Nil}
		}
		return of(rv.Elem(), depth)
	case reflect.Ptr:
		if rv.IsNil() {
			return Value{Kind: Nil}
		}
		if rv.Elem().Kind() != reflect.Struct {
			return opaque(rv)
		}
		v := of(rv.Elem(), depth)
		if v.Kind == Struct {
			v.Type = "*" + v.Type
		}
		return v
	case reflect.Map, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return Value{Kind: Nil}
		}
		return opaque(rv)
	case reflect.Slice:
		if rv.IsNil() {
			return Value{Kind: Nil}
		}
		return sequence(rv, depth)
	case reflect.Array:
		return sequence(rv, depth)
	case reflect.Struct:
		return structure(rv, depth)
	}
	return opaque(rv)
}

func sequence(rv reflect.Value, depth int) Value {
	if depth >= maxDepth {
		return opaque(rv)
	}
	t := rv.Type()
	v := Value{Kind: Slice, Elems: make([]Value, rv.Len())}
	if t.Kind() == reflect.Array || t.Name() != "" || t.Elem().PkgPath() != "" {
		v.Type, v.Pkg = t.String(), pkgOf(t)
	}
	if k, ok := basicKinds[t.Elem().Kind()]; ok {
		v.Elem = k
	}
	for i := 0; i < rv.Len(); i++ {
		e := of(rv.Index(i), depth+1)
		if e.Kind == Opaque {
			return opaque(rv)
		}
		v.Elems[i] = e
	}
	if v.Type == "" && v.Elem == "" {
		// Mixed element kinds need the declared element type.
		v.Type, v.Pkg = t.String(), pkgOf(t)
	}
	return v
}

func structure(rv reflect.Value, depth int) Value {
	t := rv.Type()
	if depth >= maxDepth || t.Name() == "" {
		return opaque(rv)
	}
	v := Value{Kind: Struct, Type: t.String(), Pkg: t.PkgPath()}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			return opaque(rv)
		}
		fv := of(rv.Field(i), depth+1)
		if fv.Kind == Opaque {
			return opaque(rv)
		}
		v.Fields = append(v.Fields, Field{Name: f.Name, Value: fv})
	}
	return v
}

// pkgOf returns the import path of the named type at the root of a
// slice, array or pointer type.
func pkgOf(t reflect.Type) string {
	for {
		if t.PkgPath() != "" {
			return t.PkgPath()
		}
		switch t.Kind() {
		case reflect.Slice, reflect.Array, reflect.Ptr:
			t = t.Elem()
		default:
			return ""
		}
	}
}

func opaque(rv reflect.Value) Value {
	text := "<unexported>"
	if rv.CanInterface() {
		text = fmt.Sprintf("%v", rv.Interface())
	}
	return Value{Kind: Opaque, Type: rv.Type().String(), Pkg: pkgOf(rv.Type()), Str: text}
}

// Equal reports whether a and b are the same snapshot: value
// equality for scalars, element-wise equality for slices and
// field-wise equality for structs. Floats compare with ==, so NaN is
// never equal to itself.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind || a.Type != b.Type {
		return false
	}
	switch a.Kind {
	case Nil:
		return true
	case Bool:
		return a.Bool == b.Bool
	case Int, Int8, Int16, Int32, Int64, Rune:
		return a.Int == b.Int
	case Uint, Uint8, Uint16, Uint32, Uint64:
		return a.Uint == b.Uint
	case Float32, Float64:
		return a.Float == b.Float
	case String, Opaque:
		return a.Str == b.Str
	case Slice:
		if a.Elem != b.Elem || len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !Equal(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case Struct:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name ||
				!Equal(a.Fields[i].Value, b.Fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Renderable reports whether v can be rendered as a Go literal.
func (v Value) Renderable() bool {
	switch v.Kind {
	case Opaque:
		return false
	case Slice:
		for _, e := range v.Elems {
			if !e.Renderable() {
				return false
			}
		}
	case Struct:
		for _, f := range v.Fields {
			if !f.Value.Renderable() {
				return false
			}
		}
	}
	return true
}

// Portable reports whether a literal of v can be written outside the
// package declaring its types, i.e. every named type it mentions is
// exported.
func (v Value) Portable() bool {
	if !exportedTypes(v.Type) {
		return false
	}
	for _, e := range v.Elems {
		if !e.Portable() {
			return false
		}
	}
	for _, f := range v.Fields {
		if !f.Value.Portable() {
			return false
		}
	}
	return true
}

// exportedTypes checks every package-qualified identifier in a type
// expression such as "map[string]*geo.Point".
func exportedTypes(typ string) bool {
	for i := 0; i < len(typ); i++ {
		if typ[i] != '.' || i+1 >= len(typ) {
			continue
		}
		j := i + 1
		for j < len(typ) && (typ[j] == '_' || unicode.IsLetter(rune(typ[j])) || unicode.IsDigit(rune(typ[j]))) {
			j++
		}
		if !token.IsExported(typ[i+1 : j]) {
			return false
		}
	}
	return true
}

// Imports returns the sorted import paths a rendered literal of v
// refers to.
func (v Value) Imports() []string {
	set := make(map[string]bool)
	v.collectImports(set)
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (v Value) collectImports(set map[string]bool) {
	if v.Pkg != "" {
		set[v.Pkg] = true
	}
	if (v.Kind == Float32 || v.Kind == Float64) && !isFinite(v.Float) {
		set["math"] = true
	}
	for _, e := range v.Elems {
		e.collectImports(set)
	}
	for _, f := range v.Fields {
		f.Value.collectImports(set)
	}
}

// String returns the literal rendering, or a descriptive placeholder
// for values that cannot be rendered.
func (v Value) String() string {
	lit, err := Literal(v)
	if err != nil {
		return fmt.Sprintf("<%s %s>", v.Type, v.Str)
	}
	return lit
}
